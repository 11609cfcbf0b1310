// Package redact scrubs secret-bearing substrings from text before it reaches
// a log sink or a caller-visible error message.
//
// The rules are a fixed, ordered sequence of case-insensitive replacements.
// Each rule's output no longer matches that rule (or any earlier one), which
// makes String idempotent.
package redact

import "regexp"

const mask = "***"

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules are applied in order. The service-principal segment goes first so the
// whole descriptor disappears before the per-key rules look at it.
var rules = []rule{
	{regexp.MustCompile(`(?i)Authentication=ActiveDirectoryServicePrincipal;[^;]*;`), "Authentication=" + mask + ";"},
	{regexp.MustCompile(`(?i)(password)=[^;]*`), "${1}=" + mask},
	{regexp.MustCompile(`(?i)(pwd)=[^;]*`), "${1}=" + mask},
	{regexp.MustCompile(`(?i)(clientSecret)=[^;]*`), "${1}=" + mask},
	{regexp.MustCompile(`(?i)(sqlserver://[^:/@\s]*):[^\s/]*@`), "${1}:" + mask + "@"},
}

// String returns text with password, pwd and clientSecret assignments, the
// service-principal authentication segment and URL passwords masked. A URL
// password runs to the last '@' of the authority, so an unescaped '@' inside
// it is masked too. Text without any of those patterns is returned unchanged.
func String(text string) string {
	for _, r := range rules {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return text
}

// Error returns an error whose message has been passed through String.
// The original error stays reachable through Unwrap for errors.Is checks.
func Error(err error) error {
	if err == nil {
		return nil
	}
	if r, ok := err.(*redacted); ok {
		return r
	}
	return &redacted{msg: String(err.Error()), cause: err}
}

type redacted struct {
	msg   string
	cause error
}

func (e *redacted) Error() string { return e.msg }
func (e *redacted) Unwrap() error { return e.cause }
