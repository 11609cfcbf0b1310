// Package sqlguard decides whether caller-supplied SQL is a read-only SELECT
// that may be sent to the database.
//
// It is an admission check layered on top of a read-only database login, not
// a SQL parser: keywords are matched on a normalized copy of the text, so a
// denylisted word inside a string literal is rejected too. The text that is
// executed is always the caller's original, never the normalized copy.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Verdict is the outcome of Classify.
type Verdict struct {
	Allowed bool
	Reason  string // set when Allowed is false
	Query   string // the original, unmodified text when Allowed is true
}

var (
	whitespace = regexp.MustCompile(`\s+`)

	// denied matches statement keywords that can mutate data, schema,
	// permissions, or invoke code.
	denied = regexp.MustCompile(`\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|EXEC|EXECUTE|MERGE|GRANT|REVOKE)\b`)

	// systemProc matches any token starting with sp_ (system stored procedures).
	systemProc = regexp.MustCompile(`\bSP_`)

	// stacked matches a statement separator followed by more content.
	stacked = regexp.MustCompile(`;\s*\S`)
)

// Classify returns an allowed verdict only for a single SELECT statement with
// no denylisted keyword, no stacked statement and no comment markers.
func Classify(query string) Verdict {
	normalized := normalize(query)
	if normalized == "" {
		return reject("query is empty")
	}

	if !strings.EqualFold(firstToken(stripLeadingComments(query)), "SELECT") {
		return reject("only SELECT statements are allowed")
	}

	if m := denied.FindString(normalized); m != "" {
		return reject(fmt.Sprintf("keyword %s is not allowed", m))
	}
	if systemProc.MatchString(normalized) {
		return reject("references to sp_ procedures are not allowed")
	}
	if stacked.MatchString(normalized) {
		return reject("multiple statements are not allowed")
	}
	if strings.Contains(normalized, "--") || strings.Contains(normalized, "/*") {
		return reject("comments are not allowed")
	}

	return Verdict{Allowed: true, Query: query}
}

func reject(reason string) Verdict {
	return Verdict{Reason: reason}
}

// normalize upper-cases the text and collapses whitespace runs to one space.
func normalize(query string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(strings.ToUpper(query), " "))
}

// stripLeadingComments removes leading whitespace and any run of leading
// line (--) or block (/* */) comments.
func stripLeadingComments(query string) string {
	s := query
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s[2:], "*/")
			if i < 0 {
				return ""
			}
			s = s[i+4:]
		default:
			return s
		}
	}
}

// firstToken returns the leading run of letters.
func firstToken(s string) string {
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		return s
	}
	return s[:end]
}
