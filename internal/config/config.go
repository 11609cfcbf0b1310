// Package config holds the settings bundle consumed by the pool manager and
// the database access service.
//
// Settings is the partially populated form read from YAML or assembled by a
// caller; New turns it into a fully defaulted Config. Config is a plain value:
// copies handed to other components cannot change the caller's settings.
package config

import (
	"strings"
	"time"

	"github.com/koustreak/mssqlgate/internal/errs"
)

// AuthMode selects how the pool authenticates to SQL Server.
type AuthMode string

const (
	AuthCredentialPair   AuthMode = "credential_pair"
	AuthServicePrincipal AuthMode = "service_principal"
)

// Defaults applied by New when a field is absent.
const (
	DefaultPort                = 1433
	DefaultQueryTimeoutMs      = 30000
	DefaultMaxResultRows       = 1000
	DefaultConnectionTimeoutMs = 15000
	DefaultPoolMin             = 0
	DefaultPoolMax             = 10
)

// Settings is the partial configuration. A nil pointer means "absent" and is
// replaced by the default; an explicit zero is kept.
type Settings struct {
	Server   string `yaml:"server"`
	Database string `yaml:"database"`
	Port     *int   `yaml:"port"`

	// UseServicePrincipal selects Azure AD service-principal auth.
	// Unset means credential-pair auth.
	UseServicePrincipal *bool `yaml:"use_service_principal"`

	// Credential pair
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Service principal
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TenantID     string `yaml:"tenant_id"`

	QueryTimeoutMs      *int `yaml:"query_timeout_ms"`
	MaxResultRows       *int `yaml:"max_result_rows"`
	ConnectionTimeoutMs *int `yaml:"connection_timeout_ms"`
	PoolMin             *int `yaml:"pool_min"`
	PoolMax             *int `yaml:"pool_max"`
}

// Config is the fully defaulted, immutable settings value.
type Config struct {
	Server              string
	Database            string
	Port                int
	UseServicePrincipal bool

	Username string
	Password string

	ClientID     string
	ClientSecret string
	TenantID     string

	QueryTimeoutMs      int
	MaxResultRows       int
	ConnectionTimeoutMs int
	PoolMin             int
	PoolMax             int
}

// New returns s with every absent field replaced by its default.
// It performs no validation and never fails.
func New(s Settings) Config {
	return Config{
		Server:              s.Server,
		Database:            s.Database,
		Port:                intOr(s.Port, DefaultPort),
		UseServicePrincipal: s.UseServicePrincipal != nil && *s.UseServicePrincipal,
		Username:            s.Username,
		Password:            s.Password,
		ClientID:            s.ClientID,
		ClientSecret:        s.ClientSecret,
		TenantID:            s.TenantID,
		QueryTimeoutMs:      intOr(s.QueryTimeoutMs, DefaultQueryTimeoutMs),
		MaxResultRows:       intOr(s.MaxResultRows, DefaultMaxResultRows),
		ConnectionTimeoutMs: intOr(s.ConnectionTimeoutMs, DefaultConnectionTimeoutMs),
		PoolMin:             intOr(s.PoolMin, DefaultPoolMin),
		PoolMax:             intOr(s.PoolMax, DefaultPoolMax),
	}
}

// AuthMode reports which authentication block the pool will use.
func (c Config) AuthMode() AuthMode {
	if c.UseServicePrincipal {
		return AuthServicePrincipal
	}
	return AuthCredentialPair
}

// CheckAuth verifies that the selected authentication block is complete.
// Validation proper happens in Settings.Validate; this is the pool manager's
// last line before building a connection request.
func (c Config) CheckAuth() error {
	var missing []string
	switch c.AuthMode() {
	case AuthServicePrincipal:
		missing = missingFields(map[string]string{
			"client_id":     c.ClientID,
			"client_secret": c.ClientSecret,
			"tenant_id":     c.TenantID,
		})
	default:
		missing = missingFields(map[string]string{
			"username": c.Username,
			"password": c.Password,
		})
	}
	if len(missing) > 0 {
		return errs.New(errs.ErrKindConfiguration,
			string(c.AuthMode())+" authentication requires "+strings.Join(missing, ", "))
	}
	return nil
}

// QueryTimeout is the per-query deadline.
func (c Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMs) * time.Millisecond
}

// ConnectionTimeout bounds pool construction.
func (c Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutMs) * time.Millisecond
}

// Validate enforces that exactly one authentication block is populated and
// that the connection target is set. It runs before New, in the composition
// root.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Server) == "" {
		return errs.New(errs.ErrKindConfiguration, "server is required")
	}
	if strings.TrimSpace(s.Database) == "" {
		return errs.New(errs.ErrKindConfiguration, "database is required")
	}

	pair := s.Username != "" || s.Password != ""
	principal := s.ClientID != "" || s.ClientSecret != "" || s.TenantID != ""

	switch {
	case pair && principal:
		return errs.New(errs.ErrKindConfiguration,
			"credential-pair and service-principal settings are mutually exclusive")
	case !pair && !principal:
		return errs.New(errs.ErrKindConfiguration,
			"either username/password or client_id/client_secret/tenant_id must be set")
	}

	if s.UseServicePrincipal != nil && *s.UseServicePrincipal != principal {
		return errs.New(errs.ErrKindConfiguration,
			"use_service_principal does not match the populated credential fields")
	}

	// Fill in the flag so New selects the populated block.
	cfg := New(s)
	cfg.UseServicePrincipal = principal
	if err := cfg.CheckAuth(); err != nil {
		return err
	}

	if cfg.PoolMax < 1 {
		return errs.New(errs.ErrKindConfiguration, "pool_max must be at least 1")
	}
	if cfg.PoolMin < 0 || cfg.PoolMin > cfg.PoolMax {
		return errs.New(errs.ErrKindConfiguration, "pool_min must be between 0 and pool_max")
	}
	if cfg.MaxResultRows < 0 {
		return errs.New(errs.ErrKindConfiguration, "max_result_rows must not be negative")
	}
	return nil
}

// Resolve validates s and returns the defaulted Config with the
// authentication mode taken from the populated block.
func (s Settings) Resolve() (Config, error) {
	if err := s.Validate(); err != nil {
		return Config{}, err
	}
	if s.UseServicePrincipal == nil {
		principal := s.ClientID != ""
		s.UseServicePrincipal = &principal
	}
	return New(s), nil
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// missingFields returns the names of empty values in a stable order.
func missingFields(fields map[string]string) []string {
	var missing []string
	for _, name := range []string{"username", "password", "client_id", "client_secret", "tenant_id"} {
		if v, ok := fields[name]; ok && v == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
