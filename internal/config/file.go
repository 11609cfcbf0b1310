package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/koustreak/mssqlgate/internal/errs"
	"go.yaml.in/yaml/v3"
)

// File is the on-disk configuration consumed by the mssqlgate binary.
//
//	database:
//	  server: sql.example.net
//	  database: sales
//	  username: reader
//	  password: ...
//	logging:
//	  level: info
//	  format: json
//	http:
//	  listen: ":8080"
type File struct {
	Database Settings      `yaml:"database"`
	Logging  LoggingConfig `yaml:"logging"`
	HTTP     HTTPConfig    `yaml:"http"`
}

// LoggingConfig maps to logger.Config.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// HTTPConfig configures the optional JSON API.
type HTTPConfig struct {
	Listen         string  `yaml:"listen"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// DefaultFile returns the configuration used when no file is given.
func DefaultFile() *File {
	return &File{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		HTTP:    HTTPConfig{Listen: ":8080", RateLimitRPS: 20, RateLimitBurst: 40},
	}
}

// Load reads a YAML file on top of DefaultFile. An empty path returns the
// defaults unchanged.
func Load(path string) (*File, error) {
	f := DefaultFile()
	if path == "" {
		return f, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "reading config file", err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "parsing config file", err)
	}
	return f, nil
}

// ApplyEnv overlays environment variables onto f. lookup is usually
// os.LookupEnv; tests pass a map-backed function.
func (f *File) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"MSSQL_SERVER":        &f.Database.Server,
		"MSSQL_DATABASE":      &f.Database.Database,
		"MSSQL_USER":          &f.Database.Username,
		"MSSQL_PASSWORD":      &f.Database.Password,
		"MSSQL_CLIENT_ID":     &f.Database.ClientID,
		"MSSQL_CLIENT_SECRET": &f.Database.ClientSecret,
		"MSSQL_TENANT_ID":     &f.Database.TenantID,
		"LOG_LEVEL":           &f.Logging.Level,
		"LOG_FORMAT":          &f.Logging.Format,
		"HTTP_LISTEN":         &f.HTTP.Listen,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]**int{
		"MSSQL_PORT":                  &f.Database.Port,
		"MSSQL_QUERY_TIMEOUT_MS":      &f.Database.QueryTimeoutMs,
		"MSSQL_MAX_RESULT_ROWS":       &f.Database.MaxResultRows,
		"MSSQL_CONNECTION_TIMEOUT_MS": &f.Database.ConnectionTimeoutMs,
		"MSSQL_POOL_MIN":              &f.Database.PoolMin,
		"MSSQL_POOL_MAX":              &f.Database.PoolMax,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.Wrap(errs.ErrKindConfiguration, fmt.Sprintf("%s must be an integer", key), err)
		}
		*dst = &n
	}

	if v, ok := lookup("MSSQL_USE_SERVICE_PRINCIPAL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errs.Wrap(errs.ErrKindConfiguration, "MSSQL_USE_SERVICE_PRINCIPAL must be a boolean", err)
		}
		f.Database.UseServicePrincipal = &b
	}
	return nil
}
