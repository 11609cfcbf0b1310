package mssql

import (
	"database/sql/driver"
	"net"
	"net/url"
	"strconv"
	"strings"

	mssqldb "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/azuread"

	"github.com/koustreak/mssqlgate/internal/config"
)

// ConnString builds the sqlserver:// connection URL for cfg. The transport is
// always encrypted and the server certificate is always verified.
//
// The result carries credentials; never log it without redact.String.
func ConnString(cfg config.Config) string {
	q := url.Values{}
	q.Set("database", cfg.Database)
	q.Set("encrypt", "true")
	q.Set("TrustServerCertificate", "false")
	q.Set("connection timeout", strconv.Itoa(timeoutSeconds(cfg.ConnectionTimeoutMs)))
	q.Set("app name", "mssqlgate")

	host, instance, _ := strings.Cut(cfg.Server, `\`)
	u := &url.URL{
		Scheme: "sqlserver",
		Host:   net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
	}
	if instance != "" {
		u.Path = "/" + instance
	}

	switch cfg.AuthMode() {
	case config.AuthServicePrincipal:
		q.Set("fedauth", azuread.ActiveDirectoryServicePrincipal)
		u.User = url.UserPassword(cfg.ClientID+"@"+cfg.TenantID, cfg.ClientSecret)
	default:
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// newConnector picks the driver for the configured authentication mode.
// Service-principal logins need the azuread connector, which fetches an
// Entra ID token before the TDS handshake.
func newConnector(cfg config.Config) (driver.Connector, error) {
	dsn := ConnString(cfg)
	if cfg.AuthMode() == config.AuthServicePrincipal {
		return azuread.NewConnector(dsn)
	}
	return mssqldb.NewConnector(dsn)
}

// timeoutSeconds rounds ms up to whole seconds; the driver's connection
// timeout has second granularity and 0 means no limit.
func timeoutSeconds(ms int) int {
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}
