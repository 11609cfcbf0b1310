// Command mssqlgate serves read-only access to one SQL Server database over
// MCP (stdio) or a JSON HTTP API.
//
//	mssqlgate serve --config mssqlgate.yaml
//	mssqlgate mcp
//	mssqlgate check
//
// Settings come from the YAML file named by --config, overlaid by MSSQL_*
// environment variables.
package main

import (
	"os"

	"github.com/koustreak/mssqlgate/internal/database/mssql"
)

var version = "dev"

func main() {
	os.Exit(execute(defaultEnv(mssql.Dial), os.Args[1:]))
}
