package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcpserver "github.com/koustreak/mssqlgate/internal/mcp"
	"github.com/koustreak/mssqlgate/internal/server"
)

func newServeCmd(load func() (*app, error)) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.close()

			if listen == "" {
				listen = a.file.HTTP.Listen
			}
			srv, err := server.New(server.Deps{
				Backend: a.svc,
				Stats:   a.pool.Stats,
				Logger:  a.log,
				RateLimit: server.RateLimitConfig{
					RequestsPerSecond: a.file.HTTP.RateLimitRPS,
					Burst:             a.file.HTTP.RateLimitBurst,
				},
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Serve drains in-flight requests before returning; the deferred
			// close then shuts the pool down.
			if err := srv.Serve(ctx, listen); err != nil {
				return err
			}
			a.log.InfoWith("shutting down", map[string]interface{}{"dials": a.pool.Stats().Dials})
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides http.listen")
	return cmd
}

func newMCPCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.close()

			s, err := mcpserver.New(a.svc, version, a.log)
			if err != nil {
				return err
			}
			return s.ServeStdio()
		},
	}
}

func newCheckCmd(load func() (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Connect once and print server, database and login as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			info, err := a.svc.TestConnection(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}
