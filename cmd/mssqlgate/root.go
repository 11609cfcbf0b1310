package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/koustreak/mssqlgate/internal/config"
	"github.com/koustreak/mssqlgate/internal/logger"
	"github.com/koustreak/mssqlgate/internal/pool"
	"github.com/koustreak/mssqlgate/internal/service"
)

// closeTimeout bounds pool shutdown when a command exits.
const closeTimeout = 10 * time.Second

// env is everything a command touches outside the process, so tests can
// substitute it.
type env struct {
	lookup func(string) (string, bool)
	dial   pool.Dialer
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func defaultEnv(dial pool.Dialer) env {
	return env{
		lookup: os.LookupEnv,
		dial:   dial,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// execute runs the CLI and returns the process exit code.
func execute(e env, args []string) int {
	root := newRootCmd(e)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(e env) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "mssqlgate",
		Short:         "Read-only SQL Server access for agents and tools",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(e.stdin)
	root.SetOut(e.stdout)
	root.SetErr(e.stderr)
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	load := func() (*app, error) { return newApp(e, configPath) }
	root.AddCommand(
		newServeCmd(load),
		newMCPCmd(load),
		newCheckCmd(load),
	)
	return root
}

// app is the wired object graph shared by every command.
type app struct {
	file *config.File
	cfg  config.Config
	log  *logger.Logger
	pool *pool.Manager
	svc  *service.Service
}

func newApp(e env, configPath string) (*app, error) {
	file, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := file.ApplyEnv(e.lookup); err != nil {
		return nil, err
	}
	cfg, err := file.Database.Resolve()
	if err != nil {
		return nil, err
	}

	// Logs always go to stderr; stdout belongs to MCP and command output.
	log := logger.New(&logger.Config{
		Level:  file.Logging.Level,
		Format: file.Logging.Format,
		Output: e.stderr,
	})
	log = log.With().Str("version", version).Logger()

	m := pool.New(cfg, e.dial, log)
	return &app{
		file: file,
		cfg:  cfg,
		log:  log,
		pool: m,
		svc:  service.New(cfg, m, log),
	}, nil
}

// close shuts the pool down with a fresh deadline, since the command's own
// context is usually cancelled by then.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.svc.Close(ctx); err != nil {
		a.log.WarnWith("pool shutdown incomplete", err, nil)
	}
}
