// Package server exposes the database access operations as a small JSON API.
//
// Routes:
//
//	GET  /healthz
//	GET  /v1/connection
//	GET  /v1/tables | /v1/views | /v1/procedures | /v1/triggers | /v1/functions
//	GET  /v1/tables/{schema}/{table}
//	GET  /v1/objects/{type}/{schema}/{name}
//	POST /v1/query   {"query": "SELECT ..."}
//
// Failures are returned as {"status", "code", "message"} with a status code
// derived from the error kind. Messages are already sanitized by the service.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/koustreak/mssqlgate/internal/errs"
	"github.com/koustreak/mssqlgate/internal/logger"
	"github.com/koustreak/mssqlgate/internal/pool"
	"github.com/koustreak/mssqlgate/internal/schema"
)

// gracefulShutdownTimeout bounds how long Serve waits for in-flight requests
// once its context is cancelled.
const gracefulShutdownTimeout = 10 * time.Second

// Backend is the set of operations the API serves. *service.Service
// implements it.
type Backend interface {
	TestConnection(ctx context.Context) (schema.ConnectionInfo, error)
	ListTables(ctx context.Context) (schema.Listing[schema.Table], error)
	ListViews(ctx context.Context) (schema.Listing[schema.View], error)
	ListStoredProcedures(ctx context.Context) (schema.Listing[schema.StoredProcedure], error)
	ListTriggers(ctx context.Context) (schema.Listing[schema.Trigger], error)
	ListFunctions(ctx context.Context) (schema.Listing[schema.Function], error)
	GetTableSchema(ctx context.Context, schemaName, tableName string) (schema.TableSchema, error)
	GetObjectDefinition(ctx context.Context, schemaName, objectName, objectType string) (schema.ObjectDefinition, error)
	ExecuteSelectQuery(ctx context.Context, query string) (schema.QueryResult, error)
}

// Deps holds what the server needs.
type Deps struct {
	Backend Backend
	// Stats reports pool state for /healthz. Optional.
	Stats     func() pool.Stats
	Logger    *logger.Logger
	RateLimit RateLimitConfig
}

// Server is the HTTP API. Create it with New, then call Serve or mount
// Handler in another server.
type Server struct {
	backend Backend
	stats   func() pool.Stats
	log     *logger.Logger
	limit   RateLimitConfig
}

// New validates deps and returns a Server.
func New(deps Deps) (*Server, error) {
	if deps.Backend == nil {
		return nil, errs.New(errs.ErrKindConfiguration, "server backend is required")
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		backend: deps.Backend,
		stats:   deps.Stats,
		log:     log.With().Str("component", "http").Logger(),
		limit:   deps.RateLimit,
	}, nil
}

// Handler builds the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(bodySizeLimit)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if s.limit.RequestsPerSecond > 0 {
			r.Use(RateLimiter(s.limit))
		}

		r.Get("/connection", s.handleConnection)

		r.Get("/tables", s.handleListTables)
		r.Get("/tables/{schema}/{table}", s.handleTableSchema)
		r.Get("/views", s.handleListViews)
		r.Get("/procedures", s.handleListProcedures)
		r.Get("/triggers", s.handleListTriggers)
		r.Get("/functions", s.handleListFunctions)

		r.Get("/objects/{type}/{schema}/{name}", s.handleObjectDefinition)

		r.Post("/query", s.handleQuery)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})
	return r
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
// The returned error is nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errs.Wrap(errs.ErrKindConfiguration, "listening on "+addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		// Requests outlive the cancel so Shutdown can drain them.
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.log.InfoWith("http server listening", map[string]interface{}{"address": ln.Addr().String()})

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	select {
	case err := <-done:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.WarnWith("http server shutdown incomplete", err, nil)
		return err
	}
	s.log.Info("http server stopped")
	return nil
}
