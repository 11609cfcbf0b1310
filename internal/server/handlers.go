package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/koustreak/mssqlgate/internal/errs"
	"github.com/koustreak/mssqlgate/internal/logger"
	"github.com/koustreak/mssqlgate/internal/pool"
)

type healthResponse struct {
	Status string      `json:"status"`
	Pool   *pool.Stats `json:"pool,omitempty"`
}

// handleHealth reports liveness without touching the database. A closed
// pool is reported as unavailable.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if s.stats != nil {
		st := s.stats()
		resp.Pool = &st
		if st.State == pool.StateClosed {
			resp.Status = "closed"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	info, err := s.backend.TestConnection(r.Context())
	s.respond(w, r, info, err)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	l, err := s.backend.ListTables(r.Context())
	s.respond(w, r, l, err)
}

func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	l, err := s.backend.ListViews(r.Context())
	s.respond(w, r, l, err)
}

func (s *Server) handleListProcedures(w http.ResponseWriter, r *http.Request) {
	l, err := s.backend.ListStoredProcedures(r.Context())
	s.respond(w, r, l, err)
}

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	l, err := s.backend.ListTriggers(r.Context())
	s.respond(w, r, l, err)
}

func (s *Server) handleListFunctions(w http.ResponseWriter, r *http.Request) {
	l, err := s.backend.ListFunctions(r.Context())
	s.respond(w, r, l, err)
}

func (s *Server) handleTableSchema(w http.ResponseWriter, r *http.Request) {
	p, err := pathParams(r, "schema", "table")
	if err != nil {
		s.respond(w, r, nil, err)
		return
	}
	ts, err := s.backend.GetTableSchema(r.Context(), p[0], p[1])
	s.respond(w, r, ts, err)
}

func (s *Server) handleObjectDefinition(w http.ResponseWriter, r *http.Request) {
	p, err := pathParams(r, "schema", "name", "type")
	if err != nil {
		s.respond(w, r, nil, err)
		return
	}
	def, err := s.backend.GetObjectDefinition(r.Context(), p[0], p[1], p[2])
	s.respond(w, r, def, err)
}

// pathParams returns the named route parameters unescaped. chi matches on
// the raw path when one is set, so an encoded '/' arrives still escaped.
func pathParams(r *http.Request, keys ...string) ([]string, error) {
	vals := make([]string, len(keys))
	for i, key := range keys {
		v, err := url.PathUnescape(chi.URLParam(r, key))
		if err != nil {
			return nil, errs.New(errs.ErrKindInvalidInput, "malformed path parameter "+key)
		}
		vals[i] = v
	}
	return vals, nil
}

type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "request body must be {\"query\": \"...\"}")
		return
	}
	res, err := s.backend.ExecuteSelectQuery(r.Context(), req.Query)
	s.respond(w, r, res, err)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		logger.FromContext(r.Context(), s.log).DebugWith("request failed", err,
			map[string]interface{}{"path": r.URL.Path})
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
