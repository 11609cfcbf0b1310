// Package pool owns the lifecycle of the single database.Handle shared by
// every service operation.
//
// The handle is created lazily on the first Acquire, replaced when it is
// found disconnected or unhealthy, and closed exactly once by Shutdown.
// Acquisition and repair are serialized by a one-slot semaphore, so
// concurrent first calls produce exactly one dial. Queries themselves run
// concurrently on the handle.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/koustreak/mssqlgate/internal/config"
	"github.com/koustreak/mssqlgate/internal/database"
	"github.com/koustreak/mssqlgate/internal/errs"
	"github.com/koustreak/mssqlgate/internal/logger"
	"github.com/koustreak/mssqlgate/internal/redact"
)

// State is the manager's lifecycle position.
type State int

const (
	StateAbsent State = iota
	StateConnecting
	StateReady
	StateRepairing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateRepairing:
		return "repairing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Dialer builds a verified handle from cfg. mssql.Dial is the production
// implementation.
type Dialer func(ctx context.Context, cfg config.Config) (database.Handle, error)

// Stats is a point-in-time snapshot of the manager.
type Stats struct {
	State    State  `json:"state"`
	Dials    int    `json:"dials"`
	Repairs  int    `json:"repairs"`
	HandleID string `json:"handle_id,omitempty"`
}

// Manager hands out the shared handle, creating or repairing it on demand.
type Manager struct {
	cfg  config.Config
	dial Dialer
	log  *logger.Logger

	sem     chan struct{} // one slot: held during acquisition, repair and shutdown
	closing atomic.Bool

	mu      sync.RWMutex // guards the fields below for readers outside sem
	state   State
	handle  database.Handle
	dials   int
	repairs int
}

// New returns a manager in StateAbsent. No connection is made until the
// first Acquire.
func New(cfg config.Config, dial Dialer, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		cfg:  cfg,
		dial: dial,
		log:  log.With().Str("component", "pool").Int("pool_max", cfg.PoolMax).Logger(),
		sem:  make(chan struct{}, 1),
	}
}

// Acquire returns a connected, healthy handle. A missing handle is dialed;
// a disconnected or unhealthy one is closed and replaced first. A failed
// dial leaves the manager in StateAbsent so the next call retries.
func (m *Manager) Acquire(ctx context.Context) (database.Handle, error) {
	if m.closing.Load() {
		return nil, errShutdown()
	}
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	h, err := m.acquireLocked(ctx)

	// Shutdown gave up waiting for us; finish its job.
	if m.closing.Load() {
		m.closeLocked()
		return nil, errShutdown()
	}
	return h, err
}

func (m *Manager) acquireLocked(ctx context.Context) (database.Handle, error) {
	m.mu.RLock()
	state, h := m.state, m.handle
	m.mu.RUnlock()

	if state == StateClosed {
		return nil, errShutdown()
	}
	if state == StateReady && h != nil && h.Connected() && h.Healthy() {
		return h, nil
	}

	if h != nil {
		m.repair(h)
	}
	return m.connect(ctx)
}

// repair discards a stale handle. Close failures are logged, never returned.
func (m *Manager) repair(stale database.Handle) {
	m.mu.Lock()
	m.state = StateRepairing
	m.handle = nil
	m.repairs++
	m.mu.Unlock()

	fields := map[string]interface{}{
		"handle_id": stale.ID(),
		"connected": stale.Connected(),
		"healthy":   stale.Healthy(),
	}
	m.log.InfoWith("replacing stale connection pool", fields)
	if err := stale.Close(); err != nil {
		m.log.WarnWith("failed to close stale connection pool", err, fields)
	}
}

func (m *Manager) connect(ctx context.Context) (database.Handle, error) {
	m.setState(StateConnecting)

	if err := m.cfg.CheckAuth(); err != nil {
		m.setState(StateAbsent)
		m.log.ErrorWith("connection settings incomplete", err, nil)
		return nil, err
	}

	m.mu.Lock()
	m.dials++
	m.mu.Unlock()

	h, err := m.dial(ctx, m.cfg)
	if err != nil {
		m.setState(StateAbsent)
		err = dialError(err)
		m.log.ErrorWith("failed to create connection pool", err, map[string]interface{}{
			"server":    m.cfg.Server,
			"database":  m.cfg.Database,
			"auth_mode": string(m.cfg.AuthMode()),
		})
		return nil, err
	}

	m.mu.Lock()
	m.handle = h
	m.state = StateReady
	m.mu.Unlock()

	m.log.InfoWith("connection pool ready", map[string]interface{}{
		"handle_id": h.ID(),
		"server":    m.cfg.Server,
		"database":  m.cfg.Database,
		"pool_max":  m.cfg.PoolMax,
	})
	return h, nil
}

// Shutdown closes the handle, if any, and moves to StateClosed. It waits for
// an in-flight acquisition to finish. If ctx ends first, Shutdown returns
// and the acquisition closes the pool on its way out. Calling Shutdown
// again is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closing.Store(true)
	if err := m.lock(ctx); err != nil {
		m.log.Warn("shutdown left the pool to the in-flight acquisition")
		return err
	}
	defer m.unlock()

	m.closeLocked()
	return nil
}

func (m *Manager) closeLocked() {
	m.mu.Lock()
	h := m.handle
	wasClosed := m.state == StateClosed
	m.handle = nil
	m.state = StateClosed
	m.mu.Unlock()

	if h != nil {
		if err := h.Close(); err != nil {
			m.log.WarnWith("failed to close connection pool", err, map[string]interface{}{
				"handle_id": h.ID(),
			})
		}
	}
	if !wasClosed {
		m.log.Info("connection pool closed")
	}
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Stats returns a snapshot for health reporting.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{State: m.state, Dials: m.dials, Repairs: m.repairs}
	if m.handle != nil {
		s.HandleID = m.handle.ID()
	}
	return s
}

// --- internal helpers ---

func (m *Manager) lock(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.ErrKindTimeout, "timed out waiting for the connection pool", ctx.Err())
	}
}

func (m *Manager) unlock() { <-m.sem }

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func errShutdown() error {
	return errs.New(errs.ErrKindShutdown, "connection pool is shut down")
}

// dialError normalizes a dial failure into a sanitized connection or
// configuration error.
func dialError(err error) error {
	var e *errs.Error
	if errors.As(err, &e) && (e.Kind == errs.ErrKindConnectionFailed || e.Kind == errs.ErrKindConfiguration) {
		return errs.Wrap(e.Kind, redact.String(e.Message), redact.Error(e.Cause))
	}
	return errs.Wrap(errs.ErrKindConnectionFailed, "failed to connect to the database", redact.Error(err))
}
