package pool_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/mssqlgate/internal/config"
	"github.com/koustreak/mssqlgate/internal/database"
	"github.com/koustreak/mssqlgate/internal/database/dbtest"
	"github.com/koustreak/mssqlgate/internal/errs"
	"github.com/koustreak/mssqlgate/internal/logger"
	"github.com/koustreak/mssqlgate/internal/pool"
)

func testConfig() config.Config {
	return config.New(config.Settings{
		Server:   "db.example.com",
		Database: "Sales",
		Username: "reader",
		Password: "Sup3rSecret",
	})
}

func newManager(d *dbtest.Dialer) *pool.Manager {
	return pool.New(testConfig(), d.Dial, logger.Nop())
}

func TestManager_LazyDial(t *testing.T) {
	d := &dbtest.Dialer{}
	m := newManager(d)

	assert.Equal(t, pool.StateAbsent, m.State())
	assert.Equal(t, 0, d.Dials())

	h, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "handle-1", h.ID())
	assert.Equal(t, pool.StateReady, m.State())

	h2, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, h, h2)
	assert.Equal(t, 1, d.Dials())

	stats := m.Stats()
	assert.Equal(t, pool.Stats{State: pool.StateReady, Dials: 1, HandleID: "handle-1"}, stats)
}

func TestManager_ConcurrentFirstCallsDialOnce(t *testing.T) {
	d := &dbtest.Dialer{Gate: make(chan struct{})}
	m := newManager(d)

	const callers = 16
	var wg sync.WaitGroup
	handles := make([]database.Handle, callers)
	errsOut := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errsOut[i] = m.Acquire(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return m.State() == pool.StateConnecting },
		time.Second, time.Millisecond)
	close(d.Gate)
	wg.Wait()

	assert.Equal(t, 1, d.Dials())
	for i := 0; i < callers; i++ {
		require.NoError(t, errsOut[i])
		assert.Same(t, handles[0], handles[i])
	}
}

func TestManager_RepairsUnhealthyHandleOnce(t *testing.T) {
	d := &dbtest.Dialer{}
	m := newManager(d)

	first, err := m.Acquire(context.Background())
	require.NoError(t, err)
	d.Last().MarkUnhealthy()

	second, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())

	third, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, second, third)

	assert.Equal(t, 2, d.Dials())
	assert.Equal(t, 1, m.Stats().Repairs)
	assert.Equal(t, 1, d.Handles()[0].CloseCount())
	assert.Equal(t, pool.StateReady, m.State())
}

func TestManager_RepairsDisconnectedHandle(t *testing.T) {
	d := &dbtest.Dialer{}
	m := newManager(d)

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)
	d.Last().Disconnect()

	h, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "handle-2", h.ID())
	assert.Equal(t, 1, m.Stats().Repairs)
}

func TestManager_CloseErrorDuringRepairIsLogged(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(&logger.Config{Level: "info", Format: "json", Output: buf})
	d := &dbtest.Dialer{}
	m := pool.New(testConfig(), d.Dial, log)

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)
	d.Last().SetCloseError(errors.New("close: password=Sup3rSecret"))
	d.Last().MarkUnhealthy()

	h, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "handle-2", h.ID())

	assert.Contains(t, buf.String(), "failed to close stale connection pool")
	assert.NotContains(t, buf.String(), "Sup3rSecret")
}

func TestManager_FailedDialLeavesAbsentAndRetries(t *testing.T) {
	d := &dbtest.Dialer{}
	d.FailNext(errors.New("login failed: password=Sup3rSecret"))
	m := newManager(d)

	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsConnectionFailed(err))
	assert.NotContains(t, err.Error(), "Sup3rSecret")
	assert.Equal(t, pool.StateAbsent, m.State())

	h, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "handle-1", h.ID())
	assert.Equal(t, 2, d.Dials())
}

func TestManager_DialErrorKeepsKindAndSanitizes(t *testing.T) {
	d := &dbtest.Dialer{}
	d.FailNext(errs.Wrap(errs.ErrKindConnectionFailed, "failed to connect to db",
		errors.New("server=db;pwd=hunter2")))
	m := newManager(d)

	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsConnectionFailed(err))
	assert.Equal(t, "[connection_failed] failed to connect to db: server=db;pwd=***", err.Error())
}

func TestManager_IncompleteAuthNeverDials(t *testing.T) {
	d := &dbtest.Dialer{}
	cfg := config.New(config.Settings{Server: "h", Database: "d", Username: "reader"})
	m := pool.New(cfg, d.Dial, nil)

	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))
	assert.Equal(t, 0, d.Dials())
	assert.Equal(t, pool.StateAbsent, m.State())
}

func TestManager_ShutdownBeforeUse(t *testing.T) {
	d := &dbtest.Dialer{}
	m := newManager(d)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, pool.StateClosed, m.State())
	assert.Equal(t, 0, d.Dials())

	require.NoError(t, m.Shutdown(context.Background()), "shutdown is idempotent")
}

func TestManager_ShutdownClosesHandle(t *testing.T) {
	d := &dbtest.Dialer{}
	m := newManager(d)

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	assert.Equal(t, 1, d.Last().CloseCount())
	assert.Equal(t, pool.StateClosed, m.State())
	assert.Empty(t, m.Stats().HandleID)
}

func TestManager_ShutdownCloseErrorIsNotReturned(t *testing.T) {
	d := &dbtest.Dialer{}
	m := newManager(d)

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)
	d.Last().SetCloseError(errors.New("network unreachable"))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, pool.StateClosed, m.State())
}

func TestManager_AcquireAfterShutdown(t *testing.T) {
	d := &dbtest.Dialer{}
	m := newManager(d)
	require.NoError(t, m.Shutdown(context.Background()))

	_, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsShutdown(err))
	assert.Equal(t, 0, d.Dials())
}

func TestManager_ShutdownWaitsForInFlightAcquisition(t *testing.T) {
	d := &dbtest.Dialer{Gate: make(chan struct{})}
	m := newManager(d)

	acquired := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background())
		acquired <- err
	}()
	require.Eventually(t, func() bool { return m.State() == pool.StateConnecting },
		time.Second, time.Millisecond)

	shutdown := make(chan error, 1)
	go func() { shutdown <- m.Shutdown(context.Background()) }()

	select {
	case <-shutdown:
		t.Fatal("shutdown returned while a dial was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(d.Gate)

	err := <-acquired
	require.Error(t, err)
	assert.True(t, errs.IsShutdown(err))
	require.NoError(t, <-shutdown)

	assert.Equal(t, pool.StateClosed, m.State())
	require.NotNil(t, d.Last())
	assert.Equal(t, 1, d.Last().CloseCount())
}

func TestManager_ShutdownTimeoutStillEndsClosed(t *testing.T) {
	d := &dbtest.Dialer{Gate: make(chan struct{})}
	m := newManager(d)

	acquired := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background())
		acquired <- err
	}()
	require.Eventually(t, func() bool { return m.State() == pool.StateConnecting },
		time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := m.Shutdown(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))

	close(d.Gate)
	assert.True(t, errs.IsShutdown(<-acquired))
	assert.Equal(t, pool.StateClosed, m.State())
	assert.Equal(t, 1, d.Last().CloseCount())
}

func TestManager_AcquireHonoursContextWhileWaiting(t *testing.T) {
	d := &dbtest.Dialer{Gate: make(chan struct{})}
	m := newManager(d)
	defer close(d.Gate)

	go func() { _, _ = m.Acquire(context.Background()) }()
	require.Eventually(t, func() bool { return m.State() == pool.StateConnecting },
		time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errs.IsTimeout(err))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "absent", pool.StateAbsent.String())
	assert.Equal(t, "connecting", pool.StateConnecting.String())
	assert.Equal(t, "ready", pool.StateReady.String())
	assert.Equal(t, "repairing", pool.StateRepairing.String())
	assert.Equal(t, "closed", pool.StateClosed.String())

	text, err := pool.StateReady.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ready", string(text))
}
