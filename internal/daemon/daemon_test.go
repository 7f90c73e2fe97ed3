//go:build !windows

package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majorcontext/girasol/internal/catalog"
	"github.com/majorcontext/girasol/internal/config"
	"github.com/majorcontext/girasol/internal/errdefs"
	"github.com/majorcontext/girasol/internal/execution"
	"github.com/majorcontext/girasol/internal/model"
	"github.com/majorcontext/girasol/internal/protocol"
)

// fakeTracer prints one probe line per 20ms until killed.
const fakeTracer = `#!/bin/sh
trap 'exit 0' TERM
while true; do
  echo "main probe hit"
  echo "noise"
  sleep 0.02
done
`

type harness struct {
	daemon *Daemon
	paths  config.Paths
	errc   chan error
	cancel context.CancelFunc
}

func startDaemon(t *testing.T, mutate func(*config.GlobalConfig)) *harness {
	t.Helper()
	home := t.TempDir()
	return startDaemonAt(t, home, mutate)
}

func startDaemonAt(t *testing.T, home string, mutate func(*config.GlobalConfig)) *harness {
	t.Helper()
	tracer := filepath.Join(home, "fake-stap")
	require.NoError(t, os.WriteFile(tracer, []byte(fakeTracer), 0755))

	cfg := config.DefaultGlobalConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.Tools = config.ToolsConfig{Stap: tracer, Perf: tracer}
	cfg.Execution.KillGrace = time.Second
	cfg.Daemon.ShutdownGrace = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	paths := config.Paths{Home: home}

	d, err := New(cfg, paths)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{daemon: d, paths: paths, errc: make(chan error, 1), cancel: cancel}
	go func() { h.errc <- d.Run(ctx) }()
	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *harness) stop(t *testing.T) {
	h.cancel()
	select {
	case <-h.errc:
	case <-time.After(10 * time.Second):
		t.Error("daemon did not stop")
	}
}

func (h *harness) dial(t *testing.T) *Client {
	t.Helper()
	c, err := Dial(testCtx(t), h.daemon.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func probeDef(name string) model.TraceDefinition {
	return model.TraceDefinition{
		Name:     name,
		Lasting:  3,
		Interval: 50,
		Content: &model.SystemTap{
			FunctionList: []string{"main"},
			Process:      "/usr/bin/myapp",
		},
	}
}

func TestDaemon_CatalogOverWebsocket(t *testing.T) {
	h := startDaemon(t, nil)
	c := h.dial(t)
	ctx := testCtx(t)

	defs, err := c.QueryAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, defs)

	require.NoError(t, c.Add(ctx, probeDef("probe2")))
	require.NoError(t, c.Add(ctx, probeDef("probe1")))

	err = c.Add(ctx, probeDef("probe1"))
	assert.True(t, errors.Is(err, errdefs.ErrConflict), "got %v", err)
	assert.Contains(t, err.Error(), "probe1 exists")

	defs, err = c.QueryAll(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "probe1", defs[0].Name)
	assert.Equal(t, "probe2", defs[1].Name)

	got, err := c.Get(ctx, "probe1")
	require.NoError(t, err)
	assert.Equal(t, probeDef("probe1"), got)

	require.NoError(t, c.Remove(ctx, "probe2"))
	err = c.Remove(ctx, "probe2")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound), "got %v", err)

	_, err = c.Get(ctx, "missing")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound), "got %v", err)
}

func TestDaemon_InvalidDefinitionRejected(t *testing.T) {
	h := startDaemon(t, nil)
	c := h.dial(t)

	bad := probeDef("")
	err := c.Add(testCtx(t), bad)
	assert.True(t, errors.Is(err, errdefs.ErrInvalid), "got %v", err)
}

func TestDaemon_StartReportsOutputThenCompletion(t *testing.T) {
	h := startDaemon(t, nil)
	c := h.dial(t)
	ctx := testCtx(t)

	require.NoError(t, c.Add(ctx, probeDef("probe1")))
	started, err := c.Start(ctx, "probe1", StartOptions{Pattern: "probe"})
	require.NoError(t, err)
	assert.Equal(t, "probe1", started.Name)
	assert.Equal(t, uint(3), started.Remaining)

	var lines []string
	res, err := c.WaitCompleted(ctx, started.ID, func(line string) { lines = append(lines, line) })
	require.NoError(t, err)

	assert.Equal(t, execution.Completed, res.State)
	assert.Equal(t, uint(3), res.Iterations)
	assert.False(t, res.Stopped)
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Contains(t, line, "probe")
	}

	// The execution deregisters before its completion is reported.
	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, status)

	hist, err := c.History(ctx, "probe1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, started.ID, hist[0].ID)
}

func TestDaemon_SecondStartConflicts(t *testing.T) {
	h := startDaemon(t, nil)
	c := h.dial(t)
	ctx := testCtx(t)

	def := probeDef("probe1")
	def.Lasting = 0
	require.NoError(t, c.Add(ctx, def))

	started, err := c.Start(ctx, "probe1", StartOptions{})
	require.NoError(t, err)

	_, err = c.Start(ctx, "probe1", StartOptions{})
	assert.True(t, errors.Is(err, errdefs.ErrConflict), "got %v", err)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, started.ID, status[0].ID)

	require.NoError(t, c.Stop(ctx, "probe1"))
	res, err := c.WaitCompleted(ctx, started.ID, nil)
	require.NoError(t, err)
	assert.True(t, res.Stopped)

	err = c.Stop(ctx, "probe1")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound), "got %v", err)
}

func TestDaemon_AdHocStart(t *testing.T) {
	h := startDaemon(t, nil)
	c := h.dial(t)
	ctx := testCtx(t)

	def := probeDef("adhoc")
	started, err := c.Start(ctx, "", StartOptions{Definition: &def, Rounds: 1})
	require.NoError(t, err)
	res, err := c.WaitCompleted(ctx, started.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, uint(1), res.Iterations)

	_, err = c.Get(ctx, "adhoc")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound), "ad-hoc definitions are not stored")
}

func TestDaemon_StartUnknownDefinition(t *testing.T) {
	h := startDaemon(t, nil)
	c := h.dial(t)

	_, err := c.Start(testCtx(t), "missing", StartOptions{})
	assert.True(t, errors.Is(err, errdefs.ErrNotFound), "got %v", err)
}

func TestDaemon_KillPersistsCatalog(t *testing.T) {
	home := t.TempDir()
	h := startDaemonAt(t, home, nil)
	c := h.dial(t)
	ctx := testCtx(t)

	require.NoError(t, c.Add(ctx, probeDef("probe1")))
	require.NoError(t, c.Kill(ctx))

	select {
	case err := <-h.errc:
		require.NoError(t, err)
		h.errc <- nil
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not exit after kill")
	}

	lock, err := ReadLockFile(h.paths.Run())
	require.NoError(t, err)
	assert.Nil(t, lock, "lock file removed on exit")

	store, err := catalog.Open(h.paths.Database())
	require.NoError(t, err)
	defer store.Shutdown(context.Background())
	got, err := store.Get(ctx, "probe1")
	require.NoError(t, err)
	assert.Equal(t, "probe1", got.Name)
}

// stubbornTracer ignores SIGTERM and exits on its own after a few seconds.
const stubbornTracer = `#!/bin/sh
trap '' TERM
i=0
while [ $i -lt 150 ]; do
  echo "main probe hit"
  sleep 0.02
  i=$((i+1))
done
`

func TestDaemon_KillFlushesCatalogWhileTracerLingers(t *testing.T) {
	home := t.TempDir()
	tracer := filepath.Join(home, "stubborn-stap")
	require.NoError(t, os.WriteFile(tracer, []byte(stubbornTracer), 0755))

	h := startDaemonAt(t, home, func(cfg *config.GlobalConfig) {
		cfg.Tools.Stap = tracer
		cfg.Execution.KillGrace = 2 * time.Second
		cfg.Daemon.ShutdownGrace = 300 * time.Millisecond
	})
	c := h.dial(t)
	ctx := testCtx(t)

	lingering := probeDef("lingering")
	lingering.Lasting = 0
	_, err := c.Start(ctx, "", StartOptions{Definition: &lingering})
	require.NoError(t, err)
	require.NoError(t, c.Add(ctx, probeDef("probe1")))
	require.NoError(t, c.Kill(ctx))

	select {
	case err := <-h.errc:
		h.errc <- err
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not exit after kill")
	}

	store, err := catalog.Open(h.paths.Database())
	require.NoError(t, err)
	defer store.Shutdown(context.Background())
	got, err := store.Get(ctx, "probe1")
	require.NoError(t, err)
	assert.Equal(t, "probe1", got.Name)
}

func TestDaemon_RemoveLeavesRunningExecution(t *testing.T) {
	h := startDaemon(t, nil)
	c := h.dial(t)
	ctx := testCtx(t)

	def := probeDef("probe1")
	def.Lasting = 10
	require.NoError(t, c.Add(ctx, def))
	started, err := c.Start(ctx, "probe1", StartOptions{})
	require.NoError(t, err)

	require.NoError(t, c.Remove(ctx, "probe1"))
	_, err = c.Get(ctx, "probe1")
	assert.True(t, errors.Is(err, errdefs.ErrNotFound), "got %v", err)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, started.ID, status[0].ID)

	res, err := c.WaitCompleted(ctx, started.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, execution.Completed, res.State)
	assert.False(t, res.Stopped)
	assert.Equal(t, uint(10), res.Iterations)
}

func TestDaemon_ShutdownStopsRunningExecutions(t *testing.T) {
	h := startDaemon(t, nil)
	c := h.dial(t)
	ctx := testCtx(t)

	def := probeDef("forever")
	def.Lasting = 0
	started, err := c.Start(ctx, "", StartOptions{Definition: &def})
	require.NoError(t, err)

	require.NoError(t, c.Kill(ctx))
	res, err := c.WaitCompleted(ctx, started.ID, nil)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
}

func TestDaemon_Health(t *testing.T) {
	h := startDaemon(t, nil)
	c := h.dial(t)
	ctx := testCtx(t)
	require.NoError(t, c.Add(ctx, probeDef("probe1")))

	health, err := Health(ctx, h.daemon.Addr())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), health.PID)
	assert.Equal(t, 1, health.Definitions)
	assert.Equal(t, 1, health.Connections)
	assert.Equal(t, 0, health.Running)
}

func TestDaemon_LockFileWhileRunning(t *testing.T) {
	h := startDaemon(t, nil)
	require.Eventually(t, func() bool {
		lock, err := ReadLockFile(h.paths.Run())
		return err == nil && lock != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, h.daemon.Addr(), ResolveEndpoint(h.paths.Run(), "fallback"))
}

func TestDaemon_IdleTimeoutShutsDown(t *testing.T) {
	h := startDaemon(t, func(cfg *config.GlobalConfig) {
		cfg.Daemon.IdleTimeout = 100 * time.Millisecond
	})

	select {
	case err := <-h.errc:
		assert.NoError(t, err)
		h.errc <- nil
	case <-time.After(5 * time.Second):
		t.Fatal("idle daemon did not shut down")
	}
}

func TestDaemon_IdleTimeoutWaitsForClients(t *testing.T) {
	h := startDaemon(t, func(cfg *config.GlobalConfig) {
		cfg.Daemon.IdleTimeout = 100 * time.Millisecond
	})
	c := h.dial(t)

	select {
	case <-h.errc:
		t.Fatal("daemon shut down with a client connected")
	case <-time.After(300 * time.Millisecond):
	}

	_ = c.Close()
	select {
	case <-h.errc:
		h.errc <- nil
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down after the last client left")
	}
}

func TestDaemon_UnknownOp(t *testing.T) {
	h := startDaemon(t, nil)
	c := h.dial(t)

	// Unknown ops still get exactly one reply.
	req := protocol.NewRequest(0, protocol.OpStatus)
	reply, err := c.Call(testCtx(t), req)
	require.NoError(t, err)
	assert.True(t, reply.OK)

	reply, err = c.Call(testCtx(t), &protocol.Request{Op: "bogus"})
	require.NoError(t, err)
	assert.True(t, errors.Is(reply.Err(), errdefs.ErrInvalid))
}
