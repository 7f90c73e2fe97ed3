package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/girasol/internal/catalog"
	"github.com/majorcontext/girasol/internal/config"
	"github.com/majorcontext/girasol/internal/execution"
	"github.com/majorcontext/girasol/internal/history"
	"github.com/majorcontext/girasol/internal/log"
	"github.com/majorcontext/girasol/internal/notifier"
	"github.com/majorcontext/girasol/internal/supervisor"
)

const catalogFlushTimeout = 5 * time.Second

// Daemon owns the catalog, the supervisor and the endpoint for one home
// directory.
type Daemon struct {
	cfg    *config.GlobalConfig
	paths  config.Paths
	logger *slog.Logger

	catalog    *catalog.Store
	history    *history.Store
	supervisor *supervisor.Supervisor
	server     *Server
	idle       *IdleTimer
	lock       *Lock

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New claims the home directory, opens the catalog and history and binds
// the listener. Failing to open the catalog or to bind is fatal.
func New(cfg *config.GlobalConfig, paths config.Paths) (*Daemon, error) {
	lock, err := AcquireLock(paths.Run(), cfg.Listen)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Open(paths.Database())
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	hist, err := history.Open(paths.History())
	if err != nil {
		_ = cat.Shutdown(context.Background())
		lock.Release()
		return nil, fmt.Errorf("opening history: %w", err)
	}

	sup := supervisor.New(execution.Options{
		Tools:     execution.Tools{Stap: cfg.Tools.Stap, Perf: cfg.Tools.Perf},
		KillGrace: cfg.Execution.KillGrace,
		PTY:       cfg.Execution.PTY,
		OutputDir: paths.Traces(),
	}, hist)

	server := NewServer(ServerOptions{
		Listen:     cfg.Listen,
		Catalog:    cat,
		Supervisor: sup,
		History:    hist,
		Transport: notifier.Options{
			QueueSize:    cfg.Transport.QueueSize,
			WriteTimeout: cfg.Transport.WriteTimeout,
			PingInterval: cfg.Transport.PingInterval,
		},
		MaxMessageSize: cfg.Transport.MaxMessageSize,
	})
	if err := server.Listen(); err != nil {
		sup.Close()
		_ = hist.Close()
		_ = cat.Shutdown(context.Background())
		lock.Release()
		return nil, fmt.Errorf("binding %s: %w", cfg.Listen, err)
	}
	if err := lock.SetListen(server.Addr()); err != nil {
		log.Warn("updating lock file", "error", err)
	}

	d := &Daemon{
		cfg:        cfg,
		paths:      paths,
		logger:     log.With("component", "daemon"),
		catalog:    cat,
		history:    hist,
		supervisor: sup,
		server:     server,
		lock:       lock,
		shutdown:   make(chan struct{}),
	}
	server.SetOnKill(d.RequestShutdown)

	d.idle = NewIdleTimer(cfg.Daemon.IdleTimeout, d.busy, d.onIdle)
	server.SetOnConnect(d.idle.Cancel)
	server.SetOnEmpty(d.idle.Reset)
	return d, nil
}

// Addr is the bound endpoint address.
func (d *Daemon) Addr() string { return d.server.Addr() }

// Catalog exposes the store, for tests.
func (d *Daemon) Catalog() *catalog.Store { return d.catalog }

// RequestShutdown starts the ordered shutdown. It never blocks and may be
// called from a signal path or a request handler.
func (d *Daemon) RequestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdown) })
}

// busy reports whether a client is connected or an execution is running.
func (d *Daemon) busy() bool {
	if d.server.Registry().Count() > 0 {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	running, err := d.supervisor.List(ctx)
	return err == nil && len(running) > 0
}

func (d *Daemon) onIdle() {
	d.logger.Info("daemon idle, shutting down", "idle_timeout", d.cfg.Daemon.IdleTimeout)
	d.RequestShutdown()
}

// Run serves until ctx is cancelled or shutdown is requested, then runs the
// ordered shutdown: stop executions, flush the catalog, close the listener.
// The sequence is bounded by daemon.shutdown_grace.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.lock.Release()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.server.Serve()
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-d.shutdown:
		}
		return d.stop()
	})

	d.idle.Reset()
	d.logger.Info("daemon started", "pid", os.Getpid(), "listen", d.Addr(), "home", d.paths.Home)
	return g.Wait()
}

func (d *Daemon) stop() error {
	d.idle.Cancel()
	d.logger.Info("daemon shutting down", "grace", d.cfg.Daemon.ShutdownGrace)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Daemon.ShutdownGrace)
	defer cancel()

	var errs []error
	if err := d.supervisor.ShutdownAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping executions: %w", err))
	}
	// The flush gets its own deadline and never waits on a tracer.
	flushCtx, cancelFlush := context.WithTimeout(context.Background(), catalogFlushTimeout)
	if err := d.catalog.Shutdown(flushCtx); err != nil {
		errs = append(errs, fmt.Errorf("flushing catalog: %w", err))
	}
	cancelFlush()
	// Completions are queued to their sessions before the endpoint closes.
	if err := d.supervisor.Wait(ctx); err != nil {
		d.logger.Warn("executions still running at shutdown", "error", err)
	}
	if err := d.server.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing endpoint: %w", err))
	}
	d.supervisor.Close()
	if err := d.history.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing history: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		d.logger.Error("shutdown incomplete", "error", err)
		return err
	}
	d.logger.Info("daemon stopped")
	return nil
}
