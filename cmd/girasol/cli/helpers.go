package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/majorcontext/girasol/internal/catalog"
	"github.com/majorcontext/girasol/internal/daemon"
	"github.com/majorcontext/girasol/internal/execution"
	"github.com/majorcontext/girasol/internal/model"
	"github.com/majorcontext/girasol/internal/ui"
)

// requestTimeout bounds one catalog round trip from the CLI.
const requestTimeout = 30 * time.Second

// catalogBackend is satisfied by the local store and the daemon client.
type catalogBackend interface {
	QueryAll(ctx context.Context) ([]model.TraceDefinition, error)
	Get(ctx context.Context, name string) (model.TraceDefinition, error)
	Add(ctx context.Context, def model.TraceDefinition) error
	Remove(ctx context.Context, name string) error
}

// openCatalog talks to the running daemon if there is one. Otherwise it
// opens the catalog directly; the returned close func flushes it.
func openCatalog(ctx context.Context) (catalogBackend, func(), error) {
	if lock, err := daemon.ReadLockFile(paths.Run()); err == nil && lock != nil && lock.IsAlive() {
		c, err := daemon.Dial(ctx, lock.Listen)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	}

	store, err := catalog.Open(paths.Database())
	if err != nil {
		return nil, nil, fmt.Errorf("opening catalog at %s (is a daemon running without a lock file?): %w", paths.Database(), err)
	}
	return store, func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := store.Shutdown(ctx); err != nil {
			ui.Warnf("flushing catalog: %v", err)
		}
	}, nil
}

// dialDaemon connects to server, or to the daemon found through the lock
// file, or to the configured listen address.
func dialDaemon(ctx context.Context, server string) (*daemon.Client, error) {
	addr := server
	if addr == "" {
		addr = daemon.ResolveEndpoint(paths.Run(), globalCfg.Listen)
	}
	return daemon.Dial(ctx, addr)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(ui.Output())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatAge formats a time as a short relative duration.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// printResult prints a terminal result and returns a non-nil error when the
// execution failed, so the process exits non-zero.
func printResult(res execution.Result) error {
	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
	} else {
		ui.Printf("%s %s after %d iteration(s) in %s\n",
			ui.Bold(res.Name), ui.State(res.State.String()), res.Iterations,
			res.FinishedAt.Sub(res.StartedAt).Truncate(time.Millisecond))
		if res.Stopped {
			ui.Println(ui.Dim("  stopped before the budget ran out"))
		}
		if res.OutputPath != "" {
			ui.Printf("  output: %s\n", res.OutputPath)
		}
	}
	if res.State == execution.Failed {
		return fmt.Errorf("%s failed: %s (exit code %d)", res.Name, res.Error, res.ExitCode)
	}
	return nil
}
