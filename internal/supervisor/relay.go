package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/majorcontext/girasol/internal/execution"
	"github.com/majorcontext/girasol/internal/metrics"
)

var errSupervisorClosed = errors.New("supervisor closed")

const historyTimeout = 5 * time.Second

// relay sits between an execution and its client reporter. On the terminal
// result it deregisters the execution, records history, and only then tells
// the client, so a client that restarts on completion is never refused.
type relay struct {
	s      *Supervisor
	client execution.Reporter
}

func (r *relay) Line(id, name, line string) {
	if r.client != nil {
		r.client.Line(id, name, line)
	}
}

func (r *relay) Finished(res execution.Result) {
	r.s.deregister(res.Name, res.ID)
	metrics.RecordExecutionFinished(res.State.String(), res.Method, res.FinishedAt.Sub(res.StartedAt).Seconds())

	if r.s.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		if err := r.s.history.Record(ctx, res); err != nil {
			r.s.logger.Warn("recording execution history", "trace", res.Name, "error", err)
		}
		cancel()
	}

	if r.client != nil {
		r.client.Finished(res)
	}
}
