package daemon

import (
	"errors"
	"sync"

	"github.com/majorcontext/girasol/internal/execution"
)

var errNoHistory = errors.New("history store not configured")

// gatedReporter holds an execution's frames back until the start reply has
// been queued, so a client always sees the reply first.
type gatedReporter struct {
	next  execution.Reporter
	ready chan struct{}
	once  sync.Once
}

func newGatedReporter(next execution.Reporter) *gatedReporter {
	return &gatedReporter{next: next, ready: make(chan struct{})}
}

func (g *gatedReporter) open() {
	g.once.Do(func() { close(g.ready) })
}

func (g *gatedReporter) Line(id, name, line string) {
	<-g.ready
	g.next.Line(id, name, line)
}

func (g *gatedReporter) Finished(res execution.Result) {
	<-g.ready
	g.next.Finished(res)
}
