// Package supervisor admits, tracks and stops trace executions.
//
// One goroutine owns the registry of running executions, so at most one
// execution per definition name can be admitted at any instant. Executions
// deregister themselves on their terminal transition; the supervisor never
// waits on a tracer.
package supervisor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/majorcontext/girasol/internal/errdefs"
	"github.com/majorcontext/girasol/internal/execution"
	"github.com/majorcontext/girasol/internal/log"
	"github.com/majorcontext/girasol/internal/metrics"
	"github.com/majorcontext/girasol/internal/model"
)

// Recorder persists terminal results. The history store implements it.
type Recorder interface {
	Record(ctx context.Context, res execution.Result) error
}

// StartRequest asks for a new execution of Definition.
type StartRequest struct {
	Definition model.TraceDefinition
	// Rounds overrides Definition.Lasting when non-zero.
	Rounds  uint
	Pattern string
	// Reporter receives output lines and the result. Nil for fire and forget.
	Reporter execution.Reporter
	// Session identifies the originating connection, "" for local starts.
	Session string
}

// Running is the handle of an admitted execution.
type Running struct {
	Name      string
	Session   string
	StartedAt time.Time
	Execution *execution.Execution
}

// ID returns the execution id.
func (r *Running) ID() string { return r.Execution.ID() }

// Remaining is the shared iteration counter.
func (r *Running) Remaining() *execution.Counter { return r.Execution.Counter() }

// Status is a snapshot of one registered execution.
type Status struct {
	Name      string    `json:"name"`
	ID        string    `json:"id"`
	Method    string    `json:"method"`
	State     string    `json:"state"`
	Remaining uint      `json:"remaining"`
	Session   string    `json:"session,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

type opKind int

const (
	opStart opKind = iota
	opStop
	opDeregister
	opShutdownAll
	opList
	opWait
	opExited
)

type request struct {
	kind  opKind
	name  string
	id    string
	start StartRequest
	reply chan response
}

type response struct {
	running *Running
	list    []Status
	idle    <-chan struct{}
	err     error
}

// Supervisor is the registry actor.
type Supervisor struct {
	opts    execution.Options
	history Recorder
	logger  *slog.Logger

	mailbox chan request
	done    chan struct{}

	// runCtx parents every execution. Cancelled by Close.
	runCtx    context.Context
	cancelRun context.CancelFunc
	closeOne  sync.Once

	// Owned by the loop goroutine. active counts execution goroutines that
	// have not returned yet; waiters are closed when it drops to zero.
	running map[string]*Running
	active  int
	waiters []chan struct{}
	closing bool
}

// New starts a supervisor. history may be nil.
func New(opts execution.Options, history Recorder) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		opts:      opts,
		history:   history,
		logger:    log.With("component", "supervisor"),
		mailbox:   make(chan request),
		done:      make(chan struct{}),
		runCtx:    ctx,
		cancelRun: cancel,
		running:   make(map[string]*Running),
	}
	go s.loop()
	return s
}

// Start admits a new execution. It fails with ErrConflict when one is
// already running under the same name and with ErrInvalid for a bad
// definition or pattern. The tracer is spawned on the execution's own
// goroutine; spawn failures arrive as a Failed result.
func (s *Supervisor) Start(ctx context.Context, req StartRequest) (*Running, error) {
	if err := model.Validate(req.Definition); err != nil {
		return nil, err
	}
	if err := model.ValidateRounds(req.Rounds); err != nil {
		return nil, err
	}
	req.Definition = req.Definition.Clone()
	resp, err := s.call(ctx, request{kind: opStart, name: req.Definition.Name, start: req})
	return resp.running, err
}

// Stop signals the execution running under name. The registry entry stays
// until the execution reaches its terminal state.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	_, err := s.call(ctx, request{kind: opStop, name: name})
	return err
}

// ShutdownAll signals every execution to stop and refuses new starts. It
// does not wait for the executions; use Wait for that.
func (s *Supervisor) ShutdownAll(ctx context.Context) error {
	_, err := s.call(ctx, request{kind: opShutdownAll})
	return err
}

// List returns the registered executions sorted by name.
func (s *Supervisor) List(ctx context.Context) ([]Status, error) {
	resp, err := s.call(ctx, request{kind: opList})
	return resp.list, err
}

// Wait blocks until every execution admitted so far has finished and
// reported. It may be called concurrently with Start.
func (s *Supervisor) Wait(ctx context.Context) error {
	resp, err := s.call(ctx, request{kind: opWait})
	if err != nil {
		return err
	}
	select {
	case <-resp.idle:
		return nil
	case <-s.done:
		return errdefs.Wrap(errdefs.ErrUnavailable, errSupervisorClosed, "supervisor")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every execution and stops the supervisor goroutine. Pending
// deregistrations are dropped.
func (s *Supervisor) Close() {
	s.closeOne.Do(func() {
		s.cancelRun()
		close(s.done)
	})
}

// deregister removes name if it still maps to execution id. It is called
// from the execution's goroutine and only waits for the loop to pick it up.
func (s *Supervisor) deregister(name, id string) {
	select {
	case s.mailbox <- request{kind: opDeregister, name: name, id: id}:
	case <-s.done:
	}
}

// exited is sent by an execution goroutine once Run has returned.
func (s *Supervisor) exited() {
	select {
	case s.mailbox <- request{kind: opExited}:
	case <-s.done:
	}
}

func (s *Supervisor) call(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)
	select {
	case s.mailbox <- req:
	case <-s.done:
		return response{}, errdefs.Wrap(errdefs.ErrUnavailable, errSupervisorClosed, "supervisor")
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp, resp.err
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func (s *Supervisor) loop() {
	for {
		select {
		case req := <-s.mailbox:
			s.handle(req)
		case <-s.done:
			return
		}
	}
}

func (s *Supervisor) handle(req request) {
	var resp response
	switch req.kind {
	case opStart:
		resp.running, resp.err = s.start(req.start)
	case opStop:
		resp.err = s.stop(req.name)
	case opDeregister:
		if r, ok := s.running[req.name]; ok && r.ID() == req.id {
			delete(s.running, req.name)
			metrics.SetExecutionsRunning(len(s.running))
			s.logger.Debug("execution deregistered", "trace", req.name, "execution", req.id)
		}
		return
	case opShutdownAll:
		s.closing = true
		for name, r := range s.running {
			s.logger.Debug("stopping execution for shutdown", "trace", name)
			r.Execution.Stop()
		}
	case opList:
		resp.list = s.list()
	case opWait:
		idle := make(chan struct{})
		if s.active == 0 {
			close(idle)
		} else {
			s.waiters = append(s.waiters, idle)
		}
		resp.idle = idle
	case opExited:
		s.active--
		if s.active == 0 {
			for _, w := range s.waiters {
				close(w)
			}
			s.waiters = nil
		}
		return
	}
	req.reply <- resp
}

func (s *Supervisor) start(req StartRequest) (*Running, error) {
	name := req.Definition.Name
	if s.closing {
		return nil, errdefs.Wrap(errdefs.ErrUnavailable, errSupervisorClosed, "supervisor shutting down")
	}
	if _, ok := s.running[name]; ok {
		return nil, errdefs.Conflict("%s is already running", name)
	}

	rel := &relay{s: s, client: req.Reporter}
	exec, err := execution.New(execution.Params{
		Definition: req.Definition,
		Rounds:     req.Rounds,
		Pattern:    req.Pattern,
		Reporter:   rel,
	}, s.opts)
	if err != nil {
		return nil, err
	}

	r := &Running{
		Name:      name,
		Session:   req.Session,
		StartedAt: time.Now(),
		Execution: exec,
	}
	s.running[name] = r
	metrics.SetExecutionsRunning(len(s.running))

	s.active++
	go func() {
		defer s.exited()
		exec.Run(s.runCtx)
	}()

	s.logger.Info("execution admitted", "trace", name, "execution", exec.ID(), "session", req.Session)
	return r, nil
}

func (s *Supervisor) stop(name string) error {
	r, ok := s.running[name]
	if !ok {
		return errdefs.NotFound("%s is not running", name)
	}
	r.Execution.Stop()
	return nil
}

func (s *Supervisor) list() []Status {
	list := make([]Status, 0, len(s.running))
	for _, r := range s.running {
		list = append(list, Status{
			Name:      r.Name,
			ID:        r.ID(),
			Method:    r.Execution.Method(),
			State:     r.Execution.State().String(),
			Remaining: r.Remaining().Remaining(),
			Session:   r.Session,
			StartedAt: r.StartedAt,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}
