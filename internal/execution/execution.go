// Package execution runs one tracer child process through its lifecycle.
//
//	Starting -> Running -> (Stopping) -> Completed | Failed
//
// Starting resolves the definition into a command line and spawns it. Running
// ticks every interval and decrements the shared Counter; at zero the tracer
// is terminated and the execution completes. A tracer that exits by itself
// completes on status 0 and fails otherwise. An explicit Stop terminates the
// tracer and completes with Stopped set. There is no retry.
package execution

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/majorcontext/girasol/internal/errdefs"
	"github.com/majorcontext/girasol/internal/log"
	"github.com/majorcontext/girasol/internal/model"
)

// State is a node of the execution state machine.
type State int

const (
	Starting State = iota
	Running
	Stopping
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether s is Completed or Failed.
func (s State) Terminal() bool { return s == Completed || s == Failed }

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Starting, Running, Stopping, Completed, Failed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown execution state %q", text)
}

// Result is the terminal record of an execution.
type Result struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Method     string    `json:"method"`
	State      State     `json:"state"`
	ExitCode   int       `json:"exit_code"`
	Code       string    `json:"code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Iterations uint      `json:"iterations"`
	Stopped    bool      `json:"stopped"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	OutputPath string    `json:"output_path,omitempty"`

	// Err is the classified failure. It does not cross the wire.
	Err error `json:"-"`
}

// Reporter receives what an execution produces. Calls come from the
// execution's own goroutines and must not block for long.
type Reporter interface {
	// Line receives a tracer output line that matched the pattern.
	Line(id, name, line string)
	// Finished receives the terminal result, exactly once.
	Finished(Result)
}

// Options are daemon-wide execution settings.
type Options struct {
	Tools Tools
	// KillGrace is the wait between SIGTERM and SIGKILL.
	KillGrace time.Duration
	// PTY runs the tracer on a pseudo-terminal.
	PTY bool
	// OutputDir receives <name>-<id>.log files. Empty discards output.
	OutputDir string
}

// Params describe one start request.
type Params struct {
	Definition model.TraceDefinition
	// Rounds overrides Definition.Lasting when non-zero.
	Rounds uint
	// Pattern selects which output lines reach the reporter. Empty matches
	// every line.
	Pattern  string
	Reporter Reporter
}

const (
	defaultKillGrace = 5 * time.Second
	// drainTimeout bounds the wait for buffered output after the tracer
	// exits. Orphaned grandchildren can hold the pipe open.
	drainTimeout = 2 * time.Second
)

// Execution is one running instance of a definition.
type Execution struct {
	id       string
	def      model.TraceDefinition
	opts     Options
	pattern  *regexp.Regexp
	reporter Reporter
	counter  *Counter
	logger   *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu     sync.Mutex
	state  State
	result Result
}

// New prepares an execution in the Starting state. Nothing is spawned until
// Run. An invalid pattern fails with ErrInvalid.
func New(p Params, opts Options) (*Execution, error) {
	var pattern *regexp.Regexp
	if p.Pattern != "" {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, errdefs.Invalid("pattern %q: %v", p.Pattern, err)
		}
		pattern = re
	}
	if p.Definition.Content == nil {
		return nil, errdefs.Invalid("%s has no content", p.Definition.Name)
	}
	if p.Definition.Interval == 0 || uint64(p.Definition.Interval) > model.MaxInterval {
		return nil, errdefs.Invalid("%s: interval %dms out of range", p.Definition.Name, p.Definition.Interval)
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = defaultKillGrace
	}

	budget := p.Definition.Lasting
	if p.Rounds > 0 {
		budget = p.Rounds
	}

	id := uuid.NewString()
	return &Execution{
		id:       id,
		def:      p.Definition.Clone(),
		opts:     opts,
		pattern:  pattern,
		reporter: p.Reporter,
		counter:  NewCounter(budget),
		logger:   log.With("trace", p.Definition.Name, "execution", id[:8]),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func (e *Execution) ID() string     { return e.id }
func (e *Execution) Name() string   { return e.def.Name }
func (e *Execution) Method() string { return e.def.Content.Method() }

// Counter is the shared remaining-iterations counter.
func (e *Execution) Counter() *Counter { return e.counter }

// State returns the current state.
func (e *Execution) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed after the execution reached a terminal state and reported.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Result returns the terminal result. It is only meaningful after Done.
func (e *Execution) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Wait blocks until the execution finishes or ctx ends.
func (e *Execution) Wait(ctx context.Context) (Result, error) {
	select {
	case <-e.done:
		return e.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Stop asks the execution to terminate its tracer. It does not wait.
func (e *Execution) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Execution) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Run drives the state machine to a terminal state. It is meant to run on
// its own goroutine; cancelling ctx behaves like Stop.
func (e *Execution) Run(ctx context.Context) {
	started := time.Now()
	res := Result{
		ID:        e.id,
		Name:      e.def.Name,
		Method:    e.def.Content.Method(),
		StartedAt: started,
		ExitCode:  -1,
	}

	out, outputPath, err := e.openOutput()
	if err != nil {
		e.finish(res, Failed, errdefs.Wrap(errdefs.ErrProcessSpawn, err, "opening output"))
		return
	}
	defer out.Close()
	res.OutputPath = outputPath

	inv, err := Resolve(e.def, e.opts.Tools, perfDataPath(outputPath))
	if err != nil {
		e.finish(res, Failed, err)
		return
	}
	proc, err := spawn(inv, e.opts.PTY)
	if err != nil {
		e.finish(res, Failed, errdefs.Wrap(errdefs.ErrProcessSpawn, err, e.def.Name))
		return
	}
	e.logger.Info("tracer started", "pid", proc.pid(), "command", inv.String())
	e.setState(Running)

	exited := make(chan error, 1)
	go func() { exited <- proc.cmd.Wait() }()

	readDone := make(chan error, 1)
	go func() { readDone <- e.pump(proc, out) }()
	// readCh is readDone until the pump has reported.
	readCh := readDone
	drained := false

	var tick <-chan time.Time
	if e.counter.Remaining() > 0 {
		ticker := time.NewTicker(time.Duration(e.def.Interval) * time.Millisecond)
		defer ticker.Stop()
		tick = ticker.C
	}

	var (
		waitErr    error
		terminated bool
		failure    error
	)
loop:
	for {
		select {
		case <-tick:
			res.Iterations++
			if e.counter.Decrement() == 0 {
				e.logger.Debug("iteration budget spent", "iterations", res.Iterations)
				waitErr = e.terminate(proc, exited)
				terminated = true
				break loop
			}
		case waitErr = <-exited:
			break loop
		case <-e.stop:
			res.Stopped = true
			e.setState(Stopping)
			waitErr = e.terminate(proc, exited)
			terminated = true
			break loop
		case <-ctx.Done():
			res.Stopped = true
			e.setState(Stopping)
			waitErr = e.terminate(proc, exited)
			terminated = true
			break loop
		case err := <-readCh:
			drained = true
			readCh = nil
			if err != nil {
				failure = errdefs.Wrap(errdefs.ErrStorageIO, err, "reading tracer output")
				e.setState(Stopping)
				waitErr = e.terminate(proc, exited)
				terminated = true
				break loop
			}
			// Output closed before exit; the exit status decides.
		}
	}

	if !drained {
		select {
		case err := <-readDone:
			if err != nil && failure == nil {
				failure = errdefs.Wrap(errdefs.ErrStorageIO, err, "reading tracer output")
			}
		case <-time.After(drainTimeout):
			_ = proc.output.Close()
			<-readDone
		}
	}
	_ = proc.output.Close()

	res.ExitCode = exitCode(proc.cmd, waitErr)
	switch {
	case failure != nil:
		e.finish(res, Failed, failure)
	case terminated:
		e.finish(res, Completed, nil)
	case waitErr != nil:
		e.finish(res, Failed, errdefs.Wrap(errdefs.ErrProcessExit, waitErr, fmt.Sprintf("%s exited", e.def.Name)))
	default:
		e.finish(res, Completed, nil)
	}
}

// terminate sends SIGTERM to the tracer's group, escalating to SIGKILL after
// the kill grace, and returns the wait status.
func (e *Execution) terminate(proc *process, exited <-chan error) error {
	if err := proc.terminate(); err != nil {
		e.logger.Warn("terminating tracer", "error", err)
	}
	timer := time.NewTimer(e.opts.KillGrace)
	defer timer.Stop()
	select {
	case err := <-exited:
		return err
	case <-timer.C:
		e.logger.Warn("tracer ignored SIGTERM, killing", "grace", e.opts.KillGrace)
		if err := proc.kill(); err != nil {
			e.logger.Warn("killing tracer", "error", err)
		}
		return <-exited
	}
}

// pump copies tracer output into out line by line and forwards matching
// lines to the reporter. It returns nil at end of output.
func (e *Execution) pump(proc *process, out io.Writer) error {
	reader := bufio.NewReader(proc.output)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if _, werr := io.WriteString(out, line); werr != nil {
				return werr
			}
			if !strings.HasSuffix(line, "\n") {
				_, _ = io.WriteString(out, "\n")
			}
			e.forward(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if proc.isReadEOF(err) {
				return nil
			}
			return err
		}
	}
}

func (e *Execution) forward(line string) {
	if e.reporter == nil {
		return
	}
	if e.pattern != nil && !e.pattern.MatchString(line) {
		return
	}
	e.reporter.Line(e.id, e.def.Name, line)
}

func (e *Execution) openOutput() (io.WriteCloser, string, error) {
	if e.opts.OutputDir == "" {
		return nopCloser{io.Discard}, "", nil
	}
	if err := os.MkdirAll(e.opts.OutputDir, 0750); err != nil {
		return nil, "", err
	}
	path := filepath.Join(e.opts.OutputDir, fmt.Sprintf("%s-%s.log", e.def.Name, e.id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

// perfDataPath places perf samples next to the output log, or discards them
// when output is not kept.
func perfDataPath(outputPath string) string {
	if outputPath == "" {
		return os.DevNull
	}
	return strings.TrimSuffix(outputPath, ".log") + ".perf.data"
}

// finish records the terminal result, releases waiters on the counter,
// reports, and finally closes Done.
func (e *Execution) finish(res Result, state State, err error) {
	res.State = state
	res.FinishedAt = time.Now()
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		res.Code = errdefs.Code(err)
	}

	e.mu.Lock()
	e.state = state
	e.result = res
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("execution failed", "error", err, "exit_code", res.ExitCode)
	} else {
		e.logger.Info("execution completed", "iterations", res.Iterations, "stopped", res.Stopped)
	}

	e.counter.Release()
	if e.reporter != nil {
		e.reporter.Finished(res)
	}
	close(e.done)
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
