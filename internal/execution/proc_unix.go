//go:build !windows

package execution

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// process is a spawned tracer. It leads its own process group so the whole
// tree can be signalled at once.
type process struct {
	cmd    *exec.Cmd
	output io.ReadCloser
	pty    bool
}

func spawn(inv Invocation, usePTY bool) (*process, error) {
	cmd := exec.Command(inv.Path, inv.Args...)
	cmd.Env = append(os.Environ(), inv.Env...)

	if usePTY {
		// pty.Start puts the child in a new session, which also makes it a
		// process group leader.
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("starting %s with pty: %w", inv.Path, err)
		}
		return &process{cmd: cmd, output: ptmx, pty: true}, nil
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("starting %s: %w", inv.Path, err)
	}
	// The child holds its own copy of the write end.
	_ = w.Close()
	return &process{cmd: cmd, output: r}, nil
}

func (p *process) pid() int {
	return p.cmd.Process.Pid
}

// terminate asks the process group to exit.
func (p *process) terminate() error {
	return p.signalGroup(unix.SIGTERM)
}

// kill forcibly ends the process group.
func (p *process) kill() error {
	return p.signalGroup(unix.SIGKILL)
}

func (p *process) signalGroup(sig unix.Signal) error {
	err := unix.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// isReadEOF reports whether err marks the end of tracer output. Reading a pty
// master after the child is gone fails with EIO rather than EOF.
func (p *process) isReadEOF(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return true
	}
	return p.pty && errors.Is(err, unix.EIO)
}
