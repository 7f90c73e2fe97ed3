//go:build windows

package execution

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
)

type process struct {
	cmd    *exec.Cmd
	output io.ReadCloser
	pty    bool
}

func spawn(inv Invocation, usePTY bool) (*process, error) {
	if usePTY {
		return nil, fmt.Errorf("pty execution is not supported on this platform")
	}
	cmd := exec.Command(inv.Path, inv.Args...)
	cmd.Env = append(os.Environ(), inv.Env...)
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return nil, fmt.Errorf("starting %s: %w", inv.Path, err)
	}
	_ = w.Close()
	return &process{cmd: cmd, output: r}, nil
}

func (p *process) pid() int { return p.cmd.Process.Pid }

// No process groups or SIGTERM here; both steps kill the child.
func (p *process) terminate() error { return p.kill() }

func (p *process) kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *process) isReadEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed)
}
