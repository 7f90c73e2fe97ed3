// Package editor round-trips a document through the user's text editor.
package editor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// DefaultEditor is used when neither $VISUAL nor $EDITOR is set.
const DefaultEditor = "vi"

// ErrUnchanged is returned when the user saves the document untouched.
var ErrUnchanged = errors.New("document unchanged")

// Resolve picks the editor command: explicit, then $VISUAL, then $EDITOR.
func Resolve(explicit string) string {
	for _, candidate := range []string{explicit, os.Getenv("VISUAL"), os.Getenv("EDITOR")} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return DefaultEditor
}

// Editor launches an editor command on temporary files.
type Editor struct {
	// Command may carry arguments, e.g. "code --wait".
	Command string
	// RequireTTY refuses to launch when stdin is not a terminal.
	RequireTTY bool

	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// New returns an editor attached to the process's terminal.
func New(command string) *Editor {
	return &Editor{
		Command:    Resolve(command),
		RequireTTY: true,
		Stdin:      os.Stdin,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
}

// Edit writes initial to a temporary file with the given suffix, opens it in
// the editor and returns the saved contents.
func (e *Editor) Edit(initial []byte, suffix string) ([]byte, error) {
	if e.RequireTTY && (e.Stdin == nil || !term.IsTerminal(int(e.Stdin.Fd()))) {
		return nil, fmt.Errorf("editor needs an interactive terminal; use --file instead")
	}
	args := strings.Fields(e.Command)
	if len(args) == 0 {
		return nil, fmt.Errorf("no editor configured")
	}

	f, err := os.CreateTemp("", "girasol-*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(initial); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("writing temp file: %w", err)
	}

	cmd := exec.Command(args[0], append(args[1:], path)...)
	if e.Stdin != nil {
		cmd.Stdin = e.Stdin
	}
	if e.Stdout != nil {
		cmd.Stdout = e.Stdout
	}
	if e.Stderr != nil {
		cmd.Stderr = e.Stderr
	}
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("running editor %q: %w", e.Command, err)
	}

	edited, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading edited file: %w", err)
	}
	if bytes.Equal(edited, initial) {
		return edited, ErrUnchanged
	}
	return edited, nil
}
