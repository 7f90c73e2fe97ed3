// Package errdefs defines the error classes shared by the catalog, the
// supervisor and the wire protocol.
//
// Each class wraps the matching containerd/errdefs class, so both
// errors.Is(err, errdefs.ErrNotFound) and cerrdefs.IsNotFound(err) hold for
// an error produced by this module.
package errdefs

import (
	"errors"
	"fmt"

	cerrdefs "github.com/containerd/errdefs"
)

// class is a named error that unwraps to a containerd error class.
type class struct {
	name   string
	parent error
}

func (c *class) Error() string { return c.name }
func (c *class) Unwrap() error { return c.parent }

var (
	// ErrNotFound is returned when a definition or running execution is absent.
	ErrNotFound error = &class{"not found", cerrdefs.ErrNotFound}
	// ErrConflict is returned for a duplicate name or a duplicate concurrent start.
	ErrConflict error = &class{"conflict", cerrdefs.ErrConflict}
	// ErrInvalid is returned for a request or definition that fails validation.
	ErrInvalid error = &class{"invalid argument", cerrdefs.ErrInvalidArgument}
	// ErrSerialization is returned for a corrupt or undecodable record.
	ErrSerialization error = &class{"serialization", cerrdefs.ErrDataLoss}
	// ErrStorageIO is returned when the embedded store fails.
	ErrStorageIO error = &class{"storage i/o", cerrdefs.ErrUnavailable}
	// ErrProcessSpawn is returned when a tracer cannot be started.
	ErrProcessSpawn error = &class{"process spawn", cerrdefs.ErrFailedPrecondition}
	// ErrProcessExit is returned when a tracer exits abnormally.
	ErrProcessExit error = &class{"process exit", cerrdefs.ErrAborted}
	// ErrTransport is returned when a connection is reset or closed.
	ErrTransport error = &class{"transport", cerrdefs.ErrUnavailable}
	// ErrUnavailable is returned by a component that has shut down.
	ErrUnavailable error = &class{"unavailable", cerrdefs.ErrUnavailable}
)

// Wire codes carried in reply frames.
const (
	CodeNotFound      = "not_found"
	CodeConflict      = "conflict"
	CodeInvalid       = "invalid"
	CodeSerialization = "serialization"
	CodeStorage       = "storage"
	CodeSpawn         = "spawn"
	CodeExit          = "exit"
	CodeTransport     = "transport"
	CodeUnavailable   = "unavailable"
	CodeInternal      = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, CodeNotFound},
	{ErrConflict, CodeConflict},
	{ErrInvalid, CodeInvalid},
	{ErrSerialization, CodeSerialization},
	{ErrStorageIO, CodeStorage},
	{ErrProcessSpawn, CodeSpawn},
	{ErrProcessExit, CodeExit},
	{ErrTransport, CodeTransport},
	{ErrUnavailable, CodeUnavailable},
}

// Code maps err to its wire code. Unclassified errors map to CodeInternal.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// FromCode rebuilds a classified error from a wire code and message.
func FromCode(code, message string) error {
	for _, c := range codes {
		if c.code == code {
			return &Remote{Code: code, Message: message, class: c.err}
		}
	}
	return &Remote{Code: code, Message: message}
}

// Remote is an error decoded from a reply frame.
type Remote struct {
	Code    string
	Message string
	class   error
}

func (e *Remote) Error() string { return e.Message }
func (e *Remote) Unwrap() error { return e.class }

// NotFound wraps ErrNotFound with a message naming the missing item.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Conflict wraps ErrConflict with a message naming the duplicate.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// Invalid wraps ErrInvalid.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalid)
}

// Wrap attaches class to err, keeping err in the chain.
func Wrap(class, err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", msg, class, err)
}
