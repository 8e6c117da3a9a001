// Package hwerr holds the error kinds shared by every hardware package.
// Callers match kinds with errors.Is.
package hwerr

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrOpen means a path could not be opened.
	ErrOpen = errors.New("open failed")
	// ErrLock means a path was opened but another process holds its lock.
	ErrLock = errors.New("lock failed")
	// ErrIO means a read or write on an already open handle failed.
	ErrIO = errors.New("i/o failed")
	// ErrDeviceNotFound means a bus peripheral did not answer at its address.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrNotInitialized means an operation ran against a handle that was never opened.
	ErrNotInitialized = errors.New("not initialized")
	// ErrTimeout means the OS never materialized an exported control path.
	ErrTimeout = errors.New("timed out")
	// ErrInvalidArgument flags out of range channels, frequencies and codes.
	ErrInvalidArgument = errors.New("invalid argument")
)

// PathError records a failed operation on a named control path.
type PathError struct {
	Kind error
	Op   string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	msg := fmt.Sprintf("%s [%s]: %v", e.Op, e.Path, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying OS error.
func (e *PathError) Unwrap() error { return e.Err }

// Is matches the error kind as well as anything the cause matches.
func (e *PathError) Is(target error) bool { return target == e.Kind }

// Path builds a PathError of the given kind.
func Path(kind error, op, path string, cause error) error {
	return &PathError{Kind: kind, Op: op, Path: path, Err: cause}
}

// NotInitialized names the component that was used before it was opened.
func NotInitialized(what string) error {
	return errors.Wrapf(ErrNotInitialized, "%s", what)
}

// InvalidArgument formats a message wrapping ErrInvalidArgument.
func InvalidArgument(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidArgument, format, args...)
}
