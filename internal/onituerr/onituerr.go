// Package onituerr defines the tagged error kinds shared by every Onitu
// component: DriverError (operator-attributable, fatal) and ServiceError
// (transient backend/I/O failure; the plug retries it only for get_chunk,
// in the chunk server). Store closure
// during shutdown is modeled as a distinct sentinel so callers can treat it
// as a clean termination signal rather than a failure.
package onituerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Onitu error.
type Kind string

const (
	// KindDriver marks configuration or contract violations attributable to
	// the operator: bad path, negative timer, missing credentials, a
	// non-absolute path from normalize_path. Fatal — the driver process
	// exits and the supervisor decides restart policy.
	KindDriver Kind = "driver"
	// KindService marks a transient backend or I/O failure. The current
	// handler invocation fails; the only automatic retry is the chunk
	// server's backoff around get_chunk.
	KindService Kind = "service"
)

// Error is the common error type returned by plug, referee, and driver
// adapter code. Op names the failing operation for log context.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("onitu: %s: %s", e.Kind, e.Op)
	}

	return fmt.Sprintf("onitu: %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Driver wraps err as a fatal, operator-attributable DriverError.
func Driver(op string, err error) error {
	return &Error{Kind: KindDriver, Op: op, Err: err}
}

// Service wraps err as a transient ServiceError. The chunk server retries
// one from get_chunk with backoff; elsewhere the plug layer does not
// retry it.
func Service(op string, err error) error {
	return &Error{Kind: KindService, Op: op, Err: err}
}

// IsDriver reports whether err (or something it wraps) is a DriverError.
func IsDriver(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindDriver
}

// IsService reports whether err (or something it wraps) is a ServiceError.
func IsService(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindService
}

// ErrStoreClosed is returned by the metadata store once teardown has begun.
// Callers treat it as a clean shutdown signal, never as a failure: workers
// that observe it finish without recording an error.
var ErrStoreClosed = errors.New("onitu: store closed")

// ErrBusy is returned by a chunk server when its bounded in-flight queue is
// full.
var ErrBusy = errors.New("onitu: busy")

// ErrUnsupported is returned by a Handler.MoveFile implementation when the
// backend has no native rename; the referee falls back to copy+delete.
var ErrUnsupported = errors.New("onitu: unsupported by backend")
