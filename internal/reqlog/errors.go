package reqlog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by Shared before Install has run.
	ErrNotInitialized = errors.New("request logger service has not been initialized by the middleware")

	// ErrHandlerPanic marks a response that ended with a handler panic.
	ErrHandlerPanic = errors.New("handler panicked")
)

// Adapter calls, used in errors, task names and metrics.
const (
	callAnnounce = "announce"
	callCreate   = "create"
)

// AdapterError wraps a failed adapter call.
type AdapterError struct {
	Call      string
	SessionID string
	Err       error
}

func (e *AdapterError) Error() string {
	return "adapter " + e.Call + " [" + e.SessionID + "]: " + e.Err.Error()
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// PanicError carries a recovered handler panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrHandlerPanic, e.Value)
}

func (e *PanicError) Unwrap() error {
	return ErrHandlerPanic
}
