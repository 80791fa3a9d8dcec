// Package script provides the sandboxed expression engines used for
// script-driven framing and extraction transforms. Engines run
// user-authored code with no ambient host access, a hard execution
// timeout, and a narrow value-in/value-out contract. Callers must treat
// every execution as fallible and never let an engine failure take down
// the framing or extraction pipeline.
package script

import (
	"errors"
	"time"
)

// Common script errors.
var (
	// ErrTimeout is returned when execution exceeds the limit.
	ErrTimeout = errors.New("script execution timeout")
	// ErrRuntime is returned for any in-script failure.
	ErrRuntime = errors.New("script runtime error")
)

// DefaultTimeout bounds executions when the caller passes 0.
const DefaultTimeout = 1 * time.Second

// Engine executes user-authored code against a set of named values.
// Implementations must be safe for concurrent use and must interrupt
// execution once the timeout elapses: scripts are untrusted and cannot
// be assumed to terminate.
type Engine interface {
	// Execute runs code with env exposed as globals and returns the
	// script's result value. A zero timeout applies DefaultTimeout.
	Execute(code string, env map[string]any, timeout time.Duration) (any, error)

	// Close releases the engine.
	Close() error
}
