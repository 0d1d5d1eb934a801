package mantle

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by runtime operations.
var (
	// ErrRegistryFrozen is returned when registering an event descriptor
	// after the registry has been frozen.
	ErrRegistryFrozen = errors.New("mantle: event registry is frozen")

	// ErrNoActiveMode is returned by Exit when the mode stack is empty.
	ErrNoActiveMode = errors.New("mantle: no active mode")

	// ErrProxyClosed is returned when submitting to a closed Proxy, or to
	// callers whose submitted call was still pending when the proxy shut
	// down.
	ErrProxyClosed = errors.New("mantle: proxy is closed")

	// ErrMaxIterationsExceeded is returned when a turn exceeds the
	// configured maximum model iterations.
	ErrMaxIterationsExceeded = errors.New("mantle: maximum iterations exceeded")

	// ErrCancelTimeout is returned by Supervisor.CancelAll when live tasks
	// did not acknowledge cancellation within the timeout.
	ErrCancelTimeout = errors.New("mantle: tasks did not finish before cancel timeout")
)

// KindMismatchError reports a dispatch call that does not match the event's
// registered semantics, e.g. Signal on an interceptable descriptor. This is
// a programming error and fails fast.
type KindMismatchError struct {
	Event string
	Want  EventKind // kind implied by the dispatch call
	Got   EventKind // kind in the registry
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf(
		"mantle: event %q is registered as %s, dispatched as %s",
		e.Event, e.Got, e.Want,
	)
}

// UnknownModeError reports an entry or transition request naming a mode with
// no registered descriptor.
type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("mantle: unknown mode %q", e.Mode)
}

// ReentryError reports an attempt to enter a mode that is already on the
// stack without AllowReentry declared on its descriptor.
type ReentryError struct {
	Mode string
}

func (e *ReentryError) Error() string {
	return fmt.Sprintf("mantle: mode %q is already active and does not allow re-entry", e.Mode)
}

// ModeVetoError reports a mode transition blocked by an event handler.
type ModeVetoError struct {
	Mode  string
	Event string // the intercepting event, entering or exiting
}

func (e *ModeVetoError) Error() string {
	return fmt.Sprintf("mantle: mode %q transition vetoed by %s handler", e.Mode, e.Event)
}

// ToolVetoError reports a tool invocation blocked by a "tool before"
// handler setting the output to nil.
type ToolVetoError struct {
	Tool      string
	RequestID string
}

func (e *ToolVetoError) Error() string {
	return fmt.Sprintf("mantle: tool %q call %s vetoed by handler", e.Tool, e.RequestID)
}

// OutputTypeError reports an interceptable handler replacing an output slot
// with a value of the wrong type for the operation.
type OutputTypeError struct {
	Event string
	Value any
}

func (e *OutputTypeError) Error() string {
	return fmt.Sprintf(
		"mantle: handler for %s replaced output with incompatible value of type %T",
		e.Event, e.Value,
	)
}
