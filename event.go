package mantle

import (
	"context"

	"github.com/mantlekit/mantle/schema"
)

// -----------------------------------------------------------------------------
// Event Descriptors
// -----------------------------------------------------------------------------

// EventKind classifies how an event dispatches.
type EventKind string

const (
	// KindSignal events are fire-and-forget: handlers observe, their return
	// values are discarded, and a failing handler never affects the others.
	KindSignal EventKind = "signal"

	// KindInterceptable events carry an output slot: handlers may replace
	// the value, later handlers see the replacement, and the final value is
	// returned to the dispatching operation.
	KindInterceptable EventKind = "interceptable"
)

// Valid reports whether k is one of the two known kinds.
func (k EventKind) Valid() bool {
	return k == KindSignal || k == KindInterceptable
}

// EventDescriptor declares one event identifier: its dispatch semantics and
// the shape of its parameter map. Every identifier maps to exactly one kind
// for the lifetime of the process (see EventRegistry).
type EventDescriptor struct {
	// Name is the event identifier, e.g. "mantle:mode:entering".
	// Custom events should use their own namespace: "myapp:cache_hit".
	Name string

	// Description is a human-readable summary of when the event fires.
	Description string

	// Kind selects signal or interceptable dispatch semantics.
	Kind EventKind

	// Params optionally validates the parameter map on every dispatch.
	// Nil means no validation.
	Params *schema.Schema
}

// -----------------------------------------------------------------------------
// Event Context
// -----------------------------------------------------------------------------

// EventContext is the ephemeral value passed to every handler for one
// dispatch occurrence. It exposes the event's parameters, the interceptable
// output slot, and lets handlers file mode-transition requests.
//
// An EventContext lives for exactly one dispatch call and must not be
// retained by handlers.
type EventContext struct {
	name   string
	kind   EventKind
	params map[string]any

	output   any
	replaced bool

	transitions []TransitionRequest
}

func newEventContext(name string, kind EventKind, params map[string]any) *EventContext {
	return &EventContext{name: name, kind: kind, params: params}
}

// Event returns the event identifier being dispatched.
func (ec *EventContext) Event() string {
	return ec.name
}

// Kind returns the dispatch semantics of this occurrence.
func (ec *EventContext) Kind() EventKind {
	return ec.kind
}

// Param returns one parameter value, or nil if absent.
func (ec *EventContext) Param(key string) any {
	return ec.params[key]
}

// Params returns the parameter map. Handlers must treat it as read-only;
// interceptable events change their outcome through SetOutput, never by
// mutating parameters.
func (ec *EventContext) Params() map[string]any {
	return ec.params
}

// Output returns the current value of the output slot. For signal events
// this is always nil.
func (ec *EventContext) Output() any {
	return ec.output
}

// SetOutput replaces the output slot. Subsequent handlers in the same
// dispatch observe the new value, and the final value is returned to the
// dispatching operation.
//
// On a signal event SetOutput is a no-op: signal handlers are read-only and
// nothing they produce reaches the caller.
func (ec *EventContext) SetOutput(v any) {
	if ec.kind != KindInterceptable {
		return
	}
	ec.output = v
	ec.replaced = true
}

// Replaced reports whether any handler has called SetOutput during this
// dispatch.
func (ec *EventContext) Replaced() bool {
	return ec.replaced
}

// RequestMode asks the mode stack to switch to the named mode once the
// current dispatch settles. The request is never applied inline; it is
// handed to the stack at the end of the dispatch (see TransitionSink).
func (ec *EventContext) RequestMode(mode string, params map[string]any) {
	ec.transitions = append(ec.transitions, TransitionRequest{Mode: mode, Params: params})
}

// RequestPreviousMode asks the mode stack to return to the previously
// entered mode (history order, not stack order) once the current dispatch
// settles.
func (ec *EventContext) RequestPreviousMode() {
	ec.transitions = append(ec.transitions, TransitionRequest{ToPrevious: true})
}

// takeTransitions removes and returns the filed transition requests.
func (ec *EventContext) takeTransitions() []TransitionRequest {
	reqs := ec.transitions
	ec.transitions = nil
	return reqs
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Handler is the polymorphic handler contract: one method receiving the
// dispatch context. Signal handlers observe; interceptable handlers may call
// EventContext.SetOutput to replace the operation's output.
//
// An error returned from a signal dispatch is isolated and reported through
// the bus diagnostics callback. An error returned from an interceptable
// dispatch aborts the dispatch and propagates to the caller.
type Handler interface {
	HandleEvent(ctx context.Context, ec *EventContext) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, ec *EventContext) error

// HandleEvent calls fn.
func (fn HandlerFunc) HandleEvent(ctx context.Context, ec *EventContext) error {
	return fn(ctx, ec)
}

// -----------------------------------------------------------------------------
// Mode Transition Requests
// -----------------------------------------------------------------------------

// TransitionRequest is a deferred mode-stack operation filed by an event
// handler. Exactly one of Mode or ToPrevious is meaningful.
type TransitionRequest struct {
	// Mode is the target mode name for a switch request.
	Mode string

	// Params are the entry parameters for the target mode.
	Params map[string]any

	// ToPrevious requests a return to the previously entered mode instead
	// of a named switch.
	ToPrevious bool
}

// TransitionSink receives transition requests collected at the end of a
// dispatch. The mode stack implements this; the bus never applies requests
// itself.
type TransitionSink interface {
	HandleTransitions(ctx context.Context, reqs []TransitionRequest)
}
