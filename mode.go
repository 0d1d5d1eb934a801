package mantle

import (
	"context"
	"time"
)

// ModeBehavior is the two-phase body of a behavioral mode, split at its
// suspension point: Setup runs on entry up to the point where the mode
// hands control back to the host, and Cleanup runs on exit to completion.
//
// An arbitrary number of host operations may run between the two phases;
// per-frame state that must survive the suspension lives in the Frame's
// state map, which both phases receive.
type ModeBehavior interface {
	// Setup runs the entry phase. An error aborts the entry: the frame is
	// never pushed and Cleanup is never called.
	Setup(ctx context.Context, frame *Frame) error

	// Cleanup runs the exit phase to completion. It is not cancellable —
	// abandoning it would leak resources the frame exclusively owns — and
	// its error does not prevent the frame from being popped.
	Cleanup(ctx context.Context, frame *Frame) error
}

// behaviorFunc adapts a setup/cleanup function pair to ModeBehavior.
type behaviorFunc struct {
	setup   func(ctx context.Context, frame *Frame) error
	cleanup func(ctx context.Context, frame *Frame) error
}

// NewBehaviorFunc builds a ModeBehavior from a setup/cleanup pair. Either
// function may be nil for a no-op phase.
func NewBehaviorFunc(setup, cleanup func(ctx context.Context, frame *Frame) error) ModeBehavior {
	return &behaviorFunc{setup: setup, cleanup: cleanup}
}

func (b *behaviorFunc) Setup(ctx context.Context, frame *Frame) error {
	if b.setup == nil {
		return nil
	}
	return b.setup(ctx, frame)
}

func (b *behaviorFunc) Cleanup(ctx context.Context, frame *Frame) error {
	if b.cleanup == nil {
		return nil
	}
	return b.cleanup(ctx, frame)
}

// ModeDescriptor registers one behavioral mode with the stack.
type ModeDescriptor struct {
	// Name identifies the mode. Unique within one ModeStack.
	Name string

	// Description is a human-readable summary for hosts listing modes.
	Description string

	// Behavior is a factory producing a fresh two-phase behavior per
	// frame. Each frame owns its instance exclusively.
	Behavior func() ModeBehavior

	// Invokable marks the mode as exposed for external invocation (e.g.
	// listed to the user by the host shell).
	Invokable bool

	// AllowReentry permits the mode to appear more than once on the stack.
	// Off by default: a behavior has at most one live suspension point, so
	// re-entry is only safe when the behavior is written for it.
	AllowReentry bool
}

// Frame is one active instantiation of a mode: the suspended behavior, the
// entry parameters (seeded into the state map), and the entry timestamp.
// The top frame of the stack is the current mode.
//
// The state map is owned by the agent's single logical flow of control;
// behaviors and handlers access it only from guarded operations.
type Frame struct {
	descriptor ModeDescriptor
	behavior   ModeBehavior
	state      map[string]any
	enteredAt  time.Time
}

func newFrame(desc ModeDescriptor, params map[string]any, enteredAt time.Time) *Frame {
	state := make(map[string]any, len(params))
	for k, v := range params {
		state[k] = v
	}
	return &Frame{
		descriptor: desc,
		behavior:   desc.Behavior(),
		state:      state,
		enteredAt:  enteredAt,
	}
}

// Mode returns the frame's mode name.
func (f *Frame) Mode() string {
	return f.descriptor.Name
}

// Descriptor returns the registered descriptor this frame was built from.
func (f *Frame) Descriptor() ModeDescriptor {
	return f.descriptor
}

// EnteredAt returns the frame's entry timestamp.
func (f *Frame) EnteredAt() time.Time {
	return f.enteredAt
}

// Get reads one entry from the frame's state map.
func (f *Frame) Get(key string) (any, bool) {
	v, ok := f.state[key]
	return v, ok
}

// Set writes one entry into the frame's state map. Setup typically stores
// what Cleanup will need after the suspension.
func (f *Frame) Set(key string, value any) {
	f.state[key] = value
}

// Delete removes one entry from the frame's state map.
func (f *Frame) Delete(key string) {
	delete(f.state, key)
}
