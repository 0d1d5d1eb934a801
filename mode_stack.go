package mantle

import (
	"context"
	"fmt"
	"sync"
)

// ModeStack manages the stack of suspended behavioral contexts.
//
// # Lifecycle
//
// For each mode: Idle → Entering → Active (suspended between Setup and
// Cleanup) → Exiting → Idle. Entry runs Setup to the suspension point and
// pushes the frame; exit resumes past the suspension point (Cleanup) and
// pops it. A Setup error means the frame is never pushed; a Cleanup error
// still completes the pop and is re-raised.
//
// # Events
//
// Entry brackets with the interceptable "mantle:mode:entering" event
// (handlers may veto by setting the output to nil, or rewrite the entry
// parameters by replacing the map) and the "mantle:mode:entered" signal.
// Exit brackets with "mantle:mode:exiting" (a false output vetoes) and
// "mantle:mode:exited". Setup and cleanup failures fire
// "mantle:mode:error".
//
// # Transition Requests
//
// Handlers file switch/return requests through their EventContext; the bus
// delivers them here at the end of each dispatch. Delivery may arrive on
// any goroutine — tool dispatches run concurrently — so delivery only
// enqueues. Requests apply exclusively on the owner flow, at settled
// points: the end of Enter/Exit, and wherever the owner calls Settle.
// They are never applied nested inside another transition's own event
// dispatch.
//
// # Thread Safety
//
// Mode registration is not thread-safe; register every descriptor during
// construction. Enter, Exit and Settle are driven by the agent's owning
// flow; stack reads (Current, Depth, History, Previous) are safe from any
// goroutine, as is filing transition requests.
type ModeStack struct {
	guard *Guard
	bus   *Bus
	clock TimeProvider

	descriptors map[string]ModeDescriptor

	// stackMu covers stack and history for cross-goroutine readers.
	// Mutations additionally happen on the owner flow, under the guard.
	stackMu sync.RWMutex
	stack   []*Frame
	history []string

	// pendingMu covers the request queue; requests arrive from any
	// dispatching goroutine.
	pendingMu sync.Mutex
	pending   []TransitionRequest

	// settling tracks in-flight Enter/Exit nesting. Owner flow only.
	settling int
}

// NewModeStack creates a ModeStack bound to an agent's guard and bus, and
// installs itself as the bus's transition sink.
func NewModeStack(guard *Guard, bus *Bus) *ModeStack {
	m := &ModeStack{
		guard:       guard,
		bus:         bus,
		clock:       NewDefaultTimeProvider(),
		descriptors: make(map[string]ModeDescriptor),
	}
	bus.SetTransitionSink(m)
	return m
}

// WithClock replaces the stack's time source. Returns the stack for
// chaining.
func (m *ModeStack) WithClock(clock TimeProvider) *ModeStack {
	m.clock = clock
	return m
}

// RegisterMode adds a mode descriptor. Fails on empty name, nil behavior
// factory, or duplicate name.
func (m *ModeStack) RegisterMode(desc ModeDescriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("mantle: mode descriptor has empty name")
	}
	if desc.Behavior == nil {
		return fmt.Errorf("mantle: mode %q has no behavior factory", desc.Name)
	}
	if _, exists := m.descriptors[desc.Name]; exists {
		return fmt.Errorf("mantle: mode %q already registered", desc.Name)
	}
	m.descriptors[desc.Name] = desc
	return nil
}

// MustRegisterMode is like RegisterMode but panics on error.
func (m *ModeStack) MustRegisterMode(desc ModeDescriptor) {
	if err := m.RegisterMode(desc); err != nil {
		panic(err)
	}
}

// Descriptor returns the registered descriptor for a mode name.
func (m *ModeStack) Descriptor(name string) (ModeDescriptor, bool) {
	desc, ok := m.descriptors[name]
	return desc, ok
}

// Invokable lists the names of modes flagged as externally invokable.
func (m *ModeStack) Invokable() []string {
	var names []string
	for name, desc := range m.descriptors {
		if desc.Invokable {
			names = append(names, name)
		}
	}
	return names
}

// Enter instantiates and enters a mode.
//
// Sequence: reentry check → interceptable "entering" event (veto/rewrite)
// → fresh behavior → Setup to the suspension point → push + history append
// under the guard → "entered" signal. On Setup failure the frame is never
// pushed, a "mode error" signal fires, and the error is returned.
func (m *ModeStack) Enter(ctx context.Context, name string, params map[string]any) error {
	m.beginSettle()
	defer m.endSettle(ctx)

	return m.enter(ctx, name, params)
}

func (m *ModeStack) enter(ctx context.Context, name string, params map[string]any) error {
	desc, ok := m.descriptors[name]
	if !ok {
		return &UnknownModeError{Mode: name}
	}
	if !desc.AllowReentry && m.onStack(name) {
		return &ReentryError{Mode: name}
	}

	out, err := m.bus.Intercept(ctx, EventModeEntering, map[string]any{
		ParamMode:   name,
		ParamParams: params,
	}, params)
	if err != nil {
		return err
	}
	if out == nil {
		return &ModeVetoError{Mode: name, Event: EventModeEntering}
	}
	rewritten, ok := out.(map[string]any)
	if !ok {
		return &OutputTypeError{Event: EventModeEntering, Value: out}
	}

	frame := newFrame(desc, rewritten, m.clock.Now())
	if err := frame.behavior.Setup(ctx, frame); err != nil {
		m.signalModeError(ctx, name, ModePhaseSetup, err)
		return fmt.Errorf("mantle: mode %q setup: %w", name, err)
	}

	if err := m.guard.Run(ctx, func(ctx context.Context) error {
		m.stackMu.Lock()
		m.stack = append(m.stack, frame)
		m.history = append(m.history, name)
		m.stackMu.Unlock()
		return nil
	}); err != nil {
		return err
	}

	if err := m.bus.Signal(ctx, EventModeEntered, map[string]any{ParamMode: name}); err != nil {
		return err
	}
	return nil
}

// Exit resumes the current mode past its suspension point and pops it.
//
// Sequence: interceptable "exiting" event (a false output vetoes) →
// Cleanup to completion → pop under the guard → "exited" signal. A Cleanup
// error still completes the pop; it fires a "mode error" signal and is
// returned to the caller.
func (m *ModeStack) Exit(ctx context.Context) error {
	m.beginSettle()
	defer m.endSettle(ctx)

	return m.exit(ctx)
}

func (m *ModeStack) exit(ctx context.Context) error {
	frame := m.CurrentFrame()
	if frame == nil {
		return ErrNoActiveMode
	}
	name := frame.Mode()

	out, err := m.bus.Intercept(ctx, EventModeExiting, map[string]any{ParamMode: name}, true)
	if err != nil {
		return err
	}
	if proceed, ok := out.(bool); ok && !proceed {
		return &ModeVetoError{Mode: name, Event: EventModeExiting}
	}

	// Cleanup is not cancellable; it runs to completion even when the
	// surrounding operation was asked to stop.
	cleanupErr := frame.behavior.Cleanup(context.WithoutCancel(ctx), frame)

	if err := m.guard.Run(ctx, func(ctx context.Context) error {
		m.stackMu.Lock()
		m.stack = m.stack[:len(m.stack)-1]
		m.stackMu.Unlock()
		return nil
	}); err != nil {
		return err
	}

	if cleanupErr != nil {
		m.signalModeError(ctx, name, ModePhaseCleanup, cleanupErr)
	}
	if err := m.bus.Signal(ctx, EventModeExited, map[string]any{ParamMode: name}); err != nil {
		return err
	}

	if cleanupErr != nil {
		return fmt.Errorf("mantle: mode %q cleanup: %w", name, cleanupErr)
	}
	return nil
}

// Current returns the current (top) mode name, or "" when the stack is
// empty.
func (m *ModeStack) Current() string {
	if frame := m.CurrentFrame(); frame != nil {
		return frame.Mode()
	}
	return ""
}

// CurrentFrame returns the top frame, or nil when the stack is empty.
func (m *ModeStack) CurrentFrame() *Frame {
	m.stackMu.RLock()
	defer m.stackMu.RUnlock()
	if len(m.stack) == 0 {
		return nil
	}
	return m.stack[len(m.stack)-1]
}

// Depth returns the number of frames on the stack.
func (m *ModeStack) Depth() int {
	m.stackMu.RLock()
	defer m.stackMu.RUnlock()
	return len(m.stack)
}

// History returns a copy of the append-only sequence of entered mode
// names.
func (m *ModeStack) History() []string {
	m.stackMu.RLock()
	defer m.stackMu.RUnlock()
	out := make([]string, len(m.history))
	copy(out, m.history)
	return out
}

// Previous returns the mode entered immediately before the most recent
// entry — history order, not stack order, since exits pop and entries push
// independently. Returns "" when fewer than two entries exist.
func (m *ModeStack) Previous() string {
	m.stackMu.RLock()
	defer m.stackMu.RUnlock()
	if len(m.history) < 2 {
		return ""
	}
	return m.history[len(m.history)-2]
}

func (m *ModeStack) onStack(name string) bool {
	m.stackMu.RLock()
	defer m.stackMu.RUnlock()
	for _, frame := range m.stack {
		if frame.Mode() == name {
			return true
		}
	}
	return false
}

func (m *ModeStack) signalModeError(ctx context.Context, mode, phase string, err error) {
	// Best-effort: error reporting must not mask the original failure.
	_ = m.bus.Signal(ctx, EventModeError, map[string]any{
		ParamMode:  mode,
		ParamPhase: phase,
		ParamError: err.Error(),
	})
}

// -----------------------------------------------------------------------------
// Transition Requests
// -----------------------------------------------------------------------------

// HandleTransitions implements TransitionSink. It only enqueues: dispatch
// may run on any goroutine — tool events fire concurrently — and applying
// a transition off the owner flow would race the owner's own stack work.
// Queued requests apply at the owner flow's next settled point (the end of
// an in-flight Enter/Exit, or an explicit Settle).
func (m *ModeStack) HandleTransitions(ctx context.Context, reqs []TransitionRequest) {
	m.pendingMu.Lock()
	m.pending = append(m.pending, reqs...)
	m.pendingMu.Unlock()
}

// Settle applies every queued transition request. Owner flow only; the
// turn loop calls it after each tool batch and at the end of the turn. A
// no-op while an Enter/Exit is in flight — that operation settles the
// queue itself on the way out.
func (m *ModeStack) Settle(ctx context.Context) {
	if m.settling == 0 {
		m.drain(ctx)
	}
}

// RequestSwitch queues an exit-then-enter to the named mode and settles.
// Owner-flow equivalent of a handler calling EventContext.RequestMode.
func (m *ModeStack) RequestSwitch(ctx context.Context, mode string, params map[string]any) {
	m.HandleTransitions(ctx, []TransitionRequest{{Mode: mode, Params: params}})
	m.Settle(ctx)
}

// RequestPrevious queues a return to the previously entered mode and
// settles. Owner flow only.
func (m *ModeStack) RequestPrevious(ctx context.Context) {
	m.HandleTransitions(ctx, []TransitionRequest{{ToPrevious: true}})
	m.Settle(ctx)
}

func (m *ModeStack) beginSettle() {
	m.settling++
}

func (m *ModeStack) endSettle(ctx context.Context) {
	m.settling--
	if m.settling == 0 {
		m.drain(ctx)
	}
}

// next pops one queued request, if any.
func (m *ModeStack) next() (TransitionRequest, bool) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if len(m.pending) == 0 {
		return TransitionRequest{}, false
	}
	req := m.pending[0]
	m.pending = m.pending[1:]
	return req, true
}

// drain applies queued transition requests one at a time. Each application
// is an exit-then-enter; transitions filed while draining queue behind the
// ones already pending.
func (m *ModeStack) drain(ctx context.Context) {
	m.settling++
	defer func() { m.settling-- }()

	for {
		req, ok := m.next()
		if !ok {
			return
		}
		if err := m.apply(ctx, req); err != nil {
			m.bus.diagnostics(EventModeEntering, err)
		}
	}
}

// apply performs one transition request: resolve the target, exit the
// current mode if any, then enter the target.
func (m *ModeStack) apply(ctx context.Context, req TransitionRequest) error {
	target := req.Mode
	if req.ToPrevious {
		target = m.Previous()
		if target == "" {
			return fmt.Errorf("mantle: transition to previous mode with no prior history")
		}
	}
	if _, ok := m.descriptors[target]; !ok {
		return &UnknownModeError{Mode: target}
	}

	if m.CurrentFrame() != nil {
		if err := m.exit(ctx); err != nil {
			return err
		}
	}
	return m.enter(ctx, target, req.Params)
}
