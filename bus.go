package mantle

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Predicate filters a handler by the event's parameters. A handler with a
// predicate only runs when the predicate returns true for the dispatch.
type Predicate func(params map[string]any) bool

// DiagnosticFunc receives handler errors isolated during signal dispatches.
// The default is a no-op; hosts attach their logger here.
type DiagnosticFunc func(event string, err error)

// Subscription is the registration token returned by Subscribe. Keep it to
// remove the handler when the owning extension is torn down.
type Subscription struct {
	seq       uint64
	event     string
	handler   Handler
	priority  int
	predicate Predicate
}

// Event returns the event identifier this subscription is attached to.
func (s *Subscription) Event() string {
	return s.event
}

// Priority returns the subscription's priority.
func (s *Subscription) Priority() int {
	return s.priority
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithPriority sets the handler's priority. Handlers run in descending
// priority order; ties break by registration order. Default priority is 0.
func WithPriority(priority int) SubscribeOption {
	return func(s *Subscription) {
		s.priority = priority
	}
}

// WithPredicate attaches a parameter predicate. The handler is skipped for
// dispatches whose parameters do not satisfy it.
func WithPredicate(p Predicate) SubscribeOption {
	return func(s *Subscription) {
		s.predicate = p
	}
}

// Bus dispatches events to ordered, predicate-filterable handler chains.
//
// # Overview
//
// The Bus is the extension point of the runtime: independent extensions
// subscribe to the same lifecycle events without knowing about each other.
// Two dispatch modes exist, selected by the event's registered kind:
//
//   - Signal: fire-and-forget. Handler errors are isolated, reported via
//     the diagnostics callback, and dispatch continues.
//   - Intercept: the dispatch carries an output slot seeded with a default.
//     Handlers may replace it; the final value is returned. A handler error
//     aborts the dispatch and propagates.
//
// Dispatching a name with no registered descriptor is not an error: zero
// handlers run. Dispatching with the wrong mode for the registered kind
// fails fast with a *KindMismatchError.
//
// # Ordering
//
// Handlers for one dispatch run in a single, non-interleaved sequence:
// descending priority, ties by registration order. Handlers never run
// concurrently with each other for the same dispatch.
//
// # Thread Safety
//
// Subscribe, Unsubscribe, Signal and Intercept are all safe for concurrent
// use. Handlers themselves run outside the bus lock, so a handler may
// subscribe or unsubscribe reentrantly.
type Bus struct {
	registry *EventRegistry

	mu      sync.RWMutex
	chains  map[string][]*Subscription
	nextSeq uint64

	diagnostics DiagnosticFunc
	sink        TransitionSink
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithDiagnostics sets the callback receiving isolated handler errors from
// signal dispatches. Default: no-op.
func WithDiagnostics(fn DiagnosticFunc) BusOption {
	return func(b *Bus) {
		if fn != nil {
			b.diagnostics = fn
		}
	}
}

// NewBus creates a Bus over the given registry.
func NewBus(registry *EventRegistry, opts ...BusOption) *Bus {
	b := &Bus{
		registry:    registry,
		chains:      make(map[string][]*Subscription),
		diagnostics: func(string, error) {},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Registry returns the descriptor table the bus dispatches against.
func (b *Bus) Registry() *EventRegistry {
	return b.registry
}

// SetTransitionSink wires the receiver for mode-transition requests filed
// by handlers. Requests are delivered at the end of each dispatch, never
// while handlers are still running.
func (b *Bus) SetTransitionSink(sink TransitionSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// Subscribe registers a handler for an event identifier.
//
// The event does not need a descriptor yet — extensions may subscribe
// before the registry is fully populated — but dispatches only reach
// handlers of registered events.
func (b *Bus) Subscribe(event string, h Handler, opts ...SubscribeOption) (*Subscription, error) {
	if event == "" {
		return nil, fmt.Errorf("mantle: subscribe with empty event name")
	}
	if h == nil {
		return nil, fmt.Errorf("mantle: subscribe with nil handler for %q", event)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		seq:     b.nextSeq,
		event:   event,
		handler: h,
	}
	b.nextSeq++
	for _, opt := range opts {
		opt(sub)
	}

	chain := append(b.chains[event], sub)
	// Stable sort: equal priorities keep registration order, including the
	// new handler at the tail.
	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].priority > chain[j].priority
	})
	b.chains[event] = chain

	return sub, nil
}

// MustSubscribe is like Subscribe but panics on error.
func (b *Bus) MustSubscribe(event string, h Handler, opts ...SubscribeOption) *Subscription {
	sub, err := b.Subscribe(event, h, opts...)
	if err != nil {
		panic(err)
	}
	return sub
}

// Unsubscribe removes a subscription. Removing an already-removed or nil
// subscription is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	chain := b.chains[sub.event]
	for i, s := range chain {
		if s.seq == sub.seq {
			b.chains[sub.event] = append(chain[:i], chain[i+1:]...)
			if len(b.chains[sub.event]) == 0 {
				delete(b.chains, sub.event)
			}
			return
		}
	}
}

// HandlerCount returns the number of handlers subscribed to an event.
func (b *Bus) HandlerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chains[event])
}

// Signal dispatches a fire-and-forget event. Every registered,
// predicate-matching handler runs in priority order; handler return values
// are discarded and a failing handler never stops the chain — its error
// goes to the diagnostics callback.
//
// Returns an error only for a kind mismatch or a parameter schema
// violation.
func (b *Bus) Signal(ctx context.Context, event string, params map[string]any) error {
	desc, ok := b.registry.Lookup(event)
	if !ok {
		return nil
	}
	if desc.Kind != KindSignal {
		return &KindMismatchError{Event: event, Want: KindSignal, Got: desc.Kind}
	}
	if err := desc.Params.Validate(params); err != nil {
		return fmt.Errorf("mantle: %s params: %w", event, err)
	}

	ec := newEventContext(event, KindSignal, params)
	for _, sub := range b.snapshot(event) {
		if sub.predicate != nil && !sub.predicate(params) {
			continue
		}
		if err := sub.handler.HandleEvent(ctx, ec); err != nil {
			b.diagnostics(event, err)
		}
	}

	b.deliverTransitions(ctx, ec)
	return nil
}

// Intercept dispatches an interceptable event. The output slot is seeded
// with def; each handler sees the current value and may replace it via
// EventContext.SetOutput. Returns the final output value.
//
// Unlike Signal, a handler error is NOT swallowed: it aborts the dispatch
// and propagates, since the dispatching operation may depend on failing
// explicitly.
func (b *Bus) Intercept(ctx context.Context, event string, params map[string]any, def any) (any, error) {
	desc, ok := b.registry.Lookup(event)
	if !ok {
		return def, nil
	}
	if desc.Kind != KindInterceptable {
		return nil, &KindMismatchError{Event: event, Want: KindInterceptable, Got: desc.Kind}
	}
	if err := desc.Params.Validate(params); err != nil {
		return nil, fmt.Errorf("mantle: %s params: %w", event, err)
	}

	ec := newEventContext(event, KindInterceptable, params)
	ec.output = def
	for _, sub := range b.snapshot(event) {
		if sub.predicate != nil && !sub.predicate(params) {
			continue
		}
		if err := sub.handler.HandleEvent(ctx, ec); err != nil {
			return nil, fmt.Errorf("mantle: %s handler: %w", event, err)
		}
	}

	b.deliverTransitions(ctx, ec)
	return ec.output, nil
}

// snapshot copies an event's handler chain so handlers run without holding
// the bus lock.
func (b *Bus) snapshot(event string) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	chain := b.chains[event]
	if len(chain) == 0 {
		return nil
	}
	out := make([]*Subscription, len(chain))
	copy(out, chain)
	return out
}

// deliverTransitions hands collected transition requests to the sink once
// the dispatch has settled.
func (b *Bus) deliverTransitions(ctx context.Context, ec *EventContext) {
	reqs := ec.takeTransitions()
	if len(reqs) == 0 {
		return
	}

	b.mu.RLock()
	sink := b.sink
	b.mu.RUnlock()

	if sink != nil {
		sink.HandleTransitions(ctx, reqs)
	}
}
