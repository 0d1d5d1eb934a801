package mantle

import (
	"fmt"
	"sort"
)

// EventRegistry is the static table mapping event identifiers to their
// dispatch semantics and parameter shape. It is populated during start-up
// and frozen before dispatch begins, so lookups never need a lock.
//
// # Thread Safety
//
// Registration is NOT thread-safe. Register every descriptor from one flow
// of control during construction, then call Freeze. The agent freezes its
// registry automatically on the first turn.
type EventRegistry struct {
	table  map[string]EventDescriptor
	frozen bool
}

// NewEventRegistry creates an empty registry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{
		table: make(map[string]EventDescriptor),
	}
}

// Register adds a descriptor to the registry.
//
// Fails if the registry is frozen, the name is empty, the kind is unknown,
// or the name is already registered: every identifier maps to exactly one
// semantics tag for the lifetime of the process.
func (r *EventRegistry) Register(desc EventDescriptor) error {
	if r.frozen {
		return fmt.Errorf("%w: cannot register %q", ErrRegistryFrozen, desc.Name)
	}
	if desc.Name == "" {
		return fmt.Errorf("mantle: event descriptor has empty name")
	}
	if !desc.Kind.Valid() {
		return fmt.Errorf("mantle: event %q has unknown kind %q", desc.Name, desc.Kind)
	}
	if _, exists := r.table[desc.Name]; exists {
		return fmt.Errorf("mantle: event %q already registered", desc.Name)
	}
	r.table[desc.Name] = desc
	return nil
}

// MustRegister is like Register but panics on error. Use for descriptors
// defined at init time.
func (r *EventRegistry) MustRegister(desc EventDescriptor) {
	if err := r.Register(desc); err != nil {
		panic(err)
	}
}

// Freeze makes the registry immutable. Idempotent.
func (r *EventRegistry) Freeze() {
	r.frozen = true
}

// Frozen reports whether the registry has been frozen.
func (r *EventRegistry) Frozen() bool {
	return r.frozen
}

// Lookup returns the descriptor for an event name.
func (r *EventRegistry) Lookup(name string) (EventDescriptor, bool) {
	desc, ok := r.table[name]
	return desc, ok
}

// Names returns all registered event names, sorted.
func (r *EventRegistry) Names() []string {
	names := make([]string, 0, len(r.table))
	for name := range r.table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered descriptors.
func (r *EventRegistry) Len() int {
	return len(r.table)
}
