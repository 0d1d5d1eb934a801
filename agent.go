package mantle

import (
	"sync"
)

// DefaultMaxIterations caps the model-call loop within a single turn.
const DefaultMaxIterations = 25

// Agent wires the runtime together: one model, one event bus over one
// frozen registry, one guard, one mode stack, one toolset with its
// coordinator, and one supervisor for background tasks.
//
// # Construction
//
// Configure everything before the first turn:
//
//	agent := mantle.NewAgent(model).
//	    WithSystemPrompt("You are a helpful assistant.").
//	    WithMaxIterations(10)
//	agent.Tools().MustAdd(searchTool)
//	agent.Bus().MustSubscribe(mantle.EventToolBefore, auditHandler)
//	agent.Modes().MustRegisterMode(planningMode)
//
//	reply, err := agent.RunTurn(ctx, "hello")
//
// The event registry freezes automatically on the first turn; descriptor
// registration after that fails with ErrRegistryFrozen.
//
// # Thread Safety
//
// RunTurn is the agent's owning flow and must not be called concurrently
// with itself. Background goroutines interact with agent state through a
// Proxy over the agent's Guard, or via bus subscriptions.
type Agent struct {
	model Model
	clock TimeProvider

	registry    *EventRegistry
	bus         *Bus
	guard       *Guard
	modes       *ModeStack
	tools       *Toolset
	coordinator *Coordinator
	supervisor  *Supervisor
	store       ConversationStore

	systemPrompt  string
	maxIterations int

	freezeOnce sync.Once
}

// NewAgent creates an Agent with the built-in event descriptors registered
// and an in-memory conversation store.
func NewAgent(model Model, opts ...BusOption) *Agent {
	registry := NewEventRegistry()
	if err := RegisterBuiltinEvents(registry); err != nil {
		panic(err) // built-in descriptors are statically valid
	}

	guard := NewGuard()
	bus := NewBus(registry, opts...)
	tools := NewToolset()

	a := &Agent{
		model:         model,
		clock:         NewDefaultTimeProvider(),
		registry:      registry,
		bus:           bus,
		guard:         guard,
		modes:         NewModeStack(guard, bus),
		tools:         tools,
		coordinator:   NewCoordinator(tools, bus, guard),
		supervisor:    NewSupervisor(),
		store:         NewMemoryStore(),
		maxIterations: DefaultMaxIterations,
	}
	return a
}

// WithSystemPrompt sets the system prompt prepended to every model call.
// Returns the agent for chaining.
func (a *Agent) WithSystemPrompt(prompt string) *Agent {
	a.systemPrompt = prompt
	return a
}

// WithMaxIterations caps model calls per turn. Returns the agent for
// chaining.
func (a *Agent) WithMaxIterations(n int) *Agent {
	if n > 0 {
		a.maxIterations = n
	}
	return a
}

// WithStore replaces the conversation store. Returns the agent for
// chaining.
func (a *Agent) WithStore(store ConversationStore) *Agent {
	a.store = store
	return a
}

// WithClock replaces the agent's time source, propagating it to the mode
// stack and supervisor. Returns the agent for chaining.
func (a *Agent) WithClock(clock TimeProvider) *Agent {
	a.clock = clock
	a.modes.WithClock(clock)
	a.supervisor.WithClock(clock)
	return a
}

// Model returns the agent's model.
func (a *Agent) Model() Model {
	return a.model
}

// Registry returns the agent's event registry. Register custom descriptors
// here before the first turn.
func (a *Agent) Registry() *EventRegistry {
	return a.registry
}

// Bus returns the agent's event bus.
func (a *Agent) Bus() *Bus {
	return a.bus
}

// Guard returns the agent's mutation guard.
func (a *Agent) Guard() *Guard {
	return a.guard
}

// Modes returns the agent's mode stack.
func (a *Agent) Modes() *ModeStack {
	return a.modes
}

// Tools returns the agent's toolset. Add tools before the first turn.
func (a *Agent) Tools() *Toolset {
	return a.tools
}

// Supervisor returns the agent's background task supervisor.
func (a *Agent) Supervisor() *Supervisor {
	return a.supervisor
}

// Store returns the agent's conversation store.
func (a *Agent) Store() ConversationStore {
	return a.store
}

// NewProxy returns a Proxy over the agent's guard, for background
// goroutines that need to run closures on the owning flow.
func (a *Agent) NewProxy() *Proxy {
	return NewProxy(a.guard)
}

// freeze makes the event registry immutable. Runs once, on the first turn.
func (a *Agent) freeze() {
	a.freezeOnce.Do(func() {
		a.registry.Freeze()
	})
}
