package tt

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"github.com/mantlekit/mantle"
)

// -----------------------------------------------------------------------------
// MockModel - implements mantle.Model with scripted responses
// -----------------------------------------------------------------------------

// MockModel is a configurable mock implementing mantle.Model. Responses
// are dequeued in order; an exhausted queue repeats the last response.
type MockModel struct {
	mu        sync.Mutex
	name      string
	responses []*mantle.ModelResponse
	errors    []error
	callCount int

	// CapturedMessages stores the messages passed to each GenerateContent
	// call. Populated automatically on every call.
	CapturedMessages [][]llms.MessageContent
}

// NewMockModel creates a MockModel with the default name "test-model".
func NewMockModel() *MockModel {
	return &MockModel{name: "test-model"}
}

// WithName sets the model name reported on model events.
func (m *MockModel) WithName(name string) *MockModel {
	m.name = name
	return m
}

// AddResponse queues a plain text response.
func (m *MockModel) AddResponse(content string) *MockModel {
	return m.AddRawResponse(&mantle.ModelResponse{Content: content, StopReason: "stop"})
}

// AddToolCalls queues a response requesting the given tool calls.
func (m *MockModel) AddToolCalls(calls ...llms.ToolCall) *MockModel {
	return m.AddRawResponse(&mantle.ModelResponse{ToolCalls: calls, StopReason: "tool_calls"})
}

// AddRawResponse queues a raw ModelResponse.
func (m *MockModel) AddRawResponse(resp *mantle.ModelResponse) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m
}

// AddError queues an error for the call at the current queue position.
func (m *MockModel) AddError(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.responses) <= len(m.errors) {
		m.responses = append(m.responses, nil)
	}
	m.errors = append(m.errors, err)
	return m
}

// CallCount returns the number of GenerateContent calls so far.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Name implements mantle.Model.
func (m *MockModel) Name() string {
	return m.name
}

// GenerateContent implements mantle.Model, returning the next scripted
// response or error.
func (m *MockModel) GenerateContent(
	ctx context.Context,
	messages []llms.MessageContent,
	opts ...llms.CallOption,
) (*mantle.ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.callCount
	m.callCount++
	m.CapturedMessages = append(m.CapturedMessages, messages)

	if idx < len(m.errors) && m.errors[idx] != nil {
		return nil, m.errors[idx]
	}
	if len(m.responses) == 0 {
		return &mantle.ModelResponse{Content: "", StopReason: "stop"}, nil
	}
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

var _ mantle.Model = (*MockModel)(nil)

// ToolCall builds an llms.ToolCall for scripting MockModel responses.
func ToolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:   id,
		Type: "function",
		FunctionCall: &llms.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}
}

// -----------------------------------------------------------------------------
// Recorder - event handler that records dispatch occurrences
// -----------------------------------------------------------------------------

// Occurrence is one recorded dispatch seen by a Recorder.
type Occurrence struct {
	Event  string
	Params map[string]any
	Output any
}

// Recorder is a mantle.Handler that records every dispatch it receives.
// Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Occurrence

	// Err, when set, is returned from every HandleEvent call.
	Err error

	// OnEvent, when set, runs inside HandleEvent with the dispatch context
	// after recording. Use it to call SetOutput or file transitions.
	OnEvent func(ctx context.Context, ec *mantle.EventContext) error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// HandleEvent implements mantle.Handler.
func (r *Recorder) HandleEvent(ctx context.Context, ec *mantle.EventContext) error {
	r.mu.Lock()
	r.events = append(r.events, Occurrence{
		Event:  ec.Event(),
		Params: ec.Params(),
		Output: ec.Output(),
	})
	r.mu.Unlock()

	if r.OnEvent != nil {
		if err := r.OnEvent(ctx, ec); err != nil {
			return err
		}
	}
	return r.Err
}

// Events returns a copy of the recorded occurrences.
func (r *Recorder) Events() []Occurrence {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Occurrence, len(r.events))
	copy(out, r.events)
	return out
}

// EventNames returns just the recorded event identifiers, in order.
func (r *Recorder) EventNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, occ := range r.events {
		names[i] = occ.Event
	}
	return names
}

// Count returns the number of recorded occurrences.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// -----------------------------------------------------------------------------
// Diagnostics collection
// -----------------------------------------------------------------------------

// DiagnosticsLog collects isolated handler errors from signal dispatches.
// Safe for concurrent use.
type DiagnosticsLog struct {
	mu      sync.Mutex
	entries []DiagnosticEntry
}

// DiagnosticEntry is one collected handler error.
type DiagnosticEntry struct {
	Event string
	Err   error
}

// NewDiagnosticsLog creates an empty DiagnosticsLog.
func NewDiagnosticsLog() *DiagnosticsLog {
	return &DiagnosticsLog{}
}

// Func returns the mantle.DiagnosticFunc feeding this log.
func (d *DiagnosticsLog) Func() mantle.DiagnosticFunc {
	return func(event string, err error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.entries = append(d.entries, DiagnosticEntry{Event: event, Err: err})
	}
}

// Entries returns a copy of the collected entries.
func (d *DiagnosticsLog) Entries() []DiagnosticEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DiagnosticEntry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Count returns the number of collected entries.
func (d *DiagnosticsLog) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
