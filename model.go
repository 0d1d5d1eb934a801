package mantle

import (
	"context"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// Model is the runtime's model boundary. It wraps LangChainGo's llms.Model
// with a response shape the turn loop can consume directly: a single choice
// with text and tool calls.
type Model interface {
	// Name returns the model identifier reported on model events.
	Name() string

	// GenerateContent generates a response from a message sequence.
	GenerateContent(
		ctx context.Context,
		messages []llms.MessageContent,
		options ...llms.CallOption,
	) (*ModelResponse, error)
}

// ModelResponse is the normalized response of one model call.
type ModelResponse struct {
	// Content is the textual content of the response.
	Content string

	// ToolCalls lists the tool invocations the model requested.
	ToolCalls []llms.ToolCall

	// StopReason is the provider's reason for stopping.
	StopReason string

	// Duration is how long the call took.
	Duration time.Duration
}

// LCGModel adapts any llms.Model (OpenAI, Anthropic, Ollama, ...) to the
// Model interface.
//
// Example:
//
//	llm, err := openai.New()
//	if err != nil { ... }
//	agent := mantle.NewAgent(mantle.NewLCGModel("gpt-4o", llm))
type LCGModel struct {
	name  string
	model llms.Model
}

// NewLCGModel wraps a LangChainGo model.
func NewLCGModel(name string, model llms.Model) *LCGModel {
	return &LCGModel{name: name, model: model}
}

// Name returns the model identifier.
func (m *LCGModel) Name() string {
	return m.name
}

// GenerateContent calls the wrapped model and normalizes the first choice.
func (m *LCGModel) GenerateContent(
	ctx context.Context,
	messages []llms.MessageContent,
	options ...llms.CallOption,
) (*ModelResponse, error) {
	start := time.Now()
	resp, err := m.model.GenerateContent(ctx, messages, options...)
	if err != nil {
		return nil, err
	}

	out := &ModelResponse{Duration: time.Since(start)}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Content = choice.Content
		out.ToolCalls = choice.ToolCalls
		out.StopReason = choice.StopReason
	}
	return out, nil
}

var _ Model = (*LCGModel)(nil)
