package mantle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// RunTurn executes one conversational turn: the input is committed to the
// conversation, the model is called in a loop — executing requested tools
// between calls — until it answers without tool calls, and the final reply
// is committed and returned.
//
// # Events
//
// The turn brackets with the interceptable "mantle:turn:before" event
// (handlers may rewrite the input) and the "mantle:turn:after" signal.
// Each model call brackets with "mantle:model:before" (handlers may
// rewrite the outgoing message slice) and the "mantle:model:after" signal;
// a failing call dispatches "mantle:model:error", where a non-nil string
// output recovers the turn with a fallback reply. Tool events are
// dispatched by the Coordinator.
//
// # Iteration Limit
//
// The loop is capped by WithMaxIterations; exceeding it returns
// ErrMaxIterationsExceeded.
func (a *Agent) RunTurn(ctx context.Context, input string) (string, error) {
	a.freeze()

	out, err := a.bus.Intercept(ctx, EventTurnBefore, map[string]any{
		ParamInput: input,
	}, input)
	if err != nil {
		return "", err
	}
	rewritten, ok := out.(string)
	if !ok {
		return "", &OutputTypeError{Event: EventTurnBefore, Value: out}
	}

	if err := a.appendMessages(ctx, llms.TextParts(llms.ChatMessageTypeHuman, rewritten)); err != nil {
		return "", err
	}
	a.modes.Settle(ctx)

	var reply string
	iteration := 0
	for {
		iteration++
		if iteration > a.maxIterations {
			return "", fmt.Errorf("%w: %d", ErrMaxIterationsExceeded, a.maxIterations)
		}

		resp, err := a.callModel(ctx, iteration)
		if err != nil {
			return "", err
		}

		if err := a.appendMessages(ctx, assistantMessage(resp)); err != nil {
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			reply = resp.Content
			break
		}

		if err := a.runTools(ctx, resp.ToolCalls); err != nil {
			return "", err
		}
		// Tool batch committed: a settled point for queued mode switches.
		a.modes.Settle(ctx)
	}

	// Best-effort notification; the reply is already committed.
	_ = a.bus.Signal(ctx, EventTurnAfter, map[string]any{
		ParamReply:     reply,
		ParamIteration: iteration,
	})
	a.modes.Settle(ctx)
	return reply, nil
}

// callModel performs one model call with its before/after/error events.
func (a *Agent) callModel(ctx context.Context, iteration int) (*ModelResponse, error) {
	messages, err := a.messagesForModel(ctx)
	if err != nil {
		return nil, err
	}

	out, err := a.bus.Intercept(ctx, EventModelBefore, map[string]any{
		ParamModel: a.model.Name(),
	}, messages)
	if err != nil {
		return nil, err
	}
	messages, ok := out.([]llms.MessageContent)
	if !ok {
		return nil, &OutputTypeError{Event: EventModelBefore, Value: out}
	}

	var opts []llms.CallOption
	if a.tools.Len() > 0 {
		opts = append(opts, llms.WithTools(a.tools.Definitions()))
	}

	resp, callErr := a.model.GenerateContent(ctx, messages, opts...)
	if callErr != nil {
		fallback, ierr := a.bus.Intercept(ctx, EventModelError, map[string]any{
			ParamModel: a.model.Name(),
			ParamError: callErr.Error(),
		}, nil)
		if ierr != nil {
			return nil, ierr
		}
		if fallback == nil {
			return nil, fmt.Errorf("mantle: model call: %w", callErr)
		}
		content, ok := fallback.(string)
		if !ok {
			return nil, &OutputTypeError{Event: EventModelError, Value: fallback}
		}
		resp = &ModelResponse{Content: content, StopReason: "fallback"}
	}

	_ = a.bus.Signal(ctx, EventModelAfter, map[string]any{
		ParamModel:     a.model.Name(),
		ParamIteration: iteration,
		ParamDuration:  resp.Duration,
	})
	return resp, nil
}

// runTools executes the model's tool calls through the Coordinator and
// commits the outcomes as tool response messages, in request order.
func (a *Agent) runTools(ctx context.Context, calls []llms.ToolCall) error {
	reqs := make([]ToolRequest, 0, len(calls))
	for _, call := range calls {
		req, err := decodeToolCall(call)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	outcomes, err := a.coordinator.ExecuteAll(ctx, reqs)
	if err != nil {
		return err
	}

	msgs := make([]llms.MessageContent, 0, len(outcomes))
	for _, outcome := range outcomes {
		msgs = append(msgs, toolResponseMessage(outcome))
	}
	return a.appendMessages(ctx, msgs...)
}

// messagesForModel assembles the outgoing slice: system prompt first, then
// the stored conversation.
func (a *Agent) messagesForModel(ctx context.Context) ([]llms.MessageContent, error) {
	stored, err := a.store.Messages(ctx)
	if err != nil {
		return nil, err
	}

	var messages []llms.MessageContent
	if a.systemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, a.systemPrompt))
	}
	return append(messages, stored...), nil
}

// appendMessages commits messages to the store under the guard.
func (a *Agent) appendMessages(ctx context.Context, msgs ...llms.MessageContent) error {
	return a.guard.Run(ctx, func(ctx context.Context) error {
		return a.store.Append(ctx, msgs...)
	})
}

// decodeToolCall converts a model tool call into a ToolRequest, decoding
// the JSON argument payload.
func decodeToolCall(call llms.ToolCall) (ToolRequest, error) {
	if call.FunctionCall == nil {
		return ToolRequest{}, fmt.Errorf("mantle: tool call %s has no function", call.ID)
	}

	var args map[string]any
	if raw := call.FunctionCall.Arguments; raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return ToolRequest{}, fmt.Errorf(
				"mantle: tool call %s (%s) arguments: %w",
				call.ID, call.FunctionCall.Name, err,
			)
		}
	}
	return ToolRequest{
		ID:   call.ID,
		Name: call.FunctionCall.Name,
		Args: args,
	}, nil
}

// assistantMessage builds the assistant message for a model response,
// carrying both text content and tool calls.
func assistantMessage(resp *ModelResponse) llms.MessageContent {
	msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
	if resp.Content != "" {
		msg.Parts = append(msg.Parts, llms.TextContent{Text: resp.Content})
	}
	for _, call := range resp.ToolCalls {
		msg.Parts = append(msg.Parts, call)
	}
	return msg
}

// toolResponseMessage builds the tool response message for one committed
// outcome. Errors are reported to the model as text, so it can react.
func toolResponseMessage(outcome ToolOutcome) llms.MessageContent {
	var content string
	switch {
	case outcome.Err != nil:
		content = fmt.Sprintf("error: %v", outcome.Err)
	default:
		content = formatToolValue(outcome.Value)
	}

	return llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{
			llms.ToolCallResponse{
				ToolCallID: outcome.Request.ID,
				Name:       outcome.Request.Name,
				Content:    content,
			},
		},
	}
}

// formatToolValue renders a tool's raw result for the model: strings pass
// through, everything else is JSON-encoded.
func formatToolValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(encoded)
	}
}
