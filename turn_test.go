package mantle_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/mantlekit/mantle"
	"github.com/mantlekit/mantle/internal/tt"
)

func TestRunTurn_PlainReply(t *testing.T) {
	model := tt.NewMockModel().AddResponse("hello there")
	agent := mantle.NewAgent(model)

	reply, err := agent.RunTurn(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", reply)
	assert.Equal(t, 1, model.CallCount())

	// The conversation holds the user message and the assistant reply.
	msgs, err := agent.Store().Messages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestRunTurn_FreezesRegistry(t *testing.T) {
	model := tt.NewMockModel().AddResponse("ok")
	agent := mantle.NewAgent(model)
	assert.False(t, agent.Registry().Frozen())

	_, err := agent.RunTurn(context.Background(), "hi")
	require.NoError(t, err)

	assert.True(t, agent.Registry().Frozen())
	err = agent.Registry().Register(mantle.EventDescriptor{
		Name: "myapp:late",
		Kind: mantle.KindSignal,
	})
	assert.ErrorIs(t, err, mantle.ErrRegistryFrozen)
}

func TestRunTurn_SystemPromptPrepended(t *testing.T) {
	model := tt.NewMockModel().AddResponse("ok")
	agent := mantle.NewAgent(model).WithSystemPrompt("Be terse.")

	_, err := agent.RunTurn(context.Background(), "hi")
	require.NoError(t, err)

	require.Len(t, model.CapturedMessages, 1)
	sent := model.CapturedMessages[0]
	require.NotEmpty(t, sent)
	assert.Equal(t, "system", string(sent[0].Role))
}

func TestRunTurn_ToolCallRoundTrip(t *testing.T) {
	model := tt.NewMockModel().
		AddToolCalls(tt.ToolCall("c1", "add", `{"a": 2, "b": 3}`)).
		AddResponse("the sum is 5")

	agent := mantle.NewAgent(model)
	agent.Tools().MustAdd(mantle.NewToolFunc("add", "Adds two numbers", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		}))

	reply, err := agent.RunTurn(context.Background(), "what is 2+3?")
	require.NoError(t, err)
	assert.Equal(t, "the sum is 5", reply)
	assert.Equal(t, 2, model.CallCount())

	// user, assistant tool call, tool response, assistant reply.
	msgs, err := agent.Store().Messages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "tool", string(msgs[2].Role))
}

func TestRunTurn_ToolFailureReportedToModel(t *testing.T) {
	model := tt.NewMockModel().
		AddToolCalls(tt.ToolCall("c1", "flaky", `{}`)).
		AddResponse("could not fetch that")

	agent := mantle.NewAgent(model)
	agent.Tools().MustAdd(mantle.NewToolFunc("flaky", "Always fails", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("upstream down")
		}))

	reply, err := agent.RunTurn(context.Background(), "fetch it")
	require.NoError(t, err, "a tool failure feeds back to the model, not the caller")
	assert.Equal(t, "could not fetch that", reply)
}

func TestRunTurn_MaxIterationsExceeded(t *testing.T) {
	// The model asks for the same tool forever.
	model := tt.NewMockModel().
		AddToolCalls(tt.ToolCall("c1", "noop", `{}`))

	agent := mantle.NewAgent(model).WithMaxIterations(3)
	agent.Tools().MustAdd(mantle.NewToolFunc("noop", "Does nothing", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return "done", nil
		}))

	_, err := agent.RunTurn(context.Background(), "loop")
	assert.ErrorIs(t, err, mantle.ErrMaxIterationsExceeded)
	assert.Equal(t, 3, model.CallCount())
}

func TestRunTurn_TurnBeforeRewritesInput(t *testing.T) {
	model := tt.NewMockModel().AddResponse("ok")
	agent := mantle.NewAgent(model)

	agent.Bus().MustSubscribe(mantle.EventTurnBefore, mantle.HandlerFunc(
		func(ctx context.Context, ec *mantle.EventContext) error {
			ec.SetOutput(ec.Output().(string) + " [augmented]")
			return nil
		}))

	_, err := agent.RunTurn(context.Background(), "hi")
	require.NoError(t, err)

	msgs, err := agent.Store().Messages(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	text, ok := msgs[0].Parts[0].(llms.TextContent)
	require.True(t, ok)
	assert.Equal(t, "hi [augmented]", text.Text)
}

func TestRunTurn_TurnAfterSignal(t *testing.T) {
	model := tt.NewMockModel().AddResponse("final answer")
	agent := mantle.NewAgent(model)

	rec := tt.NewRecorder()
	agent.Bus().MustSubscribe(mantle.EventTurnAfter, rec)

	_, err := agent.RunTurn(context.Background(), "hi")
	require.NoError(t, err)

	require.Equal(t, 1, rec.Count())
	occ := rec.Events()[0]
	assert.Equal(t, "final answer", occ.Params[mantle.ParamReply])
	assert.Equal(t, 1, occ.Params[mantle.ParamIteration])
}

func TestRunTurn_ModelErrorPropagates(t *testing.T) {
	model := tt.NewMockModel()
	model.AddError(errors.New("rate limited"))
	agent := mantle.NewAgent(model)

	_, err := agent.RunTurn(context.Background(), "hi")
	assert.ErrorContains(t, err, "rate limited")
}

func TestRunTurn_ModelErrorFallback(t *testing.T) {
	model := tt.NewMockModel()
	model.AddError(errors.New("rate limited"))
	agent := mantle.NewAgent(model)

	agent.Bus().MustSubscribe(mantle.EventModelError, mantle.HandlerFunc(
		func(ctx context.Context, ec *mantle.EventContext) error {
			assert.Contains(t, ec.Param(mantle.ParamError), "rate limited")
			ec.SetOutput("the service is busy, try again shortly")
			return nil
		}))

	reply, err := agent.RunTurn(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "the service is busy, try again shortly", reply)
}

func TestRunTurn_ModelEvents(t *testing.T) {
	model := tt.NewMockModel().AddResponse("ok")
	agent := mantle.NewAgent(model)

	rec := tt.NewRecorder()
	agent.Bus().MustSubscribe(mantle.EventModelBefore, rec)
	agent.Bus().MustSubscribe(mantle.EventModelAfter, rec)

	_, err := agent.RunTurn(context.Background(), "hi")
	require.NoError(t, err)

	assert.Equal(t, []string{mantle.EventModelBefore, mantle.EventModelAfter}, rec.EventNames())
}

func TestRunTurn_ToolHandlerModeSwitchAppliesAfterBatch(t *testing.T) {
	model := tt.NewMockModel().
		AddToolCalls(tt.ToolCall("c1", "lookup", `{}`)).
		AddResponse("done")

	agent := mantle.NewAgent(model)
	agent.Modes().MustRegisterMode(mantle.ModeDescriptor{
		Name:     "research",
		Behavior: func() mantle.ModeBehavior { return mantle.NewBehaviorFunc(nil, nil) },
	})
	agent.Tools().MustAdd(mantle.NewToolFunc("lookup", "Looks something up", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return "found", nil
		}))

	// The handler runs on a tool execution goroutine; the switch it files
	// must land once the batch settles, not inline.
	agent.Bus().MustSubscribe(mantle.EventToolBefore, mantle.HandlerFunc(
		func(ctx context.Context, ec *mantle.EventContext) error {
			ec.RequestMode("research", nil)
			return nil
		}))

	reply, err := agent.RunTurn(context.Background(), "look it up")
	require.NoError(t, err)
	assert.Equal(t, "done", reply)
	assert.Equal(t, "research", agent.Modes().Current())
	assert.Equal(t, []string{"research"}, agent.Modes().History())
}

func TestRunTurn_ModeEntryDuringTurn(t *testing.T) {
	// A tool enters a mode; the mode is active when the turn finishes.
	model := tt.NewMockModel().
		AddToolCalls(tt.ToolCall("c1", "start_review", `{}`)).
		AddResponse("entered review mode")

	agent := mantle.NewAgent(model)
	agent.Modes().MustRegisterMode(mantle.ModeDescriptor{
		Name:     "review",
		Behavior: func() mantle.ModeBehavior { return mantle.NewBehaviorFunc(nil, nil) },
	})
	agent.Tools().MustAdd(mantle.NewToolFunc("start_review", "Enters review mode", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			if err := agent.Modes().Enter(ctx, "review", nil); err != nil {
				return nil, err
			}
			return "review started", nil
		}))

	reply, err := agent.RunTurn(context.Background(), "review this")
	require.NoError(t, err)
	assert.Equal(t, "entered review mode", reply)
	assert.Equal(t, "review", agent.Modes().Current())
}
