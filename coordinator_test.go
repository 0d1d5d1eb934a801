package mantle_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantlekit/mantle"
	"github.com/mantlekit/mantle/internal/tt"
	"github.com/mantlekit/mantle/schema"
)

// coordHarness bundles the pieces a Coordinator test needs.
type coordHarness struct {
	tools *mantle.Toolset
	bus   *mantle.Bus
	guard *mantle.Guard
	coord *mantle.Coordinator
}

func newCoordHarness(t *testing.T) *coordHarness {
	t.Helper()

	registry := mantle.NewEventRegistry()
	require.NoError(t, mantle.RegisterBuiltinEvents(registry))

	tools := mantle.NewToolset()
	bus := mantle.NewBus(registry)
	guard := mantle.NewGuard()
	return &coordHarness{
		tools: tools,
		bus:   bus,
		guard: guard,
		coord: mantle.NewCoordinator(tools, bus, guard),
	}
}

func (h *coordHarness) addEchoTool(name string) {
	h.tools.MustAdd(mantle.NewToolFunc(name, "Echoes its input", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return args["value"], nil
		}))
}

func TestCoordinator_CommitsInRequestOrder(t *testing.T) {
	h := newCoordHarness(t)

	// Each tool blocks until its release channel fires, so the test
	// controls completion order precisely.
	releases := map[string]chan struct{}{
		"t1": make(chan struct{}),
		"t2": make(chan struct{}),
		"t3": make(chan struct{}),
	}
	running := make(chan string, 3)
	for name := range releases {
		release := releases[name]
		h.tools.MustAdd(mantle.NewToolFunc(name, "Blocks until released", nil,
			func(ctx context.Context, args map[string]any) (any, error) {
				running <- args["self"].(string)
				<-release
				return args["self"], nil
			}))
	}

	var mu sync.Mutex
	var committed []string
	h.bus.MustSubscribe(mantle.EventToolResult, mantle.HandlerFunc(
		func(ctx context.Context, ec *mantle.EventContext) error {
			mu.Lock()
			committed = append(committed, ec.Param(mantle.ParamTool).(string))
			mu.Unlock()
			return nil
		}))

	reqs := []mantle.ToolRequest{
		{ID: "c1", Name: "t1", Args: map[string]any{"self": "t1"}},
		{ID: "c2", Name: "t2", Args: map[string]any{"self": "t2"}},
		{ID: "c3", Name: "t3", Args: map[string]any{"self": "t3"}},
	}

	done := make(chan struct{})
	var outcomes []mantle.ToolOutcome
	go func() {
		defer close(done)
		var err error
		outcomes, err = h.coord.ExecuteAll(context.Background(), reqs)
		assert.NoError(t, err)
	}()

	// All three run concurrently before any completes.
	for i := 0; i < 3; i++ {
		<-running
	}

	// Complete out of order: t3 first, then t1, then t2.
	close(releases["t3"])
	close(releases["t1"])
	close(releases["t2"])
	<-done

	// Commits are in request order regardless of completion order.
	assert.Equal(t, []string{"t1", "t2", "t3"}, committed)

	require.Len(t, outcomes, 3)
	assert.Equal(t, "t1", outcomes[0].Value)
	assert.Equal(t, "t2", outcomes[1].Value)
	assert.Equal(t, "t3", outcomes[2].Value)
}

func TestCoordinator_UnknownToolIsErrorOutcome(t *testing.T) {
	h := newCoordHarness(t)
	h.addEchoTool("echo")

	outcomes, err := h.coord.ExecuteAll(context.Background(), []mantle.ToolRequest{
		{ID: "c1", Name: "missing", Args: nil},
		{ID: "c2", Name: "echo", Args: map[string]any{"value": "ok"}},
	})
	require.NoError(t, err, "a per-request failure never fails the batch")
	require.Len(t, outcomes, 2)

	assert.True(t, outcomes[0].Failed())
	assert.ErrorContains(t, outcomes[0].Err, "unknown tool")
	assert.Equal(t, "ok", outcomes[1].Value)
}

func TestCoordinator_ArgValidation(t *testing.T) {
	h := newCoordHarness(t)
	h.tools.MustAdd(mantle.NewToolFunc("sized", "Needs a size",
		schema.MustCompile(schema.Object(map[string]*schema.Property{
			"size": schema.Integer("Byte count").Min(0),
		}, "size")),
		func(ctx context.Context, args map[string]any) (any, error) {
			return args["size"], nil
		}))

	outcomes, err := h.coord.ExecuteAll(context.Background(), []mantle.ToolRequest{
		{ID: "c1", Name: "sized", Args: map[string]any{}},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Failed())
	assert.ErrorContains(t, outcomes[0].Err, "args")
}

func TestCoordinator_BeforeEventRewritesArgs(t *testing.T) {
	h := newCoordHarness(t)
	h.addEchoTool("echo")

	h.bus.MustSubscribe(mantle.EventToolBefore, mantle.HandlerFunc(
		func(ctx context.Context, ec *mantle.EventContext) error {
			ec.SetOutput(map[string]any{"value": "rewritten"})
			return nil
		}))

	outcomes, err := h.coord.ExecuteAll(context.Background(), []mantle.ToolRequest{
		{ID: "c1", Name: "echo", Args: map[string]any{"value": "original"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "rewritten", outcomes[0].Value)
}

func TestCoordinator_BeforeEventVetoesCall(t *testing.T) {
	h := newCoordHarness(t)

	called := false
	h.tools.MustAdd(mantle.NewToolFunc("guarded", "Should not run", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			called = true
			return nil, nil
		}))

	h.bus.MustSubscribe(mantle.EventToolBefore, mantle.HandlerFunc(
		func(ctx context.Context, ec *mantle.EventContext) error {
			ec.SetOutput(nil)
			return nil
		}))

	outcomes, err := h.coord.ExecuteAll(context.Background(), []mantle.ToolRequest{
		{ID: "c1", Name: "guarded", Args: nil},
	})
	require.NoError(t, err)
	assert.False(t, called)
	require.True(t, outcomes[0].Failed())
	var veto *mantle.ToolVetoError
	assert.ErrorAs(t, outcomes[0].Err, &veto)
}

func TestCoordinator_ResultEventReplacesValue(t *testing.T) {
	h := newCoordHarness(t)
	h.addEchoTool("echo")

	h.bus.MustSubscribe(mantle.EventToolResult, mantle.HandlerFunc(
		func(ctx context.Context, ec *mantle.EventContext) error {
			ec.SetOutput("[redacted]")
			return nil
		}))

	outcomes, err := h.coord.ExecuteAll(context.Background(), []mantle.ToolRequest{
		{ID: "c1", Name: "echo", Args: map[string]any{"value": "secret"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "[redacted]", outcomes[0].Value)
}

func TestCoordinator_ErrorEventFallback(t *testing.T) {
	h := newCoordHarness(t)
	h.tools.MustAdd(mantle.NewToolFunc("flaky", "Always fails", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("upstream down")
		}))

	var reported any
	h.bus.MustSubscribe(mantle.EventToolError, mantle.HandlerFunc(
		func(ctx context.Context, ec *mantle.EventContext) error {
			reported = ec.Param(mantle.ParamError)
			ec.SetOutput("cached answer")
			return nil
		}))

	outcomes, err := h.coord.ExecuteAll(context.Background(), []mantle.ToolRequest{
		{ID: "c1", Name: "flaky", Args: nil},
	})
	require.NoError(t, err)

	// The handler's fallback was committed in place of the error.
	assert.False(t, outcomes[0].Failed())
	assert.Equal(t, "cached answer", outcomes[0].Value)
	assert.Contains(t, reported, "upstream down")
}

func TestCoordinator_ErrorWithoutFallbackStaysError(t *testing.T) {
	h := newCoordHarness(t)
	h.tools.MustAdd(mantle.NewToolFunc("flaky", "Always fails", nil,
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("upstream down")
		}))

	errorEvents := tt.NewRecorder()
	h.bus.MustSubscribe(mantle.EventToolError, errorEvents)

	outcomes, err := h.coord.ExecuteAll(context.Background(), []mantle.ToolRequest{
		{ID: "c1", Name: "flaky", Args: nil},
	})
	require.NoError(t, err)
	assert.True(t, outcomes[0].Failed())
	assert.ErrorContains(t, outcomes[0].Err, "upstream down")
	assert.Equal(t, 1, errorEvents.Count())
}

func TestCoordinator_CommitsRunUnderGuard(t *testing.T) {
	h := newCoordHarness(t)
	h.addEchoTool("echo")

	h.bus.MustSubscribe(mantle.EventToolResult, mantle.HandlerFunc(
		func(ctx context.Context, ec *mantle.EventContext) error {
			assert.True(t, h.guard.Held(), "commits must run inside a guarded section")
			return nil
		}))

	_, err := h.coord.ExecuteAll(context.Background(), []mantle.ToolRequest{
		{ID: "c1", Name: "echo", Args: map[string]any{"value": 1}},
	})
	require.NoError(t, err)
}

func TestCoordinator_TransitionRequestsQueueUntilSettled(t *testing.T) {
	h := newCoordHarness(t)
	h.addEchoTool("echo")

	stack := mantle.NewModeStack(h.guard, h.bus)
	stack.MustRegisterMode(mantle.ModeDescriptor{
		Name:     "audit",
		Behavior: func() mantle.ModeBehavior { return mantle.NewBehaviorFunc(nil, nil) },
	})

	// Tool events dispatch on the concurrent execution goroutines, so a
	// handler filing a switch there must only enqueue it.
	h.bus.MustSubscribe(mantle.EventToolBefore, mantle.HandlerFunc(
		func(ctx context.Context, ec *mantle.EventContext) error {
			ec.RequestMode("audit", nil)
			return nil
		}))

	reqs := make([]mantle.ToolRequest, 4)
	for i := range reqs {
		reqs[i] = mantle.ToolRequest{
			ID:   fmt.Sprintf("c%d", i+1),
			Name: "echo",
			Args: map[string]any{"value": i},
		}
	}

	outcomes, err := h.coord.ExecuteAll(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, outcomes, 4)

	// Nothing applied while the batch ran; the requests are still queued.
	assert.Equal(t, "", stack.Current())

	stack.Settle(context.Background())
	assert.Equal(t, "audit", stack.Current())
	assert.Len(t, stack.History(), 4, "each filed request applies once")
}

func TestCoordinator_EmptyBatch(t *testing.T) {
	h := newCoordHarness(t)
	outcomes, err := h.coord.ExecuteAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, outcomes)
}
