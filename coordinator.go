package mantle

import (
	"context"
	"fmt"
)

// ToolRequest is one tool invocation requested by the model.
type ToolRequest struct {
	// ID is the model-assigned request identifier, echoed back on the
	// tool response message.
	ID string

	// Name is the requested tool.
	Name string

	// Args is the decoded argument map.
	Args map[string]any
}

// ToolOutcome is the committed result of one ToolRequest. Exactly one of
// Value or Err is meaningful.
type ToolOutcome struct {
	Request ToolRequest
	Value   any
	Err     error
}

// Failed reports whether the outcome is an error.
func (o ToolOutcome) Failed() bool {
	return o.Err != nil
}

// Coordinator runs a batch of tool requests concurrently and commits their
// outcomes sequentially, in request order, under the agent's Guard.
//
// # Execution vs Commit
//
// Execution — the tool's own work — runs in parallel, one goroutine per
// request. The commit — where the outcome becomes visible to handlers and
// to conversation state — is strictly ordered: request i+1 never commits
// before request i, regardless of which finished first. Commits run under
// the Guard, so no commit interleaves with other guarded agent mutations.
//
// # Events
//
// Before execution each request dispatches the interceptable
// "mantle:tool:before" event with the argument map as output: handlers may
// rewrite the arguments, and a nil output blocks the call. At commit time
// a successful call dispatches "mantle:tool:result" (handlers may replace
// the value); a failed call dispatches "mantle:tool:error", and a non-nil
// output there is committed as a fallback result instead of the error.
type Coordinator struct {
	tools *Toolset
	bus   *Bus
	guard *Guard
}

// NewCoordinator creates a Coordinator over a toolset, bus and guard.
func NewCoordinator(tools *Toolset, bus *Bus, guard *Guard) *Coordinator {
	return &Coordinator{tools: tools, bus: bus, guard: guard}
}

// ExecuteAll runs every request concurrently and returns outcomes in
// request order. Individual tool failures are recorded on their outcome,
// never returned as ExecuteAll's own error; the returned error is non-nil
// only when ctx is canceled before every outcome committed.
func (c *Coordinator) ExecuteAll(ctx context.Context, reqs []ToolRequest) ([]ToolOutcome, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	type slot struct {
		value any
		err   error
		done  chan struct{}
	}

	slots := make([]*slot, len(reqs))
	for i, req := range reqs {
		s := &slot{done: make(chan struct{})}
		slots[i] = s

		go func(req ToolRequest) {
			defer close(s.done)
			s.value, s.err = c.execute(ctx, req)
		}(req)
	}

	// Commit loop: strictly request order, each commit under the guard.
	outcomes := make([]ToolOutcome, len(reqs))
	for i, req := range reqs {
		select {
		case <-slots[i].done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		var outcome ToolOutcome
		if err := c.guard.Run(ctx, func(ctx context.Context) error {
			outcome = c.commit(ctx, req, slots[i].value, slots[i].err)
			return nil
		}); err != nil {
			return nil, err
		}
		outcomes[i] = outcome
	}
	return outcomes, nil
}

// execute runs one request to its raw result: lookup, argument validation,
// the "tool before" intercept, then the tool call itself.
func (c *Coordinator) execute(ctx context.Context, req ToolRequest) (any, error) {
	tool, ok := c.tools.Get(req.Name)
	if !ok {
		return nil, fmt.Errorf("mantle: unknown tool %q", req.Name)
	}
	if err := tool.ArgSchema().Validate(req.Args); err != nil {
		return nil, fmt.Errorf("mantle: tool %q args: %w", req.Name, err)
	}

	out, err := c.bus.Intercept(ctx, EventToolBefore, map[string]any{
		ParamTool:      req.Name,
		ParamRequestID: req.ID,
	}, req.Args)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, &ToolVetoError{Tool: req.Name, RequestID: req.ID}
	}
	args, ok := out.(map[string]any)
	if !ok {
		return nil, &OutputTypeError{Event: EventToolBefore, Value: out}
	}

	return tool.Call(ctx, args)
}

// commit finalizes one outcome under the guard: the result or error
// intercept runs, and whatever it yields is what the conversation sees.
func (c *Coordinator) commit(ctx context.Context, req ToolRequest, value any, err error) ToolOutcome {
	if err == nil {
		out, ierr := c.bus.Intercept(ctx, EventToolResult, map[string]any{
			ParamTool:      req.Name,
			ParamRequestID: req.ID,
		}, value)
		if ierr == nil {
			return ToolOutcome{Request: req, Value: out}
		}
		err = ierr
	}

	// Error path: give handlers a chance to substitute a fallback result.
	out, ierr := c.bus.Intercept(ctx, EventToolError, map[string]any{
		ParamTool:      req.Name,
		ParamRequestID: req.ID,
		ParamError:     err.Error(),
	}, nil)
	if ierr == nil && out != nil {
		return ToolOutcome{Request: req, Value: out}
	}
	return ToolOutcome{Request: req, Err: err}
}
