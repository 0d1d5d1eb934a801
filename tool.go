package mantle

import (
	"context"
	"fmt"
	"sort"

	"github.com/tmc/langchaingo/llms"

	"github.com/mantlekit/mantle/schema"
)

// Tool is a single callable capability exposed to the model.
//
// Tools receive the decoded argument map and return a raw result value; the
// runtime handles argument validation, event interception, and commit
// ordering. Call may run concurrently with other tools — anything a tool
// needs exclusive access to must go through the agent's Guard or the Proxy.
type Tool interface {
	// Name returns the tool's identifier used in tool calls.
	Name() string

	// Description returns a human-readable description for the model.
	Description() string

	// ArgSchema returns the compiled schema for the tool's arguments.
	// Nil means the tool takes arbitrary (or no) arguments.
	ArgSchema() *schema.Schema

	// Call executes the tool.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ToolFunc is a convenience type for building tools from plain functions.
type ToolFunc struct {
	name        string
	description string
	args        *schema.Schema
	fn          func(ctx context.Context, args map[string]any) (any, error)
}

// NewToolFunc creates a Tool from a function.
func NewToolFunc(
	name, description string,
	args *schema.Schema,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *ToolFunc {
	return &ToolFunc{
		name:        name,
		description: description,
		args:        args,
		fn:          fn,
	}
}

// Name returns the tool's identifier.
func (t *ToolFunc) Name() string {
	return t.name
}

// Description returns the tool's description for the model.
func (t *ToolFunc) Description() string {
	return t.description
}

// ArgSchema returns the tool's argument schema.
func (t *ToolFunc) ArgSchema() *schema.Schema {
	return t.args
}

// Call executes the tool function.
func (t *ToolFunc) Call(ctx context.Context, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}

// Toolset is the named collection of tools available to an agent. Like the
// event registry it is populated during construction; Add is not
// thread-safe.
type Toolset struct {
	tools map[string]Tool
}

// NewToolset creates an empty Toolset.
func NewToolset() *Toolset {
	return &Toolset{tools: make(map[string]Tool)}
}

// Add registers a tool. Fails on empty or duplicate names.
func (ts *Toolset) Add(t Tool) error {
	if t == nil {
		return fmt.Errorf("mantle: add nil tool")
	}
	if t.Name() == "" {
		return fmt.Errorf("mantle: tool has empty name")
	}
	if _, exists := ts.tools[t.Name()]; exists {
		return fmt.Errorf("mantle: tool %q already registered", t.Name())
	}
	ts.tools[t.Name()] = t
	return nil
}

// MustAdd is like Add but panics on error.
func (ts *Toolset) MustAdd(t Tool) {
	if err := ts.Add(t); err != nil {
		panic(err)
	}
}

// Get returns the tool with the given name.
func (ts *Toolset) Get(name string) (Tool, bool) {
	t, ok := ts.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (ts *Toolset) Names() []string {
	names := make([]string, 0, len(ts.tools))
	for name := range ts.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (ts *Toolset) Len() int {
	return len(ts.tools)
}

// Definitions converts the toolset to the model-facing tool declarations,
// in sorted name order.
func (ts *Toolset) Definitions() []llms.Tool {
	defs := make([]llms.Tool, 0, len(ts.tools))
	for _, name := range ts.Names() {
		t := ts.tools[name]
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.ArgSchema().Raw(),
			},
		})
	}
	return defs
}
