package mantle

import "github.com/mantlekit/mantle/schema"

// Event name constants define the identifiers for runtime events.
//
// # Naming Convention
//
// Event names follow the pattern: "namespace:category:phase"
//   - namespace: "mantle" for runtime events, application name for custom events
//   - category: what the event is about (turn, mode, model, tool)
//   - phase: where in the lifecycle (before, after, entering, result, ...)
//
// # Examples
//
//	mantle:mode:entering    // Runtime: mode entry about to happen
//	mantle:tool:result      // Runtime: tool result ready to commit
//	myapp:cache_hit         // Application: custom event
const (
	// Turn lifecycle
	EventTurnBefore = "mantle:turn:before"
	EventTurnAfter  = "mantle:turn:after"

	// Model calls
	EventModelBefore = "mantle:model:before"
	EventModelAfter  = "mantle:model:after"
	EventModelError  = "mantle:model:error"

	// Tool calls
	EventToolBefore = "mantle:tool:before"
	EventToolResult = "mantle:tool:result"
	EventToolError  = "mantle:tool:error"

	// Mode lifecycle
	EventModeEntering = "mantle:mode:entering"
	EventModeEntered  = "mantle:mode:entered"
	EventModeExiting  = "mantle:mode:exiting"
	EventModeExited   = "mantle:mode:exited"
	EventModeError    = "mantle:mode:error"
)

// Parameter key constants for the built-in events.
const (
	ParamInput     = "input"
	ParamReply     = "reply"
	ParamIteration = "iteration"
	ParamModel     = "model"
	ParamMessages  = "messages"
	ParamError     = "error"
	ParamTool      = "tool"
	ParamArgs      = "args"
	ParamRequestID = "request_id"
	ParamMode      = "mode"
	ParamParams    = "params"
	ParamPhase     = "phase"
	ParamDuration  = "duration"
)

// Mode lifecycle phases reported on EventModeError.
const (
	ModePhaseSetup   = "setup"
	ModePhaseCleanup = "cleanup"
)

// RegisterBuiltinEvents populates a registry with every mantle:* descriptor.
// Agents call this during construction; hosts embedding only part of the
// runtime can call it directly.
func RegisterBuiltinEvents(r *EventRegistry) error {
	descriptors := []EventDescriptor{
		{
			Name:        EventTurnBefore,
			Description: "A turn is starting; output is the user input and may be rewritten.",
			Kind:        KindInterceptable,
			Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
				ParamInput: schema.String("Raw user input for this turn"),
			}, ParamInput)),
		},
		{
			Name:        EventTurnAfter,
			Description: "A turn finished and its reply was committed.",
			Kind:        KindSignal,
			Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
				ParamReply:     schema.String("Final reply text"),
				ParamIteration: schema.Integer("Model iterations used").Min(1),
			})),
		},
		{
			Name:        EventModelBefore,
			Description: "A model call is about to be made; output is the message slice.",
			Kind:        KindInterceptable,
			Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
				ParamModel: schema.String("Model identifier"),
			}, ParamModel)),
		},
		{
			Name:        EventModelAfter,
			Description: "A model call completed.",
			Kind:        KindSignal,
		},
		{
			Name:        EventModelError,
			Description: "A model call failed; a non-nil output recovers with a fallback response.",
			Kind:        KindInterceptable,
			Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
				ParamModel: schema.String("Model identifier"),
				ParamError: schema.String("Failure description"),
			}, ParamModel)),
		},
		{
			Name:        EventToolBefore,
			Description: "A tool call is about to run; output is the argument map.",
			Kind:        KindInterceptable,
			Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
				ParamTool:      schema.String("Tool name"),
				ParamRequestID: schema.String("Request identifier"),
			}, ParamTool)),
		},
		{
			Name:        EventToolResult,
			Description: "A tool result is ready to commit; output is the result value.",
			Kind:        KindInterceptable,
			Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
				ParamTool:      schema.String("Tool name"),
				ParamRequestID: schema.String("Request identifier"),
			}, ParamTool)),
		},
		{
			Name:        EventToolError,
			Description: "A tool call failed; a non-nil output is committed as a fallback result.",
			Kind:        KindInterceptable,
			Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
				ParamTool:      schema.String("Tool name"),
				ParamRequestID: schema.String("Request identifier"),
				ParamError:     schema.String("Failure description"),
			}, ParamTool)),
		},
		{
			Name:        EventModeEntering,
			Description: "A mode is about to be entered; output is the entry parameter map, nil vetoes.",
			Kind:        KindInterceptable,
			Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
				ParamMode:   schema.String("Mode name"),
				ParamParams: schema.Any("Entry parameters"),
			}, ParamMode)),
		},
		{
			Name:        EventModeEntered,
			Description: "A mode was entered and pushed onto the stack.",
			Kind:        KindSignal,
			Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
				ParamMode: schema.String("Mode name"),
			}, ParamMode)),
		},
		{
			Name:        EventModeExiting,
			Description: "The current mode is about to exit; a false output vetoes.",
			Kind:        KindInterceptable,
			Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
				ParamMode: schema.String("Mode name"),
			}, ParamMode)),
		},
		{
			Name:        EventModeExited,
			Description: "A mode exited and was popped from the stack.",
			Kind:        KindSignal,
			Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
				ParamMode: schema.String("Mode name"),
			}, ParamMode)),
		},
		{
			Name:        EventModeError,
			Description: "A mode setup or cleanup step failed.",
			Kind:        KindSignal,
			Params: schema.MustCompile(schema.Object(map[string]*schema.Property{
				ParamMode:  schema.String("Mode name"),
				ParamPhase: schema.String("Lifecycle phase").Enum(ModePhaseSetup, ModePhaseCleanup),
				ParamError: schema.String("Failure description"),
			}, ParamMode, ParamPhase)),
		},
	}

	for _, desc := range descriptors {
		if err := r.Register(desc); err != nil {
			return err
		}
	}
	return nil
}
