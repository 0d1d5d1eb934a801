// Package mantle is a host runtime for conversational agents: an event bus
// with registered dispatch semantics, a reentrant mutation guard, a mode
// stack for layered behavioral contexts, a supervisor for background tasks,
// and a coordinator that runs tools concurrently while committing their
// results deterministically.
//
// # Quick Start
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//
//	    "github.com/tmc/langchaingo/llms/openai"
//
//	    "github.com/mantlekit/mantle"
//	    "github.com/mantlekit/mantle/schema"
//	)
//
//	func main() {
//	    llm, err := openai.New()
//	    if err != nil {
//	        panic(err)
//	    }
//
//	    agent := mantle.NewAgent(mantle.NewLCGModel("gpt-4o", llm)).
//	        WithSystemPrompt("You are a helpful assistant.")
//
//	    agent.Tools().MustAdd(mantle.NewToolFunc(
//	        "lookup_order",
//	        "Look up order details by order ID",
//	        schema.MustCompile(schema.Object(map[string]*schema.Property{
//	            "order_id": schema.String("The order identifier"),
//	        }, "order_id")),
//	        func(ctx context.Context, args map[string]any) (any, error) {
//	            return lookupOrder(args["order_id"].(string))
//	        },
//	    ))
//
//	    agent.Bus().MustSubscribe(mantle.EventToolBefore,
//	        mantle.HandlerFunc(func(ctx context.Context, ec *mantle.EventContext) error {
//	            fmt.Println("tool:", ec.Param(mantle.ParamTool))
//	            return nil
//	        }))
//
//	    reply, err := agent.RunTurn(context.Background(), "Where is order 1042?")
//	    if err != nil {
//	        panic(err)
//	    }
//	    fmt.Println(reply)
//	}
//
// # Events
//
// Every lifecycle point dispatches a named event through the Bus. An
// event's identifier is bound to exactly one dispatch semantics in the
// EventRegistry: signal events are observational and isolate handler
// errors; interceptable events carry an output slot handlers may replace,
// letting extensions rewrite inputs, substitute results, or veto
// transitions without the core knowing who they are.
//
// # Modes
//
// A mode is a temporary behavioral overlay — a planning phase, a review
// session — entered and exited as a stack. Behaviors split into Setup and
// Cleanup around a suspension point; the ModeStack guarantees a frame is
// only pushed after Setup succeeds and always popped even when Cleanup
// fails. Handlers switch modes by filing transition requests, which apply
// only once the current dispatch settles.
//
// # Concurrency
//
// Agent state mutates under a single Guard: exclusive between flows,
// reentrant within one, FIFO-fair across waiters. Tools execute in
// parallel but commit in request order through the Guard. Background
// goroutines reach agent state via a Proxy, which relays closures to the
// owning flow and returns their results. The Supervisor tracks background
// tasks with per-owner statistics and a readiness gate.
package mantle
