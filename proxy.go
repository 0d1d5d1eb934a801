package mantle

import (
	"context"
	"sync"

	"github.com/mantlekit/mantle/internal/buffer"
)

// proxyCall is one submitted closure awaiting execution on the owner flow.
type proxyCall struct {
	fn    func(ctx context.Context) (any, error)
	reply chan proxyResult
}

type proxyResult struct {
	value any
	err   error
}

// Proxy schedules closures from arbitrary goroutines onto the agent's
// owning flow of control, running each under the Guard and relaying the
// result (or error) back to the submitter.
//
// # Usage
//
// The owner flow runs Serve; any other goroutine calls Submit:
//
//	proxy := mantle.NewProxy(agent.Guard())
//	go proxy.Serve(ctx) // the owning flow
//
//	// From a background goroutine:
//	value, err := proxy.Submit(ctx, func(ctx context.Context) (any, error) {
//	    return agent.Store().Messages(ctx)
//	})
//
// Submit blocks the calling goroutine until the closure has run to
// completion on the owner flow. Errors returned by the closure propagate to
// the submitter; they are never swallowed.
type Proxy struct {
	guard *Guard
	calls *buffer.Unbounded[*proxyCall]

	closeOnce sync.Once
	closed    chan struct{}
}

// NewProxy creates a Proxy bound to an agent's Guard.
func NewProxy(guard *Guard) *Proxy {
	return &Proxy{
		guard:  guard,
		calls:  buffer.NewUnbounded[*proxyCall](),
		closed: make(chan struct{}),
	}
}

// Submit schedules fn to run on the owner flow under the guard and blocks
// until it completes, returning its result or propagating its error.
//
// Returns ErrProxyClosed if the proxy shut down before the call ran, or
// ctx.Err() if the submitter's context is canceled while waiting (the call
// may still run on the owner flow afterwards).
func (p *Proxy) Submit(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	call := &proxyCall{
		fn:    fn,
		reply: make(chan proxyResult, 1),
	}
	if !p.calls.Put(call) {
		return nil, ErrProxyClosed
	}

	select {
	case res := <-call.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		// The proxy may have answered the call just before closing.
		select {
		case res := <-call.reply:
			return res.value, res.err
		default:
			return nil, ErrProxyClosed
		}
	}
}

// Serve executes submitted calls on the calling goroutine — the agent's
// owning flow — until ctx is canceled or Close is called. Each call runs
// under the guard; pending calls at shutdown are answered ErrProxyClosed.
func (p *Proxy) Serve(ctx context.Context) error {
	defer p.shutdown()

	for {
		select {
		case call, ok := <-p.calls.Out():
			if !ok {
				return nil
			}
			p.run(ctx, call)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// run executes one call under the guard and relays the outcome.
func (p *Proxy) run(ctx context.Context, call *proxyCall) {
	var value any
	err := p.guard.Run(ctx, func(ctx context.Context) error {
		var callErr error
		value, callErr = call.fn(ctx)
		return callErr
	})
	call.reply <- proxyResult{value: value, err: err}
}

// Close stops the proxy. Safe to call multiple times; pending and future
// submissions fail with ErrProxyClosed.
func (p *Proxy) Close() {
	p.shutdown()
}

func (p *Proxy) shutdown() {
	p.closeOnce.Do(func() {
		p.calls.Close()
		for _, call := range p.calls.Drain() {
			call.reply <- proxyResult{err: ErrProxyClosed}
		}
		close(p.closed)
	})
}
