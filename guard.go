package mantle

import (
	"context"
	"sync"
)

// guardTokenKey carries the holder token of an acquired Guard through the
// context, so nested guarded operations on the same flow of control re-enter
// instead of deadlocking against themselves.
type guardTokenKey struct{}

// Guard is the per-agent mutation lock: exclusive against other flows,
// reentrant for the flow that already holds it, with FIFO hand-off between
// waiters.
//
// Goroutines have no observable identity, so the "same logical owner" check
// rides on the context: Acquire returns a derived context carrying the
// holder token, and any Acquire or Run call using that context (or a child
// of it) re-enters without blocking.
//
// # Invariant
//
// No two guarded operations for the same agent instance are ever
// concurrently past the acquire point. Tool invocations may run their work
// in parallel, but the point where a result lands on agent state must pass
// through the guard.
type Guard struct {
	mu        sync.Mutex
	held      bool
	holder    uint64
	nextToken uint64
	waiters   []*guardWaiter
}

type guardWaiter struct {
	token uint64
	ready chan struct{}
}

// NewGuard creates an unheld Guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Acquire blocks until the guard is free or already held by the calling
// flow, then marks it held. Returns a derived context identifying the
// holder and a release function; the release function must be called on
// every exit path (reentrant acquisitions return a no-op release).
//
// Waiters are woken in FIFO order. If ctx is canceled while waiting, the
// wait is abandoned and ctx.Err() returned.
func (g *Guard) Acquire(ctx context.Context) (context.Context, func(), error) {
	if tok, ok := ctx.Value(guardTokenKey{}).(uint64); ok && g.holds(tok) {
		// Reentrant: the flow already owns the guard.
		return ctx, func() {}, nil
	}

	g.mu.Lock()
	token := g.nextToken
	g.nextToken++

	if !g.held {
		g.held = true
		g.holder = token
		g.mu.Unlock()
		return g.holderContext(ctx, token), func() { g.release() }, nil
	}

	w := &guardWaiter{token: token, ready: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return g.holderContext(ctx, token), func() { g.release() }, nil
	case <-ctx.Done():
		if g.abandon(w) {
			return nil, nil, ctx.Err()
		}
		// The guard was handed to us concurrently with cancellation;
		// accept and immediately release so the next waiter proceeds.
		<-w.ready
		g.release()
		return nil, nil, ctx.Err()
	}
}

// Run is the scoped-acquisition helper: acquires the guard, runs fn with
// the holder context, and releases on every exit path including error.
func (g *Guard) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	hctx, release, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(hctx)
}

// Held reports whether the guard is currently held. Intended for tests and
// stats; the answer may be stale by the time it is observed.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}

// holds reports whether token is the current holder.
func (g *Guard) holds(token uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held && g.holder == token
}

func (g *Guard) holderContext(ctx context.Context, token uint64) context.Context {
	return context.WithValue(ctx, guardTokenKey{}, token)
}

// release frees the guard or hands it to the first waiter.
func (g *Guard) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.waiters) == 0 {
		g.held = false
		return
	}

	next := g.waiters[0]
	g.waiters = g.waiters[1:]
	g.holder = next.token
	close(next.ready)
}

// abandon removes a canceled waiter from the queue. Returns false if the
// waiter had already been granted the guard.
func (g *Guard) abandon(w *guardWaiter) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, queued := range g.waiters {
		if queued.token == w.token {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return true
		}
	}
	return false
}
