package mantle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskWork is the unit of work run by a managed task. It must honor ctx
// cancellation: the Supervisor cancels cooperatively and never terminates a
// task by force.
type TaskWork func(ctx context.Context) (any, error)

// CleanupFunc runs after a task leaves the live set, with the finished
// handle. Use it to release resources tied to the task.
type CleanupFunc func(task *TaskHandle)

// TaskOption configures a submitted task.
type TaskOption func(*TaskHandle)

// WithTaskName sets a human-readable task name for stats and debugging.
func WithTaskName(name string) TaskOption {
	return func(t *TaskHandle) {
		t.name = name
	}
}

// WithOwner tags the task with its owning component. The owner is a lookup
// key for stats breakdowns, never an ownership edge.
func WithOwner(owner string) TaskOption {
	return func(t *TaskHandle) {
		t.owner = owner
	}
}

// WithReadyGate marks the task as gating readiness: Supervisor.WaitReady
// blocks until every such task has completed. Use for critical startup
// work.
func WithReadyGate() TaskOption {
	return func(t *TaskHandle) {
		t.readyGate = true
	}
}

// WithCleanup sets the terminal cleanup callback, invoked once after the
// task is removed from the live set.
func WithCleanup(fn CleanupFunc) TaskOption {
	return func(t *TaskHandle) {
		t.cleanup = fn
	}
}

// TaskHandle is the awaitable identity of one managed task.
type TaskHandle struct {
	id        string
	name      string
	owner     string
	readyGate bool
	createdAt time.Time
	cleanup   CleanupFunc

	cancel context.CancelFunc
	done   chan struct{}

	// Set exactly once before done closes.
	value any
	err   error
}

// ID returns the task's unique identifier.
func (t *TaskHandle) ID() string { return t.id }

// Name returns the optional task name.
func (t *TaskHandle) Name() string { return t.name }

// Owner returns the owning component key, if any.
func (t *TaskHandle) Owner() string { return t.owner }

// CreatedAt returns the task's creation time.
func (t *TaskHandle) CreatedAt() time.Time { return t.createdAt }

// ReadyGate reports whether the task gates WaitReady.
func (t *TaskHandle) ReadyGate() bool { return t.readyGate }

// Done returns a channel closed when the task has finished and its cleanup
// callback has run.
func (t *TaskHandle) Done() <-chan struct{} { return t.done }

// Cancel requests cooperative cancellation of this task.
func (t *TaskHandle) Cancel() { t.cancel() }

// Await blocks until the task finishes or ctx is canceled, then returns the
// task's result.
func (t *TaskHandle) Await(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Value returns the task's result value. Only valid after Done is closed.
func (t *TaskHandle) Value() any { return t.value }

// Err returns the task's terminal error, if any. Only valid after Done is
// closed.
func (t *TaskHandle) Err() error { return t.err }

// TaskCounts is one row of supervisor statistics.
type TaskCounts struct {
	Created   int
	Live      int
	Completed int
	Failed    int
	Canceled  int
}

// TaskStats is an aggregate snapshot of supervisor bookkeeping.
type TaskStats struct {
	// Total aggregates every task ever submitted.
	Total TaskCounts

	// ByOwner breaks counts down by the owner key ("" for unowned tasks).
	ByOwner map[string]TaskCounts

	// ReadyGated aggregates only tasks flagged with WithReadyGate.
	ReadyGated TaskCounts
}

// Supervisor tracks background units of work: their owner, completion or
// failure, and aggregate statistics.
//
// # Failure Isolation
//
// An individual task's failure is recorded on its handle and in Stats; it
// never aborts the Supervisor or other tasks.
//
// # Ordering
//
// On completion a task is first removed from the live set, then its cleanup
// callback runs, then its Done channel closes. Both steps happen under the
// Supervisor's own bookkeeping discipline — there is no exclusivity with
// any agent's Guard, since tasks may belong to different agents.
type Supervisor struct {
	clock TimeProvider

	mu        sync.Mutex
	live      map[string]*TaskHandle
	total     TaskCounts
	byOwner   map[string]TaskCounts
	readyGate TaskCounts
}

// NewSupervisor creates an empty Supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		clock:   NewDefaultTimeProvider(),
		live:    make(map[string]*TaskHandle),
		byOwner: make(map[string]TaskCounts),
	}
}

// WithClock replaces the supervisor's time source. Returns the supervisor
// for chaining.
func (s *Supervisor) WithClock(clock TimeProvider) *Supervisor {
	s.clock = clock
	return s
}

// Submit starts work concurrently, registers a managed task, and returns
// its handle. The work's context is derived from ctx; canceling either ctx
// or the handle requests cooperative cancellation.
func (s *Supervisor) Submit(ctx context.Context, work TaskWork, opts ...TaskOption) *TaskHandle {
	taskCtx, cancel := context.WithCancel(ctx)

	task := &TaskHandle{
		id:        uuid.NewString(),
		createdAt: s.clock.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(task)
	}

	s.mu.Lock()
	s.live[task.id] = task
	s.total.Created++
	s.total.Live++
	s.bumpOwner(task.owner, func(c *TaskCounts) { c.Created++; c.Live++ })
	if task.readyGate {
		s.readyGate.Created++
		s.readyGate.Live++
	}
	s.mu.Unlock()

	go func() {
		defer cancel()
		value, err := work(taskCtx)
		s.finish(task, value, err)
	}()

	return task
}

// finish records a task's terminal state: live-set removal, stats update,
// cleanup callback, then Done close.
func (s *Supervisor) finish(task *TaskHandle, value any, err error) {
	canceled := err != nil && errors.Is(err, context.Canceled)

	s.mu.Lock()
	delete(s.live, task.id)
	s.total.Live--
	s.bumpOwner(task.owner, func(c *TaskCounts) { c.Live-- })
	if task.readyGate {
		s.readyGate.Live--
	}
	switch {
	case canceled:
		s.total.Canceled++
		s.bumpOwner(task.owner, func(c *TaskCounts) { c.Canceled++ })
		if task.readyGate {
			s.readyGate.Canceled++
		}
	case err != nil:
		s.total.Failed++
		s.bumpOwner(task.owner, func(c *TaskCounts) { c.Failed++ })
		if task.readyGate {
			s.readyGate.Failed++
		}
	default:
		s.total.Completed++
		s.bumpOwner(task.owner, func(c *TaskCounts) { c.Completed++ })
		if task.readyGate {
			s.readyGate.Completed++
		}
	}
	s.mu.Unlock()

	task.value = value
	task.err = err
	if task.cleanup != nil {
		task.cleanup(task)
	}
	close(task.done)
}

func (s *Supervisor) bumpOwner(owner string, fn func(*TaskCounts)) {
	counts := s.byOwner[owner]
	fn(&counts)
	s.byOwner[owner] = counts
}

// Live returns the number of currently live tasks.
func (s *Supervisor) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total.Live
}

// Stats returns a snapshot of supervisor statistics.
func (s *Supervisor) Stats() TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	byOwner := make(map[string]TaskCounts, len(s.byOwner))
	for owner, counts := range s.byOwner {
		byOwner[owner] = counts
	}
	return TaskStats{
		Total:      s.total,
		ByOwner:    byOwner,
		ReadyGated: s.readyGate,
	}
}

// WaitReady blocks until every task flagged with WithReadyGate has
// completed, including ready-gated tasks submitted while waiting. Use to
// gate "the agent is ready" on critical startup work.
func (s *Supervisor) WaitReady(ctx context.Context) error {
	for {
		pending := s.readyGatedLive()
		if len(pending) == 0 {
			return nil
		}
		for _, task := range pending {
			select {
			case <-task.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *Supervisor) readyGatedLive() []*TaskHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*TaskHandle
	for _, task := range s.live {
		if task.readyGate {
			pending = append(pending, task)
		}
	}
	return pending
}

// CancelAll requests cooperative cancellation of every live task and waits
// for acknowledgement, bounded by timeout (0 means wait only on ctx).
// Returns ErrCancelTimeout if tasks were still live when the bound expired.
func (s *Supervisor) CancelAll(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	tasks := make([]*TaskHandle, 0, len(s.live))
	for _, task := range s.live {
		tasks = append(tasks, task)
	}
	s.mu.Unlock()

	for _, task := range tasks {
		task.Cancel()
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for _, task := range tasks {
		select {
		case <-task.Done():
		case <-deadline:
			return fmt.Errorf("%w: %d still live", ErrCancelTimeout, s.Live())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
