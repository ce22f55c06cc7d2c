// Package scheduler wraps each component's task with the triple spec.md
// §4.9 requires: a shutdown watch, a tripwire deadline, and a panic
// boundary, and tracks each component through the Starting → Running →
// Draining → Stopped state machine.
//
// Grounded in shape on internal/lsm/db.go's flushWg/compactWg pattern (one
// WaitGroup per kind of background goroutine, waited on at Close), here
// generalized from two ad hoc WaitGroups to one errgroup.Group shared
// across every component, plus a *multierror.Error that collects every
// component's failure rather than db.go's "first error wins" Close.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownDeadline is the per-component tripwire applied when a
// Component does not set its own (spec.md §5: "shutdown deadline per
// component (default 60s)").
const DefaultShutdownDeadline = 60 * time.Second

// State is a component task's position in the Starting → Running →
// Draining → Stopped state machine.
type State int32

const (
	Starting State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Task is a component's main loop. It must return promptly once ctx is
// canceled; the supervisor's tripwire aborts the component if it doesn't.
type Task func(ctx context.Context) error

// DrainFunc flushes a component's outstanding events after its Task has
// returned and before it's marked Stopped. Sources that don't own a
// replayable source leave this nil and skip Draining entirely (spec.md
// §4.9).
type DrainFunc func(ctx context.Context) error

// Component is one named unit the Supervisor runs and tracks.
type Component struct {
	Name string
	Task Task
	Drain DrainFunc
	// ShutdownDeadline overrides DefaultShutdownDeadline for this
	// component's tripwire.
	ShutdownDeadline time.Duration
}

// Supervisor runs a set of components as cooperative tasks, cancels them
// together on Shutdown, and aggregates every component's terminal error.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	mu     sync.Mutex
	states map[string]*atomic.Int32
	errs   *multierror.Error
}

// NewSupervisor derives its shared shutdown context from parent; canceling
// parent has the same effect as calling Shutdown.
func NewSupervisor(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	g, ctx := errgroup.WithContext(ctx)
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		g:      g,
		states: make(map[string]*atomic.Int32),
	}
}

// Spawn starts c's task on its own goroutine. Safe to call concurrently
// with other Spawn calls; must not be called after Shutdown.
func (s *Supervisor) Spawn(c *Component) {
	state := new(atomic.Int32)
	state.Store(int32(Starting))
	s.mu.Lock()
	s.states[c.Name] = state
	s.mu.Unlock()

	s.g.Go(func() error {
		err := s.run(c, state)
		if err != nil {
			s.mu.Lock()
			s.errs = multierror.Append(s.errs, err)
			s.mu.Unlock()
		}
		return err
	})
}

func (s *Supervisor) run(c *Component, state *atomic.Int32) error {
	state.Store(int32(Running))
	deadline := c.ShutdownDeadline
	if deadline <= 0 {
		deadline = DefaultShutdownDeadline
	}

	taskErr := s.awaitTask(c, state, deadline)
	if taskErr != nil {
		state.Store(int32(Stopped))
		return errors.Wrapf(taskErr, "component %q", c.Name)
	}

	if c.Drain != nil {
		state.Store(int32(Draining))
		if drainErr := s.awaitDrain(c, deadline); drainErr != nil {
			state.Store(int32(Stopped))
			return errors.Wrapf(drainErr, "component %q drain", c.Name)
		}
	}

	state.Store(int32(Stopped))
	return nil
}

// awaitTask runs c.Task on its own goroutine (the panic boundary: a panic
// there is recovered and turned into a fatal error rather than crashing
// the process) and enforces the shutdown tripwire: once the shared
// context cancels (the shutdown watch), the task gets deadline to return
// on its own before being abandoned.
func (s *Supervisor) awaitTask(c *Component, state *atomic.Int32, deadline time.Duration) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Errorf("panic: %v", r)
			}
		}()
		done <- c.Task(s.ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-s.ctx.Done():
	}

	select {
	case err := <-done:
		return err
	case <-time.After(deadline):
		return errors.Errorf("exceeded %s shutdown tripwire", deadline)
	}
}

func (s *Supervisor) awaitDrain(c *Component, deadline time.Duration) error {
	drainCtx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Errorf("panic: %v", r)
			}
		}()
		done <- c.Drain(drainCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-drainCtx.Done():
		return errors.Errorf("exceeded %s drain tripwire", deadline)
	}
}

// State reports the named component's current position in the state
// machine. The second return is false if no component was spawned under
// that name.
func (s *Supervisor) State(name string) (State, bool) {
	s.mu.Lock()
	st, ok := s.states[name]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	return State(st.Load()), true
}

// Shutdown cancels every component's context (the shutdown watch they all
// observe), waits for each to reach Stopped, and returns every collected
// failure aggregated into one error.
func (s *Supervisor) Shutdown() error {
	s.cancel()
	_ = s.g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs.ErrorOrNil()
}
