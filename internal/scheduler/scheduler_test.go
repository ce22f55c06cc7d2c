package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestComponentRunsUntilShutdown(t *testing.T) {
	s := NewSupervisor(context.Background())
	started := make(chan struct{})
	s.Spawn(&Component{
		Name: "worker",
		Task: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return nil
		},
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task never started")
	}

	st, ok := s.State("worker")
	if !ok || st != Running {
		t.Fatalf("State = %v, %v; want Running, true", st, ok)
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	st, _ = s.State("worker")
	if st != Stopped {
		t.Errorf("State after Shutdown = %v, want Stopped", st)
	}
}

func TestDrainRunsAfterTaskReturns(t *testing.T) {
	s := NewSupervisor(context.Background())
	var drained bool
	s.Spawn(&Component{
		Name: "source",
		Task: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
		Drain: func(ctx context.Context) error {
			drained = true
			return nil
		},
	})

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !drained {
		t.Error("Drain was never called")
	}
}

func TestTaskErrorIsAggregated(t *testing.T) {
	s := NewSupervisor(context.Background())
	boom := errors.New("boom")
	s.Spawn(&Component{
		Name: "failing",
		Task: func(ctx context.Context) error {
			return boom
		},
	})

	err := s.Shutdown()
	if err == nil {
		t.Fatal("expected aggregated error")
	}
}

func TestPanicIsConvertedToFatalError(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Spawn(&Component{
		Name: "panicky",
		Task: func(ctx context.Context) error {
			panic("kaboom")
		},
	})

	err := s.Shutdown()
	if err == nil {
		t.Fatal("expected panic to surface as an error")
	}
}

func TestTripwireAbortsAStuckTask(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Spawn(&Component{
		Name:             "stuck",
		ShutdownDeadline: 20 * time.Millisecond,
		Task: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(time.Hour) // never actually returns after cancellation
			return nil
		},
	})

	done := make(chan error, 1)
	go func() { done <- s.Shutdown() }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected tripwire error")
		}
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return once the tripwire deadline elapsed")
	}
}

func TestMultipleComponentsAggregateIndependently(t *testing.T) {
	s := NewSupervisor(context.Background())
	boom := errors.New("boom")
	s.Spawn(&Component{Name: "ok", Task: func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}})
	s.Spawn(&Component{Name: "bad", Task: func(ctx context.Context) error {
		return boom
	}})

	err := s.Shutdown()
	if err == nil {
		t.Fatal("expected aggregated error from the failing component")
	}
	if st, _ := s.State("ok"); st != Stopped {
		t.Errorf("ok component state = %v, want Stopped", st)
	}
}
