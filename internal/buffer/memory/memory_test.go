package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vectorflow/conduit/internal/buffer"
	"github.com/vectorflow/conduit/internal/event"
)

func testBatch(t *testing.T, n int) event.EventArray {
	t.Helper()
	arr, err := event.NewEventArray(event.KindLog, []event.Event{
		{Kind: event.KindLog, Log: &event.LogPayload{Fields: map[string]any{"n": n}}},
	})
	if err != nil {
		t.Fatalf("NewEventArray: %v", err)
	}
	return arr
}

func TestFIFOOrder(t *testing.T) {
	b, err := New(Options{MaxEvents: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := b.TrySend(testBatch(t, i)); err != nil {
			t.Fatalf("TrySend %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		got, err := b.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if got.Events[0].Log.Fields["n"] != i {
			t.Errorf("batch %d: got n=%v, want %d", i, got.Events[0].Log.Fields["n"], i)
		}
	}
}

func TestDropNewestDiscardsPastCapacity(t *testing.T) {
	b, err := New(Options{MaxEvents: 2, WhenFull: buffer.DropNewest})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := b.TrySend(testBatch(t, i)); err != nil {
			t.Fatalf("TrySend %d: %v", i, err)
		}
	}
	if got := b.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 2; i++ {
		got, err := b.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if got.Events[0].Log.Fields["n"] != i {
			t.Errorf("batch %d: got n=%v, want %d", i, got.Events[0].Log.Fields["n"], i)
		}
	}
}

func TestBlockPolicyWaitsForRoom(t *testing.T) {
	b, err := New(Options{MaxEvents: 1, WhenFull: buffer.Block})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := b.TrySend(testBatch(t, 0)); err != nil {
		t.Fatalf("TrySend: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- b.Send(ctx, testBatch(t, 1))
	}()

	select {
	case err := <-done:
		t.Fatalf("Send returned before room freed up: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := b.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send did not unblock after Next freed a slot")
	}
}
