package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/vectorflow/conduit/internal/event"
	"github.com/vectorflow/conduit/internal/finalizer"
)

func TestNotifierWaitBlocksUntilTrip(t *testing.T) {
	n := NewNotifier()
	done := make(chan struct{})
	go func() {
		n.Wait(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Trip")
	case <-time.After(20 * time.Millisecond):
	}

	n.Trip()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Trip")
	}
}

func TestNotifierWaitRespectsContext(t *testing.T) {
	n := NewNotifier()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := n.Wait(ctx); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestAttachRecordFinalizerResolvesOnceAllEventsRelease(t *testing.T) {
	arr := event.EventArray{Kind: event.KindLog, Events: []event.Event{
		{Kind: event.KindLog, Log: &event.LogPayload{}},
		{Kind: event.KindLog, Log: &event.LogPayload{}},
		{Kind: event.KindLog, Log: &event.LogPayload{}},
	}}

	resolved := make(chan finalizer.Status, 1)
	AttachRecordFinalizer(&arr, func(s finalizer.Status) { resolved <- s })

	arr.Events[0].Metadata.Finalizer().Release(finalizer.Delivered)
	arr.Events[1].Metadata.Finalizer().Release(finalizer.Delivered)

	select {
	case <-resolved:
		t.Fatal("resolved before the last event released")
	case <-time.After(20 * time.Millisecond):
	}

	arr.Events[2].Metadata.Finalizer().Release(finalizer.Errored)

	select {
	case got := <-resolved:
		if got != finalizer.Errored {
			t.Errorf("resolved status = %v, want Errored (strongest of Delivered/Delivered/Errored)", got)
		}
	case <-time.After(time.Second):
		t.Fatal("did not resolve after the last event released")
	}
}

func TestAttachRecordFinalizerEmptyArrayIsNoop(t *testing.T) {
	arr := event.EventArray{Kind: event.KindLog}
	called := false
	AttachRecordFinalizer(&arr, func(finalizer.Status) { called = true })
	time.Sleep(20 * time.Millisecond)
	if called {
		t.Fatal("onResolve should never fire for an empty batch")
	}
}
