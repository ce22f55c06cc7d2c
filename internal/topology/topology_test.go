package topology

import (
	"context"
	"testing"
	"time"

	"github.com/vectorflow/conduit/internal/event"
	"github.com/vectorflow/conduit/internal/fanout"
)

func testBatch(t *testing.T) event.EventArray {
	t.Helper()
	arr, err := event.NewEventArray(event.KindLog, []event.Event{
		{Kind: event.KindLog, Log: &event.LogPayload{Fields: map[string]any{"msg": "hi"}}},
	})
	if err != nil {
		t.Fatalf("NewEventArray: %v", err)
	}
	return arr
}

func TestBuildWiresMemoryEdgeOntoFanout(t *testing.T) {
	source := fanout.New()
	tp, err := Build(map[string]*fanout.Fanout{"source": source}, []EdgeConfig{
		{Name: "sink-edge", Source: "source", Output: "sink", Buffer: BufferSpec{Type: BufferMemory, MaxEvents: 4, WhenFull: WhenFullBlock}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer tp.Close()

	buf, ok := tp.Buffer("sink-edge")
	if !ok {
		t.Fatal("Buffer(\"sink-edge\") not found")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := source.Send(ctx, testBatch(t)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := buf.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Events[0].Log.Fields["msg"] != "hi" {
		t.Errorf("got %v, want hi", got.Events[0].Log.Fields["msg"])
	}
}

func TestBuildWiresDiskEdge(t *testing.T) {
	source := fanout.New()
	dir := t.TempDir()
	tp, err := Build(map[string]*fanout.Fanout{"source": source}, []EdgeConfig{
		{
			Name:   "disk-edge",
			Source: "source",
			Output: "sink",
			Buffer: BufferSpec{Type: BufferDisk, DataDir: dir, MaxSize: 1 << 20, WhenFull: WhenFullBlock},
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer tp.Close()

	buf, ok := tp.Buffer("disk-edge")
	if !ok {
		t.Fatal("Buffer(\"disk-edge\") not found")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := source.Send(ctx, testBatch(t)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := buf.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
}

func TestBuildOverflowReferencesEarlierEdge(t *testing.T) {
	source := fanout.New()
	tp, err := Build(map[string]*fanout.Fanout{"source": source}, []EdgeConfig{
		{Name: "secondary", Source: "source", Output: "secondary", Buffer: BufferSpec{Type: BufferMemory, MaxEvents: 4, WhenFull: WhenFullBlock}},
		{
			Name:   "primary",
			Source: "source",
			Output: "primary",
			Buffer: BufferSpec{Type: BufferMemory, MaxEvents: 1, WhenFull: WhenFullOverflow, Overflow: "secondary"},
		},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer tp.Close()

	primary, _ := tp.Buffer("primary")
	secondary, _ := tp.Buffer("secondary")

	if err := primary.TrySend(testBatch(t)); err != nil {
		t.Fatalf("TrySend 1: %v", err)
	}
	if err := primary.TrySend(testBatch(t)); err != nil {
		t.Fatalf("TrySend 2 (should overflow to secondary): %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := secondary.Next(ctx); err != nil {
		t.Fatalf("secondary Next: %v", err)
	}
}

func TestBuildRejectsUnknownOverflowTarget(t *testing.T) {
	source := fanout.New()
	_, err := Build(map[string]*fanout.Fanout{"source": source}, []EdgeConfig{
		{
			Name:   "primary",
			Source: "source",
			Output: "primary",
			Buffer: BufferSpec{Type: BufferMemory, MaxEvents: 1, WhenFull: WhenFullOverflow, Overflow: "nope"},
		},
	})
	if err == nil {
		t.Fatal("expected error for unresolved overflow target")
	}
}

func TestBuildRejectsUnknownSource(t *testing.T) {
	_, err := Build(map[string]*fanout.Fanout{}, []EdgeConfig{
		{Name: "edge", Source: "missing", Output: "out", Buffer: BufferSpec{Type: BufferMemory, MaxEvents: 1}},
	})
	if err == nil {
		t.Fatal("expected error for unknown source fanout")
	}
}

func TestBuildTearsDownPartialTopologyOnFailure(t *testing.T) {
	source := fanout.New()
	_, err := Build(map[string]*fanout.Fanout{"source": source}, []EdgeConfig{
		{Name: "ok", Source: "source", Output: "ok", Buffer: BufferSpec{Type: BufferMemory, MaxEvents: 4, WhenFull: WhenFullBlock}},
		{Name: "bad", Source: "missing", Output: "bad", Buffer: BufferSpec{Type: BufferMemory, MaxEvents: 4, WhenFull: WhenFullBlock}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if names := source.Outputs(); len(names) != 0 {
		t.Errorf("expected the first edge's output to be torn down, got %v", names)
	}
}
