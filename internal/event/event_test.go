package event

import "testing"

func TestNewEventArrayRejectsMixedKind(t *testing.T) {
	events := []Event{
		{Kind: KindLog, Log: &LogPayload{Fields: map[string]any{"msg": "a"}}},
		{Kind: KindMetric, Metric: &MetricPayload{Name: "cpu"}},
	}

	if _, err := NewEventArray(KindLog, events); err == nil {
		t.Fatal("expected error for mixed-kind array, got nil")
	}
}

func TestEventArrayCloneSharesPayloadButNotMetadata(t *testing.T) {
	original, err := NewEventArray(KindLog, []Event{
		{Kind: KindLog, Log: &LogPayload{Fields: map[string]any{"msg": "hello"}}},
	})
	if err != nil {
		t.Fatalf("NewEventArray: %v", err)
	}

	clone := original.Clone()

	if clone.Events[0].Log != original.Events[0].Log {
		t.Error("expected cloned array to share the immutable payload pointer")
	}

	clone.Events[0].Metadata.SchemaID = "changed"
	if original.Events[0].Metadata.SchemaID == "changed" {
		t.Error("expected metadata mutation on clone not to affect original")
	}
}

func TestEventArraySplit(t *testing.T) {
	events := make([]Event, 5)
	for i := range events {
		events[i] = Event{Kind: KindLog, Log: &LogPayload{}}
	}
	arr, err := NewEventArray(KindLog, events)
	if err != nil {
		t.Fatalf("NewEventArray: %v", err)
	}

	chunks := arr.Split(2)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].Len() != 2 || chunks[1].Len() != 2 || chunks[2].Len() != 1 {
		t.Errorf("unexpected chunk sizes: %d %d %d", chunks[0].Len(), chunks[1].Len(), chunks[2].Len())
	}
}

func TestEventArraySplitNoop(t *testing.T) {
	arr, err := NewEventArray(KindLog, []Event{{Kind: KindLog, Log: &LogPayload{}}})
	if err != nil {
		t.Fatalf("NewEventArray: %v", err)
	}
	chunks := arr.Split(10)
	if len(chunks) != 1 {
		t.Fatalf("expected array to pass through unchanged, got %d chunks", len(chunks))
	}
}
