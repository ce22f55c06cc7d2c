package event

import "github.com/pkg/errors"

// ErrMixedKind is returned when an EventArray would contain events of more
// than one Kind; arrays must be homogeneous per spec.
var ErrMixedKind = errors.New("event: array must be homogeneous (all log, all metric, or all trace)")

// EventArray is the homogeneous batch unit transported across every edge.
// Individual events are never enqueued alone.
type EventArray struct {
	Kind   Kind
	Events []Event
}

// NewEventArray builds an array, validating that every event shares Kind.
func NewEventArray(kind Kind, events []Event) (EventArray, error) {
	for i := range events {
		if events[i].Kind != kind {
			return EventArray{}, errors.Wrapf(ErrMixedKind, "event %d has kind %s, array is %s", i, events[i].Kind, kind)
		}
	}
	return EventArray{Kind: kind, Events: events}, nil
}

// Len returns the number of events in the batch.
func (a EventArray) Len() int {
	return len(a.Events)
}

// EstimatedSize sums each event's estimated byte size. The buffers do not
// use it: the disk buffer enforces max_size on the encoded record length.
func (a EventArray) EstimatedSize() int {
	n := 0
	for _, e := range a.Events {
		n += e.EstimatedSize()
	}
	return n
}

// Clone duplicates the array: payloads are shared, Metadata (and thus
// finalizer reference counts) are cloned per event. A Fanout calls this for
// every output but the last, which receives the original array.
func (a EventArray) Clone() EventArray {
	out := EventArray{Kind: a.Kind, Events: make([]Event, len(a.Events))}
	for i, e := range a.Events {
		out.Events[i] = e.Clone()
	}
	return out
}

// Split breaks the array into chunks of at most size events, used by the
// source channel to clamp to send_batch_size.
func (a EventArray) Split(size int) []EventArray {
	if size <= 0 || len(a.Events) <= size {
		return []EventArray{a}
	}
	var out []EventArray
	for start := 0; start < len(a.Events); start += size {
		end := start + size
		if end > len(a.Events) {
			end = len(a.Events)
		}
		out = append(out, EventArray{Kind: a.Kind, Events: a.Events[start:end]})
	}
	return out
}
