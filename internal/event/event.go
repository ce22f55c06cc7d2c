// Package event defines the tagged-union Event and the EventArray batch type
// that flows between every component in the transport fabric.
package event

import (
	"time"

	"github.com/vectorflow/conduit/internal/finalizer"
)

// Kind identifies which of the three observability data types a payload holds.
type Kind uint8

const (
	KindLog Kind = iota
	KindMetric
	KindTrace
)

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindMetric:
		return "metric"
	case KindTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// Metadata is the mutable block attached to every event. Cloning an event
// duplicates Metadata's scalar fields but shares the Finalizer handle: the
// finalizer is reference-counted, so acknowledgement of the last surviving
// clone fires the callback exactly once.
type Metadata struct {
	Arrival    time.Time
	SchemaID   string // optional; empty when the source has no schema registry
	UpstreamToken string // e.g. an HEC token, used for partitioning
	SourceID   string // supplemental provenance, carried from the original implementation
	SourceType string

	finalizer finalizer.Handle
}

// AttachFinalizer installs the handle that will be released when this
// event's last clone is dropped. It is called through
// buffer.AttachRecordFinalizer, by the source channel when an event enters
// the pipeline and by the disk buffer when it decodes a record.
func (m *Metadata) AttachFinalizer(h finalizer.Handle) {
	m.finalizer = h
}

// Finalizer returns the attached handle. A zero Handle (IsZero() == true)
// means the source does not support acknowledgement.
func (m *Metadata) Finalizer() finalizer.Handle {
	return m.finalizer
}

// Clone duplicates Metadata's scalar fields and bumps the finalizer's
// reference count (a fanout output) rather than duplicating it.
func (m Metadata) Clone() Metadata {
	out := m
	out.finalizer = m.finalizer.Clone()
	return out
}

// Event is a value-like tagged union over the three data kinds. Only one of
// Log/Metric/Trace is populated, selected by Kind.
type Event struct {
	Kind     Kind
	Log      *LogPayload
	Metric   *MetricPayload
	Trace    *TracePayload
	Metadata Metadata
}

// LogPayload is an immutable structured-log payload.
type LogPayload struct {
	Fields map[string]any
}

// MetricPayload is an immutable metric sample.
type MetricPayload struct {
	Name   string
	Value  float64
	Tags   map[string]string
	Series string
}

// TracePayload is an immutable span/trace payload.
type TracePayload struct {
	TraceID string
	SpanID  string
	Fields  map[string]any
}

// Clone returns a shallow copy of the event: payload pointers are shared
// (payloads are immutable) but Metadata is cloned, sharing the finalizer.
func (e Event) Clone() Event {
	out := e
	out.Metadata = e.Metadata.Clone()
	return out
}

// EstimatedSize returns a cheap byte-size estimate, mirroring the original
// implementation's cached byte_size. The buffers do not use it: the disk
// buffer accounts encoded record lengths.
func (e Event) EstimatedSize() int {
	switch e.Kind {
	case KindLog:
		if e.Log == nil {
			return 0
		}
		n := 0
		for k, v := range e.Log.Fields {
			n += len(k) + estimateValueSize(v)
		}
		return n
	case KindMetric:
		if e.Metric == nil {
			return 0
		}
		n := len(e.Metric.Name) + len(e.Metric.Series) + 8
		for k, v := range e.Metric.Tags {
			n += len(k) + len(v)
		}
		return n
	case KindTrace:
		if e.Trace == nil {
			return 0
		}
		n := len(e.Trace.TraceID) + len(e.Trace.SpanID)
		for k, v := range e.Trace.Fields {
			n += len(k) + estimateValueSize(v)
		}
		return n
	default:
		return 0
	}
}

func estimateValueSize(v any) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []byte:
		return len(t)
	default:
		return 8
	}
}
