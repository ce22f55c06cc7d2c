// Package codec provides the internal gob-based wire encoding the transport
// fabric uses to turn an EventArray into the Record payload bytes that
// internal/record frames and internal/datafile stores. Per-integration
// codecs (JSON, Protobuf, Syslog, OTLP) are explicitly out of scope
// (spec.md §1); this is the one fixed encoding the core itself needs to
// round-trip its own batches through a disk buffer.
//
// Grounded on other_examples' whitaker-io/machine ForkDuplicate, which
// gob-encodes/decodes its Packet payload to produce an independent deep
// copy; here the same gob round trip produces the bytes a Record carries.
package codec

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/pkg/errors"

	"github.com/vectorflow/conduit/internal/event"
)

func init() {
	// Log/trace Fields are map[string]any; gob needs every concrete type
	// that might occupy the any slot registered up front.
	gob.Register("")
	gob.Register(int64(0))
	gob.Register(float64(0))
	gob.Register(true)
	gob.Register([]byte(nil))
	gob.Register([]any(nil))
	gob.Register(map[string]any(nil))
}

// Version is encoded into the bits above the low byte of a Record's
// metadata field (the low byte holds the event Kind); bumped
// whenever wireEvent's shape changes in a way that breaks decoding of
// previously written records.
const Version uint32 = 1

// wireEvent is the gob-serializable projection of event.Event. Metadata's
// finalizer handle is deliberately not part of it: durability transfers
// finalization responsibility to the buffer (spec.md §4.8), so a fresh
// handle is attached on decode, not the one the producer released.
type wireEvent struct {
	LogFields map[string]any

	MetricName   string
	MetricValue  float64
	MetricTags   map[string]string
	MetricSeries string

	TraceID     string
	TraceSpanID string
	TraceFields map[string]any

	ArrivalUnixNano int64
	SchemaID        string
	UpstreamToken   string
	SourceID        string
	SourceType      string
}

func toWire(e event.Event) wireEvent {
	w := wireEvent{
		ArrivalUnixNano: e.Metadata.Arrival.UnixNano(),
		SchemaID:        e.Metadata.SchemaID,
		UpstreamToken:   e.Metadata.UpstreamToken,
		SourceID:        e.Metadata.SourceID,
		SourceType:      e.Metadata.SourceType,
	}
	switch e.Kind {
	case event.KindLog:
		if e.Log != nil {
			w.LogFields = e.Log.Fields
		}
	case event.KindMetric:
		if e.Metric != nil {
			w.MetricName = e.Metric.Name
			w.MetricValue = e.Metric.Value
			w.MetricTags = e.Metric.Tags
			w.MetricSeries = e.Metric.Series
		}
	case event.KindTrace:
		if e.Trace != nil {
			w.TraceID = e.Trace.TraceID
			w.TraceSpanID = e.Trace.SpanID
			w.TraceFields = e.Trace.Fields
		}
	}
	return w
}

func fromWire(kind event.Kind, w wireEvent) event.Event {
	e := event.Event{
		Kind: kind,
		Metadata: event.Metadata{
			SchemaID:      w.SchemaID,
			UpstreamToken: w.UpstreamToken,
			SourceID:      w.SourceID,
			SourceType:    w.SourceType,
		},
	}
	if w.ArrivalUnixNano != 0 {
		e.Metadata.Arrival = time.Unix(0, w.ArrivalUnixNano)
	}
	switch kind {
	case event.KindLog:
		e.Log = &event.LogPayload{Fields: w.LogFields}
	case event.KindMetric:
		e.Metric = &event.MetricPayload{Name: w.MetricName, Value: w.MetricValue, Tags: w.MetricTags, Series: w.MetricSeries}
	case event.KindTrace:
		e.Trace = &event.TracePayload{TraceID: w.TraceID, SpanID: w.TraceSpanID, Fields: w.TraceFields}
	}
	return e
}

type wireArray struct {
	Kind   uint8
	Events []wireEvent
}

// Encode serializes an EventArray into the bytes a Record's payload carries,
// returning the metadata word the record header should store.
func Encode(arr event.EventArray) (payload []byte, metadata uint32, err error) {
	wa := wireArray{Kind: uint8(arr.Kind), Events: make([]wireEvent, len(arr.Events))}
	for i, e := range arr.Events {
		wa.Events[i] = toWire(e)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wa); err != nil {
		return nil, 0, errors.Wrap(err, "codec: encode event array")
	}

	return buf.Bytes(), (Version << 8) | uint32(arr.Kind), nil
}

// Decode reverses Encode. The metadata word's version must match Version;
// a mismatch is surfaced as an error rather than guessed at.
func Decode(payload []byte, metadata uint32) (event.EventArray, error) {
	gotVersion := metadata >> 8
	if gotVersion != Version {
		return event.EventArray{}, errors.Errorf("codec: unsupported wire version %d (want %d)", gotVersion, Version)
	}
	kind := event.Kind(metadata & 0xFF)

	var wa wireArray
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&wa); err != nil {
		return event.EventArray{}, errors.Wrap(err, "codec: decode event array")
	}

	events := make([]event.Event, len(wa.Events))
	for i, w := range wa.Events {
		events[i] = fromWire(kind, w)
	}

	return event.EventArray{Kind: kind, Events: events}, nil
}
