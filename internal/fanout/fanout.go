// Package fanout broadcasts one EventArray to N named outputs, honoring
// each output's own backpressure policy independently: an output backed by
// a Block buffer suspends the whole broadcast until it accepts, while an
// output backed by a DropNewest (or Overflow) buffer is sent to
// non-blockingly and never holds up its siblings.
//
// Grounded on other_examples' DataDog pkg/logs/sender/worker.go: that
// file's worker loop blocks the pipeline on reliable destinations'
// (blocking) Send while unreliable destinations get a NonBlockingSend that
// silently drops on failure — generalized here from "reliable vs
// unreliable destination" to "Block vs DropNewest/Overflow output buffer".
// The per-output clone that preserves a shared identity across copies is
// patterned after whitaker-io/machine's ForkDuplicate, which gob-clones a
// Packet list while keeping the original span attached to both halves;
// here EventArray.Clone plays that role, sharing the finalizer handle
// instead of a span.
package fanout

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/vectorflow/conduit/internal/buffer"
	"github.com/vectorflow/conduit/internal/event"
)

// Output is one broadcast destination: a buffer plus whether the fanout
// should block the whole batch on it or fire-and-forget via TrySend.
type Output struct {
	Name     string
	Buffer   buffer.Buffer
	Blocking bool
}

// Fanout broadcasts batches to a dynamic set of named outputs.
type Fanout struct {
	mu      sync.RWMutex
	outputs map[string]*Output
}

// New creates an empty Fanout; outputs are added with Add.
func New() *Fanout {
	return &Fanout{outputs: make(map[string]*Output)}
}

// Add attaches a new output. Safe to call while Send is in flight: the
// change takes effect on the next Send call (spec.md's "hot add/remove at
// batch boundaries").
func (f *Fanout) Add(out *Output) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.outputs[out.Name]; exists {
		return errors.Errorf("fanout: output %q already attached", out.Name)
	}
	f.outputs[out.Name] = out
	return nil
}

// Remove detaches a named output; the underlying buffer is left to the
// caller to Close.
func (f *Fanout) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.outputs, name)
}

// Outputs returns the currently attached output names.
func (f *Fanout) Outputs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.outputs))
	for name := range f.outputs {
		names = append(names, name)
	}
	return names
}

// Send delivers batch to every attached output: each output but the last
// receives a clone, and the last receives batch itself, so the finalizer
// references batch already holds are passed on rather than left
// outstanding. It blocks on Blocking outputs in turn and fires-and-forgets
// at non-blocking ones. It returns the first error from a blocking output;
// non-blocking outputs' own buffer swallows backpressure per their
// configured WhenFull policy (DropNewest/Overflow), so TrySend errors
// there are only propagated when they are not *buffer.FullError.
func (f *Fanout) Send(ctx context.Context, batch event.EventArray) error {
	f.mu.RLock()
	snapshot := make([]*Output, 0, len(f.outputs))
	for _, out := range f.outputs {
		snapshot = append(snapshot, out)
	}
	f.mu.RUnlock()

	for i, out := range snapshot {
		clone := batch
		if i < len(snapshot)-1 {
			clone = batch.Clone()
		}
		if out.Blocking {
			if err := out.Buffer.Send(ctx, clone); err != nil {
				return errors.Wrapf(err, "fanout: output %q", out.Name)
			}
			continue
		}

		if err := out.Buffer.TrySend(clone); err != nil {
			var full *buffer.FullError
			if errors.As(err, &full) {
				continue
			}
			return errors.Wrapf(err, "fanout: output %q", out.Name)
		}
	}
	return nil
}
