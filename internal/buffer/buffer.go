// Package buffer defines the producer/consumer contract shared by the disk
// buffer (internal/buffer/disk) and the in-memory buffer
// (internal/buffer/memory), plus the when_full backpressure policies and
// the wake-once notifier both implementations park on.
package buffer

import (
	"context"
	"sync"

	"github.com/vectorflow/conduit/internal/event"
	"github.com/vectorflow/conduit/internal/finalizer"
)

// WhenFull selects the producer-side policy applied once a buffer reaches
// its configured capacity.
type WhenFull int

const (
	// Block suspends the producer until the consumer drains room.
	Block WhenFull = iota
	// DropNewest discards the incoming batch and reports it as dropped.
	DropNewest
	// Overflow forwards the batch to a secondary buffer configured at
	// build time.
	Overflow
)

func (w WhenFull) String() string {
	switch w {
	case Block:
		return "block"
	case DropNewest:
		return "drop_newest"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// FullError is returned by TrySend when the buffer is at capacity under the
// Block policy; it carries the rejected batch back to the caller so nothing
// is lost (spec.md: "return the batch as Full; caller awaits a wake from
// the reader").
type FullError struct {
	Batch event.EventArray
}

func (e *FullError) Error() string { return "buffer: full" }

// Buffer is the uniform contract an edge's queue exposes to its producer
// and consumer, implemented by both internal/buffer/disk.Buffer and
// internal/buffer/memory.Buffer.
type Buffer interface {
	// TrySend attempts to enqueue batch without blocking. Under Block it
	// returns *FullError when there is no room; under DropNewest it
	// always succeeds (accounting the drop internally); under Overflow
	// it forwards to the secondary buffer.
	TrySend(batch event.EventArray) error

	// Send blocks (respecting ctx) until batch is accepted under the
	// Block policy, retrying TrySend each time the buffer wakes the
	// producer-side notifier.
	Send(ctx context.Context, batch event.EventArray) error

	// Flush forces any unflushed writes out and wakes the consumer.
	Flush() error

	// Next blocks until a batch is available and returns it. The disk
	// buffer attaches a fresh finalizer that calls back into its ack
	// bookkeeping once every clone downstream resolves; the memory buffer
	// returns the batch with the handles it was sent with.
	Next(ctx context.Context) (event.EventArray, error)

	// Dropped returns the number of batches discarded under DropNewest.
	Dropped() int64

	// Close releases the buffer's resources.
	Close() error
}

// Notifier is a wake-once broadcaster: Wait blocks until the next Trip call
// after Wait began, then returns. It is the Go analogue of the "wake-once
// notifier" spec.md describes the writer and reader parking on.
type Notifier struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewNotifier returns a ready-to-use Notifier.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{})}
}

// Trip wakes every goroutine currently parked in Wait.
func (n *Notifier) Trip() {
	n.mu.Lock()
	old := n.ch
	n.ch = make(chan struct{})
	n.mu.Unlock()
	close(old)
}

// Wait blocks until the next Trip, or until ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	n.mu.Lock()
	ch := n.ch
	n.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AttachRecordFinalizer wires one finalizer handle across every event in
// arr and invokes onResolve with the combined status once the last clone
// downstream releases. This is how a buffer's Next() implements "attaches a
// finalizer handle whose acknowledgement will call back into the buffer's
// ack()" — durability transfers the ack responsibility to the buffer
// (spec.md §4.8), so the handle attached here is new, not the producer's.
func AttachRecordFinalizer(arr *event.EventArray, onResolve func(finalizer.Status)) {
	if len(arr.Events) == 0 {
		return
	}

	head := finalizer.NewHandle()
	arr.Events[0].Metadata.AttachFinalizer(head)
	for i := 1; i < len(arr.Events); i++ {
		arr.Events[i].Metadata.AttachFinalizer(head.Clone())
	}

	go func() {
		<-head.Node().Done()
		onResolve(head.Node().Status())
	}()
}
