// Package memory implements the non-durable, bounded-FIFO buffer used for
// intra-process edges where no disk persistence is configured. It satisfies
// the same buffer.Buffer contract as internal/buffer/disk, minus the ledger
// and data files.
//
// Grounded on internal/memtable/skiplist.go's locking discipline: one
// sync.RWMutex guarding the structure, readers and writers briefly holding
// the lock around the actual slice mutation. The ordering structure itself
// (skip list, for sorted key lookups) doesn't fit a FIFO queue, so it is
// replaced here by a circular slice of fixed capacity, but the "hold the
// lock only across the mutation itself" shape carries over directly.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/vectorflow/conduit/internal/buffer"
	"github.com/vectorflow/conduit/internal/event"
)

// Buffer is a fixed-capacity ring of EventArray batches.
type Buffer struct {
	mu       sync.RWMutex
	ring     []event.EventArray
	head     int // index of the oldest unread batch
	size     int // number of occupied slots
	capacity int

	whenFull buffer.WhenFull
	overflow buffer.Buffer

	writerNotify *buffer.Notifier // tripped when room frees up (Next consumes a slot)
	readerNotify *buffer.Notifier // tripped when a batch is enqueued

	dropped atomic.Int64
	closed  atomic.Bool
}

// Options configures a memory buffer.
type Options struct {
	// MaxEvents bounds the number of batches the ring holds (spec.md's
	// max_events, applied per-batch rather than per-event: one TrySend call
	// occupies exactly one ring slot regardless of its batch size).
	MaxEvents int
	WhenFull  buffer.WhenFull
	// Overflow is required when WhenFull == buffer.Overflow.
	Overflow buffer.Buffer
}

var _ buffer.Buffer = (*Buffer)(nil)

// New creates a ring-buffer FIFO of the configured capacity.
func New(opts Options) (*Buffer, error) {
	if opts.MaxEvents <= 0 {
		return nil, errors.New("memory buffer: max_events must be positive")
	}
	if opts.WhenFull == buffer.Overflow && opts.Overflow == nil {
		return nil, errors.New("memory buffer: when_full=overflow requires Options.Overflow")
	}
	return &Buffer{
		ring:         make([]event.EventArray, opts.MaxEvents),
		capacity:     opts.MaxEvents,
		whenFull:     opts.WhenFull,
		overflow:     opts.Overflow,
		writerNotify: buffer.NewNotifier(),
		readerNotify: buffer.NewNotifier(),
	}, nil
}

// TrySend enqueues batch without blocking, applying the configured
// WhenFull policy once the ring is at capacity.
func (b *Buffer) TrySend(batch event.EventArray) error {
	if b.closed.Load() {
		return errors.New("memory buffer: closed")
	}

	b.mu.Lock()
	if b.size == b.capacity {
		b.mu.Unlock()
		switch b.whenFull {
		case buffer.DropNewest:
			b.dropped.Add(1)
			return nil
		case buffer.Overflow:
			return b.overflow.TrySend(batch)
		default:
			return &buffer.FullError{Batch: batch}
		}
	}

	tail := (b.head + b.size) % b.capacity
	b.ring[tail] = batch
	b.size++
	b.mu.Unlock()

	b.readerNotify.Trip()
	return nil
}

// Send blocks until batch is accepted, honoring ctx cancellation.
func (b *Buffer) Send(ctx context.Context, batch event.EventArray) error {
	for {
		err := b.TrySend(batch)
		if err == nil {
			return nil
		}
		var full *buffer.FullError
		if !errors.As(err, &full) {
			return err
		}
		if werr := b.writerNotify.Wait(ctx); werr != nil {
			return werr
		}
	}
}

// Flush is a no-op: the memory buffer has nothing to force to durable
// storage. It still wakes the reader, mirroring the disk buffer's contract.
func (b *Buffer) Flush() error {
	b.readerNotify.Trip()
	return nil
}

// Next blocks until a batch is available and returns it as it was sent,
// with the finalizer handles it already carried: an in-memory buffer has no
// ledger accounting to reconcile, so it attaches no finalizer of its own.
func (b *Buffer) Next(ctx context.Context) (event.EventArray, error) {
	for {
		b.mu.Lock()
		if b.size > 0 {
			batch := b.ring[b.head]
			b.ring[b.head] = event.EventArray{}
			b.head = (b.head + 1) % b.capacity
			b.size--
			b.mu.Unlock()

			b.writerNotify.Trip()
			return batch, nil
		}
		b.mu.Unlock()

		if err := b.readerNotify.Wait(ctx); err != nil {
			return event.EventArray{}, err
		}
	}
}

// Dropped returns the number of batches discarded under the DropNewest
// policy.
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}

// Close marks the buffer closed; outstanding batches in the ring are
// discarded, matching the no-durability contract (spec.md §4.4: "no
// durability; no ledger").
func (b *Buffer) Close() error {
	b.closed.Store(true)
	return nil
}
