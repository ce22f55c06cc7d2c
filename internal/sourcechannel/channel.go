// Package sourcechannel is the entry point through which sources hand
// batches to the transport fabric. It is a thin wrapper around one or more
// *fanout.Fanout, in the shape of pkg/kv/kv.go (DB wraps lsm.DB and
// delegates after a nil check): Channel delegates Send/SendBatch to a
// fanout and adds exactly two things a fanout does not do on its own —
// clamping to send_batch_size and attaching the source-side finalizer
// handle to a batch in which no event already carries one.
package sourcechannel

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/vectorflow/conduit/internal/buffer"
	"github.com/vectorflow/conduit/internal/event"
	"github.com/vectorflow/conduit/internal/fanout"
	"github.com/vectorflow/conduit/internal/finalizer"
)

// DefaultSendBatchSize is applied when Options.SendBatchSize is zero.
const DefaultSendBatchSize = 1024

// ErrClosed is returned by Send/SendBatch/Named once Close has run.
var ErrClosed = errors.New("sourcechannel: closed")

// ErrUnknownOutput is returned by Named for a name with no attached fanout.
var ErrUnknownOutput = errors.New("sourcechannel: unknown output")

// Options configures a Channel.
type Options struct {
	// Primary is the fanout used by Send/SendBatch. Required.
	Primary *fanout.Fanout
	// Named holds additional fanouts reachable via Named(name), for
	// sources that expose more than one logical output (e.g. a source
	// that splits metrics and logs onto separate edges).
	Named map[string]*fanout.Fanout
	// SendBatchSize clamps every outgoing array before it reaches the
	// fanout; defaults to DefaultSendBatchSize.
	SendBatchSize int
}

// Channel is multi-producer: sources that spawn per-connection tasks (one
// goroutine per accepted socket, one per scrape target, etc.) call Send
// concurrently on the same *Channel without any coordination of their own.
type Channel struct {
	mu            sync.RWMutex
	primary       *fanout.Fanout
	named         map[string]*fanout.Fanout
	sendBatchSize int
	closed        bool
}

// New builds a Channel around the given fanouts.
func New(opts Options) (*Channel, error) {
	if opts.Primary == nil {
		return nil, errors.New("sourcechannel: Primary fanout is required")
	}
	size := opts.SendBatchSize
	if size <= 0 {
		size = DefaultSendBatchSize
	}
	named := make(map[string]*fanout.Fanout, len(opts.Named))
	for name, f := range opts.Named {
		named[name] = f
	}
	return &Channel{primary: opts.Primary, named: named, sendBatchSize: size}, nil
}

// Send attaches the source-side finalizer (if onAck is non-nil), clamps to
// send_batch_size, and forwards each chunk, in order, to the primary
// fanout. It returns on the first chunk that fails.
func (c *Channel) Send(ctx context.Context, arr event.EventArray, onAck func(finalizer.Status)) error {
	c.mu.RLock()
	closed := c.closed
	primary := c.primary
	size := c.sendBatchSize
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return sendTo(ctx, primary, arr, size, onAck)
}

// SendBatch is a convenience form of Send for callers holding a plain
// []event.Event rather than an already-built EventArray.
func (c *Channel) SendBatch(ctx context.Context, kind event.Kind, events []event.Event, onAck func(finalizer.Status)) error {
	arr, err := event.NewEventArray(kind, events)
	if err != nil {
		return err
	}
	return c.Send(ctx, arr, onAck)
}

// NamedSender scopes Send to one specific named output fanout, for sources
// with more than one logical output.
type NamedSender struct {
	channel *Channel
	fanout  *fanout.Fanout
}

// Named returns a sender scoped to the output registered under name.
func (c *Channel) Named(name string) (*NamedSender, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	f, ok := c.named[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownOutput, "%q", name)
	}
	return &NamedSender{channel: c, fanout: f}, nil
}

// Send forwards to this sender's named fanout, with the same clamping and
// finalizer-attachment behavior as Channel.Send.
func (n *NamedSender) Send(ctx context.Context, arr event.EventArray, onAck func(finalizer.Status)) error {
	n.channel.mu.RLock()
	closed := n.channel.closed
	size := n.channel.sendBatchSize
	n.channel.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return sendTo(ctx, n.fanout, arr, size, onAck)
}

// Close marks the channel closed; outstanding Send calls already past the
// closed check are allowed to finish. The underlying fanouts are left to
// the caller to tear down, same as fanout.Remove leaves buffers to Close.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func sendTo(ctx context.Context, f *fanout.Fanout, arr event.EventArray, sendBatchSize int, onAck func(finalizer.Status)) error {
	if arr.Len() == 0 {
		return nil
	}
	attachSourceFinalizer(&arr, onAck)
	for _, chunk := range arr.Split(sendBatchSize) {
		if err := f.Send(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// attachSourceFinalizer gives every event in arr a handle, if none of them
// already carry one, so that fanout clones downstream all resolve back to
// a single aggregate status for this batch. Reuses
// buffer.AttachRecordFinalizer's wiring: the mechanics (one shared handle,
// resolved once every clone releases) are identical to the record-level
// finalizer a disk buffer attaches on read, just attached one hop earlier
// and driven by the source's own onAck rather than a buffer's ack path.
func attachSourceFinalizer(arr *event.EventArray, onAck func(finalizer.Status)) {
	if onAck == nil {
		return
	}
	for i := range arr.Events {
		if !arr.Events[i].Metadata.Finalizer().IsZero() {
			return
		}
	}
	buffer.AttachRecordFinalizer(arr, onAck)
}
