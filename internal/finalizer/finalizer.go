// Package finalizer implements the per-event acknowledgement graph: a node
// tracks how many live handles an event has outstanding and aggregates the
// strongest terminal status across all of them, notifying the originating
// source exactly once when the last handle is released.
//
// A Node keeps its status and live-handle count under one mutex and closes
// a channel exactly once when the last handle is released; there is no
// dynamic dispatch on this path.
package finalizer

import "sync"

// Status is a point in the delivery-status lattice. Aggregation always keeps
// the strongest status observed so far.
type Status uint8

const (
	// Delivered is the weakest status: the event reached its sink.
	Delivered Status = iota
	// Errored means the sink failed in a way the source should retry.
	Errored
	// Rejected means the sink permanently refused the event.
	Rejected
	// Dropped is the strongest status, and the zero-value default: the
	// event was never acknowledged (shutdown, crash, or explicit drop).
	Dropped
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Errored:
		return "errored"
	case Rejected:
		return "rejected"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// combine returns the stronger of two statuses per the lattice order
// Delivered < Errored < Rejected < Dropped.
func combine(a, b Status) Status {
	if a > b {
		return a
	}
	return b
}

// Node is the aggregation point for one event's handles. It is protected by
// one fine-grained lock; status aggregation is brief, so a mutex (not a
// lock-free CAS loop) is the right tool here.
type Node struct {
	mu     sync.Mutex
	count  int
	status Status
	// reported is set once any handle has released with a status; until
	// then status holds the Dropped placeholder.
	reported bool
	done     chan struct{}
}

// NewNode creates a node with one live handle. Its status reads Dropped
// until the first handle releases with a status of its own.
func NewNode() *Node {
	return &Node{
		count:  1,
		status: Dropped,
		done:   make(chan struct{}),
	}
}

// Done returns the channel that closes when the aggregated status is final.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Status returns the current aggregated status. Only meaningful to read
// after Done() has closed; reading earlier returns a provisional value.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// addRef increments the live-handle count. Called by Handle.Clone.
func (n *Node) addRef() {
	n.mu.Lock()
	n.count++
	n.mu.Unlock()
}

// update combines status into the node's aggregate and, if this was the
// last live handle, closes the notification channel. The first reported
// status replaces the Dropped placeholder; later ones combine with it.
func (n *Node) update(status Status) {
	n.mu.Lock()
	if n.reported {
		n.status = combine(n.status, status)
	} else {
		n.status = status
		n.reported = true
	}
	n.count--
	last := n.count == 0
	n.mu.Unlock()

	if last {
		close(n.done)
	}
}

// Handle is a thin reference to a Node. Sources create one with count=1;
// each clone performed by a Fanout bumps the Node's ref count rather than
// allocating an independent node, so acknowledgement converges on a single
// terminal status per spec invariant 5 (finalizer convergence).
type Handle struct {
	node *Node
}

// NewHandle creates a fresh Node and wraps it.
func NewHandle() Handle {
	return Handle{node: NewNode()}
}

// Clone returns a new Handle referencing the same Node, incrementing its
// live-handle count. This is what a Fanout's batch clone calls for each
// event, for every output but the last.
func (h Handle) Clone() Handle {
	if h.node == nil {
		return h
	}
	h.node.addRef()
	return h
}

// Release records status for this handle and drops its reference. When the
// last handle referencing the node releases, the node's Done channel closes
// with the combined status available via Node().Status().
func (h Handle) Release(status Status) {
	if h.node == nil {
		return
	}
	h.node.update(status)
}

// Node exposes the underlying aggregation node, e.g. so a source can await
// Done() and read the final Status.
func (h Handle) Node() *Node {
	return h.node
}

// IsZero reports whether this handle was never attached to a node (sources
// that don't support acknowledgement never create one).
func (h Handle) IsZero() bool {
	return h.node == nil
}
