// Package router is the public facade over the transport fabric: it wires
// a declarative edge config into a live topology and hands back the two
// things a source/transform/sink ever needs — a named Source channel to
// send into, and a named Edge buffer to consume from — plus a supervisor
// to run their tasks under.
//
// Grounded in shape on pkg/kv/kv.go: a small struct wrapping the heavier
// internal machinery (there lsm.DB, here internal/topology.Topology) behind
// a handful of name-addressed methods and nil/closed checks.
package router

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/vectorflow/conduit/internal/buffer"
	"github.com/vectorflow/conduit/internal/config"
	"github.com/vectorflow/conduit/internal/fanout"
	"github.com/vectorflow/conduit/internal/scheduler"
	"github.com/vectorflow/conduit/internal/sourcechannel"
	"github.com/vectorflow/conduit/internal/topology"
)

// ErrClosed is returned by any Router method once Shutdown has run.
var ErrClosed = errors.New("router: closed")

// ErrUnknownSource is returned by Source for a name no edge references.
var ErrUnknownSource = errors.New("router: unknown source")

// ErrUnknownEdge is returned by Edge for a name no EdgeConfig declared.
var ErrUnknownEdge = errors.New("router: unknown edge")

// Router owns one topology (and the fanouts feeding it) built from a
// config.Config, plus the scheduler.Supervisor that runs component tasks
// against it.
type Router struct {
	mu       sync.RWMutex
	fanouts  map[string]*fanout.Fanout
	channels map[string]*sourcechannel.Channel
	topology *topology.Topology
	sched    *scheduler.Supervisor
	closed   bool
}

// Open builds a Router from cfg: one fanout (and Source channel) per
// distinct edge source name, wired to buffers per cfg.EdgeConfigs() via
// internal/topology.Build. ctx governs the lifetime of component tasks
// spawned through Spawn; cancel it (or call Shutdown) to drain them.
func Open(ctx context.Context, cfg *config.Config) (*Router, error) {
	fanouts := make(map[string]*fanout.Fanout)
	for _, e := range cfg.Edges {
		if _, ok := fanouts[e.Source]; !ok {
			fanouts[e.Source] = fanout.New()
		}
	}

	topo, err := topology.Build(fanouts, cfg.EdgeConfigs())
	if err != nil {
		return nil, errors.Wrap(err, "router: building topology")
	}

	channels := make(map[string]*sourcechannel.Channel, len(fanouts))
	for name, fo := range fanouts {
		ch, err := sourcechannel.New(sourcechannel.Options{Primary: fo})
		if err != nil {
			_ = topo.Close()
			return nil, errors.Wrapf(err, "router: source %q", name)
		}
		channels[name] = ch
	}

	return &Router{
		fanouts:  fanouts,
		channels: channels,
		topology: topo,
		sched:    scheduler.NewSupervisor(ctx),
	}, nil
}

// Source returns the Source channel contract (spec §6: "given a shutdown
// signal and a Source channel, produces EventArrays") registered for name.
func (r *Router) Source(name string) (*sourcechannel.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	ch, ok := r.channels[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSource, "%q", name)
	}
	return ch, nil
}

// Edge returns the consumer-side buffer.Buffer for a named edge, the
// contract a transform or sink task reads its input from (Next) and
// resolves finalizers against.
func (r *Router) Edge(name string) (buffer.Buffer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	buf, ok := r.topology.Buffer(name)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEdge, "%q", name)
	}
	return buf, nil
}

// Edges lists the configured edge names, in build order.
func (r *Router) Edges() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.topology.Edges()
}

// Spawn registers one component task (a source, transform, or sink) with
// the router's supervisor, running it through the Starting -> Running ->
// Draining -> Stopped lifecycle (spec §4.9) against the Router's ctx.
func (r *Router) Spawn(c *scheduler.Component) {
	r.sched.Spawn(c)
}

// ComponentState reports a spawned component's current lifecycle state.
func (r *Router) ComponentState(name string) (scheduler.State, bool) {
	return r.sched.State(name)
}

// Shutdown cancels the supervisor (draining every spawned component per
// its own shutdown deadline), closes every Source channel, and tears down
// the topology's buffers, aggregating every failure rather than stopping
// at the first.
func (r *Router) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, ch := range r.channels {
		ch.Close()
	}
	r.mu.Unlock()

	var result *multierror.Error
	if err := r.sched.Shutdown(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "router: component shutdown"))
	}
	if err := r.topology.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "router: topology close"))
	}
	return result.ErrorOrNil()
}
