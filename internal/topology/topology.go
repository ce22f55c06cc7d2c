// Package topology wires edges (spec.md §4.7: the triple of fanout output,
// buffer, and downstream input) into a running graph.
//
// Build mirrors internal/lsm/db.go's Open: durable state (here, each disk
// buffer's recovery scan) is loaded before anything is wired live, edges
// are built sequentially so a later edge's "overflow(next_buffer)" can
// reference an earlier one by name, and any failure partway through tears
// down everything already opened rather than leaking file handles.
package topology

import (
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/vectorflow/conduit/internal/buffer"
	"github.com/vectorflow/conduit/internal/buffer/disk"
	"github.com/vectorflow/conduit/internal/buffer/memory"
	"github.com/vectorflow/conduit/internal/fanout"
)

// BufferType selects which buffer.Buffer implementation backs an edge.
type BufferType string

const (
	BufferMemory BufferType = "memory"
	BufferDisk   BufferType = "disk"
)

// WhenFull mirrors buffer.WhenFull as the string spelling used in
// configuration: "block", "drop_newest", or "overflow" (the overflow target
// is named separately, in BufferSpec.Overflow).
type WhenFull string

const (
	WhenFullBlock      WhenFull = "block"
	WhenFullDropNewest WhenFull = "drop_newest"
	WhenFullOverflow   WhenFull = "overflow"
)

func (w WhenFull) toBufferWhenFull() (buffer.WhenFull, error) {
	switch w {
	case "", WhenFullBlock:
		return buffer.Block, nil
	case WhenFullDropNewest:
		return buffer.DropNewest, nil
	case WhenFullOverflow:
		return buffer.Overflow, nil
	default:
		return 0, errors.Errorf("topology: unknown when_full %q", w)
	}
}

// BufferSpec describes one edge's buffer per spec.md §6's configuration
// table.
type BufferSpec struct {
	Type BufferType

	// MaxEvents bounds a memory buffer's queue length.
	MaxEvents int

	// MaxSize is the disk buffer's soft byte cap on live data
	// (ledger.TotalBufferBytes).
	MaxSize int64
	// MaxDataFileSize rotates the writer's active data file; zero uses
	// disk.DefaultMaxDataFileSize.
	MaxDataFileSize int64
	// MaxRecordSize bounds a single encoded record; zero uses
	// disk.DefaultMaxRecordSize.
	MaxRecordSize int64
	// DataDir is the disk buffer's parent directory.
	DataDir string
	// ID names the disk buffer's subdirectory; defaults to the owning
	// edge's Name.
	ID string

	WhenFull WhenFull
	// Overflow names the edge whose buffer absorbs rejected batches when
	// WhenFull is "overflow". That edge must already be built, so declare
	// it earlier in the Edges slice passed to Build.
	Overflow string
}

// EdgeConfig describes one edge: the upstream fanout output it attaches to
// and the buffer that sits on it.
type EdgeConfig struct {
	// Name identifies the edge; used as the default disk subdirectory and
	// as the name other edges reference via BufferSpec.Overflow.
	Name string
	// Source names the upstream *fanout.Fanout this edge attaches to, out
	// of the fanouts map passed to Build.
	Source string
	// Output is the name this edge registers on that fanout.
	Output string

	Buffer BufferSpec
}

// Edge is a built, wired edge: its buffer, ready for the downstream
// component to read from via Buffer.Next.
type Edge struct {
	Name   string
	Buffer buffer.Buffer

	source string // owning fanout name, for Close to detach the output
	output string
}

// Topology holds every built edge, keyed by name, plus the fanouts they
// were wired onto.
type Topology struct {
	fanouts map[string]*fanout.Fanout
	edges   map[string]*Edge
	order   []string // build order, for Close to tear down newest-first
}

// Build wires every edge in cfgs, in order, onto the fanouts named by each
// edge's Source. An edge with WhenFull "overflow" may reference any
// earlier edge's buffer by name. On any failure, every edge built so far
// is closed before returning the error.
func Build(fanouts map[string]*fanout.Fanout, cfgs []EdgeConfig) (*Topology, error) {
	t := &Topology{
		fanouts: fanouts,
		edges:   make(map[string]*Edge, len(cfgs)),
	}

	for _, cfg := range cfgs {
		if err := t.buildEdge(cfg); err != nil {
			_ = t.Close()
			return nil, errors.Wrapf(err, "topology: edge %q", cfg.Name)
		}
	}
	return t, nil
}

func (t *Topology) buildEdge(cfg EdgeConfig) error {
	if cfg.Name == "" {
		return errors.New("edge Name is required")
	}
	if _, exists := t.edges[cfg.Name]; exists {
		return errors.Errorf("duplicate edge name %q", cfg.Name)
	}
	fo, ok := t.fanouts[cfg.Source]
	if !ok {
		return errors.Errorf("source fanout %q not found", cfg.Source)
	}

	buf, err := t.buildBuffer(cfg)
	if err != nil {
		return err
	}

	whenFull, err := cfg.Buffer.WhenFull.toBufferWhenFull()
	if err != nil {
		return err
	}
	if err := fo.Add(&fanout.Output{Name: cfg.Output, Buffer: buf, Blocking: whenFull == buffer.Block}); err != nil {
		_ = buf.Close()
		return err
	}

	t.edges[cfg.Name] = &Edge{Name: cfg.Name, Buffer: buf, source: cfg.Source, output: cfg.Output}
	t.order = append(t.order, cfg.Name)
	return nil
}

func (t *Topology) buildBuffer(cfg EdgeConfig) (buffer.Buffer, error) {
	whenFull, err := cfg.Buffer.WhenFull.toBufferWhenFull()
	if err != nil {
		return nil, err
	}

	var overflow buffer.Buffer
	if whenFull == buffer.Overflow {
		target, ok := t.edges[cfg.Buffer.Overflow]
		if !ok {
			return nil, errors.Errorf("overflow target %q must be built before edge %q", cfg.Buffer.Overflow, cfg.Name)
		}
		overflow = target.Buffer
	}

	switch cfg.Buffer.Type {
	case BufferMemory:
		return memory.New(memory.Options{
			MaxEvents: cfg.Buffer.MaxEvents,
			WhenFull:  whenFull,
			Overflow:  overflow,
		})
	case BufferDisk:
		id := cfg.Buffer.ID
		if id == "" {
			id = cfg.Name
		}
		return disk.Open(disk.Options{
			Dir:             filepath.Join(cfg.Buffer.DataDir, id),
			MaxBufferSize:   cfg.Buffer.MaxSize,
			MaxDataFileSize: cfg.Buffer.MaxDataFileSize,
			MaxRecordSize:   cfg.Buffer.MaxRecordSize,
			WhenFull:        whenFull,
			Overflow:        overflow,
		})
	default:
		return nil, errors.Errorf("unknown buffer type %q", cfg.Buffer.Type)
	}
}

// Buffer returns the named edge's buffer, for wiring to its downstream
// component's input.
func (t *Topology) Buffer(name string) (buffer.Buffer, bool) {
	e, ok := t.edges[name]
	if !ok {
		return nil, false
	}
	return e.Buffer, true
}

// Edges returns every built edge name, in build order.
func (t *Topology) Edges() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Close detaches every built edge from its fanout and closes its buffer,
// newest-first (so an edge never outlives the overflow target it may still
// be forwarding to), aggregating every failure.
func (t *Topology) Close() error {
	var result *multierror.Error
	for i := len(t.order) - 1; i >= 0; i-- {
		name := t.order[i]
		e := t.edges[name]
		if fo, ok := t.fanouts[e.source]; ok {
			fo.Remove(e.output)
		}
		if err := e.Buffer.Close(); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "edge %q", name))
		}
	}
	return result.ErrorOrNil()
}
