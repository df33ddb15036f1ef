// Package escape implements partial escape analysis: allocations are replaced by virtual
// objects tracked field by field and only committed to the heap on the paths where they
// escape.
package escape

import (
	"pea/internal/canon"
	"pea/internal/ir"
)

// Options configures Run.
type Options struct {
	// MaxIterations bounds the number of whole-graph passes.
	MaxIterations int
	// MaxLoopIterations bounds the re-processing of one loop body before every object
	// entering the loop is materialized.
	MaxLoopIterations int
	// VirtualizeArrays enables virtualization of arrays with a constant length.
	VirtualizeArrays bool
	// MaxArrayLength is the largest array length that is virtualized.
	MaxArrayLength int

	// Canonicalize runs after every pass that changed the graph. Nil skips it.
	Canonicalize func(*ir.Graph) error
	// StableArrays reports the elements of arrays whose content never changes. Nil
	// disables constant folding of array reads.
	StableArrays func(g *ir.Graph, arr ir.NodeID) ([]int64, bool)
	// Verify checks the graph after every pass. It must not mutate the graph. Nil skips it.
	Verify func(*ir.Graph) error
}

const (
	defaultMaxIterations     = 2
	defaultMaxLoopIterations = 10
	defaultMaxArrayLength    = 32
)

// DefaultOptions returns the options used by the pipeline when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxIterations:     defaultMaxIterations,
		MaxLoopIterations: defaultMaxLoopIterations,
		VirtualizeArrays:  true,
		MaxArrayLength:    defaultMaxArrayLength,
		Canonicalize:      canon.Canonicalize,
		StableArrays:      ConstantArrays,
		Verify:            ir.Verify,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = defaultMaxIterations
	}
	if o.MaxLoopIterations <= 0 {
		o.MaxLoopIterations = defaultMaxLoopIterations
	}
	if o.MaxArrayLength < 0 {
		o.MaxArrayLength = 0
	}
	return o
}

// ConstantArrays treats array constants as stable.
func ConstantArrays(g *ir.Graph, arr ir.NodeID) ([]int64, bool) {
	n := g.Node(arr)
	if n == nil || n.Op != ir.OpConst || !n.Const.IsArr {
		return nil, false
	}
	return n.Const.Array, true
}

// Result summarizes Run.
type Result struct {
	// Passes is the number of passes run, including a final pass without effects.
	Passes int
	// Virtualized counts removed allocations.
	Virtualized int
	// Materialized counts allocations inserted where virtual objects escape.
	Materialized int
	// Effects counts applied graph mutations.
	Effects int
	// Changed reports whether any pass modified the graph.
	Changed bool
}
