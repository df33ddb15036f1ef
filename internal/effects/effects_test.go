package effects_test

import (
	"errors"
	"testing"

	"pea/internal/effects"
	"pea/internal/ir"
)

var boxType = &ir.Type{Name: "Cell", Fields: []ir.Field{{Name: "v", Kind: ir.KindInt}}}

func TestApplyInsertsReplacesAndDeletes(t *testing.T) {
	b := ir.NewBuilder("f", ir.NewUniverse())
	g := b.Graph()
	x := b.Param("x", ir.KindInt)
	obj := b.New(boxType)
	store := b.StoreField(boxType, "v", obj, x)
	load := b.LoadField(boxType, "v", obj)
	ret := b.Return(load)

	p := effects.NewPlan(g)
	s := effects.NewSet(1)
	l := s.Block(0)
	// Replace the allocation with a committed one.
	commit := p.Add(&ir.Node{Op: ir.OpCommitAllocation, Shapes: []ir.Shape{ir.InstanceShape(boxType)}})
	alloc := p.Add(&ir.Node{Op: ir.OpAllocatedObject, Kind: ir.KindObject, Inputs: []ir.NodeID{commit}})
	l.InsertBefore(store, commit)
	l.ReplaceInput(store, 0, alloc)
	l.ReplaceInput(store, 0, alloc)
	l.ReplaceAtUsages(load, x)
	l.Delete(load)
	l.Delete(obj)
	l.Benefit(obj)

	if got := s.Count(); got != 5 {
		t.Errorf("Count = %d, want 5", got)
	}
	st, err := effects.Apply(g, p, s)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if st.Created != 2 || st.Inserted != 1 || st.Deleted != 2 {
		t.Errorf("stats = %+v", st)
	}
	if g.Node(obj) != nil || g.Node(load) != nil {
		t.Errorf("deleted nodes still present")
	}
	if got := g.Node(ret).Input(0); got != x {
		t.Errorf("return input = %d, want %d", got, x)
	}
	if got := g.Count(ir.OpCommitAllocation); got != 1 {
		t.Errorf("commits = %d, want 1", got)
	}
	if err := ir.Verify(g); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestApplyRejectsUnlinkedPlannedFixedNode(t *testing.T) {
	b := ir.NewBuilder("f", ir.NewUniverse())
	g := b.Graph()
	null := b.Null()
	b.Return(null)

	p := effects.NewPlan(g)
	s := effects.NewSet(1)
	commit := p.Add(&ir.Node{Op: ir.OpCommitAllocation, Shapes: []ir.Shape{ir.InstanceShape(boxType)}})
	alloc := p.Add(&ir.Node{Op: ir.OpAllocatedObject, Kind: ir.KindObject, Inputs: []ir.NodeID{commit}})
	// The commit is referenced but never inserted.
	s.Block(0).ReplaceAtUsages(null, alloc)

	if _, err := effects.Apply(g, p, s); !errors.Is(err, ir.ErrInconsistent) {
		t.Fatalf("Apply = %v, want ErrInconsistent", err)
	}
}

func TestPlanResolvesCycles(t *testing.T) {
	b := ir.NewBuilder("f", ir.NewUniverse())
	g := b.Graph()
	loop := b.LoopBegin(b.End())
	b.LoopEnd(loop)

	p := effects.NewPlan(g)
	phi := p.Add(&ir.Node{Op: ir.OpPhi, Kind: ir.KindInt})
	one := p.Add(&ir.Node{Op: ir.OpConst, Kind: ir.KindInt, Const: ir.IntConst(1)})
	p.SetInputs(phi, []ir.NodeID{loop, one, phi})

	id := p.Resolve(phi)
	n := g.Node(id)
	if n == nil || n.Input(2) != id || n.Input(0) != loop {
		t.Fatalf("phi inputs = %v", n.Inputs)
	}
	if again := p.Resolve(phi); again != id {
		t.Errorf("second resolve created %d, want %d", again, id)
	}
	if !p.IsPlanned(one) || p.IsPlanned(loop) {
		t.Errorf("IsPlanned misclassifies ids")
	}
}

func TestResetBlocksKeepsForwardEdge(t *testing.T) {
	s := effects.NewSet(4)
	s.Block(1).Delete(10)
	s.Edge(1, 0).Delete(11)
	s.Edge(1, 1).Delete(12)
	s.Edge(3, 0).Delete(13)

	s.ResetBlocks(1, 2, 0)
	if got := s.Count(); got != 2 {
		t.Errorf("Count after reset = %d, want 2", got)
	}
	if s.Edge(1, 0).Count() != 1 || s.Edge(1, 1).Count() != 0 {
		t.Errorf("wrong edge lists kept")
	}
}
