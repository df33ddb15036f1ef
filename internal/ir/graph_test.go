package ir_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pea/internal/ir"
)

func pointType() *ir.Type {
	return &ir.Type{Name: "Point", Fields: []ir.Field{{Name: "x", Kind: ir.KindInt}, {Name: "y", Kind: ir.KindInt}}}
}

func TestGraphUsagesFollowInputs(t *testing.T) {
	b := ir.NewBuilder("f", ir.NewUniverse())
	g := b.Graph()
	x := b.Param("x", ir.KindInt)
	one := b.Int(1)
	sum := b.Binary(ir.OpAdd, x, one)
	twice := b.Binary(ir.OpAdd, sum, sum)
	b.Return(twice)

	if got := g.UsageCount(sum); got != 2 {
		t.Fatalf("usages of sum = %d, want 2", got)
	}
	g.SetInput(twice, 1, one)
	if diff := cmp.Diff([]ir.NodeID{twice}, g.Usages(sum)); diff != "" {
		t.Errorf("usages of sum (-want +got):\n%s", diff)
	}
	g.ReplaceAtUsages(one, x)
	if got := g.UsageCount(one); got != 0 {
		t.Errorf("usages of one after replace = %d, want 0", got)
	}
	if err := ir.Verify(g); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestInsertBeforeAndUnlink(t *testing.T) {
	u := ir.NewUniverse()
	pt := pointType()
	if err := u.DefineType(pt); err != nil {
		t.Fatal(err)
	}
	b := ir.NewBuilder("f", u)
	g := b.Graph()
	obj := b.New(pt)
	ret := b.Return(obj)

	store := g.Add(&ir.Node{Op: ir.OpStoreField, Type: pt, Index: 0, Inputs: []ir.NodeID{obj, b.Int(3)}})
	if err := g.InsertBefore(ret, store); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if g.Node(obj).Next != store || g.Node(store).Next != ret || g.Node(ret).Pred != store {
		t.Fatalf("store not linked between allocation and return")
	}
	if err := g.InsertBefore(ret, store); err == nil {
		t.Errorf("inserting a linked node succeeded")
	}
	if err := g.Unlink(store); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if g.Node(obj).Next != ret {
		t.Errorf("chain not restored after unlink")
	}
}

func TestSweepCascadesThroughUnusedFloating(t *testing.T) {
	b := ir.NewBuilder("f", ir.NewUniverse())
	g := b.Graph()
	pt := pointType()
	obj := b.New(pt)
	load := b.LoadField(pt, "x", obj)
	cmpNode := b.Binary(ir.OpEq, load, b.Int(0))
	b.Return(b.Int(1))

	if err := g.Unlink(load); err != nil {
		t.Fatal(err)
	}
	g.Kill(load)
	if err := g.Unlink(obj); err != nil {
		t.Fatal(err)
	}
	g.Kill(obj)
	if err := g.Sweep(); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	for _, id := range []ir.NodeID{obj, load, cmpNode} {
		if g.Node(id) != nil {
			t.Errorf("node %d survived sweep", id)
		}
	}
	if err := ir.Verify(g); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestSweepReportsKilledNodeInUse(t *testing.T) {
	b := ir.NewBuilder("f", ir.NewUniverse())
	g := b.Graph()
	obj := b.New(pointType())
	b.Return(obj)

	if err := g.Unlink(obj); err != nil {
		t.Fatal(err)
	}
	g.Kill(obj)
	err := g.Sweep()
	if !errors.Is(err, ir.ErrInconsistent) {
		t.Fatalf("sweep error = %v, want ErrInconsistent", err)
	}
}

func TestPhisAndMergeOf(t *testing.T) {
	b := ir.NewBuilder("f", ir.NewUniverse())
	g := b.Graph()
	c := b.Param("c", ir.KindBool)
	tb, fb := b.If(c)
	b.At(tb)
	e1 := b.End()
	b.At(fb)
	e2 := b.End()
	m := b.Merge(e1, e2)
	p := b.Phi(m, ir.KindInt, b.Int(1), b.Int(2))
	b.Return(p)

	if got := g.MergeOf(e2); got != m {
		t.Errorf("MergeOf(e2) = %d, want %d", got, m)
	}
	if diff := cmp.Diff([]ir.NodeID{p}, g.Phis(m)); diff != "" {
		t.Errorf("phis (-want +got):\n%s", diff)
	}
	if err := ir.Verify(g); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyReportsBrokenPhi(t *testing.T) {
	b := ir.NewBuilder("f", ir.NewUniverse())
	g := b.Graph()
	c := b.Param("c", ir.KindBool)
	tb, fb := b.If(c)
	b.At(tb)
	e1 := b.End()
	b.At(fb)
	e2 := b.End()
	m := b.Merge(e1, e2)
	p := b.Phi(m, ir.KindInt, b.Int(1))
	b.Return(p)

	if err := ir.Verify(g); !errors.Is(err, ir.ErrInconsistent) {
		t.Fatalf("verify = %v, want ErrInconsistent", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	b := ir.NewBuilder("f", ir.NewUniverse())
	g := b.Graph()
	x := b.Param("x", ir.KindInt)
	one := b.Int(1)
	sum := b.Binary(ir.OpAdd, x, one)
	dead := b.Binary(ir.OpMul, x, x)
	b.Return(sum)
	g.RemoveDeadFloating()

	c := g.Clone()
	if c.Node(dead) != nil {
		t.Errorf("deleted node %d reappeared in clone", dead)
	}
	if diff := cmp.Diff(g.Live(), c.Live()); diff != "" {
		t.Errorf("live nodes (-orig +clone):\n%s", diff)
	}
	c.ReplaceAtUsages(sum, x)
	c.RemoveDeadFloating()
	if g.Node(sum) == nil || g.UsageCount(sum) != 1 {
		t.Errorf("editing the clone changed the original")
	}
	for _, h := range []*ir.Graph{g, c} {
		if err := ir.Verify(h); err != nil {
			t.Errorf("verify %s: %v", h.Name, err)
		}
	}
}
