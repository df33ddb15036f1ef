package canon_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"pea/internal/canon"
	"pea/internal/ir"
)

func returned(t *testing.T, g *ir.Graph) *ir.Node {
	t.Helper()
	rets := g.NodesOf(ir.OpReturn)
	if len(rets) != 1 {
		t.Fatalf("returns = %d, want 1", len(rets))
	}
	return g.Node(g.Node(rets[0]).Input(0))
}

func TestFoldsConstantArithmetic(t *testing.T) {
	b := ir.NewBuilder("f", ir.NewUniverse())
	g := b.Graph()
	sum := b.Binary(ir.OpAdd, b.Int(2), b.Int(3))
	prod := b.Binary(ir.OpMul, sum, b.Int(4))
	b.Return(b.Binary(ir.OpSub, prod, b.Int(1)))

	if err := canon.Canonicalize(g); err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	got := returned(t, g)
	if got.Op != ir.OpConst || !got.Const.Equal(ir.IntConst(19)) {
		t.Fatalf("returned %s %s, want const int 19", got.Op, got.Const)
	}
	if n := g.Count(ir.OpAdd) + g.Count(ir.OpMul) + g.Count(ir.OpSub); n != 0 {
		t.Errorf("%d arithmetic nodes left", n)
	}
	if err := ir.Verify(g); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestFoldsComparisons(t *testing.T) {
	tests := []struct {
		name string
		op   ir.Op
		x, y ir.Const
		want bool
	}{
		{"eq ints", ir.OpEq, ir.IntConst(1), ir.IntConst(1), true},
		{"lt ints", ir.OpLt, ir.IntConst(2), ir.IntConst(1), false},
		{"lt floats", ir.OpLt, ir.FloatConst(0.5), ir.FloatConst(1.5), true},
		{"eq bools", ir.OpEq, ir.BoolConst(true), ir.BoolConst(false), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ir.NewBuilder("f", ir.NewUniverse())
			g := b.Graph()
			b.Return(b.Binary(tt.op, b.Const(tt.x), b.Const(tt.y)))
			if err := canon.Canonicalize(g); err != nil {
				t.Fatalf("canonicalize: %v", err)
			}
			got := returned(t, g)
			if got.Op != ir.OpConst || !got.Const.Equal(ir.BoolConst(tt.want)) {
				t.Errorf("returned %s %s, want bool %t", got.Op, got.Const, tt.want)
			}
		})
	}
}

func TestFoldsReferenceTests(t *testing.T) {
	u := ir.NewUniverse()
	pt := &ir.Type{Name: "P", Fields: []ir.Field{{Name: "x", Kind: ir.KindInt}}}
	if err := u.DefineType(pt); err != nil {
		t.Fatal(err)
	}
	s := &ir.Static{Name: "s", Kind: ir.KindObject}

	t.Run("same operand", func(t *testing.T) {
		b := ir.NewBuilder("f", u)
		g := b.Graph()
		x := b.Param("x", ir.KindObject)
		b.Return(b.Binary(ir.OpRefEq, x, x))
		if err := canon.Canonicalize(g); err != nil {
			t.Fatal(err)
		}
		if got := returned(t, g); !got.Const.Equal(ir.BoolConst(true)) {
			t.Errorf("refeq(x, x) = %s, want true", got.Const)
		}
	})
	t.Run("allocation against null", func(t *testing.T) {
		b := ir.NewBuilder("f", u)
		g := b.Graph()
		obj := b.New(pt)
		b.StoreStatic(s, obj)
		b.Return(b.Binary(ir.OpRefEq, obj, b.Null()))
		if err := canon.Canonicalize(g); err != nil {
			t.Fatal(err)
		}
		if got := returned(t, g); !got.Const.Equal(ir.BoolConst(false)) {
			t.Errorf("refeq(new, null) = %s, want false", got.Const)
		}
	})
	t.Run("isnull of allocation", func(t *testing.T) {
		b := ir.NewBuilder("f", u)
		g := b.Graph()
		obj := b.New(pt)
		b.StoreStatic(s, obj)
		b.Return(b.IsNull(obj))
		if err := canon.Canonicalize(g); err != nil {
			t.Fatal(err)
		}
		if got := returned(t, g); !got.Const.Equal(ir.BoolConst(false)) {
			t.Errorf("isnull(new) = %s, want false", got.Const)
		}
	})
	t.Run("parameters stay", func(t *testing.T) {
		b := ir.NewBuilder("f", u)
		g := b.Graph()
		x := b.Param("x", ir.KindObject)
		y := b.Param("y", ir.KindObject)
		b.Return(b.Binary(ir.OpRefEq, x, y))
		if err := canon.Canonicalize(g); err != nil {
			t.Fatal(err)
		}
		if got := returned(t, g); got.Op != ir.OpRefEq {
			t.Errorf("refeq(x, y) became %s", got.Op)
		}
	})
}

func TestRemovesRedundantPhi(t *testing.T) {
	b := ir.NewBuilder("f", ir.NewUniverse())
	g := b.Graph()
	c := b.Param("c", ir.KindBool)
	x := b.Param("x", ir.KindInt)
	tb, fb := b.If(c)
	b.At(tb)
	e1 := b.End()
	b.At(fb)
	e2 := b.End()
	m := b.Merge(e1, e2)
	p := b.Phi(m, ir.KindInt, x, x)
	b.Return(p)

	if err := canon.Canonicalize(g); err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if got := returned(t, g); got.ID != x {
		t.Errorf("returned node %d, want parameter %d", got.ID, x)
	}
	if g.Node(p) != nil {
		t.Errorf("phi %d survived", p)
	}
	if err := ir.Verify(g); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestRemovesSelfReferencingLoopPhi(t *testing.T) {
	b := ir.NewBuilder("f", ir.NewUniverse())
	g := b.Graph()
	x := b.Param("x", ir.KindInt)
	c := b.Param("c", ir.KindBool)
	fwd := b.End()
	loop := b.LoopBegin(fwd)
	p := b.Phi(loop, ir.KindInt, x)
	tb, fb := b.If(c)
	b.At(tb)
	b.LoopEnd(loop)
	b.AddPhiInput(p, p)
	b.At(fb)
	b.Return(p)

	if err := canon.Canonicalize(g); err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if got := returned(t, g); got.ID != x {
		t.Errorf("returned node %d, want parameter %d", got.ID, x)
	}
	if err := ir.Verify(g); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestForwardsUnboxOfBox(t *testing.T) {
	b := ir.NewBuilder("f", ir.NewUniverse())
	g := b.Graph()
	x := b.Param("x", ir.KindInt)
	box := b.Box(ir.KindInt, x)
	b.Return(b.Unbox(ir.KindInt, box))

	if err := canon.Canonicalize(g); err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if got := returned(t, g); got.ID != x {
		t.Errorf("returned node %d, want parameter %d", got.ID, x)
	}
	counts := map[string]int{"box": g.Count(ir.OpBox), "unbox": g.Count(ir.OpUnbox)}
	if diff := cmp.Diff(map[string]int{"box": 0, "unbox": 0}, counts); diff != "" {
		t.Errorf("node counts (-want +got):\n%s", diff)
	}
	if err := ir.Verify(g); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestKeepsObservableAllocations(t *testing.T) {
	u := ir.NewUniverse()
	final := &ir.Type{Name: "F", Final: true}
	if err := u.DefineType(final); err != nil {
		t.Fatal(err)
	}
	b := ir.NewBuilder("f", u)
	g := b.Graph()
	n := b.Param("n", ir.KindInt)
	b.New(final)
	b.NewArray(ir.KindInt, n)
	b.NewArray(ir.KindInt, b.Int(-1))
	b.NewArray(ir.KindInt, b.Int(4))
	b.Return(ir.NoNode)

	if err := canon.Canonicalize(g); err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	counts := map[string]int{"new": g.Count(ir.OpNew), "newarray": g.Count(ir.OpNewArray)}
	if diff := cmp.Diff(map[string]int{"new": 1, "newarray": 2}, counts); diff != "" {
		t.Errorf("node counts (-want +got):\n%s", diff)
	}
}
