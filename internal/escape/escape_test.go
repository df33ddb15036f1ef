package escape_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"pea/internal/escape"
	"pea/internal/ir"
	"pea/internal/trace"
)

type fixture struct {
	u     *ir.Universe
	point  *ir.Type
	final  *ir.Type
	holder *ir.Type
	sink   *ir.Static
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		u:      ir.NewUniverse(),
		point:  &ir.Type{Name: "Point", Fields: []ir.Field{{Name: "x", Kind: ir.KindInt}, {Name: "y", Kind: ir.KindInt}}},
		final:  &ir.Type{Name: "Guarded", Fields: []ir.Field{{Name: "x", Kind: ir.KindInt}}, Final: true},
		holder: &ir.Type{Name: "Holder", Fields: []ir.Field{{Name: "ref", Kind: ir.KindObject}}},
		sink:   &ir.Static{Name: "sink", Kind: ir.KindObject},
	}
	for _, ty := range []*ir.Type{f.point, f.final, f.holder} {
		if err := f.u.DefineType(ty); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.u.DefineStatic(f.sink); err != nil {
		t.Fatal(err)
	}
	return f
}

func run(t *testing.T, g *ir.Graph, opts escape.Options) escape.Result {
	t.Helper()
	res, err := escape.Run(context.Background(), g, opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := ir.Verify(g); err != nil {
		t.Fatalf("verify after run: %v", err)
	}
	return res
}

func returned(t *testing.T, g *ir.Graph) *ir.Node {
	t.Helper()
	rets := g.NodesOf(ir.OpReturn)
	if len(rets) != 1 {
		t.Fatalf("returns = %d, want 1", len(rets))
	}
	return g.Node(g.Node(rets[0]).Input(0))
}

func counts(g *ir.Graph, ops ...ir.Op) map[string]int {
	out := make(map[string]int, len(ops))
	for _, op := range ops {
		out[op.String()] = g.Count(op)
	}
	return out
}

var ignoreEffects = cmpopts.IgnoreFields(escape.Result{}, "Effects")

func TestScalarReplacement(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	a := b.Param("a", ir.KindInt)
	p := b.New(f.point)
	b.StoreField(f.point, "x", p, a)
	b.Return(b.LoadField(f.point, "x", p))

	res := run(t, g, escape.DefaultOptions())
	want := escape.Result{Passes: 2, Virtualized: 1, Changed: true}
	if diff := cmp.Diff(want, res, ignoreEffects); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}
	if got := returned(t, g); got.ID != a {
		t.Errorf("returned node %d (%s), want parameter %d", got.ID, got.Op, a)
	}
	wantCounts := map[string]int{"new": 0, "store": 0, "load": 0}
	if diff := cmp.Diff(wantCounts, counts(g, ir.OpNew, ir.OpStoreField, ir.OpLoadField)); diff != "" {
		t.Errorf("node counts (-want +got):\n%s", diff)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	a := b.Param("a", ir.KindInt)
	p := b.New(f.point)
	b.StoreField(f.point, "y", p, a)
	b.Return(b.LoadField(f.point, "y", p))

	run(t, g, escape.DefaultOptions())
	before := g.Live()
	res := run(t, g, escape.DefaultOptions())
	if res.Changed {
		t.Errorf("second run changed the graph: %+v", res)
	}
	if diff := cmp.Diff(before, g.Live()); diff != "" {
		t.Errorf("live nodes after second run (-want +got):\n%s", diff)
	}
}

func TestBoxMovesIntoEscapingBranch(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	x := b.Param("x", ir.KindInt)
	c := b.Param("c", ir.KindBool)
	box := b.Box(ir.KindInt, x)
	tb, fb := b.If(c)
	b.At(tb)
	put := b.StoreStatic(f.sink, box)
	e1 := b.End()
	b.At(fb)
	e2 := b.End()
	b.Merge(e1, e2)
	b.Return(ir.NoNode)

	res := run(t, g, escape.DefaultOptions())
	want := escape.Result{Passes: 2, Virtualized: 1, Materialized: 1, Changed: true}
	if diff := cmp.Diff(want, res, ignoreEffects); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}

	boxes := g.NodesOf(ir.OpBox)
	if len(boxes) != 1 {
		t.Fatalf("boxes = %d, want 1", len(boxes))
	}
	moved := g.Node(boxes[0])
	if moved.Pred != tb || moved.Next != put {
		t.Errorf("box linked %d -> box -> %d, want %d -> box -> %d", moved.Pred, moved.Next, tb, put)
	}
	if got := g.Node(put).Input(0); got != moved.ID {
		t.Errorf("static store writes %d, want box %d", got, moved.ID)
	}
	if moved.Input(0) != x {
		t.Errorf("box holds %d, want parameter %d", moved.Input(0), x)
	}

	if res := run(t, g, escape.DefaultOptions()); res.Changed {
		t.Errorf("rerun changed the graph: %+v", res)
	}
}

func TestObjectCommittedWhereItEscapes(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	x := b.Param("x", ir.KindInt)
	c := b.Param("c", ir.KindBool)
	p := b.New(f.point)
	b.StoreField(f.point, "x", p, x)
	tb, fb := b.If(c)
	b.At(tb)
	put := b.StoreStatic(f.sink, p)
	e1 := b.End()
	b.At(fb)
	e2 := b.End()
	b.Merge(e1, e2)
	b.Return(ir.NoNode)

	run(t, g, escape.DefaultOptions())
	wantCounts := map[string]int{"new": 0, "commit": 1, "allocated": 1, "store": 1}
	if diff := cmp.Diff(wantCounts, counts(g, ir.OpNew, ir.OpCommitAllocation, ir.OpAllocatedObject, ir.OpStoreField)); diff != "" {
		t.Fatalf("node counts (-want +got):\n%s", diff)
	}
	commit := g.Node(g.NodesOf(ir.OpCommitAllocation)[0])
	store := g.Node(g.NodesOf(ir.OpStoreField)[0])
	if commit.Pred != tb || commit.Next != store.ID || store.Next != put {
		t.Errorf("branch order is not begin, commit, store, static store")
	}
	if diff := cmp.Diff([]ir.Shape{ir.InstanceShape(f.point)}, commit.Shapes); diff != "" {
		t.Errorf("commit shapes (-want +got):\n%s", diff)
	}
	ref := g.Node(g.Node(put).Input(0))
	if ref.Op != ir.OpAllocatedObject || ref.Input(0) != commit.ID {
		t.Errorf("static store writes %s, want the committed object", ref.Op)
	}
	if store.Input(0) != ref.ID || store.Input(1) != x {
		t.Errorf("store inputs = %v, want [%d %d]", store.Inputs, ref.ID, x)
	}
}

func TestEscapingUsesCommitInTheirBranch(t *testing.T) {
	tests := []struct {
		name string
		// use publishes p inside the taken branch and returns the using node and the
		// input slot that holds p.
		use     func(b *ir.Builder, f *fixture, p, other ir.NodeID) (ir.NodeID, int)
		returns bool
	}{
		{
			name: "call argument",
			use: func(b *ir.Builder, f *fixture, p, other ir.NodeID) (ir.NodeID, int) {
				return b.Invoke("use", ir.KindVoid, other, p), 1
			},
		},
		{
			name: "return value",
			use: func(b *ir.Builder, f *fixture, p, other ir.NodeID) (ir.NodeID, int) {
				return b.Return(p), 0
			},
			returns: true,
		},
		{
			name: "monitor",
			use: func(b *ir.Builder, f *fixture, p, other ir.NodeID) (ir.NodeID, int) {
				enter := b.MonitorEnter(p)
				b.MonitorExit(p)
				return enter, 0
			},
		},
		{
			name: "field of a real object",
			use: func(b *ir.Builder, f *fixture, p, other ir.NodeID) (ir.NodeID, int) {
				return b.StoreField(f.holder, "ref", other, p), 1
			},
		},
		{
			name: "array element",
			use: func(b *ir.Builder, f *fixture, p, other ir.NodeID) (ir.NodeID, int) {
				return b.StoreIndexed(ir.KindObject, other, b.Int(0), p), 2
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			b := ir.NewBuilder("f", f.u)
			g := b.Graph()
			x := b.Param("x", ir.KindInt)
			c := b.Param("c", ir.KindBool)
			other := b.Param("other", ir.KindObject)
			p := b.New(f.point)
			b.StoreField(f.point, "x", p, x)
			tb, fb := b.If(c)
			b.At(tb)
			use, slot := tt.use(b, f, p, other)
			if tt.returns {
				b.At(fb)
				b.Return(b.Null())
			} else {
				e1 := b.End()
				b.At(fb)
				e2 := b.End()
				b.Merge(e1, e2)
				b.Return(ir.NoNode)
			}

			run(t, g, escape.DefaultOptions())
			wantCounts := map[string]int{"new": 0, "commit": 1, "allocated": 1}
			if diff := cmp.Diff(wantCounts, counts(g, ir.OpNew, ir.OpCommitAllocation, ir.OpAllocatedObject)); diff != "" {
				t.Fatalf("node counts (-want +got):\n%s", diff)
			}
			commit := g.Node(g.NodesOf(ir.OpCommitAllocation)[0])
			if commit.Pred != tb {
				t.Errorf("commit follows %d, want the branch begin %d", commit.Pred, tb)
			}
			ref := g.Node(g.Node(use).Input(slot))
			if ref.Op != ir.OpAllocatedObject || ref.Input(0) != commit.ID {
				t.Errorf("%s uses %s, want the committed object", g.Node(use).Op, ref.Op)
			}
		})
	}
}

func TestCommitCoversReachableObjects(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	x := b.Param("x", ir.KindInt)
	c := b.Param("c", ir.KindBool)
	outer := b.New(f.holder)
	inner := b.New(f.point)
	b.StoreField(f.point, "x", inner, x)
	b.StoreField(f.holder, "ref", outer, inner)
	tb, fb := b.If(c)
	b.At(tb)
	put := b.StoreStatic(f.sink, outer)
	e1 := b.End()
	b.At(fb)
	e2 := b.End()
	b.Merge(e1, e2)
	b.Return(ir.NoNode)

	run(t, g, escape.DefaultOptions())
	wantCounts := map[string]int{"new": 0, "commit": 1, "allocated": 2, "store": 2}
	if diff := cmp.Diff(wantCounts, counts(g, ir.OpNew, ir.OpCommitAllocation, ir.OpAllocatedObject, ir.OpStoreField)); diff != "" {
		t.Fatalf("node counts (-want +got):\n%s", diff)
	}
	commit := g.Node(g.NodesOf(ir.OpCommitAllocation)[0])
	wantShapes := []ir.Shape{ir.InstanceShape(f.holder), ir.InstanceShape(f.point)}
	if diff := cmp.Diff(wantShapes, commit.Shapes); diff != "" {
		t.Errorf("commit shapes (-want +got):\n%s", diff)
	}
	allocs := make(map[int]ir.NodeID)
	for _, id := range g.NodesOf(ir.OpAllocatedObject) {
		allocs[g.Node(id).Index] = id
	}
	if got := g.Node(put).Input(0); got != allocs[0] {
		t.Errorf("static store writes %d, want the committed holder %d", got, allocs[0])
	}
	var linked bool
	for _, id := range g.NodesOf(ir.OpStoreField) {
		s := g.Node(id)
		if s.Type == f.holder && s.Input(0) == allocs[0] && s.Input(1) == allocs[1] {
			linked = true
		}
	}
	if !linked {
		t.Error("no store links the committed holder to the committed point")
	}
}

func TestEachEscapingArmCommitsItsOwnCopy(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	x := b.Param("x", ir.KindInt)
	c := b.Param("c", ir.KindBool)
	p := b.New(f.point)
	b.StoreField(f.point, "x", p, x)
	tb, fb := b.If(c)
	b.At(tb)
	b.StoreStatic(f.sink, p)
	e1 := b.End()
	b.At(fb)
	b.Invoke("use", ir.KindVoid, p)
	e2 := b.End()
	b.Merge(e1, e2)
	b.Return(ir.NoNode)

	run(t, g, escape.DefaultOptions())
	wantCounts := map[string]int{"new": 0, "commit": 2, "allocated": 2, "store": 2}
	if diff := cmp.Diff(wantCounts, counts(g, ir.OpNew, ir.OpCommitAllocation, ir.OpAllocatedObject, ir.OpStoreField)); diff != "" {
		t.Fatalf("node counts (-want +got):\n%s", diff)
	}
	var preds []ir.NodeID
	for _, id := range g.NodesOf(ir.OpCommitAllocation) {
		preds = append(preds, g.Node(id).Pred)
	}
	if diff := cmp.Diff([]ir.NodeID{tb, fb}, preds, cmpopts.SortSlices(func(a, b ir.NodeID) bool { return a < b })); diff != "" {
		t.Errorf("commit positions (-want +got):\n%s", diff)
	}
}

func TestFieldValuesMergeIntoPhi(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	c := b.Param("c", ir.KindBool)
	p := b.New(f.point)
	tb, fb := b.If(c)
	b.At(tb)
	b.StoreField(f.point, "x", p, b.Int(1))
	e1 := b.End()
	b.At(fb)
	b.StoreField(f.point, "x", p, b.Int(2))
	e2 := b.End()
	m := b.Merge(e1, e2)
	b.Return(b.LoadField(f.point, "x", p))

	run(t, g, escape.DefaultOptions())
	phi := returned(t, g)
	if phi.Op != ir.OpPhi || phi.Input(0) != m {
		t.Fatalf("returned %s, want phi of merge %d", phi.Op, m)
	}
	var got []int64
	for _, in := range phi.Inputs[1:] {
		v, ok := g.ConstInt(in)
		if !ok {
			t.Fatalf("phi input %d is not an int constant", in)
		}
		got = append(got, v)
	}
	if diff := cmp.Diff([]int64{1, 2}, got); diff != "" {
		t.Errorf("phi values (-want +got):\n%s", diff)
	}
	if n := g.Count(ir.OpNew); n != 0 {
		t.Errorf("allocations = %d, want 0", n)
	}
}

func TestObjectsMergedByPhiStayReal(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	c := b.Param("c", ir.KindBool)
	tb, fb := b.If(c)
	b.At(tb)
	p1 := b.New(f.point)
	e1 := b.End()
	b.At(fb)
	p2 := b.New(f.point)
	e2 := b.End()
	m := b.Merge(e1, e2)
	phi := b.Phi(m, ir.KindObject, p1, p2)
	b.Return(b.LoadField(f.point, "x", phi))

	res := run(t, g, escape.DefaultOptions())
	if res.Changed {
		t.Errorf("run changed the graph: %+v", res)
	}
	if n := g.Count(ir.OpNew); n != 2 {
		t.Errorf("allocations = %d, want 2", n)
	}
}

func TestReferenceComparisonsFold(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *ir.Builder, f *fixture) ir.NodeID
		want  bool
	}{
		{
			name: "same object",
			build: func(b *ir.Builder, f *fixture) ir.NodeID {
				p := b.New(f.point)
				return b.Binary(ir.OpRefEq, p, p)
			},
			want: true,
		},
		{
			name: "distinct objects",
			build: func(b *ir.Builder, f *fixture) ir.NodeID {
				p := b.New(f.point)
				q := b.New(f.point)
				return b.Binary(ir.OpRefEq, p, q)
			},
			want: false,
		},
		{
			name: "object and null",
			build: func(b *ir.Builder, f *fixture) ir.NodeID {
				p := b.New(f.point)
				return b.Binary(ir.OpRefEq, b.Null(), p)
			},
			want: false,
		},
		{
			name: "null test",
			build: func(b *ir.Builder, f *fixture) ir.NodeID {
				return b.IsNull(b.New(f.point))
			},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			b := ir.NewBuilder("f", f.u)
			g := b.Graph()
			b.Return(tt.build(b, f))

			run(t, g, escape.DefaultOptions())
			got := returned(t, g)
			if got.Op != ir.OpConst || !got.Const.Equal(ir.BoolConst(tt.want)) {
				t.Errorf("returned %s %s, want bool %t", got.Op, got.Const, tt.want)
			}
			if n := g.Count(ir.OpNew); n != 0 {
				t.Errorf("allocations = %d, want 0", n)
			}
		})
	}
}

func TestComparisonWithUnknownReferenceEscapes(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	other := b.Param("other", ir.KindObject)
	p := b.New(f.point)
	cmpNode := b.Binary(ir.OpRefEq, p, other)
	b.Return(cmpNode)

	run(t, g, escape.DefaultOptions())
	if got := returned(t, g); got.Op != ir.OpRefEq {
		t.Fatalf("returned %s, want refeq", got.Op)
	}
	if n := g.Count(ir.OpNew); n != 1 {
		t.Errorf("allocations = %d, want 1", n)
	}
}

func TestArraysWithConstantLength(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	x := b.Param("x", ir.KindInt)
	y := b.Param("y", ir.KindInt)
	arr := b.NewArray(ir.KindInt, b.Int(2))
	b.StoreIndexed(ir.KindInt, arr, b.Int(0), x)
	b.StoreIndexed(ir.KindInt, arr, b.Int(1), y)
	v := b.LoadIndexed(ir.KindInt, arr, b.Int(1))
	b.Return(b.Binary(ir.OpAdd, v, b.ArrayLength(arr)))

	run(t, g, escape.DefaultOptions())
	wantCounts := map[string]int{"newarray": 0, "aload": 0, "astore": 0, "alength": 0}
	if diff := cmp.Diff(wantCounts, counts(g, ir.OpNewArray, ir.OpLoadIndexed, ir.OpStoreIndexed, ir.OpArrayLength)); diff != "" {
		t.Errorf("node counts (-want +got):\n%s", diff)
	}
	sum := returned(t, g)
	if sum.Op != ir.OpAdd || sum.Input(0) != y {
		t.Fatalf("returned %s %v, want add of y", sum.Op, sum.Inputs)
	}
	if l, ok := g.ConstInt(sum.Input(1)); !ok || l != 2 {
		t.Errorf("length operand = %d, %t; want constant 2", l, ok)
	}
}

func TestLongArraysStayReal(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	arr := b.NewArray(ir.KindInt, b.Int(64))
	b.Return(b.ArrayLength(arr))

	if res := run(t, g, escape.DefaultOptions()); res.Changed {
		t.Errorf("run changed the graph: %+v", res)
	}
	opts := escape.DefaultOptions()
	opts.VirtualizeArrays = false
	b = ir.NewBuilder("g", f.u)
	g = b.Graph()
	arr = b.NewArray(ir.KindInt, b.Int(2))
	b.Return(b.ArrayLength(arr))
	if res := run(t, g, opts); res.Changed {
		t.Errorf("run with arrays disabled changed the graph: %+v", res)
	}
}

func TestStableArrayReadsFold(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	arr := b.Const(ir.ArrayConst([]int64{5, 6, 7}))
	v := b.LoadIndexed(ir.KindInt, arr, b.Int(1))
	b.Return(b.Binary(ir.OpAdd, v, b.ArrayLength(arr)))

	run(t, g, escape.DefaultOptions())
	got := returned(t, g)
	if v, ok := g.ConstInt(got.ID); !ok || v != 9 {
		t.Errorf("returned %s, want constant 9", got.Op)
	}
}

func TestFinalTypesStayReal(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	p := b.New(f.final)
	b.StoreField(f.final, "x", p, b.Int(3))
	b.Return(b.LoadField(f.final, "x", p))

	if res := run(t, g, escape.DefaultOptions()); res.Changed {
		t.Errorf("run changed the graph: %+v", res)
	}
	if n := g.Count(ir.OpNew); n != 1 {
		t.Errorf("allocations = %d, want 1", n)
	}
}

func TestCommittedObjectsAreVirtualizedAgain(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	x := b.Param("x", ir.KindInt)
	commit := b.Commit(ir.InstanceShape(f.point))
	obj := b.Allocated(commit, 0)
	b.StoreField(f.point, "y", obj, x)
	b.Return(b.LoadField(f.point, "y", obj))

	run(t, g, escape.DefaultOptions())
	if got := returned(t, g); got.ID != x {
		t.Errorf("returned node %d, want parameter %d", got.ID, x)
	}
	wantCounts := map[string]int{"commit": 0, "allocated": 0}
	if diff := cmp.Diff(wantCounts, counts(g, ir.OpCommitAllocation, ir.OpAllocatedObject)); diff != "" {
		t.Errorf("node counts (-want +got):\n%s", diff)
	}
}

// counterLoop builds a loop that increments p.x n times and returns p.x. With
// escapeInBody the loop body also publishes p.
func counterLoop(f *fixture, escapeInBody bool) (*ir.Graph, ir.NodeID) {
	b := ir.NewBuilder("loop", f.u)
	g := b.Graph()
	n := b.Param("n", ir.KindInt)
	p := b.New(f.point)
	b.StoreField(f.point, "x", p, b.Int(0))
	loop := b.LoopBegin(b.End())
	i := b.Phi(loop, ir.KindInt, b.Int(0))
	tb, fb := b.If(b.Binary(ir.OpLt, i, n))
	b.At(tb)
	if escapeInBody {
		b.StoreStatic(f.sink, p)
	}
	v := b.LoadField(f.point, "x", p)
	b.StoreField(f.point, "x", p, b.Binary(ir.OpAdd, v, b.Int(1)))
	b.AddPhiInput(i, b.Binary(ir.OpAdd, i, b.Int(1)))
	b.LoopEnd(loop)
	b.At(fb)
	b.Return(b.LoadField(f.point, "x", p))
	return g, loop
}

func TestLoopCarriedFieldBecomesPhi(t *testing.T) {
	f := newFixture(t)
	g, loop := counterLoop(f, false)

	run(t, g, escape.DefaultOptions())
	wantCounts := map[string]int{"new": 0, "load": 0, "store": 0}
	if diff := cmp.Diff(wantCounts, counts(g, ir.OpNew, ir.OpLoadField, ir.OpStoreField)); diff != "" {
		t.Errorf("node counts (-want +got):\n%s", diff)
	}
	phi := returned(t, g)
	if phi.Op != ir.OpPhi || phi.Input(0) != loop || len(phi.Inputs) != 3 {
		t.Fatalf("returned %s %v, want a phi of loop %d", phi.Op, phi.Inputs, loop)
	}
	if v, ok := g.ConstInt(phi.Input(1)); !ok || v != 0 {
		t.Errorf("forward value is not constant 0")
	}
	inc := g.Node(phi.Input(2))
	if inc.Op != ir.OpAdd || inc.Input(0) != phi.ID {
		t.Errorf("back value is %s %v, want add of the phi", inc.Op, inc.Inputs)
	}
}

func TestObjectEscapingEveryIterationStaysBeforeLoop(t *testing.T) {
	f := newFixture(t)
	g, _ := counterLoop(f, true)

	res := run(t, g, escape.DefaultOptions())
	if res.Changed {
		t.Errorf("run changed the graph: %+v", res)
	}
	if n := g.Count(ir.OpNew); n != 1 {
		t.Errorf("allocations = %d, want 1", n)
	}
}

func TestLoopIterationLimitKeepsAllocation(t *testing.T) {
	f := newFixture(t)
	g, _ := counterLoop(f, false)
	opts := escape.DefaultOptions()
	opts.MaxLoopIterations = 1

	if res := run(t, g, opts); res.Changed {
		t.Errorf("run changed the graph: %+v", res)
	}
	if n := g.Count(ir.OpNew); n != 1 {
		t.Errorf("allocations = %d, want 1", n)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	b.Return(b.IsNull(b.New(f.point)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := escape.Run(ctx, g, escape.DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if res.Changed || g.Count(ir.OpNew) != 1 {
		t.Errorf("cancelled run modified the graph")
	}
}

func TestRunReportsVerifierFailure(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("f", f.u)
	g := b.Graph()
	b.Return(b.IsNull(b.New(f.point)))

	opts := escape.DefaultOptions()
	opts.Verify = func(*ir.Graph) error { return ir.ErrInconsistent }
	_, err := escape.Run(context.Background(), g, opts)
	if !errors.Is(err, ir.ErrInconsistent) {
		t.Fatalf("error = %v, want ErrInconsistent", err)
	}
}

func TestRunTracesPassesAndMerges(t *testing.T) {
	f := newFixture(t)
	b := ir.NewBuilder("traced", f.u)
	g := b.Graph()
	c := b.Param("c", ir.KindBool)
	p := b.New(f.point)
	tb, fb := b.If(c)
	b.At(tb)
	b.StoreField(f.point, "x", p, b.Int(1))
	e1 := b.End()
	b.At(fb)
	e2 := b.End()
	b.Merge(e1, e2)
	b.Return(b.LoadField(f.point, "x", p))

	ring := trace.NewRingTracer(256, trace.LevelDetail)
	ctx := trace.WithTracer(context.Background(), ring)
	if _, err := escape.Run(ctx, g, escape.DefaultOptions()); err != nil {
		t.Fatalf("run: %v", err)
	}
	seen := make(map[string]bool)
	for _, ev := range ring.Snapshot() {
		seen[ev.Kind.String()+" "+ev.Name+"@"+ev.Func] = true
	}
	for _, want := range []string{"begin escape@traced", "end escape@traced", "point merge@traced"} {
		if !seen[want] {
			t.Errorf("missing trace event %q", want)
		}
	}
}
