package irtext_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pea/internal/escape"
	"pea/internal/ir"
	"pea/internal/irtext"
)

const header = `type Point {x: int, y: int}
type Guarded final {x: int}
static sink: object
`

func parse(t *testing.T, src string) *irtext.Module {
	t.Helper()
	m, err := irtext.Parse("test.ir", []byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return m
}

func printModule(t *testing.T, m *irtext.Module) string {
	t.Helper()
	var sb strings.Builder
	if err := irtext.Fprint(&sb, m); err != nil {
		t.Fatalf("print: %v", err)
	}
	return sb.String()
}

func TestPrintsParsedModule(t *testing.T) {
	src := header + `
func f(a: int): int {
b0:
  p = new Point
  store Point.x p, a
  v = load Point.x p
  return v
}
`
	want := header + `
func f(a: int): int {
b0:
  v0 = new Point
  store Point.x v0, a
  v1 = load Point.x v0
  return v1
}
`
	if diff := cmp.Diff(want, printModule(t, parse(t, src))); diff != "" {
		t.Errorf("printed module (-want +got):\n%s", diff)
	}
}

func TestPhiFollowsPredecessorLabels(t *testing.T) {
	src := `
func g(c: bool): int {
b0:
  if c then t else e
t:
  one = const int 1
  goto j
e:
  two = const int 2
  goto j
j:
  r = phi int [e: two, t: one]
  return r
}
`
	want := `func g(c: bool): int {
b0:
  if c then b1 else b2
b1:
  v0 = const int 1
  goto b3
b2:
  v1 = const int 2
  goto b3
b3:
  v2 = phi int [b2: v1, b1: v0]
  return v2
}
`
	m := parse(t, src)
	got, err := irtext.FormatGraph(m.Func("g"))
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("printed graph (-want +got):\n%s", diff)
	}
}

var roundTrips = map[string]string{
	"loop": `
func count(n: int): int {
b0:
  zero = const int 0
  goto loop
loop:
  i = phi int [b0: zero, body: next]
  c = lt i, n
  if c then body else done
body:
  one = const int 1
  next = add i, one
  goto loop
done:
  return i
}
`,
	"branch into merge": header + `
func pick(c: bool, a: object): object {
b0:
  if c then j else other
other:
  b = new Point
  putstatic sink, b
  goto j
j:
  r = phi object [b0: a, other: b]
  return r
}
`,
	"commit": header + `
func h(a: int) {
b0:
  c = commit Point, array int 2, box int
  p = allocated c #0
  arr = allocated c #1
  store Point.x p, a
  zero = const int 0
  astore int arr, zero, a
  putstatic sink, p
  monitorenter arr
  monitorexit arr
  return
}
`,
	"constants": `
func k() {
b0:
  i = const int -7
  f = const float 1.5
  big = const float 1e+300
  n = const float nan
  ninf = const float -inf
  t = const bool true
  z = const null
  s = const string "a \"quoted\"\n line"
  a = const array {1, -2, 3}
  call void use(i, f, big, n, ninf, t, z, s, a)
  return
}
`,
	"arrays and boxes": `
func arr(x: int, o: object): int {
b0:
  two = const int 2
  a = newarray int two
  zero = const int 0
  astore int a, zero, x
  y = aload int a, zero
  l = alength a
  bx = box int y
  u = unbox int bx
  same = refeq bx, o
  nul = isnull o
  call void keep(same, nul)
  s = add u, l
  return s
}
`,
	"nested loops": `
func nest(n: int) {
b0:
  zero = const int 0
  goto outer
outer:
  i = phi int [b0: zero, latch: i2]
  c = lt i, n
  if c then inner else exit
inner:
  j = phi int [outer: zero, ibody: j2]
  d = lt j, n
  if d then ibody else latch
ibody:
  one = const int 1
  j2 = add j, one
  goto inner
latch:
  one2 = const int 1
  i2 = add i, one2
  goto outer
exit:
  return
}
`,
}

func TestPrintParseIsStable(t *testing.T) {
	for name, src := range roundTrips {
		t.Run(name, func(t *testing.T) {
			first := printModule(t, parse(t, src))
			second := printModule(t, parse(t, first))
			if diff := cmp.Diff(first, second); diff != "" {
				t.Errorf("second print differs (-first +second):\n%s", diff)
			}
		})
	}
}

func TestParsedGraphsVerify(t *testing.T) {
	for name, src := range roundTrips {
		t.Run(name, func(t *testing.T) {
			for _, g := range parse(t, src).Funcs {
				if err := ir.Verify(g); err != nil {
					t.Errorf("verify %s: %v", g.Name, err)
				}
			}
		})
	}
}

func TestLoopStructure(t *testing.T) {
	m := parse(t, roundTrips["nested loops"])
	g := m.Func("nest")
	cfg, err := ir.BuildCFG(g)
	if err != nil {
		t.Fatal(err)
	}
	depths := make([]int, 0, len(cfg.Loops))
	for _, l := range cfg.Loops {
		depths = append(depths, l.Depth)
	}
	if diff := cmp.Diff([]int{1, 2}, depths); diff != "" {
		t.Errorf("loop depths (-want +got):\n%s", diff)
	}
	got := map[string]int{
		"loopbegin": g.Count(ir.OpLoopBegin),
		"loopend":   g.Count(ir.OpLoopEnd),
		"phi":       g.Count(ir.OpPhi),
	}
	if diff := cmp.Diff(map[string]int{"loopbegin": 2, "loopend": 2, "phi": 2}, got); diff != "" {
		t.Errorf("node counts (-want +got):\n%s", diff)
	}
}

func TestIdentifiersAreNormalized(t *testing.T) {
	// The definition spells the name with a combining accent, the use with the composed rune.
	src := "func f(a: int): int {\nb0:\n  cafe\u0301 = add a, a\n  return caf\u00e9\n}\n"
	m := parse(t, src)
	if m.Func("f") == nil {
		t.Fatal("func f missing")
	}
}

func TestArithmeticResultsAsOperands(t *testing.T) {
	src := `
func f(a: int): int {
b0:
  x = add a, a
  y = sub x, a
  z = mul y, x
  b = box int z
  call void keep(b, y)
  return z
}
`
	g := parse(t, src).Func("f")
	if g == nil {
		t.Fatal("func f missing")
	}
	for _, op := range []ir.Op{ir.OpAdd, ir.OpSub, ir.OpMul} {
		for _, id := range g.NodesOf(op) {
			if k := g.Node(id).Kind; k != ir.KindInt {
				t.Errorf("%s kind = %s, want int", op, k)
			}
		}
	}
	text, err := irtext.FormatGraph(g)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if _, err := irtext.ParseFunc(g.Universe, "again.ir", []byte(text)); err != nil {
		t.Errorf("reparse printed graph: %v", err)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown instruction", "func f() {\nb0:\n  x = frob\n  return\n}", "unknown instruction"},
		{"undefined value", "func f(): int {\nb0:\n  return y\n}", "undefined value y"},
		{"undefined block", "func f() {\nb0:\n  goto nowhere\n}", "undefined block nowhere"},
		{"same branch targets", "func f(c: bool) {\nb0:\n  if c then b1 else b1\nb1:\n  return\n}", "both branches"},
		{"unreachable block", "func f() {\nb0:\n  return\nb1:\n  return\n}", "unreachable"},
		{"phi without merge", "func f(c: bool, a: int): int {\nb0:\n  if c then b1 else b2\nb1:\n  p = phi int [b0: a]\n  return p\nb2:\n  return a\n}", "single predecessor"},
		{"phi missing predecessor", "func f(c: bool, a: int): int {\nb0:\n  if c then b1 else b2\nb1:\n  goto b3\nb2:\n  goto b3\nb3:\n  p = phi int [b1: a]\n  return p\n}", "1 values for 2 predecessors"},
		{"missing terminator", "func f() {\nb0:\n  x = const int 1\n}", "no terminator"},
		{"redefined value", "func f(a: int) {\nb0:\n  a = const int 1\n  return\n}", "value a redefined"},
		{"wrong return kind", "func f(a: int): bool {\nb0:\n  return a\n}", "a is int, want bool"},
		{"non-boolean condition", "func f(a: int) {\nb0:\n  if a then b1 else b2\nb1:\n  return\nb2:\n  return\n}", "want bool"},
		{"undefined type", "func f() {\nb0:\n  p = new Nope\n  return\n}", "undefined type Nope"},
		{"unknown field", header + "func f() {\nb0:\n  p = new Point\n  v = load Point.z p\n  return\n}", "no field z"},
		{"store needs no name", header + "func f(a: int) {\nb0:\n  p = new Point\n  s = store Point.x p, a\n  return\n}", "does not define a value"},
		{"value used before definition", header + "func f() {\nb0:\n  v = load Point.x p\n  p = new Point\n  return\n}", "p is used where it is not defined"},
		{"commit slot out of range", header + "func f() {\nb0:\n  c = commit Point\n  p = allocated c #3\n  putstatic sink, p\n  return\n}", "no object #3"},
		{"entry is a target", "func f() {\nb0:\n  goto b0\n}", "entry block"},
		{"unterminated string", "func f() {\nb0:\n  s = const string \"abc\n  return\n}", "unterminated string"},
		{"duplicate func", "func f() {\nb0:\n  return\n}\nfunc f() {\nb0:\n  return\n}", "func f redefined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := irtext.Parse("bad.ir", []byte(tt.src))
			if err == nil {
				t.Fatal("parse succeeded")
			}
			if !errors.Is(err, irtext.ErrSyntax) {
				t.Errorf("error %v does not wrap ErrSyntax", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestErrorsCarryPosition(t *testing.T) {
	_, err := irtext.Parse("pos.ir", []byte("func f() {\nb0:\n  x = frob\n  return\n}"))
	if err == nil || !strings.Contains(err.Error(), "pos.ir:3:7") {
		t.Fatalf("error %v lacks position pos.ir:3:7", err)
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.ir")
	if err := os.WriteFile(path, []byte(roundTrips["loop"]), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := irtext.ParseFile(path)
	if err != nil {
		t.Fatalf("parse file: %v", err)
	}
	if m.Func("count") == nil {
		t.Error("func count missing")
	}
	if _, err := irtext.ParseFile(filepath.Join(t.TempDir(), "missing.ir")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v, want ErrNotExist", err)
	}
}

func TestParsedGraphOptimizes(t *testing.T) {
	m := parse(t, header+`
func f(a: int): int {
b0:
  p = new Point
  store Point.x p, a
  v = load Point.x p
  return v
}
`)
	g := m.Func("f")
	if _, err := escape.Run(context.Background(), g, escape.DefaultOptions()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := irtext.FormatGraph(g)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	want := "func f(a: int): int {\nb0:\n  return a\n}\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("optimized graph (-want +got):\n%s", diff)
	}
}

func TestParseFuncUsesGivenUniverse(t *testing.T) {
	m := parse(t, header)
	text := "func f(a: int): int {\nb0:\n  p = new Point\n  store Point.x p, a\n  v = load Point.x p\n  return v\n}\n"
	g, err := irtext.ParseFunc(m.Universe, "f.ir", []byte(text))
	if err != nil {
		t.Fatalf("parse func: %v", err)
	}
	if g.Universe != m.Universe {
		t.Error("graph does not share the module universe")
	}
	if news := g.NodesOf(ir.OpNew); len(news) != 1 || g.Node(news[0]).Type != m.Universe.Type("Point") {
		t.Error("new does not refer to the module's Point")
	}

	for name, src := range map[string]string{
		"declaration": header + text,
		"two funcs":   text + strings.Replace(text, "func f", "func g", 1),
		"empty":       "",
	} {
		if _, err := irtext.ParseFunc(m.Universe, "f.ir", []byte(src)); !errors.Is(err, irtext.ErrSyntax) {
			t.Errorf("%s: error = %v, want ErrSyntax", name, err)
		}
	}
}
