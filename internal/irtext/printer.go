package irtext

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"pea/internal/ir"
)

// Fprint writes m in the form Parse reads.
func Fprint(w io.Writer, m *Module) error {
	var sb strings.Builder
	for _, t := range m.Universe.Types() {
		fields := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = fmt.Sprintf("%s: %s", f.Name, f.Kind)
		}
		final := ""
		if t.Final {
			final = " final"
		}
		fmt.Fprintf(&sb, "type %s%s {%s}\n", t.Name, final, strings.Join(fields, ", "))
	}
	for _, s := range m.Universe.Statics() {
		fmt.Fprintf(&sb, "static %s: %s\n", s.Name, s.Kind)
	}
	for i, g := range m.Funcs {
		if i > 0 || sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		text, err := FormatGraph(g)
		if err != nil {
			return err
		}
		sb.WriteString(text)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// FormatGraph returns the text of one function. Blocks are printed in reverse postorder and
// floating values right before their first use in the block they are scheduled in.
func FormatGraph(g *ir.Graph) (string, error) {
	cfg, err := ir.BuildCFG(g)
	if err != nil {
		return "", fmt.Errorf("format %s: %w", g.Name, err)
	}
	p := &printer{
		g:       g,
		cfg:     cfg,
		sched:   ir.ScheduleFloating(cfg),
		names:   make(map[ir.NodeID]string),
		taken:   make(map[string]bool),
		emitted: make(map[ir.NodeID]bool),
	}
	p.layout()
	p.nameValues()
	return p.render(), nil
}

type printer struct {
	g     *ir.Graph
	cfg   *ir.CFG
	sched *ir.Schedule

	// lines holds the nodes of each block in print order, terminator last.
	lines   [][]ir.NodeID
	names   map[ir.NodeID]string
	taken   map[string]bool
	next    int
	emitted map[ir.NodeID]bool
}

func (p *printer) layout() {
	p.lines = make([][]ir.NodeID, len(p.cfg.Blocks))
	for _, b := range p.cfg.Blocks {
		var out []ir.NodeID
		for _, id := range p.sched.Floating[b.Index] {
			if p.g.Node(id).Op == ir.OpPhi {
				out = append(out, id)
				p.emitted[id] = true
			}
		}
		var visit func(id ir.NodeID)
		visit = func(id ir.NodeID) {
			for _, in := range p.g.Node(id).Inputs {
				n := p.g.Node(in)
				if n == nil || p.emitted[in] || !n.Op.IsFloating() || n.Op == ir.OpParam || p.sched.BlockOf(in) != b.Index {
					continue
				}
				p.emitted[in] = true
				visit(in)
				out = append(out, in)
			}
		}
		for _, id := range b.Nodes[1:] {
			if id == b.End {
				for _, f := range p.sched.Floating[b.Index] {
					if n := p.g.Node(f); !p.emitted[f] && n.Op != ir.OpParam {
						p.emitted[f] = true
						visit(f)
						out = append(out, f)
					}
				}
			}
			visit(id)
			out = append(out, id)
		}
		p.lines[b.Index] = out
	}
}

func (p *printer) claim(name string) string {
	p.taken[name] = true
	return name
}

func (p *printer) fresh() string {
	for {
		name := fmt.Sprintf("v%d", p.next)
		p.next++
		if !p.taken[name] {
			return p.claim(name)
		}
	}
}

func (p *printer) nameValues() {
	for _, id := range p.g.Params {
		name := p.g.Node(id).Name
		if name == "" || p.taken[name] {
			name = p.fresh()
		}
		p.names[id] = p.claim(name)
	}
	for _, line := range p.lines {
		for _, id := range line {
			n := p.g.Node(id)
			if n.Op == ir.OpCommitAllocation || (n.Op.HasValue() && n.Kind != ir.KindVoid) {
				p.names[id] = p.fresh()
			}
		}
	}
}

func (p *printer) label(begin ir.NodeID) string {
	return fmt.Sprintf("b%d", p.cfg.BlockOf(begin))
}

func (p *printer) operands(n *ir.Node, from int) string {
	parts := make([]string, 0, len(n.Inputs))
	for _, in := range n.Inputs[from:] {
		parts = append(parts, p.names[in])
	}
	return strings.Join(parts, ", ")
}

func (p *printer) render() string {
	var sb strings.Builder
	params := make([]string, len(p.g.Params))
	for i, id := range p.g.Params {
		params[i] = fmt.Sprintf("%s: %s", p.names[id], p.g.Node(id).Kind)
	}
	result := ""
	if p.g.Result != ir.KindVoid {
		result = ": " + p.g.Result.String()
	}
	fmt.Fprintf(&sb, "func %s(%s)%s {\n", p.g.Name, strings.Join(params, ", "), result)
	for _, b := range p.cfg.Blocks {
		fmt.Fprintf(&sb, "b%d:\n", b.Index)
		for _, id := range p.lines[b.Index] {
			sb.WriteString("  ")
			if name, ok := p.names[id]; ok {
				sb.WriteString(name)
				sb.WriteString(" = ")
			}
			sb.WriteString(p.instr(b, p.g.Node(id)))
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}

func (p *printer) instr(b *ir.Block, n *ir.Node) string {
	ops := p.operands(n, 0)
	switch n.Op {
	case ir.OpConst:
		return "const " + constText(n.Const)
	case ir.OpNew:
		return "new " + n.Type.Name
	case ir.OpNewArray, ir.OpBox, ir.OpUnbox, ir.OpLoadIndexed, ir.OpStoreIndexed:
		return fmt.Sprintf("%s %s %s", n.Op, n.Elem, ops)
	case ir.OpLoadField, ir.OpStoreField:
		return fmt.Sprintf("%s %s.%s %s", n.Op, n.Type.Name, n.Type.Fields[n.Index].Name, ops)
	case ir.OpLoadStatic:
		return "getstatic " + n.Static.Name
	case ir.OpStoreStatic:
		return fmt.Sprintf("putstatic %s, %s", n.Static.Name, ops)
	case ir.OpInvoke:
		return fmt.Sprintf("call %s %s(%s)", n.Kind, n.Name, ops)
	case ir.OpCommitAllocation:
		shapes := make([]string, len(n.Shapes))
		for i, s := range n.Shapes {
			shapes[i] = shapeText(s)
		}
		return "commit " + strings.Join(shapes, ", ")
	case ir.OpAllocatedObject:
		return fmt.Sprintf("allocated %s #%d", ops, n.Index)
	case ir.OpPhi:
		args := make([]string, 0, len(n.Inputs)-1)
		for i, in := range n.Inputs[1:] {
			args = append(args, fmt.Sprintf("b%d: %s", b.Preds[i], p.names[in]))
		}
		return fmt.Sprintf("phi %s [%s]", n.Kind, strings.Join(args, ", "))
	case ir.OpEnd, ir.OpLoopEnd:
		return "goto " + p.label(p.g.MergeOf(n.ID))
	case ir.OpIf:
		return fmt.Sprintf("if %s then %s else %s", ops, p.label(n.True), p.label(n.False))
	case ir.OpReturn:
		if ops == "" {
			return "return"
		}
		return "return " + ops
	}
	if ops == "" {
		return n.Op.String()
	}
	return fmt.Sprintf("%s %s", n.Op, ops)
}

func constText(c ir.Const) string {
	if c.Kind == ir.KindFloat {
		return "float " + floatText(c.Float)
	}
	return c.String()
}

func floatText(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func shapeText(s ir.Shape) string {
	switch {
	case s.IsArr:
		return fmt.Sprintf("array %s %d", s.Elem, s.Length)
	case s.IsBox:
		return "box " + s.Box.String()
	}
	return s.Type.Name
}
