package irtext

import (
	"math"
	"strconv"

	"pea/internal/ir"
)

type typeDecl struct {
	pos    Pos
	name   string
	final  bool
	fields []ir.Field
}

type staticDecl struct {
	pos  Pos
	name string
	kind ir.Kind
}

type paramDecl struct {
	name string
	kind ir.Kind
}

type funcDecl struct {
	pos       Pos
	name      string
	params    []paramDecl
	result    ir.Kind
	hasResult bool
	blocks    []*blockDecl
}

type blockDecl struct {
	pos   Pos
	label string
	stmts []*stmt
	term  *stmt
}

type phiArg struct {
	label string
	value string
}

type shapeDecl struct {
	typ   string
	elem  ir.Kind
	len   int
	isArr bool
	box   ir.Kind
	isBox bool
}

// stmt is one instruction or terminator. Terminators use OpEnd for goto.
type stmt struct {
	pos     Pos
	name    string
	op      ir.Op
	kind    ir.Kind
	typ     string
	field   string
	static  string
	callee  string
	cnst    ir.Const
	args    []string
	phi     []phiArg
	shapes  []shapeDecl
	index   int
	targets []string
}

type file struct {
	types   []*typeDecl
	statics []*staticDecl
	funcs   []*funcDecl
}

type parser struct {
	lx   *lexer
	toks []token
	i    int
}

func (p *parser) peek() token { return p.toks[p.i] }
func (p *parser) peekAt(n int) token {
	if p.i+n < len(p.toks) {
		return p.toks[p.i+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) advance() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return p.lx.errorf(t.pos, format, args...)
}

func (p *parser) isPunct(s string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == s
}

func (p *parser) isKeyword(s string) bool {
	t := p.peek()
	return t.kind == tokIdent && t.text == s
}

func (p *parser) expectPunct(s string) error {
	t := p.advance()
	if t.kind != tokPunct || t.text != s {
		return p.errorf(t, "expected %q, found %s", s, t)
	}
	return nil
}

func (p *parser) expectKeyword(s string) error {
	t := p.advance()
	if t.kind != tokIdent || t.text != s {
		return p.errorf(t, "expected %q, found %s", s, t)
	}
	return nil
}

func (p *parser) ident() (string, error) {
	t := p.advance()
	if t.kind != tokIdent {
		return "", p.errorf(t, "expected identifier, found %s", t)
	}
	return t.text, nil
}

func (p *parser) kind() (ir.Kind, error) {
	t := p.advance()
	if t.kind == tokIdent {
		if k, ok := ir.ParseKind(t.text); ok {
			return k, nil
		}
	}
	return ir.KindVoid, p.errorf(t, "expected kind, found %s", t)
}

// valueKind parses a kind that can be carried by a value.
func (p *parser) valueKind() (ir.Kind, error) {
	t := p.peek()
	k, err := p.kind()
	if err == nil && k == ir.KindVoid {
		return k, p.errorf(t, "void is not a value kind")
	}
	return k, err
}

func (p *parser) integer() (int64, error) {
	neg := false
	if p.isPunct("-") {
		p.advance()
		neg = true
	}
	t := p.advance()
	if t.kind != tokInt {
		return 0, p.errorf(t, "expected integer, found %s", t)
	}
	text := t.text
	if neg {
		text = "-" + text
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, p.errorf(t, "integer %s out of range", text)
	}
	return v, nil
}

func (p *parser) float() (float64, error) {
	neg := false
	if p.isPunct("-") {
		p.advance()
		neg = true
	}
	t := p.advance()
	var v float64
	switch {
	case t.kind == tokIdent && t.text == "inf":
		v = math.Inf(1)
	case t.kind == tokIdent && t.text == "nan":
		v = math.NaN()
	case t.kind == tokInt || t.kind == tokFloat:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return 0, p.errorf(t, "bad float %s", t.text)
		}
		v = f
	default:
		return 0, p.errorf(t, "expected float, found %s", t)
	}
	if neg {
		v = -v
	}
	return v, nil
}

func (p *parser) parseFile() (*file, error) {
	f := &file{}
	for p.peek().kind != tokEOF {
		t := p.peek()
		switch {
		case p.isKeyword("type"):
			d, err := p.typeDecl()
			if err != nil {
				return nil, err
			}
			f.types = append(f.types, d)
		case p.isKeyword("static"):
			d, err := p.staticDecl()
			if err != nil {
				return nil, err
			}
			f.statics = append(f.statics, d)
		case p.isKeyword("func"):
			d, err := p.funcDecl()
			if err != nil {
				return nil, err
			}
			f.funcs = append(f.funcs, d)
		default:
			return nil, p.errorf(t, "expected type, static or func, found %s", t)
		}
	}
	return f, nil
}

// typeDecl parses: type NAME [final] {FIELD: KIND, ...}
func (p *parser) typeDecl() (*typeDecl, error) {
	d := &typeDecl{pos: p.advance().pos}
	var err error
	if d.name, err = p.ident(); err != nil {
		return nil, err
	}
	if p.isKeyword("final") {
		p.advance()
		d.final = true
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	for !p.isPunct("}") {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		k, err := p.valueKind()
		if err != nil {
			return nil, err
		}
		d.fields = append(d.fields, ir.Field{Name: name, Kind: k})
		if !p.isPunct(",") {
			break
		}
		p.advance()
	}
	return d, p.expectPunct("}")
}

// staticDecl parses: static NAME: KIND
func (p *parser) staticDecl() (*staticDecl, error) {
	d := &staticDecl{pos: p.advance().pos}
	var err error
	if d.name, err = p.ident(); err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	d.kind, err = p.valueKind()
	return d, err
}

// funcDecl parses: func NAME(PARAM: KIND, ...)[: KIND] { BLOCK... }
func (p *parser) funcDecl() (*funcDecl, error) {
	d := &funcDecl{pos: p.advance().pos}
	var err error
	if d.name, err = p.ident(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for !p.isPunct(")") {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		k, err := p.valueKind()
		if err != nil {
			return nil, err
		}
		d.params = append(d.params, paramDecl{name: name, kind: k})
		if !p.isPunct(",") {
			break
		}
		p.advance()
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if p.isPunct(":") {
		p.advance()
		if d.result, err = p.kind(); err != nil {
			return nil, err
		}
		d.hasResult = true
	}
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	for !p.isPunct("}") {
		b, err := p.block()
		if err != nil {
			return nil, err
		}
		d.blocks = append(d.blocks, b)
	}
	p.advance()
	if len(d.blocks) == 0 {
		return nil, p.lx.errorf(d.pos, "func %s has no blocks", d.name)
	}
	return d, nil
}

func (p *parser) atLabel() bool {
	return p.peek().kind == tokIdent && p.peekAt(1).kind == tokPunct && p.peekAt(1).text == ":"
}

// block parses: LABEL: STMT... TERMINATOR
func (p *parser) block() (*blockDecl, error) {
	t := p.peek()
	if !p.atLabel() {
		return nil, p.errorf(t, "expected block label, found %s", t)
	}
	b := &blockDecl{pos: t.pos, label: p.advance().text}
	p.advance()
	for {
		t := p.peek()
		if t.kind == tokEOF || p.isPunct("}") || p.atLabel() {
			return nil, p.errorf(t, "block %s has no terminator", b.label)
		}
		s, err := p.stmt()
		if err != nil {
			return nil, err
		}
		if s.op.EndsBlock() {
			b.term = s
			return b, nil
		}
		b.stmts = append(b.stmts, s)
	}
}

func (p *parser) stmt() (*stmt, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return nil, p.errorf(t, "expected instruction, found %s", t)
	}
	if p.peekAt(1).kind == tokPunct && p.peekAt(1).text == "=" {
		p.advance()
		p.advance()
		s, err := p.instr(true)
		if err != nil {
			return nil, err
		}
		s.name = t.text
		return s, nil
	}
	return p.instr(false)
}

// valueOps lists the instructions that define a value.
var valueOps = map[string]bool{
	"const": true, "new": true, "newarray": true, "box": true, "unbox": true, "load": true,
	"aload": true, "alength": true, "getstatic": true, "phi": true, "add": true, "sub": true,
	"mul": true, "eq": true, "lt": true, "refeq": true, "isnull": true, "allocated": true,
	"commit": true, "call": true,
}

func (p *parser) instr(named bool) (*stmt, error) {
	t := p.advance()
	s := &stmt{pos: t.pos}
	switch t.text {
	case "goto", "if", "return":
		if named {
			return nil, p.errorf(t, "%s does not define a value", t.text)
		}
		return p.terminator(t, s)
	}
	op, ok := ir.OpByName(t.text)
	if !ok || op.BeginsBlock() || op.EndsBlock() || op == ir.OpParam {
		return nil, p.errorf(t, "unknown instruction %s", t)
	}
	s.op = op
	if named != valueOps[t.text] && op != ir.OpInvoke {
		if named {
			return nil, p.errorf(t, "%s does not define a value", t.text)
		}
		return nil, p.errorf(t, "%s needs a name for its value", t.text)
	}
	var err error
	switch op {
	case ir.OpConst:
		err = p.constant(s)
	case ir.OpNew:
		s.typ, err = p.ident()
	case ir.OpNewArray, ir.OpBox, ir.OpUnbox:
		if s.kind, err = p.valueKind(); err == nil {
			err = p.operands(s, 1)
		}
	case ir.OpLoadField:
		if err = p.fieldRef(s); err == nil {
			err = p.operands(s, 1)
		}
	case ir.OpStoreField:
		if err = p.fieldRef(s); err == nil {
			err = p.operands(s, 2)
		}
	case ir.OpLoadIndexed:
		if s.kind, err = p.valueKind(); err == nil {
			err = p.operands(s, 2)
		}
	case ir.OpStoreIndexed:
		if s.kind, err = p.valueKind(); err == nil {
			err = p.operands(s, 3)
		}
	case ir.OpArrayLength, ir.OpIsNull, ir.OpMonitorEnter, ir.OpMonitorExit:
		err = p.operands(s, 1)
	case ir.OpLoadStatic:
		s.static, err = p.ident()
	case ir.OpStoreStatic:
		if s.static, err = p.ident(); err == nil {
			if err = p.expectPunct(","); err == nil {
				err = p.operands(s, 1)
			}
		}
	case ir.OpInvoke:
		err = p.call(s, named)
	case ir.OpCommitAllocation:
		err = p.commit(s)
	case ir.OpAllocatedObject:
		if err = p.operands(s, 1); err == nil {
			if err = p.expectPunct("#"); err == nil {
				var i int64
				i, err = p.integer()
				s.index = int(i)
			}
		}
	case ir.OpPhi:
		err = p.phi(s)
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpEq, ir.OpLt, ir.OpRefEq:
		err = p.operands(s, 2)
	default:
		err = p.errorf(t, "unknown instruction %s", t)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *parser) terminator(t token, s *stmt) (*stmt, error) {
	var err error
	switch t.text {
	case "goto":
		s.op = ir.OpEnd
		var l string
		l, err = p.ident()
		s.targets = []string{l}
	case "if":
		s.op = ir.OpIf
		if err = p.operands(s, 1); err != nil {
			return nil, err
		}
		var tl, fl string
		if err = p.expectKeyword("then"); err != nil {
			return nil, err
		}
		if tl, err = p.ident(); err != nil {
			return nil, err
		}
		if err = p.expectKeyword("else"); err != nil {
			return nil, err
		}
		fl, err = p.ident()
		s.targets = []string{tl, fl}
	case "return":
		s.op = ir.OpReturn
		if p.peek().kind == tokIdent && !p.atLabel() {
			s.args = []string{p.advance().text}
		}
	}
	return s, err
}

// operands parses n comma-separated value names.
func (p *parser) operands(s *stmt, n int) error {
	for i := range n {
		if i > 0 {
			if err := p.expectPunct(","); err != nil {
				return err
			}
		}
		v, err := p.ident()
		if err != nil {
			return err
		}
		s.args = append(s.args, v)
	}
	return nil
}

// fieldRef parses TYPE.FIELD.
func (p *parser) fieldRef(s *stmt) error {
	var err error
	if s.typ, err = p.ident(); err != nil {
		return err
	}
	if err := p.expectPunct("."); err != nil {
		return err
	}
	s.field, err = p.ident()
	return err
}

// constant parses: int N | float F | bool B | null | string "S" | array {N, ...}
func (p *parser) constant(s *stmt) error {
	t := p.advance()
	if t.kind != tokIdent {
		return p.errorf(t, "expected constant, found %s", t)
	}
	switch t.text {
	case "int":
		v, err := p.integer()
		s.cnst = ir.IntConst(v)
		return err
	case "float":
		v, err := p.float()
		s.cnst = ir.FloatConst(v)
		return err
	case "bool":
		b := p.advance()
		if b.kind != tokIdent || (b.text != "true" && b.text != "false") {
			return p.errorf(b, "expected true or false, found %s", b)
		}
		s.cnst = ir.BoolConst(b.text == "true")
	case "null":
		s.cnst = ir.NullConst()
	case "string":
		v := p.advance()
		if v.kind != tokString {
			return p.errorf(v, "expected string, found %s", v)
		}
		s.cnst = ir.StringConst(v.text)
	case "array":
		if err := p.expectPunct("{"); err != nil {
			return err
		}
		elems := []int64{}
		for !p.isPunct("}") {
			v, err := p.integer()
			if err != nil {
				return err
			}
			elems = append(elems, v)
			if !p.isPunct(",") {
				break
			}
			p.advance()
		}
		if err := p.expectPunct("}"); err != nil {
			return err
		}
		s.cnst = ir.ArrayConst(elems)
	default:
		return p.errorf(t, "unknown constant kind %s", t)
	}
	return nil
}

// call parses: KIND NAME(ARG, ...)
func (p *parser) call(s *stmt, named bool) error {
	t := p.peek()
	k, err := p.kind()
	if err != nil {
		return err
	}
	if named == (k == ir.KindVoid) {
		if named {
			return p.errorf(t, "void call does not define a value")
		}
		return p.errorf(t, "call returning %s needs a name for its value", k)
	}
	s.kind = k
	if s.callee, err = p.ident(); err != nil {
		return err
	}
	if err := p.expectPunct("("); err != nil {
		return err
	}
	for !p.isPunct(")") {
		v, err := p.ident()
		if err != nil {
			return err
		}
		s.args = append(s.args, v)
		if !p.isPunct(",") {
			break
		}
		p.advance()
	}
	return p.expectPunct(")")
}

// commit parses a comma-separated list of shapes: TYPE | array KIND N | box KIND
func (p *parser) commit(s *stmt) error {
	for {
		t := p.peek()
		name, err := p.ident()
		if err != nil {
			return err
		}
		var sh shapeDecl
		switch name {
		case "array":
			if sh.elem, err = p.valueKind(); err != nil {
				return err
			}
			n, err := p.integer()
			if err != nil {
				return err
			}
			if n < 0 || n > math.MaxInt32 {
				return p.errorf(t, "bad array length %d", n)
			}
			sh.isArr, sh.len = true, int(n)
		case "box":
			if sh.box, err = p.valueKind(); err != nil {
				return err
			}
			sh.isBox = true
		default:
			sh.typ = name
		}
		s.shapes = append(s.shapes, sh)
		if !p.isPunct(",") {
			return nil
		}
		p.advance()
	}
}

// phi parses: KIND [LABEL: VALUE, ...]
func (p *parser) phi(s *stmt) error {
	var err error
	if s.kind, err = p.valueKind(); err != nil {
		return err
	}
	if err := p.expectPunct("["); err != nil {
		return err
	}
	for !p.isPunct("]") {
		l, err := p.ident()
		if err != nil {
			return err
		}
		if err := p.expectPunct(":"); err != nil {
			return err
		}
		v, err := p.ident()
		if err != nil {
			return err
		}
		s.phi = append(s.phi, phiArg{label: l, value: v})
		if !p.isPunct(",") {
			break
		}
		p.advance()
	}
	return p.expectPunct("]")
}
