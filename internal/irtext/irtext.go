// Package irtext reads and writes the textual form of IR graphs.
//
// A module declares types, statics and functions:
//
//	type Point {x: int, y: int}
//	static sink: object
//
//	func f(a: int): int {
//	b0:
//	  p = new Point
//	  store Point.x p, a
//	  v = load Point.x p
//	  return v
//	}
//
// Blocks are labeled and end in goto, if or return. Phis name the predecessor
// block of every value. Values may be used before their definition in the text.
package irtext

import (
	"errors"
	"fmt"
	"os"

	"pea/internal/ir"
)

// ErrSyntax marks malformed IR text.
var ErrSyntax = errors.New("syntax error")

// Module is a parsed IR file.
type Module struct {
	Universe *ir.Universe
	Funcs    []*ir.Graph
}

// Func returns the function with the given name, or nil.
func (m *Module) Func(name string) *ir.Graph {
	for _, g := range m.Funcs {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// Parse builds a module from src. file is used in error positions.
func Parse(file string, src []byte) (*Module, error) {
	lx, f, err := parse(file, src)
	if err != nil {
		return nil, err
	}

	m := &Module{Universe: ir.NewUniverse()}
	for _, d := range f.types {
		t := &ir.Type{Name: d.name, Final: d.final, Fields: d.fields}
		if err := m.Universe.DefineType(t); err != nil {
			return nil, lx.errorf(d.pos, "%v", err)
		}
	}
	for _, d := range f.statics {
		if err := m.Universe.DefineStatic(&ir.Static{Name: d.name, Kind: d.kind}); err != nil {
			return nil, lx.errorf(d.pos, "%v", err)
		}
	}
	for _, d := range f.funcs {
		if m.Func(d.name) != nil {
			return nil, lx.errorf(d.pos, "func %s redefined", d.name)
		}
		g, err := build(lx, m.Universe, d)
		if err != nil {
			return nil, err
		}
		m.Funcs = append(m.Funcs, g)
	}
	return m, nil
}

// ParseFunc builds a single function against an existing universe. src must hold exactly
// one func and no declarations.
func ParseFunc(u *ir.Universe, file string, src []byte) (*ir.Graph, error) {
	lx, f, err := parse(file, src)
	if err != nil {
		return nil, err
	}
	switch {
	case len(f.types) > 0:
		return nil, lx.errorf(f.types[0].pos, "unexpected type declaration")
	case len(f.statics) > 0:
		return nil, lx.errorf(f.statics[0].pos, "unexpected static declaration")
	case len(f.funcs) != 1:
		return nil, lx.errorf(Pos{Line: 1, Col: 1}, "want one func, found %d", len(f.funcs))
	}
	return build(lx, u, f.funcs[0])
}

func parse(file string, src []byte) (*lexer, *file, error) {
	toks, err := tokenize(file, src)
	if err != nil {
		return nil, nil, err
	}
	lx := newLexer(file, src)
	p := &parser{lx: lx, toks: toks}
	f, err := p.parseFile()
	if err != nil {
		return nil, nil, err
	}
	return lx, f, nil
}

// ParseFile reads and parses the file at path.
func ParseFile(path string) (*Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(path, src)
}
