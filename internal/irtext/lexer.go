package irtext

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokPunct
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokInt:
		return "integer"
	case tokFloat:
		return "float"
	case tokString:
		return "string"
	case tokPunct:
		return "punctuation"
	}
	return "token?"
}

// Pos is a 1-based line and column.
type Pos struct {
	Line int
	Col  int
}

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

type token struct {
	kind tokenKind
	text string
	pos  Pos
}

func (t token) String() string {
	if t.kind == tokEOF {
		return t.kind.String()
	}
	return strconv.Quote(t.text)
}

const punctuation = "=:,{}()[].#-"

// lexer splits IR text into tokens. Identifiers are NFC-normalized so that visually equal
// names compare equal. Line comments start with //.
type lexer struct {
	file string
	src  []byte
	off  int
	line int
	col  int
}

func newLexer(file string, src []byte) *lexer {
	return &lexer{file: file, src: src, line: 1, col: 1}
}

func (lx *lexer) errorf(p Pos, format string, args ...any) error {
	return fmt.Errorf("%w: %s:%s: %s", ErrSyntax, lx.file, p, fmt.Sprintf(format, args...))
}

func (lx *lexer) peek() (rune, int) {
	if lx.off >= len(lx.src) {
		return 0, 0
	}
	return utf8.DecodeRune(lx.src[lx.off:])
}

func (lx *lexer) bump() rune {
	r, sz := lx.peek()
	lx.off += sz
	if r == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return r
}

func (lx *lexer) skipTrivia() {
	for lx.off < len(lx.src) {
		r, _ := lx.peek()
		switch {
		case unicode.IsSpace(r):
			lx.bump()
		case r == '/' && lx.off+1 < len(lx.src) && lx.src[lx.off+1] == '/':
			for lx.off < len(lx.src) && lx.src[lx.off] != '\n' {
				lx.bump()
			}
		default:
			return
		}
	}
}

func isIdentStart(r rune) bool { return r == '_' || unicode.IsLetter(r) }
func isDigit(r rune) bool { return r >= '0' && r <= '9' }

// isIdentContinue accepts combining marks so decomposed names normalize to their composed
// form.
func isIdentContinue(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || unicode.In(r, unicode.Mn, unicode.Mc)
}

func (lx *lexer) next() (token, error) {
	lx.skipTrivia()
	p := Pos{Line: lx.line, Col: lx.col}
	r, sz := lx.peek()
	switch {
	case sz == 0:
		return token{kind: tokEOF, pos: p}, nil
	case r == utf8.RuneError && sz == 1:
		return token{}, lx.errorf(p, "invalid UTF-8")
	case isIdentStart(r):
		start := lx.off
		for {
			r, sz := lx.peek()
			if sz == 0 || !isIdentContinue(r) {
				break
			}
			lx.bump()
		}
		return token{kind: tokIdent, text: norm.NFC.String(string(lx.src[start:lx.off])), pos: p}, nil
	case isDigit(r):
		return lx.number(p), nil
	case r == '"':
		return lx.str(p)
	case strings.ContainsRune(punctuation, r):
		lx.bump()
		return token{kind: tokPunct, text: string(r), pos: p}, nil
	}
	return token{}, lx.errorf(p, "unexpected character %q", r)
}

func (lx *lexer) digits() {
	for {
		r, _ := lx.peek()
		if !isDigit(r) {
			return
		}
		lx.bump()
	}
}

func (lx *lexer) number(p Pos) token {
	start := lx.off
	kind := tokInt
	lx.digits()
	if r, _ := lx.peek(); r == '.' && lx.off+1 < len(lx.src) && isDigit(rune(lx.src[lx.off+1])) {
		kind = tokFloat
		lx.bump()
		lx.digits()
	}
	if r, _ := lx.peek(); r == 'e' || r == 'E' {
		save, line, col := lx.off, lx.line, lx.col
		lx.bump()
		if r, _ := lx.peek(); r == '+' || r == '-' {
			lx.bump()
		}
		if r, _ := lx.peek(); isDigit(r) {
			kind = tokFloat
			lx.digits()
		} else {
			lx.off, lx.line, lx.col = save, line, col
		}
	}
	return token{kind: kind, text: string(lx.src[start:lx.off]), pos: p}
}

func (lx *lexer) str(p Pos) (token, error) {
	start := lx.off
	lx.bump()
	for {
		r, sz := lx.peek()
		switch {
		case sz == 0 || r == '\n':
			return token{}, lx.errorf(p, "unterminated string")
		case r == '\\':
			lx.bump()
			lx.bump()
		case r == '"':
			lx.bump()
			s, err := strconv.Unquote(string(lx.src[start:lx.off]))
			if err != nil {
				return token{}, lx.errorf(p, "bad string literal: %v", err)
			}
			return token{kind: tokString, text: s, pos: p}, nil
		default:
			lx.bump()
		}
	}
}

// tokenize returns every token of src, ending with EOF.
func tokenize(file string, src []byte) ([]token, error) {
	lx := newLexer(file, src)
	var out []token
	for {
		t, err := lx.next()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		if t.kind == tokEOF {
			return out, nil
		}
	}
}
