package irtext_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"pea/internal/escape"
	"pea/internal/ir"
	"pea/internal/irtext"
)

const maxFuzzInput = 1 << 16 // 64 KiB

// optimizeTimeout bounds one escape run; longer runs point at a non-terminating fixpoint.
const optimizeTimeout = 5 * time.Second

func addSeeds(f *testing.F) {
	for _, src := range roundTrips {
		f.Add([]byte(src))
	}
	f.Add([]byte(header))
	f.Add([]byte("func f() {\nb0:\n  goto b0\n}"))
	f.Add([]byte("func f(c: bool) {\nb0:\n  if c then b1 else b1\nb1:\n  return\n}"))
	f.Add([]byte("func f(): int {\nb0:\n  r = phi int [b0: r]\n  return r\n}"))
}

func clip(input []byte) []byte {
	if len(input) > maxFuzzInput {
		input = input[:maxFuzzInput]
	}
	return append([]byte(nil), input...)
}

// FuzzParsePrint checks that accepted input verifies and prints to a fixed point.
func FuzzParsePrint(f *testing.F) {
	addSeeds(f)
	f.Fuzz(func(t *testing.T, input []byte) {
		m, err := irtext.Parse("fuzz.ir", clip(input))
		if err != nil {
			return
		}
		for _, g := range m.Funcs {
			if err := ir.Verify(g); err != nil {
				t.Fatalf("parsed func %s does not verify: %v", g.Name, err)
			}
		}
		var first strings.Builder
		if err := irtext.Fprint(&first, m); err != nil {
			t.Fatalf("print: %v", err)
		}
		again, err := irtext.Parse("fuzz2.ir", []byte(first.String()))
		if err != nil {
			t.Fatalf("printed module does not parse: %v\n%s", err, first.String())
		}
		var second strings.Builder
		if err := irtext.Fprint(&second, again); err != nil {
			t.Fatalf("second print: %v", err)
		}
		if first.String() != second.String() {
			t.Fatalf("print is not stable:\n%s\n---\n%s", first.String(), second.String())
		}
	})
}

// FuzzOptimize checks that escape analysis terminates and leaves a valid graph on any
// function the parser accepts.
func FuzzOptimize(f *testing.F) {
	addSeeds(f)
	f.Fuzz(func(t *testing.T, input []byte) {
		m, err := irtext.Parse("fuzz.ir", clip(input))
		if err != nil {
			return
		}
		for _, g := range m.Funcs {
			ctx, cancel := context.WithTimeout(context.Background(), optimizeTimeout)
			_, err := escape.Run(ctx, g, escape.DefaultOptions())
			cancel()
			if err != nil {
				t.Fatalf("func %s: %v", g.Name, err)
			}
			if _, err := irtext.FormatGraph(g); err != nil {
				t.Fatalf("optimized func %s does not print: %v", g.Name, err)
			}
		}
	})
}
