package main

import (
	"encoding/json"
	"fmt"
	"io"

	"pea/internal/observ"
)

func printTimings(out io.Writer, timer *observ.Timer, format string) error {
	switch format {
	case "", "text":
		_, err := io.WriteString(out, timer.Summary())
		return err
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(timer.Report())
	default:
		return fmt.Errorf("unsupported timings format %q (must be text or json)", format)
	}
}
