package main

import (
	"context"
	"errors"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"pea/internal/pipeline"
	"pea/internal/ui"
)

// runOptimizeWithUI runs the pipeline in the background and shows its progress on stderr.
func runOptimizeWithUI(ctx context.Context, title string, req pipeline.Request) (pipeline.Result, error) {
	names := make([]string, 0, len(req.Module.Funcs))
	for _, g := range req.Module.Funcs {
		names = append(names, g.Name)
	}
	events := make(chan pipeline.Event, 64)
	req.Progress = pipeline.ChanSink(events)

	type outcome struct {
		res pipeline.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer close(events)
		res, err := pipeline.Optimize(ctx, &req)
		done <- outcome{res, err}
	}()

	_, uiErr := tea.NewProgram(ui.NewProgressModel(title, names, events), tea.WithOutput(os.Stderr)).Run()
	// The model may quit early on ctrl-c; the pipeline must not block on the sink.
	for range events {
	}
	out := <-done
	if uiErr != nil {
		return out.res, errors.Join(out.err, uiErr)
	}
	return out.res, out.err
}
