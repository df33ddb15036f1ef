package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pea/internal/ir"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file.ir>...",
		Short: "Parse and verify IR files without changing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := startSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			var errs []error
			funcs := 0
			for _, path := range args {
				lap := s.timer.Start("check " + path)
				n, err := checkFile(cmd, path)
				lap.Stop("")
				funcs += n
				if err != nil {
					errs = append(errs, err)
				}
			}
			if err := errors.Join(errs...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %d functions in %d files\n",
				color.New(color.FgGreen, color.Bold).Sprint("ok"), funcs, len(args))
			return s.finish(cmd)
		},
	}
}

func checkFile(cmd *cobra.Command, path string) (int, error) {
	m, err := readModule(cmd, path)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, g := range m.Funcs {
		if err := ir.Verify(g); err != nil {
			errs = append(errs, fmt.Errorf("%s: func %s: %w", path, g.Name, err))
		}
	}
	return len(m.Funcs), errors.Join(errs...)
}
