package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pea/internal/irtext"
)

func newPrintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print <file.ir>",
		Short: "Print an IR file in canonical form",
		Long: `Print an IR file in canonical form: blocks in reverse postorder, values renumbered and
floating values placed before their first use.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := startSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			output, _ := cmd.Flags().GetString("output")
			only, _ := cmd.Flags().GetString("func")

			m, err := readModule(cmd, args[0])
			if err != nil {
				return err
			}
			var text string
			if only != "" {
				g := m.Func(only)
				if g == nil {
					return fmt.Errorf("%s: no func %s", args[0], only)
				}
				if text, err = irtext.FormatGraph(g); err != nil {
					return err
				}
			} else {
				var sb strings.Builder
				if err := irtext.Fprint(&sb, m); err != nil {
					return err
				}
				text = sb.String()
			}
			if err := writeOutput(cmd, output, text); err != nil {
				return err
			}
			return s.finish(cmd)
		},
	}
	cmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")
	cmd.Flags().String("func", "", "print only this function")
	return cmd
}
