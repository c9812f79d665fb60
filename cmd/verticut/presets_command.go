package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/verticut/internal/transcoder"
)

func newPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List platforms and caption styles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows [][]string
			for _, p := range transcoder.Platforms() {
				rows = append(rows, []string{
					p.Name,
					fmt.Sprintf("%dx%d", p.OutputWidth, p.OutputHeight),
					p.DefaultStyle,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable([]string{"Platform", "Canvas", "Default style"}, rows))
			fmt.Fprintf(out, "Styles: %s\n", strings.Join(transcoder.StylePresetNames(), ", "))
			return nil
		},
	}
}
