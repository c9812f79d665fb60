package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/verticut/internal/transcoder"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "probe <input>",
		Short: "Show source dimensions, duration and encoder capabilities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.load(cmd); err != nil {
				return err
			}
			pipeline := transcoder.NewPipeline(ctx.cfg.Export, ctx.logger)

			info, err := pipeline.FFmpeg.ProbeSource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			caps, err := pipeline.Session.Capabilities(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"source":       info,
					"capabilities": caps,
				})
			}

			fmt.Fprintln(out, renderTable([]string{"Field", "Value"}, probeRows(info, caps)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func probeRows(info *transcoder.SourceInfo, caps transcoder.Capabilities) [][]string {
	return [][]string{
		{"Size", fmt.Sprintf("%.0fx%.0f", info.Width, info.Height)},
		{"Duration", fmt.Sprintf("%.3fs", info.Duration)},
		{"Codec", info.Codec},
		{"Frame rate", fmt.Sprintf("%.3f", info.FrameRate)},
		{"Audio", fmt.Sprintf("%t", info.HasAudio)},
		{"Engine", caps.Version},
		{"Text captions", fmt.Sprintf("%t", caps.Drawtext)},
	}
}
