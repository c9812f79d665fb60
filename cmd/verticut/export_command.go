package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/therealutkarshpriyadarshi/verticut/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/verticut/pkg/models"
)

type exportOptions struct {
	platform     string
	style        string
	start        float64
	end          float64
	subtitles    string
	zoom         float64
	panX         float64
	panY         float64
	subtitleSize float64
	strategy     string
	output       string
	showCommand  bool
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	opts := exportOptions{}

	cmd := &cobra.Command{
		Use:   "export <input>",
		Short: "Render one vertical clip from a local video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.load(cmd); err != nil {
				return err
			}
			return runExport(cmd, ctx, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.platform, "platform", "tiktok", "Target platform (tiktok, reels, shorts)")
	flags.StringVar(&opts.style, "style", "", "Caption style preset (platform default when empty)")
	flags.Float64Var(&opts.start, "start", 0, "Clip start in seconds")
	flags.Float64Var(&opts.end, "end", 0, "Clip end in seconds")
	flags.StringVar(&opts.subtitles, "subtitles", "", "JSON file of subtitle chunks in source time")
	flags.Float64Var(&opts.zoom, "zoom", 1, "Editor zoom")
	flags.Float64Var(&opts.panX, "pan-x", 0, "Horizontal pan in output pixels")
	flags.Float64Var(&opts.panY, "pan-y", 0, "Vertical pan in output pixels")
	flags.Float64Var(&opts.subtitleSize, "subtitle-scale", 1, "Caption size multiplier")
	flags.StringVar(&opts.strategy, "captions", "", "Caption strategy: auto, text or raster")
	flags.StringVarP(&opts.output, "out", "o", ".", "Output file or directory")
	flags.BoolVar(&opts.showCommand, "show-command", false, "Print the encoder command line")
	_ = cmd.MarkFlagRequired("end")

	return cmd
}

func runExport(cmd *cobra.Command, ctx *commandContext, input string, opts exportOptions) error {
	absInput, err := filepath.Abs(input)
	if err != nil {
		return fmt.Errorf("resolve input: %w", err)
	}
	if _, err := os.Stat(absInput); err != nil {
		return fmt.Errorf("inspect input: %w", err)
	}

	chunks, err := readSubtitleChunks(opts.subtitles)
	if err != nil {
		return err
	}

	exportCfg := ctx.cfg.Export
	if opts.strategy != "" {
		exportCfg.CaptionStrategy = opts.strategy
	}
	pipeline := transcoder.NewPipeline(exportCfg, ctx.logger)

	info, err := pipeline.FFmpeg.ProbeSource(cmd.Context(), absInput)
	if err != nil {
		return err
	}
	clip, err := models.NewClipWindow("", opts.start, opts.end, info.Duration)
	if err != nil {
		return fmt.Errorf("%w: %v", transcoder.ErrInvalidMedia, err)
	}

	editor := models.DefaultEditorState()
	editor.Zoom = opts.zoom
	editor.PanX = opts.panX
	editor.PanY = opts.panY
	editor.SubtitleScale = opts.subtitleSize

	req := transcoder.ExportRequest{
		SourcePath:      absInput,
		SourceFilename:  filepath.Base(absInput),
		SourceDuration:  info.Duration,
		Clip:            clip,
		Plan:            models.ExportPlan{Platform: opts.platform, SubtitleStyle: opts.style},
		SubtitleChunks:  chunks,
		Editor:          editor,
		SourceVideoSize: models.Size{Width: info.Width, Height: info.Height},
	}

	progress := newProgressPrinter(cmd.ErrOrStderr())
	result, err := pipeline.Exporter.Export(cmd.Context(), req, progress.update)
	progress.finish()
	if err != nil {
		var exportErr *transcoder.ExportError
		if errors.As(err, &exportErr) && len(exportErr.LogTail) > 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), strings.Join(exportErr.LogTail, "\n"))
		}
		return err
	}

	outPath := outputPath(opts.output, result.File.Name)
	if err := os.WriteFile(outPath, result.File.Data, 0o644); err != nil {
		return fmt.Errorf("write clip: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s (%d bytes)\n", outPath, result.File.Size())
	for _, note := range result.Notes {
		fmt.Fprintf(out, "  %s\n", note)
	}
	if opts.showCommand {
		fmt.Fprintln(out, result.CommandLine)
	}
	return nil
}

// readSubtitleChunks accepts either a bare array of chunks or {"chunks": [...]}
func readSubtitleChunks(path string) ([]models.SubtitleChunk, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subtitles: %w", err)
	}

	var chunks []models.SubtitleChunk
	if err := json.Unmarshal(data, &chunks); err == nil {
		return chunks, nil
	}
	var wrapped struct {
		Chunks []models.SubtitleChunk `json:"chunks"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: subtitles are not valid chunk JSON: %v", transcoder.ErrConfiguration, err)
	}
	return wrapped.Chunks, nil
}

func outputPath(out, name string) string {
	if out == "" {
		return name
	}
	if info, err := os.Stat(out); err == nil && info.IsDir() {
		return filepath.Join(out, name)
	}
	if strings.HasSuffix(out, string(os.PathSeparator)) {
		return filepath.Join(out, name)
	}
	return out
}
