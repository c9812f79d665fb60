package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// PreviewFrame is a single rendered frame of an export
type PreviewFrame struct {
	PNG              []byte
	At               float64
	CaptionsBurnedIn bool
	Geometry         *Geometry
	CommandLine      string
}

// RenderPreviewFrame renders the frame at clip-relative second at through the same
// geometry and caption chain as Export. It holds the engine like an export does.
func (e *Exporter) RenderPreviewFrame(ctx context.Context, req ExportRequest, at float64) (*PreviewFrame, error) {
	lease, err := e.session.TryAcquire()
	if err != nil {
		return nil, &ExportError{Kind: ErrExportInProgress, Op: "acquire engine", Err: err}
	}
	defer lease.Release()

	logger := e.logger.WithJobID(req.JobID)

	plan, err := e.plan(req)
	if err != nil {
		return nil, &ExportError{Kind: errorKind(err), Op: "prepare preview", Err: err}
	}
	at = clampFloat(at, 0, plan.clip.DurationSeconds)

	ws, err := mountWorkspace(e.cfg.WorkDir, req.SourcePath)
	if err != nil {
		return nil, &ExportError{Kind: ErrResource, Op: "mount source", Err: err}
	}
	defer ws.release(logger)
	output := filepath.Join(ws.dir, "frame.png")

	// Seek straight to the requested frame; only captions visible there are drawn,
	// pinned to the single output frame.
	frameSeek := SeekPlan{Coarse: plan.seek.Coarse, Residual: plan.seek.Residual + at, Duration: 0}
	var visible []CaptionLayout
	for _, l := range plan.layouts {
		rel := at + plan.seek.Residual
		if rel >= l.Start && rel <= l.End {
			l.Start = 0
			l.End = frameSeek.Residual + 1
			visible = append(visible, l)
		}
	}

	framePlan := *plan
	framePlan.seek = frameSeek
	framePlan.layouts = visible

	frame := &PreviewFrame{At: at, Geometry: plan.geometry}
	if len(visible) > 0 {
		font, ferr := e.fonts.Get(ctx)
		if ferr == nil {
			strategy, _ := e.selectStrategy(ctx, font, plan.style)
			arts, berr := strategy.Build(ctx, visible, ws.dir)
			if berr == nil {
				args := e.frameArgs(ws.input, output, &framePlan, arts)
				if err := lease.Exec(ctx, args); err == nil {
					frame.CaptionsBurnedIn = true
					frame.CommandLine = QuoteCommand(append([]string{"ffmpeg"}, args...))
				} else {
					ferr = err
				}
			} else {
				ferr = berr
			}
		}
		if ferr != nil {
			if ctx.Err() != nil {
				return nil, &ExportError{Kind: ErrEngineExecution, Op: "render preview", Err: ctx.Err()}
			}
			logger.WithError(ferr).Warn("preview captions failed, rendering without them")
		}
	}

	if !frame.CaptionsBurnedIn {
		args := e.frameArgs(ws.input, output, &framePlan, nil)
		if err := lease.Exec(ctx, args); err != nil {
			exportErr := &ExportError{Kind: errorKind(err), Op: "render preview", Err: err, Command: args}
			var engineErr *EngineError
			if errors.As(err, &engineErr) {
				exportErr.LogTail = engineErr.LogTail
			}
			return nil, exportErr
		}
		frame.CommandLine = QuoteCommand(append([]string{"ffmpeg"}, args...))
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return nil, &ExportError{Kind: ErrResource, Op: "read preview", Err: resourceError("read preview", err)}
	}
	if len(data) == 0 {
		return nil, &ExportError{Kind: ErrEngineExecution, Op: "read preview", Err: fmt.Errorf("engine produced an empty frame")}
	}
	frame.PNG = data
	return frame, nil
}

// frameArgs reuses the export arguments but writes a single PNG frame
func (e *Exporter) frameArgs(input, output string, plan *exportPlan, arts *CaptionArtifacts) []string {
	full := e.buildArgs(input, output, plan, arts)

	args := make([]string, 0, len(full))
	for i := 0; i < len(full); i++ {
		switch full[i] {
		case "-t", "-c:v", "-preset", "-crf", "-pix_fmt", "-c:a", "-b:a", "-movflags", "-progress":
			i++
			continue
		case "-map":
			if full[i+1] == "0:a?" {
				i++
				continue
			}
		}
		if full[i] == output {
			break
		}
		args = append(args, full[i])
	}
	return append(args, "-frames:v", "1", "-f", "image2", "-c:v", "png", output)
}
