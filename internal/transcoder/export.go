package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/verticut/internal/logging"
	"github.com/opentracing/opentracing-go"
	"github.com/therealutkarshpriyadarshi/verticut/internal/metrics"
	"github.com/therealutkarshpriyadarshi/verticut/internal/tracing"
	"github.com/therealutkarshpriyadarshi/verticut/pkg/models"
)

// State is a step of the export state machine
type State string

const (
	StateIdle           State = "idle"
	StateMounting       State = "mounting"
	StateCaptionAttempt State = "caption_attempt"
	StateEncoding       State = "encoding"
	StateReading        State = "reading"
	StateFailed         State = "failed"
)

// StrategyMode selects how captions are burned in
type StrategyMode string

const (
	StrategyAuto   StrategyMode = "auto"
	StrategyText   StrategyMode = "text"
	StrategyRaster StrategyMode = "raster"
)

// ExporterConfig holds encoder settings and the workspace location
type ExporterConfig struct {
	WorkDir      string
	SeekCushion  float64
	VideoCodec   string
	Preset       string
	CRF          int
	AudioCodec   string
	AudioBitrate string
	Strategy     StrategyMode
	TickInterval time.Duration
}

// DefaultExporterConfig returns the settings used when nothing is configured
func DefaultExporterConfig() ExporterConfig {
	return ExporterConfig{
		WorkDir:      os.TempDir(),
		SeekCushion:  3,
		VideoCodec:   "libx264",
		Preset:       "fast",
		CRF:          20,
		AudioCodec:   "aac",
		AudioBitrate: "160k",
		Strategy:     StrategyAuto,
		TickInterval: 250 * time.Millisecond,
	}
}

// FontSource supplies the caption font
type FontSource interface {
	Get(ctx context.Context) (*FontResource, error)
}

// ExportRequest is one clip export. SourcePath must point at a readable file.
type ExportRequest struct {
	JobID            string
	SourcePath       string
	SourceFilename   string
	SourceDuration   float64
	Clip             models.ClipWindow
	Plan             models.ExportPlan
	SubtitleChunks   []models.SubtitleChunk
	Editor           models.EditorState
	SourceVideoSize  models.Size
	PreviewViewport  *models.Size
	PreviewVideoRect *models.Rect
}

// Exporter turns export requests into encoded vertical clips
type Exporter struct {
	session *Session
	fonts   FontSource
	cfg     ExporterConfig
	logger  *logging.Logger
	now     func() time.Time
}

// NewExporter creates an exporter borrowing the engine from session
func NewExporter(session *Session, fonts FontSource, cfg ExporterConfig, logger *logging.Logger) *Exporter {
	def := DefaultExporterConfig()
	if cfg.WorkDir == "" {
		cfg.WorkDir = def.WorkDir
	}
	if cfg.SeekCushion <= 0 {
		cfg.SeekCushion = def.SeekCushion
	}
	if cfg.VideoCodec == "" {
		cfg.VideoCodec = def.VideoCodec
	}
	if cfg.Preset == "" {
		cfg.Preset = def.Preset
	}
	if cfg.CRF <= 0 {
		cfg.CRF = def.CRF
	}
	if cfg.AudioCodec == "" {
		cfg.AudioCodec = def.AudioCodec
	}
	if cfg.AudioBitrate == "" {
		cfg.AudioBitrate = def.AudioBitrate
	}
	if cfg.Strategy == "" {
		cfg.Strategy = def.Strategy
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Exporter{
		session: session,
		fonts:   fonts,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Busy reports whether an export currently holds the engine
func (e *Exporter) Busy() bool {
	return e.session.Busy()
}

// SeekPlan splits the clip start into a coarse input seek and an exact residual
type SeekPlan struct {
	Coarse   float64
	Residual float64
	Duration float64
}

// PlanSeek seeks coarsely to cushion seconds before the clip and trims the rest exactly
func PlanSeek(clip models.ClipWindow, cushion float64) SeekPlan {
	coarse := clip.StartSeconds - cushion
	if coarse < 0 {
		coarse = 0
	}
	return SeekPlan{
		Coarse:   coarse,
		Residual: clip.StartSeconds - coarse,
		Duration: clip.DurationSeconds,
	}
}

// exportPlan is the static, per-job parameters computed before anything runs
type exportPlan struct {
	platform Platform
	style    models.StyleSettings
	clip     models.ClipWindow
	geometry *Geometry
	seek     SeekPlan
	layouts  []CaptionLayout
}

func (e *Exporter) plan(req ExportRequest) (*exportPlan, error) {
	platform, err := LookupPlatform(req.Plan.Platform)
	if err != nil {
		return nil, err
	}
	styleName := req.Plan.SubtitleStyle
	if styleName == "" {
		styleName = platform.DefaultStyle
	}
	style, err := ResolveStyle(styleName, req.Plan.StyleOverride)
	if err != nil {
		return nil, err
	}
	clip, err := req.Clip.Normalized(req.SourceDuration)
	if err != nil {
		return nil, invalidMediaErrorf("%v", err)
	}

	editor := req.Editor.Clamped()
	geometry, err := ResolveGeometry(GeometryInput{
		SourceWidth:      req.SourceVideoSize.Width,
		SourceHeight:     req.SourceVideoSize.Height,
		Zoom:             editor.Zoom,
		PanX:             editor.PanX,
		PanY:             editor.PanY,
		OutputWidth:      platform.OutputWidth,
		OutputHeight:     platform.OutputHeight,
		PreviewViewport:  req.PreviewViewport,
		PreviewVideoRect: req.PreviewVideoRect,
	})
	if err != nil {
		return nil, err
	}

	seek := PlanSeek(clip, e.cfg.SeekCushion)
	layouts := LayoutCaptions(req.SubtitleChunks, CaptionParams{
		Clip:         clip,
		Editor:       editor,
		Style:        style,
		CanvasWidth:  platform.OutputWidth,
		CanvasHeight: platform.OutputHeight,
		SeekOffset:   seek.Residual,
	})

	return &exportPlan{
		platform: platform,
		style:    style,
		clip:     clip,
		geometry: geometry,
		seek:     seek,
		layouts:  layouts,
	}, nil
}

// exportRun tracks one job through the state machine
type exportRun struct {
	jobID  string
	state  State
	logger *logging.Logger
	span   opentracing.Span
}

func (r *exportRun) transition(to State) {
	r.logger.LogStateTransition(r.jobID, string(r.state), string(to))
	metrics.RecordStateTransition(string(to))
	tracing.LogEvent(r.span, "state", "from", string(r.state), "to", string(to))
	r.state = to
}

// Export runs one clip export. Only one export may run at a time; a concurrent
// call fails with ErrExportInProgress. onProgress may be nil.
func (e *Exporter) Export(ctx context.Context, req ExportRequest, onProgress ProgressFunc) (*ExportResult, error) {
	lease, err := e.session.TryAcquire()
	if err != nil {
		return nil, &ExportError{Kind: ErrExportInProgress, Op: "acquire engine", Err: err}
	}
	defer lease.Release()

	logger := e.logger.WithJobID(req.JobID)
	run := &exportRun{jobID: req.JobID, state: StateIdle, logger: logger, span: tracing.SpanFromContext(ctx)}

	plan, err := e.plan(req)
	if err != nil {
		run.transition(StateFailed)
		return nil, &ExportError{Kind: errorKind(err), Op: "prepare export", Err: err}
	}

	run.transition(StateMounting)
	ws, err := mountWorkspace(e.cfg.WorkDir, req.SourcePath)
	if err != nil {
		run.transition(StateFailed)
		return nil, &ExportError{Kind: ErrResource, Op: "mount source", Err: err}
	}
	defer ws.release(logger)

	estimator := newProgressEstimator(plan.clip.DurationSeconds, func(pct float64, src ProgressSource) {
		logger.LogExportProgress(req.JobID, pct, string(src))
		if onProgress != nil {
			onProgress(pct)
		}
	}, e.now)

	unsubscribe := lease.Subscribe(Handlers{
		OnProgress: func(sec float64) {
			estimator.Native(sec / plan.clip.DurationSeconds)
		},
		OnLog: func(line string) {
			if sec, ok := ParseLogTime(line); ok {
				estimator.ProcessedTime(sec)
			}
		},
	})
	defer unsubscribe()

	stopTicker := e.startTicker(estimator)
	defer stopTicker()

	var notes []string
	var arts *CaptionArtifacts
	var args []string
	captioned := false

	if len(plan.layouts) > 0 {
		run.transition(StateCaptionAttempt)
		var note string
		arts, args, note, err = e.captionedRun(ctx, lease, run, ws, plan)
		if err == nil {
			captioned = true
			if note != "" {
				notes = append(notes, note)
			}
		} else {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, e.fail(run, "encode", ctxErr, estimator, args)
			}
			logger.LogJobEvent(req.JobID, "caption_fallback", string(run.state), map[string]interface{}{
				"error": err.Error(),
			})
			metrics.RecordCaptionFallback(errorLabel(err))
			tracing.LogEvent(run.span, "caption_fallback", "error", firstLine(err.Error()))
			ws.removeOutput(logger)
			notes = append(notes, "Captions were omitted: "+firstLine(err.Error()))
			arts = nil
		}
	}

	if !captioned {
		run.transition(StateEncoding)
		args = e.buildArgs(ws.input, ws.output, plan, nil)
		if err := lease.Exec(ctx, args); err != nil {
			return nil, e.fail(run, "encode", err, estimator, args)
		}
	}

	run.transition(StateReading)
	data, err := os.ReadFile(ws.output)
	if err != nil {
		return nil, e.fail(run, "read output", resourceError("read output", err), estimator, args)
	}
	if len(data) == 0 {
		return nil, e.fail(run, "read output", fmt.Errorf("%w: engine produced an empty file", ErrEngineExecution), estimator, args)
	}

	estimator.Complete()
	run.transition(StateIdle)

	return AssembleResult(ResultInput{
		SourceFilename: req.SourceFilename,
		Platform:       plan.platform,
		Clip:           plan.clip,
		Geometry:       plan.geometry,
		Seek:           plan.seek,
		Args:           args,
		Data:           data,
		Captions:       arts,
		CaptionsTried:  len(plan.layouts) > 0,
		ShowSafeZones:  req.Editor.ShowSafeZones,
		ExtraNotes:     notes,
	}), nil
}

// captionedRun builds caption artifacts and encodes with them. Any error it returns
// is a caption failure and leaves the caller free to retry without captions.
func (e *Exporter) captionedRun(ctx context.Context, lease *Lease, run *exportRun, ws *workspace, plan *exportPlan) (*CaptionArtifacts, []string, string, error) {
	font, err := e.fonts.Get(ctx)
	if err != nil {
		return nil, nil, "", fmt.Errorf("caption font unavailable: %w", err)
	}
	strategy, note := e.selectStrategy(ctx, font, plan.style)
	arts, err := strategy.Build(ctx, plan.layouts, ws.dir)
	if err != nil {
		return nil, nil, "", fmt.Errorf("%s captions: %w", strategy.Kind(), err)
	}

	run.transition(StateEncoding)
	args := e.buildArgs(ws.input, ws.output, plan, arts)
	if err := lease.Exec(ctx, args); err != nil {
		return nil, args, "", fmt.Errorf("captioned encode: %w", err)
	}
	return arts, args, note, nil
}

// selectStrategy picks the caption strategy for style. drawtext has no letter
// spacing option, so auto mode renders a non-default letter width as raster.
// The returned note is set when the chosen strategy cannot honor the style.
func (e *Exporter) selectStrategy(ctx context.Context, font *FontResource, style models.StyleSettings) (CaptionStrategy, string) {
	mode := e.cfg.Strategy
	if mode == StrategyAuto {
		mode = StrategyRaster
		if style.LetterWidth == 1 {
			if caps, err := e.session.Capabilities(ctx); err == nil && caps.Drawtext {
				mode = StrategyText
			}
		}
	}
	if mode == StrategyText {
		var note string
		if style.LetterWidth != 1 {
			note = fmt.Sprintf("Letter width %.2f is not applied by the text strategy", style.LetterWidth)
		}
		return &TextDirectiveStrategy{FontPath: font.Path}, note
	}
	return &RasterOverlayStrategy{Font: font.Font}, ""
}

func (e *Exporter) fail(run *exportRun, op string, err error, est *ProgressEstimator, args []string) error {
	run.transition(StateFailed)
	progress, _ := est.Last()
	exportErr := &ExportError{
		Kind:     errorKind(err),
		Op:       op,
		Err:      err,
		Progress: progress,
		Command:  args,
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		exportErr.LogTail = engineErr.LogTail
	}
	return exportErr
}

func (e *Exporter) startTicker(est *ProgressEstimator) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				est.Tick()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// buildArgs assembles the full ffmpeg invocation. arts may be nil for an uncaptioned run.
func (e *Exporter) buildArgs(input, output string, plan *exportPlan, arts *CaptionArtifacts) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", formatSeconds(plan.seek.Coarse),
		"-i", input,
	}

	raster := arts != nil && arts.Strategy == StrategyRasterOverlay && len(arts.Overlays) > 0
	if raster {
		for _, img := range arts.Images {
			args = append(args, "-i", img)
		}
	}

	args = append(args,
		"-ss", formatSeconds(plan.seek.Residual),
		"-t", formatSeconds(plan.seek.Duration),
	)

	if raster {
		graph, out := buildOverlayGraph(plan.geometry.Filter, arts.Overlays)
		args = append(args, "-filter_complex", graph, "-map", out, "-map", "0:a?")
	} else {
		chain := plan.geometry.Filter
		if arts != nil && len(arts.Filters) > 0 {
			chain += "," + strings.Join(arts.Filters, ",")
		}
		args = append(args, "-vf", chain, "-map", "0:v:0", "-map", "0:a?")
	}

	args = append(args,
		"-c:v", e.cfg.VideoCodec,
		"-preset", e.cfg.Preset,
		"-crf", fmt.Sprintf("%d", e.cfg.CRF),
		"-pix_fmt", "yuv420p",
		"-c:a", e.cfg.AudioCodec,
		"-b:a", e.cfg.AudioBitrate,
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		output,
	)
	return args
}

func formatSeconds(v float64) string {
	return fmt.Sprintf("%.3f", v)
}

// errorKind maps an error onto its sentinel kind
func errorKind(err error) error {
	for _, kind := range []error{ErrInvalidMedia, ErrConfiguration, ErrFilterSyntax, ErrResource, ErrExportInProgress} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrEngineExecution
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// workspace is the per-job scratch directory holding the mounted source and outputs
type workspace struct {
	dir    string
	input  string
	output string
}

// mountWorkspace creates a scratch directory and links (or copies) the source into it
func mountWorkspace(root, sourcePath string) (*workspace, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, fmt.Errorf("source not readable: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work root: %w", err)
	}
	dir, err := os.MkdirTemp(root, "verticut-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	ws := &workspace{
		dir:    dir,
		input:  filepath.Join(dir, "input"+filepath.Ext(sourcePath)),
		output: filepath.Join(dir, "output.mp4"),
	}
	if err := os.Link(sourcePath, ws.input); err != nil {
		if err := copyFile(sourcePath, ws.input); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("failed to mount source: %w", err)
		}
	}
	return ws, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// removeOutput deletes a partial output so it is never mistaken for a result
func (w *workspace) removeOutput(logger *logging.Logger) {
	if err := os.Remove(w.output); err != nil && !os.IsNotExist(err) {
		logger.ErrorWithErr("failed to remove partial output", resourceError("remove partial output", err))
	}
}

func (w *workspace) release(logger *logging.Logger) {
	if err := os.RemoveAll(w.dir); err != nil {
		logger.ErrorWithErr("failed to release workspace", resourceError("release workspace", err))
	}
}
