package transcoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"github.com/therealutkarshpriyadarshi/verticut/pkg/models"
)

type stubFonts struct {
	res *FontResource
	err error
}

func (s *stubFonts) Get(context.Context) (*FontResource, error) {
	return s.res, s.err
}

func goFonts(t *testing.T) *stubFonts {
	t.Helper()
	f, err := opentype.Parse(goregular.TTF)
	require.NoError(t, err)
	return &stubFonts{res: &FontResource{Path: "/fonts/Go-Regular.ttf", Data: goregular.TTF, Font: f}}
}

// writingEngine writes a fake mp4 to the output argument and reports half the clip
func writingEngine(fail func(args []string) error) *fakeEngine {
	return &fakeEngine{
		caps: Capabilities{Drawtext: true},
		run: func(ctx context.Context, args []string, h Handlers) error {
			if fail != nil {
				if err := fail(args); err != nil {
					return err
				}
			}
			if h.OnProgress != nil {
				h.OnProgress(14.75)
			}
			return os.WriteFile(args[len(args)-1], []byte("mp4-bytes"), 0o644)
		},
	}
}

func testRequest(t *testing.T) ExportRequest {
	t.Helper()
	src := filepath.Join(t.TempDir(), "my talk.mp4")
	require.NoError(t, os.WriteFile(src, []byte("source"), 0o644))
	return ExportRequest{
		JobID:           "job-1",
		SourcePath:      src,
		SourceFilename:  "my talk.mp4",
		SourceDuration:  120,
		Clip:            models.ClipWindow{StartSeconds: 12.4, EndSeconds: 41.9},
		Plan:            models.ExportPlan{Platform: "tiktok"},
		SubtitleChunks:  []models.SubtitleChunk{models.NewSubtitleChunk("Hello world", 13, 15)},
		Editor:          models.DefaultEditorState(),
		SourceVideoSize: models.Size{Width: 1920, Height: 1080},
	}
}

func newTestExporter(t *testing.T, engine Engine, fonts FontSource, strategy StrategyMode) (*Exporter, string) {
	t.Helper()
	workDir := t.TempDir()
	e := NewExporter(NewSession(engine), fonts, ExporterConfig{
		WorkDir:      workDir,
		Strategy:     strategy,
		TickInterval: 10 * time.Millisecond,
	}, nil)
	return e, workDir
}

func assertWorkDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace left behind")
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestExportWithTextCaptions(t *testing.T) {
	engine := writingEngine(nil)
	e, workDir := newTestExporter(t, engine, goFonts(t), StrategyAuto)

	var mu sync.Mutex
	var reports []float64
	res, err := e.Export(context.Background(), testRequest(t), func(p float64) {
		mu.Lock()
		reports = append(reports, p)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, "mytalk__tiktok__12-42.mp4", res.File.Name)
	assert.Equal(t, MimeTypeMP4, res.File.MimeType)
	assert.Equal(t, int64(len("mp4-bytes")), res.File.Size())
	assert.True(t, res.CaptionsBurnedIn)
	assert.Equal(t, StrategyTextDirective, res.CaptionStrategy)
	assert.Equal(t, 1, res.CaptionCount)
	assert.Equal(t, GeometryPad, res.Geometry.Mode)
	assert.Equal(t, "ffmpeg", res.CommandPreview[0])

	calls := engine.Calls()
	require.Len(t, calls, 1)
	args := calls[0]
	assert.Equal(t, "9.400", argValue(args, "-ss"))
	assert.Equal(t, "29.500", argValue(args, "-t"))
	vf := argValue(args, "-vf")
	assert.True(t, strings.HasPrefix(vf, "scale=1080:608:flags=lanczos,pad=1080:1920:0:656:color=black,setsar=1,drawtext="))
	// residual seek shifts the caption window
	assert.Contains(t, vf, `between(t\,3.600\,5.600)`)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, reports)
	assert.Equal(t, 100.0, reports[len(reports)-1])
	for i := 1; i < len(reports); i++ {
		assert.Greater(t, reports[i], reports[i-1])
	}
	assert.False(t, e.Busy())
	assertWorkDirEmpty(t, workDir)
}

func TestExportLogsStateTransitionsOnSpan(t *testing.T) {
	tracer := mocktracer.New()
	span := tracer.StartSpan("export.render")
	ctx := opentracing.ContextWithSpan(context.Background(), span)

	e, _ := newTestExporter(t, writingEngine(nil), goFonts(t), StrategyText)
	_, err := e.Export(ctx, testRequest(t), nil)
	require.NoError(t, err)
	span.Finish()

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	var states []string
	for _, rec := range spans[0].Logs() {
		fields := map[string]string{}
		for _, f := range rec.Fields {
			fields[f.Key] = f.ValueString
		}
		if fields["event"] == "state" {
			states = append(states, fields["to"])
		}
	}
	require.NotEmpty(t, states)
	assert.Equal(t, string(StateMounting), states[0])
	assert.Contains(t, states, string(StateReading))
	assert.Equal(t, string(StateIdle), states[len(states)-1])
}

func TestExportRasterCaptions(t *testing.T) {
	engine := writingEngine(nil)
	e, workDir := newTestExporter(t, engine, goFonts(t), StrategyRaster)

	res, err := e.Export(context.Background(), testRequest(t), nil)
	require.NoError(t, err)
	assert.Equal(t, StrategyRasterOverlay, res.CaptionStrategy)

	args := engine.Calls()[0]
	graph := argValue(args, "-filter_complex")
	assert.True(t, strings.HasPrefix(graph, "[0:v]scale=1080:608"))
	assert.Contains(t, graph, "[1:v]overlay=")
	assert.Equal(t, "[vout]", argValue(args, "-map"))
	assert.Contains(t, strings.Join(args, " "), "caption_000.png")
	assertWorkDirEmpty(t, workDir)
}

func TestExportFallsBackWithoutCaptions(t *testing.T) {
	engine := writingEngine(func(args []string) error {
		if strings.Contains(argValue(args, "-vf"), "drawtext") {
			return &EngineError{Args: args, LogTail: []string{"No such filter: 'drawtext'"}, Err: errors.New("exit status 1")}
		}
		return nil
	})
	e, workDir := newTestExporter(t, engine, goFonts(t), StrategyText)

	res, err := e.Export(context.Background(), testRequest(t), nil)
	require.NoError(t, err)

	assert.False(t, res.CaptionsBurnedIn)
	assert.Len(t, engine.Calls(), 2)
	assert.NotContains(t, argValue(engine.Calls()[1], "-vf"), "drawtext")
	assert.True(t, hasNotePrefix(res.Notes, "Captions were omitted: captioned encode"))
	assertWorkDirEmpty(t, workDir)
}

func TestExportFallsBackWhenFontIsMissing(t *testing.T) {
	engine := writingEngine(nil)
	e, _ := newTestExporter(t, engine, &stubFonts{err: errors.New("offline")}, StrategyAuto)

	res, err := e.Export(context.Background(), testRequest(t), nil)
	require.NoError(t, err)
	assert.False(t, res.CaptionsBurnedIn)
	assert.Len(t, engine.Calls(), 1)
	assert.True(t, hasNotePrefix(res.Notes, "Captions were omitted: caption font unavailable"))
}

func TestExportWithoutCaptionsSkipsFont(t *testing.T) {
	engine := writingEngine(nil)
	fonts := &stubFonts{err: errors.New("must not be called")}
	e, _ := newTestExporter(t, engine, fonts, StrategyAuto)

	req := testRequest(t)
	req.SubtitleChunks = []models.SubtitleChunk{models.NewSubtitleChunk("before", 1, 2)}
	res, err := e.Export(context.Background(), req, nil)
	require.NoError(t, err)
	assert.False(t, res.CaptionsBurnedIn)
	assert.Contains(t, res.Notes, "No captions overlap the clip window")
}

func TestExportEngineFailure(t *testing.T) {
	engine := writingEngine(func(args []string) error {
		return &EngineError{Args: args, LogTail: []string{"moov atom not found"}, Err: errors.New("exit status 1")}
	})
	e, workDir := newTestExporter(t, engine, goFonts(t), StrategyText)

	req := testRequest(t)
	req.SubtitleChunks = nil
	_, err := e.Export(context.Background(), req, nil)
	require.Error(t, err)

	var exportErr *ExportError
	require.True(t, errors.As(err, &exportErr))
	assert.ErrorIs(t, err, ErrEngineExecution)
	assert.Equal(t, "encode", exportErr.Op)
	assert.Equal(t, []string{"moov atom not found"}, exportErr.LogTail)
	assert.NotEmpty(t, exportErr.Command)
	assert.Contains(t, err.Error(), "moov atom not found")
	assert.False(t, e.Busy())
	assertWorkDirEmpty(t, workDir)
}

func TestExportEmptyOutput(t *testing.T) {
	engine := &fakeEngine{run: func(_ context.Context, args []string, _ Handlers) error {
		return os.WriteFile(args[len(args)-1], nil, 0o644)
	}}
	e, _ := newTestExporter(t, engine, goFonts(t), StrategyText)

	req := testRequest(t)
	req.SubtitleChunks = nil
	_, err := e.Export(context.Background(), req, nil)
	assert.ErrorIs(t, err, ErrEngineExecution)
}

func TestExportCancelledDoesNotFallBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := writingEngine(func([]string) error {
		cancel()
		return context.Canceled
	})
	e, _ := newTestExporter(t, engine, goFonts(t), StrategyText)

	_, err := e.Export(ctx, testRequest(t), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, engine.Calls(), 1)
}

func TestExportRejectsConcurrentJob(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	engine := writingEngine(func([]string) error {
		close(started)
		<-release
		return nil
	})
	e, _ := newTestExporter(t, engine, goFonts(t), StrategyText)

	first := testRequest(t)
	done := make(chan error, 1)
	go func() {
		_, err := e.Export(context.Background(), first, nil)
		done <- err
	}()
	<-started

	_, err := e.Export(context.Background(), testRequest(t), nil)
	assert.ErrorIs(t, err, ErrExportInProgress)
	assert.True(t, e.Busy())

	close(release)
	require.NoError(t, <-done)
	assert.False(t, e.Busy())
}

func TestExportValidation(t *testing.T) {
	e, _ := newTestExporter(t, writingEngine(nil), goFonts(t), StrategyText)

	req := testRequest(t)
	req.Plan.Platform = "myspace"
	_, err := e.Export(context.Background(), req, nil)
	assert.ErrorIs(t, err, ErrConfiguration)

	req = testRequest(t)
	req.SourceVideoSize = models.Size{}
	_, err = e.Export(context.Background(), req, nil)
	assert.ErrorIs(t, err, ErrInvalidMedia)

	req = testRequest(t)
	req.SourcePath = filepath.Join(t.TempDir(), "missing.mp4")
	_, err = e.Export(context.Background(), req, nil)
	assert.ErrorIs(t, err, ErrResource)
}

func TestNewExporterDefaultsSeekCushion(t *testing.T) {
	e := NewExporter(NewSession(&fakeEngine{}), goFonts(t), ExporterConfig{WorkDir: t.TempDir()}, nil)
	assert.Equal(t, DefaultExporterConfig().SeekCushion, e.cfg.SeekCushion)
	assert.Equal(t, 3.0, e.cfg.SeekCushion)

	e = NewExporter(NewSession(&fakeEngine{}), goFonts(t), ExporterConfig{WorkDir: t.TempDir(), SeekCushion: -1}, nil)
	assert.Equal(t, 3.0, e.cfg.SeekCushion)
}

func TestSelectStrategy(t *testing.T) {
	font := goFonts(t).res
	neon, err := ResolveStyle("neon", nil)
	require.NoError(t, err)

	t.Run("auto renders letter width as raster", func(t *testing.T) {
		engine := &fakeEngine{caps: Capabilities{Drawtext: true}}
		e, _ := newTestExporter(t, engine, goFonts(t), StrategyAuto)
		s, note := e.selectStrategy(context.Background(), font, neon)
		assert.Equal(t, StrategyRasterOverlay, s.Kind())
		assert.Empty(t, note)
		assert.Zero(t, engine.capCalls)
	})

	t.Run("auto prefers drawtext for plain letter width", func(t *testing.T) {
		engine := &fakeEngine{caps: Capabilities{Drawtext: true}}
		e, _ := newTestExporter(t, engine, goFonts(t), StrategyAuto)
		s, note := e.selectStrategy(context.Background(), font, boldStyle(t))
		assert.Equal(t, StrategyTextDirective, s.Kind())
		assert.Empty(t, note)
	})

	t.Run("auto without drawtext", func(t *testing.T) {
		e, _ := newTestExporter(t, &fakeEngine{}, goFonts(t), StrategyAuto)
		s, _ := e.selectStrategy(context.Background(), font, boldStyle(t))
		assert.Equal(t, StrategyRasterOverlay, s.Kind())
	})

	t.Run("forced text notes dropped letter width", func(t *testing.T) {
		e, _ := newTestExporter(t, &fakeEngine{}, goFonts(t), StrategyText)
		s, note := e.selectStrategy(context.Background(), font, neon)
		assert.Equal(t, StrategyTextDirective, s.Kind())
		assert.Equal(t, "Letter width 1.08 is not applied by the text strategy", note)
	})
}

func TestExportForcedTextStrategyNotesLetterWidth(t *testing.T) {
	engine := writingEngine(nil)
	e, _ := newTestExporter(t, engine, goFonts(t), StrategyText)

	req := testRequest(t)
	req.Plan.SubtitleStyle = "neon"
	res, err := e.Export(context.Background(), req, nil)
	require.NoError(t, err)

	assert.True(t, res.CaptionsBurnedIn)
	assert.Equal(t, StrategyTextDirective, res.CaptionStrategy)
	assert.Contains(t, res.Notes, "Letter width 1.08 is not applied by the text strategy")
	assert.NotContains(t, argValue(engine.Calls()[0], "-vf"), "spacing=")
}

func TestPlanSeek(t *testing.T) {
	s := PlanSeek(models.ClipWindow{StartSeconds: 12.4, DurationSeconds: 29.5}, 3)
	assert.InDelta(t, 9.4, s.Coarse, 1e-9)
	assert.InDelta(t, 3.0, s.Residual, 1e-9)
	assert.Equal(t, 29.5, s.Duration)

	s = PlanSeek(models.ClipWindow{StartSeconds: 1, DurationSeconds: 5}, 3)
	assert.Zero(t, s.Coarse)
	assert.Equal(t, 1.0, s.Residual)
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, ErrConfiguration, errorKind(configErrorf("x")))
	assert.Equal(t, ErrResource, errorKind(resourceError("op", errors.New("disk full"))))
	assert.Equal(t, ErrEngineExecution, errorKind(errors.New("boom")))
	assert.Equal(t, "a", firstLine("a\nb"))
}

func hasNotePrefix(notes []string, prefix string) bool {
	for _, n := range notes {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}
