package transcoder

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/therealutkarshpriyadarshi/verticut/pkg/models"
)

const (
	// DefaultChunkDuration is used when a chunk has no end timestamp
	DefaultChunkDuration = 2.5
	// chunkLateTolerance discards chunks starting this far past the clip end
	chunkLateTolerance   = 0.25
	referenceCanvasWidth = 1080.0
	lineHeightFactor     = 1.25
	glyphWidthFactor     = 0.55
	textWidthShare       = 0.80
	minCharsPerLine      = 8
)

// CaptionLayout is the shared, strategy independent result of laying out one chunk.
// Start and End are clip relative and already shifted by the seek offset.
type CaptionLayout struct {
	Index      int
	Lines      []string
	FontSize   float64
	LineHeight float64
	AnchorX    float64 // horizontal center of the block
	AnchorY    float64 // vertical center of the block
	Start      float64
	End        float64
	Style      models.StyleSettings
}

// BlockHeight is the total height of the text lines
func (l CaptionLayout) BlockHeight() float64 {
	return l.LineHeight * float64(len(l.Lines))
}

// LineTop is the y coordinate of the top of line i
func (l CaptionLayout) LineTop(i int) float64 {
	return l.AnchorY - l.BlockHeight()/2 + float64(i)*l.LineHeight
}

// CaptionParams groups what the layout step needs besides the chunks
type CaptionParams struct {
	Clip         models.ClipWindow
	Editor       models.EditorState
	Style        models.StyleSettings
	CanvasWidth  int
	CanvasHeight int
	SeekOffset   float64
}

// RebaseChunk maps a chunk into clip-relative seconds. ok is false when the
// chunk has no usable window inside the clip.
func RebaseChunk(chunk models.SubtitleChunk, clip models.ClipWindow) (start, end float64, ok bool) {
	chunkStart, hasStart := chunk.Start()
	if !hasStart || !finite(chunkStart) {
		return 0, 0, false
	}
	rel := chunkStart - clip.StartSeconds
	if rel > clip.DurationSeconds+chunkLateTolerance {
		return 0, 0, false
	}
	start = math.Max(0, rel)
	if chunkEnd, hasEnd := chunk.End(); hasEnd && finite(chunkEnd) {
		end = chunkEnd - clip.StartSeconds
	} else {
		end = start + DefaultChunkDuration
	}
	if end > clip.DurationSeconds {
		end = clip.DurationSeconds
	}
	if end <= start {
		return 0, 0, false
	}
	return start, end, true
}

// LayoutCaptions expands subtitle chunks into positioned, timed caption blocks.
// Chunks outside the clip window or without text produce nothing.
func LayoutCaptions(chunks []models.SubtitleChunk, p CaptionParams) []CaptionLayout {
	editor := p.Editor.Clamped()
	fontSize := p.Style.FontSize * editor.SubtitleScale * float64(p.CanvasWidth) / referenceCanvasWidth
	maxChars := MaxCharsPerLine(float64(p.CanvasWidth), fontSize, p.Style.LetterWidth)
	upper := cases.Upper(language.Und)

	var out []CaptionLayout
	for i, chunk := range chunks {
		start, end, ok := RebaseChunk(chunk, p.Clip)
		if !ok {
			continue
		}
		text := strings.Join(strings.Fields(chunk.Text), " ")
		if text == "" {
			continue
		}
		if p.Style.CaseTransform == models.CaseUppercase {
			text = upper.String(text)
		}

		lines := WrapWords(text, maxChars)
		lineHeight := fontSize * lineHeightFactor
		blockH := lineHeight * float64(len(lines))

		anchorX := float64(p.CanvasWidth) * editor.SubtitleXPositionPct / 100
		anchorY := float64(p.CanvasHeight) * editor.SubtitleYOffsetPct / 100
		// keep the whole block on the canvas
		anchorY = clampFloat(anchorY, blockH/2, float64(p.CanvasHeight)-blockH/2)

		out = append(out, CaptionLayout{
			Index:      i,
			Lines:      lines,
			FontSize:   fontSize,
			LineHeight: lineHeight,
			AnchorX:    anchorX,
			AnchorY:    anchorY,
			Start:      start + p.SeekOffset,
			End:        end + p.SeekOffset,
			Style:      p.Style,
		})
	}
	return out
}

// MaxCharsPerLine estimates how many characters fit on one caption line
func MaxCharsPerLine(canvasWidth, fontSize, letterWidth float64) int {
	if letterWidth <= 0 {
		letterWidth = 1
	}
	if fontSize <= 0 {
		return minCharsPerLine
	}
	n := int(math.Floor((canvasWidth * textWidthShare) / (fontSize * glyphWidthFactor * letterWidth)))
	if n < minCharsPerLine {
		return minCharsPerLine
	}
	return n
}

// WrapWords greedily packs words into lines of at most maxChars runes.
// A single word longer than maxChars gets a line of its own and is never split.
func WrapWords(text string, maxChars int) []string {
	var lines []string
	var cur strings.Builder
	curLen := 0
	for _, w := range strings.Fields(text) {
		wl := len([]rune(w))
		if curLen > 0 && curLen+1+wl > maxChars {
			lines = append(lines, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(w)
		curLen += wl
	}
	if curLen > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

// CaptionStrategyKind names how captions are burned in
type CaptionStrategyKind string

const (
	StrategyTextDirective CaptionStrategyKind = "text"
	StrategyRasterOverlay CaptionStrategyKind = "raster"
)

// CaptionArtifacts is what a strategy contributes to the engine invocation
type CaptionArtifacts struct {
	Strategy CaptionStrategyKind
	// Blocks is the number of caption layouts rendered, whatever the strategy
	Blocks int
	// Filters are appended to the -vf chain (text directive)
	Filters []string
	// Images are extra inputs overlaid with Overlays (raster overlay)
	Images   []string
	Overlays []ImageOverlay
}

// Count is the number of burned-in caption blocks
func (a *CaptionArtifacts) Count() int {
	if a == nil {
		return 0
	}
	return a.Blocks
}

// CaptionStrategy turns laid out captions into engine artifacts
type CaptionStrategy interface {
	Kind() CaptionStrategyKind
	Build(ctx context.Context, layouts []CaptionLayout, workDir string) (*CaptionArtifacts, error)
}

// TextDirectiveStrategy renders captions with the drawtext filter
type TextDirectiveStrategy struct {
	FontPath string
}

func (s *TextDirectiveStrategy) Kind() CaptionStrategyKind { return StrategyTextDirective }

// Build emits one drawtext filter per caption line
func (s *TextDirectiveStrategy) Build(_ context.Context, layouts []CaptionLayout, _ string) (*CaptionArtifacts, error) {
	arts := &CaptionArtifacts{Strategy: StrategyTextDirective}
	for _, l := range layouts {
		for i, line := range l.Lines {
			f, err := s.drawtextFilter(l, i, line)
			if err != nil {
				return nil, fmt.Errorf("caption %d: %w", l.Index, err)
			}
			arts.Filters = append(arts.Filters, f)
		}
		arts.Blocks++
	}
	return arts, nil
}

func (s *TextDirectiveStrategy) drawtextFilter(l CaptionLayout, i int, line string) (string, error) {
	opts, err := s.drawtextOptions(l, i, line)
	if err != nil {
		return "", err
	}
	return buildFilter("drawtext", opts), nil
}

// drawtextOptions lists the drawtext options for line i of l. Letter width has
// no drawtext equivalent and is left out.
func (s *TextDirectiveStrategy) drawtextOptions(l CaptionLayout, i int, line string) ([]filterOption, error) {
	text, err := escapeDrawtextText(line)
	if err != nil {
		return nil, err
	}
	st := l.Style
	scale := l.FontSize / st.FontSize

	opts := []filterOption{
		{key: "fontfile", value: s.FontPath},
		{key: "text", value: text},
		{key: "fontsize", value: fmt.Sprintf("%d", int(math.Round(l.FontSize))), raw: true},
		{key: "fontcolor", value: ffmpegColor(st.TextColor, 1), raw: true},
		{key: "x", value: fmt.Sprintf("%d-text_w/2", int(math.Round(l.AnchorX))), raw: true},
		{key: "y", value: fmt.Sprintf("%d", int(math.Round(l.LineTop(i)+(l.LineHeight-l.FontSize)/2))), raw: true},
	}
	if st.OutlineWidth > 0 {
		opts = append(opts,
			filterOption{key: "borderw", value: fmt.Sprintf("%d", int(math.Round(st.OutlineWidth*scale))), raw: true},
			filterOption{key: "bordercolor", value: ffmpegColor(st.OutlineColor, 1), raw: true},
		)
	}
	if st.ShadowDistance > 0 && st.ShadowOpacity > 0 {
		d := int(math.Round(st.ShadowDistance * scale))
		opts = append(opts,
			filterOption{key: "shadowcolor", value: ffmpegColor(st.ShadowColor, st.ShadowOpacity), raw: true},
			filterOption{key: "shadowx", value: fmt.Sprintf("%d", d), raw: true},
			filterOption{key: "shadowy", value: fmt.Sprintf("%d", d), raw: true},
		)
	}
	if st.BackgroundEnabled && st.BackgroundOpacity > 0 {
		opts = append(opts,
			filterOption{key: "box", value: "1", raw: true},
			filterOption{key: "boxcolor", value: ffmpegColor(st.BackgroundColor, st.BackgroundOpacity), raw: true},
			filterOption{key: "boxborderw", value: fmt.Sprintf("%d", int(math.Round(st.BackgroundPadding*scale))), raw: true},
		)
	}
	opts = append(opts, filterOption{key: "enable", value: fmt.Sprintf("between(t,%.3f,%.3f)", l.Start, l.End)})

	return opts, nil
}
