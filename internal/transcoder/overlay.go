package transcoder

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// ImageOverlay places one rendered caption image on the canvas
type ImageOverlay struct {
	Input int // ffmpeg input index of the image
	X     int
	Y     int
	Start float64
	End   float64
}

// RasterOverlayStrategy renders each caption into a transparent PNG
type RasterOverlayStrategy struct {
	Font *opentype.Font
}

func (s *RasterOverlayStrategy) Kind() CaptionStrategyKind { return StrategyRasterOverlay }

// Build writes one PNG per caption into workDir. Input indexes start at 1
// because input 0 is the source video.
func (s *RasterOverlayStrategy) Build(ctx context.Context, layouts []CaptionLayout, workDir string) (*CaptionArtifacts, error) {
	if s.Font == nil {
		return nil, fmt.Errorf("raster captions need a parsed font")
	}
	arts := &CaptionArtifacts{Strategy: StrategyRasterOverlay}
	for i, l := range layouts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, x, y, err := RenderCaptionImage(s.Font, l)
		if err != nil {
			return nil, fmt.Errorf("caption %d: %w", l.Index, err)
		}
		path := filepath.Join(workDir, fmt.Sprintf("caption_%03d.png", i))
		if err := writePNG(path, img); err != nil {
			return nil, resourceError("write caption image", err)
		}
		arts.Images = append(arts.Images, path)
		arts.Overlays = append(arts.Overlays, ImageOverlay{
			Input: i + 1,
			X:     x,
			Y:     y,
			Start: l.Start,
			End:   l.End,
		})
		arts.Blocks++
	}
	return arts, nil
}

// RenderCaptionImage draws a caption block and returns it with its canvas position.
// Layers are drawn background box first, then shadow, outline and fill, matching
// the live preview.
func RenderCaptionImage(f *opentype.Font, l CaptionLayout) (*image.RGBA, int, int, error) {
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    l.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("font face: %w", err)
	}
	defer face.Close()

	st := l.Style
	scale := l.FontSize / st.FontSize
	outline := st.OutlineWidth * scale
	shadow := st.ShadowDistance * scale
	padding := 0.0
	if st.BackgroundEnabled {
		padding = st.BackgroundPadding * scale
	}

	widths := make([]float64, len(l.Lines))
	maxW := 0.0
	for i, line := range l.Lines {
		widths[i] = measureLine(face, line, st.LetterWidth)
		maxW = math.Max(maxW, widths[i])
	}

	margin := math.Ceil(outline + shadow + padding + 2)
	w := int(math.Ceil(maxW + 2*margin))
	h := int(math.Ceil(l.BlockHeight() + 2*margin))
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	ascent := float64(face.Metrics().Ascent) / 64
	type placed struct {
		x, top, baseline float64
	}
	pos := make([]placed, len(l.Lines))
	for i := range l.Lines {
		top := margin + float64(i)*l.LineHeight + (l.LineHeight-l.FontSize)/2
		pos[i] = placed{
			x:        margin + (maxW-widths[i])/2,
			top:      top,
			baseline: top + ascent,
		}
	}

	if st.BackgroundEnabled && st.BackgroundOpacity > 0 {
		bg, _ := ParseHexColor(st.BackgroundColor)
		bg.A = uint8(math.Round(st.BackgroundOpacity * 255))
		for i := range l.Lines {
			r := image.Rect(
				int(math.Floor(pos[i].x-padding)),
				int(math.Floor(pos[i].top-padding)),
				int(math.Ceil(pos[i].x+widths[i]+padding)),
				int(math.Ceil(pos[i].top+l.FontSize+padding)),
			)
			fillRoundedRect(img, r, st.BackgroundRadius*scale, bg)
		}
	}

	if shadow > 0 && st.ShadowOpacity > 0 {
		sc, _ := ParseHexColor(st.ShadowColor)
		sc.A = uint8(math.Round(st.ShadowOpacity * 255))
		src := image.NewUniform(color.NRGBA{R: sc.R, G: sc.G, B: sc.B, A: sc.A})
		for i, line := range l.Lines {
			drawLine(img, face, src, line, pos[i].x+shadow, pos[i].baseline+shadow, st.LetterWidth)
		}
	}

	if outline > 0 {
		oc, _ := ParseHexColor(st.OutlineColor)
		src := image.NewUniform(oc)
		for _, off := range outlineOffsets(outline) {
			for i, line := range l.Lines {
				drawLine(img, face, src, line, pos[i].x+off.X, pos[i].baseline+off.Y, st.LetterWidth)
			}
		}
	}

	tc, _ := ParseHexColor(st.TextColor)
	fill := image.NewUniform(tc)
	for i, line := range l.Lines {
		drawLine(img, face, fill, line, pos[i].x, pos[i].baseline, st.LetterWidth)
	}

	x := int(math.Round(l.AnchorX - float64(w)/2))
	y := int(math.Round(l.AnchorY - l.BlockHeight()/2 - margin))
	return img, x, y, nil
}

func measureLine(face font.Face, line string, letterWidth float64) float64 {
	var x fixed.Int26_6
	prev := rune(-1)
	for _, r := range line {
		if prev >= 0 {
			x += face.Kern(prev, r)
		}
		adv, _ := face.GlyphAdvance(r)
		x += fixed.Int26_6(float64(adv) * letterWidth)
		prev = r
	}
	return float64(x) / 64
}

func drawLine(dst draw.Image, face font.Face, src image.Image, line string, x, baseline, letterWidth float64) {
	d := &font.Drawer{Dst: dst, Src: src, Face: face}
	dot := fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(baseline * 64)}
	prev := rune(-1)
	for _, r := range line {
		if prev >= 0 {
			dot.X += face.Kern(prev, r)
		}
		d.Dot = dot
		d.DrawString(string(r))
		adv, _ := face.GlyphAdvance(r)
		dot.X += fixed.Int26_6(float64(adv) * letterWidth)
		prev = r
	}
}

type offset struct{ X, Y float64 }

// outlineOffsets samples rings up to radius so thick strokes stay solid
func outlineOffsets(radius float64) []offset {
	var out []offset
	for r := radius; r > 0; r -= 2 {
		steps := int(math.Max(8, math.Ceil(2*math.Pi*r/1.5)))
		for i := 0; i < steps; i++ {
			a := 2 * math.Pi * float64(i) / float64(steps)
			out = append(out, offset{X: r * math.Cos(a), Y: r * math.Sin(a)})
		}
	}
	return out
}

func fillRoundedRect(dst *image.RGBA, r image.Rectangle, radius float64, c color.RGBA) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	maxR := math.Min(float64(r.Dx()), float64(r.Dy())) / 2
	radius = math.Min(radius, maxR)

	mask := image.NewAlpha(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if insideRounded(float64(x)+0.5, float64(y)+0.5, r, radius) {
				mask.SetAlpha(x, y, color.Alpha{A: 0xff})
			}
		}
	}
	src := image.NewUniform(color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A})
	draw.DrawMask(dst, r, src, image.Point{}, mask, r.Min, draw.Over)
}

func insideRounded(px, py float64, r image.Rectangle, radius float64) bool {
	if radius <= 0 {
		return true
	}
	minX, minY := float64(r.Min.X)+radius, float64(r.Min.Y)+radius
	maxX, maxY := float64(r.Max.X)-radius, float64(r.Max.Y)-radius
	cx := clampFloat(px, minX, maxX)
	cy := clampFloat(py, minY, maxY)
	dx, dy := px-cx, py-cy
	return dx*dx+dy*dy <= radius*radius
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// buildOverlayGraph chains the geometry onto input 0 and overlays every image on top.
// It returns the -filter_complex graph and the label of the final video stream.
func buildOverlayGraph(baseChain string, overlays []ImageOverlay) (string, string) {
	var b strings.Builder
	b.WriteString("[0:v]")
	b.WriteString(baseChain)
	prev := "[base]"
	b.WriteString(prev)
	for i, o := range overlays {
		label := fmt.Sprintf("[cap%d]", i)
		if i == len(overlays)-1 {
			label = "[vout]"
		}
		b.WriteString(";")
		b.WriteString(prev)
		b.WriteString(fmt.Sprintf("[%d:v]", o.Input))
		b.WriteString(buildFilter("overlay", []filterOption{
			{key: "x", value: fmt.Sprintf("%d", o.X), raw: true},
			{key: "y", value: fmt.Sprintf("%d", o.Y), raw: true},
			{key: "eof_action", value: "repeat", raw: true},
			{key: "enable", value: fmt.Sprintf("between(t,%.3f,%.3f)", o.Start, o.End)},
		}))
		b.WriteString(label)
		prev = label
	}
	if len(overlays) == 0 {
		return strings.TrimSuffix(b.String(), "[base]") + "[vout]", "[vout]"
	}
	return b.String(), "[vout]"
}
