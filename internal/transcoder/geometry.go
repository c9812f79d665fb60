package transcoder

import (
	"fmt"
	"math"
	"strings"

	"github.com/therealutkarshpriyadarshi/verticut/pkg/models"
)

// GeometryMode is the framing strategy selected for an export
type GeometryMode string

const (
	// GeometryCrop means the zoomed frame covers the canvas in both axes
	GeometryCrop GeometryMode = "crop"
	// GeometryPad means at least one axis is letterboxed
	GeometryPad GeometryMode = "pad"
)

// GeometryInput holds everything the geometry resolver looks at
type GeometryInput struct {
	SourceWidth  float64
	SourceHeight float64
	Zoom         float64
	PanX         float64
	PanY         float64
	OutputWidth  int
	OutputHeight int
	// Optional preview measurements. When both are set they take precedence
	// over zoom/pan, which are already applied to the on-screen rect.
	PreviewViewport  *models.Size
	PreviewVideoRect *models.Rect
}

// Geometry is the resolved pixel mapping of the source frame onto the canvas
type Geometry struct {
	Mode         GeometryMode `json:"mode"`
	ScaledWidth  int          `json:"scaled_width"`
	ScaledHeight int          `json:"scaled_height"`
	CropX        int          `json:"crop_x"`
	CropY        int          `json:"crop_y"`
	CropWidth    int          `json:"crop_width"`
	CropHeight   int          `json:"crop_height"`
	PadX         int          `json:"pad_x"`
	PadY         int          `json:"pad_y"`
	CanvasWidth  int          `json:"canvas_width"`
	CanvasHeight int          `json:"canvas_height"`
	FromPreview  bool         `json:"from_preview"`
	Filter       string       `json:"filter"`
}

// ResolveGeometry maps a source frame onto the output canvas. It is a pure function.
func ResolveGeometry(in GeometryInput) (*Geometry, error) {
	if !validDimension(in.SourceWidth) || !validDimension(in.SourceHeight) {
		return nil, invalidMediaErrorf("source dimensions %vx%v are not usable", in.SourceWidth, in.SourceHeight)
	}
	if in.OutputWidth <= 0 || in.OutputHeight <= 0 {
		return nil, configErrorf("output dimensions %dx%d must be positive", in.OutputWidth, in.OutputHeight)
	}

	outW := float64(in.OutputWidth)
	outH := float64(in.OutputHeight)

	var scaledW, scaledH int
	var offsetX, offsetY float64
	fromPreview := false

	if vp, rect := in.PreviewViewport, in.PreviewVideoRect; vp != nil && rect != nil &&
		validDimension(vp.Width) && validDimension(vp.Height) &&
		validDimension(rect.Width) && validDimension(rect.Height) &&
		finite(rect.X) && finite(rect.Y) {
		rx := outW / vp.Width
		ry := outH / vp.Height
		scaledW = evenRound(rect.Width * rx)
		scaledH = evenRound(rect.Height * ry)
		offsetX = rect.X * rx
		offsetY = rect.Y * ry
		fromPreview = true
	} else {
		zoom := in.Zoom
		if zoom == 0 || !finite(zoom) {
			zoom = 1
		}
		zoom = clampFloat(zoom, models.MinZoom, models.MaxZoom)
		panX, panY := in.PanX, in.PanY
		if !finite(panX) {
			panX = 0
		}
		if !finite(panY) {
			panY = 0
		}

		scale := math.Min(outW/in.SourceWidth, outH/in.SourceHeight) * zoom
		scaledW = evenRound(in.SourceWidth * scale)
		scaledH = evenRound(in.SourceHeight * scale)
		offsetX = (outW-float64(scaledW))/2 + panX
		offsetY = (outH-float64(scaledH))/2 + panY
	}
	if scaledW < 2 {
		scaledW = 2
	}
	if scaledH < 2 {
		scaledH = 2
	}

	g := &Geometry{
		ScaledWidth:  scaledW,
		ScaledHeight: scaledH,
		CanvasWidth:  in.OutputWidth,
		CanvasHeight: in.OutputHeight,
		FromPreview:  fromPreview,
	}
	g.CropX, g.CropWidth, g.PadX = resolveAxis(scaledW, in.OutputWidth, offsetX)
	g.CropY, g.CropHeight, g.PadY = resolveAxis(scaledH, in.OutputHeight, offsetY)

	if scaledW >= in.OutputWidth && scaledH >= in.OutputHeight {
		g.Mode = GeometryCrop
	} else {
		g.Mode = GeometryPad
	}
	g.Filter = g.buildFilter()
	return g, nil
}

// resolveAxis returns crop offset, crop length and pad offset for one axis
func resolveAxis(scaled, canvas int, offset float64) (cropPos, cropLen, padPos int) {
	if scaled >= canvas {
		return clampInt(int(math.Round(-offset)), 0, scaled-canvas), canvas, 0
	}
	return 0, scaled, clampInt(int(math.Round(offset)), 0, canvas-scaled)
}

func (g *Geometry) buildFilter() string {
	parts := []string{fmt.Sprintf("scale=%d:%d:flags=lanczos", g.ScaledWidth, g.ScaledHeight)}
	if g.CropWidth < g.ScaledWidth || g.CropHeight < g.ScaledHeight {
		parts = append(parts, fmt.Sprintf("crop=%d:%d:%d:%d", g.CropWidth, g.CropHeight, g.CropX, g.CropY))
	}
	if g.CropWidth < g.CanvasWidth || g.CropHeight < g.CanvasHeight {
		parts = append(parts, fmt.Sprintf("pad=%d:%d:%d:%d:color=black", g.CanvasWidth, g.CanvasHeight, g.PadX, g.PadY))
	}
	parts = append(parts, "setsar=1")
	return strings.Join(parts, ",")
}

// Describe renders a one-line human readable summary
func (g *Geometry) Describe() string {
	switch g.Mode {
	case GeometryCrop:
		return fmt.Sprintf("crop mode: scaled to %dx%d, cropped %dx%d at (%d,%d) onto %dx%d",
			g.ScaledWidth, g.ScaledHeight, g.CropWidth, g.CropHeight, g.CropX, g.CropY, g.CanvasWidth, g.CanvasHeight)
	default:
		return fmt.Sprintf("pad mode: scaled to %dx%d, padded at (%d,%d) onto %dx%d",
			g.ScaledWidth, g.ScaledHeight, g.PadX, g.PadY, g.CanvasWidth, g.CanvasHeight)
	}
}

func validDimension(v float64) bool {
	return finite(v) && v > 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// evenRound rounds to the nearest even integer, as yuv420p needs even sizes
func evenRound(v float64) int {
	return int(math.Round(v/2)) * 2
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
