package transcoder

import (
	"context"
	"image/png"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

func testFont(t *testing.T) *opentype.Font {
	t.Helper()
	f, err := opentype.Parse(goregular.TTF)
	require.NoError(t, err)
	return f
}

func testLayout(t *testing.T, preset string) CaptionLayout {
	t.Helper()
	style, err := ResolveStyle(preset, nil)
	require.NoError(t, err)
	return CaptionLayout{
		Index:      4,
		Lines:      []string{"HELLO", "WORLD AGAIN"},
		FontSize:   style.FontSize,
		LineHeight: style.FontSize * lineHeightFactor,
		AnchorX:    540,
		AnchorY:    1500,
		Start:      0.6,
		End:        2.6,
		Style:      style,
	}
}

func TestRenderCaptionImage(t *testing.T) {
	l := testLayout(t, "boxed")
	img, x, y, err := RenderCaptionImage(testFont(t), l)
	require.NoError(t, err)

	b := img.Bounds()
	assert.Greater(t, b.Dx(), 0)
	assert.Greater(t, float64(b.Dy()), l.BlockHeight())
	// horizontally centered on the anchor
	assert.InDelta(t, 540, float64(x)+float64(b.Dx())/2, 1)
	assert.Less(t, y, 1500)

	opaque := 0
	for py := b.Min.Y; py < b.Max.Y; py++ {
		for px := b.Min.X; px < b.Max.X; px++ {
			if img.RGBAAt(px, py).A > 0 {
				opaque++
			}
		}
	}
	assert.Greater(t, opaque, 0)
	// corners stay transparent outside the rounded box
	assert.Zero(t, img.RGBAAt(0, 0).A)
}

func TestRasterOverlayStrategyBuild(t *testing.T) {
	dir := t.TempDir()
	s := &RasterOverlayStrategy{Font: testFont(t)}
	assert.Equal(t, StrategyRasterOverlay, s.Kind())

	layouts := []CaptionLayout{testLayout(t, "bold"), testLayout(t, "neon")}
	layouts[1].Start, layouts[1].End = 3, 5

	arts, err := s.Build(context.Background(), layouts, dir)
	require.NoError(t, err)
	require.Equal(t, 2, arts.Count())
	require.Len(t, arts.Images, 2)

	for i, path := range arts.Images {
		assert.True(t, strings.HasPrefix(path, dir))
		f, err := os.Open(path)
		require.NoError(t, err)
		_, err = png.Decode(f)
		f.Close()
		assert.NoError(t, err)
		assert.Equal(t, i+1, arts.Overlays[i].Input)
	}
	assert.Equal(t, 3.0, arts.Overlays[1].Start)
	assert.Equal(t, 5.0, arts.Overlays[1].End)
}

func TestRasterOverlayStrategyNeedsFont(t *testing.T) {
	_, err := (&RasterOverlayStrategy{}).Build(context.Background(), nil, t.TempDir())
	assert.Error(t, err)
}

func TestRasterOverlayStrategyHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&RasterOverlayStrategy{Font: testFont(t)}).Build(ctx, []CaptionLayout{testLayout(t, "bold")}, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildOverlayGraph(t *testing.T) {
	graph, out := buildOverlayGraph("scale=1080:608:flags=lanczos,setsar=1", []ImageOverlay{
		{Input: 1, X: 10, Y: 1400, Start: 0.6, End: 2.6},
		{Input: 2, X: 12, Y: 1380, Start: 3, End: 5},
	})
	assert.Equal(t, "[vout]", out)
	assert.True(t, strings.HasPrefix(graph, "[0:v]scale=1080:608:flags=lanczos,setsar=1[base];[base][1:v]overlay="))
	assert.Contains(t, graph, "[cap0];[cap0][2:v]overlay=x=12:y=1380")
	assert.Contains(t, graph, `between(t\,3.000\,5.000)`)
	assert.True(t, strings.HasSuffix(graph, "[vout]"))

	graph, out = buildOverlayGraph("setsar=1", nil)
	assert.Equal(t, "[0:v]setsar=1[vout]", graph)
	assert.Equal(t, "[vout]", out)
}

func TestFillRoundedRectCorners(t *testing.T) {
	l := testLayout(t, "boxed")
	l.Lines = []string{"X"}
	l.Style.BackgroundRadius = 40
	l.Style.BackgroundPadding = 30
	img, _, _, err := RenderCaptionImage(testFont(t), l)
	require.NoError(t, err)
	assert.Zero(t, img.RGBAAt(img.Bounds().Max.X-1, img.Bounds().Max.Y-1).A)
}
