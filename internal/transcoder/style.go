package transcoder

import (
	"fmt"
	"image/color"
	"sort"
	"strconv"
	"strings"

	"github.com/therealutkarshpriyadarshi/verticut/pkg/models"
)

// Platform describes an output target
type Platform struct {
	Name         string `json:"name"`
	Label        string `json:"label"`
	OutputWidth  int    `json:"output_width"`
	OutputHeight int    `json:"output_height"`
	DefaultStyle string `json:"default_style"`
	// Safe zone insets as a percentage of canvas height, covered by platform UI
	SafeTopPct    float64 `json:"safe_top_pct"`
	SafeBottomPct float64 `json:"safe_bottom_pct"`
}

var platforms = map[string]Platform{
	"tiktok": {Name: "tiktok", Label: "TikTok", OutputWidth: 1080, OutputHeight: 1920, DefaultStyle: "bold", SafeTopPct: 8, SafeBottomPct: 20},
	"reels":  {Name: "reels", Label: "Instagram Reels", OutputWidth: 1080, OutputHeight: 1920, DefaultStyle: "clean", SafeTopPct: 7, SafeBottomPct: 18},
	"shorts": {Name: "shorts", Label: "YouTube Shorts", OutputWidth: 1080, OutputHeight: 1920, DefaultStyle: "boxed", SafeTopPct: 6, SafeBottomPct: 16},
}

var stylePresets = map[string]models.StyleSettings{
	"bold": {
		FontSize: 72, TextColor: "#FFFFFF",
		OutlineWidth: 6, OutlineColor: "#000000",
		ShadowColor: "#000000", ShadowDistance: 4, ShadowOpacity: 0.6,
		BackgroundColor: "#000000", BackgroundOpacity: 0, BackgroundPadding: 0, BackgroundRadius: 0,
		LetterWidth: 1.0, CaseTransform: models.CaseUppercase,
	},
	"clean": {
		FontSize: 60, TextColor: "#FFFFFF",
		OutlineWidth: 2, OutlineColor: "#111111",
		ShadowColor: "#000000", ShadowDistance: 2, ShadowOpacity: 0.4,
		BackgroundColor: "#000000", BackgroundOpacity: 0, BackgroundPadding: 0, BackgroundRadius: 0,
		LetterWidth: 1.0, CaseTransform: models.CaseNone,
	},
	"boxed": {
		FontSize: 58, TextColor: "#FFFFFF",
		OutlineWidth: 0, OutlineColor: "#000000",
		ShadowColor: "#000000", ShadowDistance: 0, ShadowOpacity: 0,
		BackgroundEnabled: true, BackgroundColor: "#000000", BackgroundOpacity: 0.65,
		BackgroundPadding: 18, BackgroundRadius: 14,
		LetterWidth: 1.0, CaseTransform: models.CaseNone,
	},
	"neon": {
		FontSize: 68, TextColor: "#F5FF3B",
		OutlineWidth: 5, OutlineColor: "#1A0033",
		ShadowColor: "#FF2BD6", ShadowDistance: 5, ShadowOpacity: 0.8,
		BackgroundColor: "#000000", BackgroundOpacity: 0, BackgroundPadding: 0, BackgroundRadius: 0,
		LetterWidth: 1.08, CaseTransform: models.CaseUppercase,
	},
}

// LookupPlatform returns the platform preset or a ConfigurationError
func LookupPlatform(name string) (Platform, error) {
	p, ok := platforms[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Platform{}, configErrorf("unknown platform %q", name)
	}
	return p, nil
}

// Platforms lists the known platforms sorted by name
func Platforms() []Platform {
	out := make([]Platform, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StylePresetNames lists the caption presets sorted by name
func StylePresetNames() []string {
	out := make([]string, 0, len(stylePresets))
	for name := range stylePresets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResolveStyle merges a named caption preset with an optional partial override.
// It is pure: the presets table is never modified.
func ResolveStyle(presetName string, override *models.StyleOverrides) (models.StyleSettings, error) {
	name := strings.ToLower(strings.TrimSpace(presetName))
	base, ok := stylePresets[name]
	if !ok {
		return models.StyleSettings{}, configErrorf("unknown caption style preset %q", presetName)
	}
	s := base
	s.Preset = name

	if o := override; o != nil {
		setFloat(&s.FontSize, o.FontSize)
		setFloat(&s.OutlineWidth, o.OutlineWidth)
		setFloat(&s.ShadowDistance, o.ShadowDistance)
		setFloat(&s.ShadowOpacity, o.ShadowOpacity)
		setFloat(&s.BackgroundOpacity, o.BackgroundOpacity)
		setFloat(&s.BackgroundPadding, o.BackgroundPadding)
		setFloat(&s.BackgroundRadius, o.BackgroundRadius)
		setFloat(&s.LetterWidth, o.LetterWidth)
		if o.BackgroundEnabled != nil {
			s.BackgroundEnabled = *o.BackgroundEnabled
		}
		for _, c := range []struct {
			dst *string
			src *string
		}{
			{&s.TextColor, o.TextColor},
			{&s.OutlineColor, o.OutlineColor},
			{&s.ShadowColor, o.ShadowColor},
			{&s.BackgroundColor, o.BackgroundColor},
		} {
			if c.src == nil {
				continue
			}
			if _, err := ParseHexColor(*c.src); err != nil {
				return models.StyleSettings{}, configErrorf("style override: %v", err)
			}
			*c.dst = strings.ToUpper(strings.TrimSpace(*c.src))
		}
		if o.CaseTransform != nil {
			switch ct := strings.ToLower(strings.TrimSpace(*o.CaseTransform)); ct {
			case models.CaseNone, models.CaseUppercase:
				s.CaseTransform = ct
			default:
				return models.StyleSettings{}, configErrorf("unknown case transform %q", *o.CaseTransform)
			}
		}
	}

	if s.FontSize <= 0 {
		return models.StyleSettings{}, configErrorf("font size must be > 0, got %v", s.FontSize)
	}
	s.OutlineWidth = clampFloat(s.OutlineWidth, 0, 24)
	s.ShadowDistance = clampFloat(s.ShadowDistance, 0, 40)
	s.ShadowOpacity = clampFloat(s.ShadowOpacity, 0, 1)
	s.BackgroundOpacity = clampFloat(s.BackgroundOpacity, 0, 1)
	s.BackgroundPadding = clampFloat(s.BackgroundPadding, 0, 120)
	s.BackgroundRadius = clampFloat(s.BackgroundRadius, 0, 120)
	s.LetterWidth = clampFloat(s.LetterWidth, 0.8, 1.5)

	return s, nil
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

// ParseHexColor parses #RRGGBB (the leading # is optional)
func ParseHexColor(s string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q: want #RRGGBB", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// ffmpegColor renders #RRGGBB with an alpha suffix in drawtext syntax
func ffmpegColor(hex string, alpha float64) string {
	return fmt.Sprintf("0x%s@%.2f", strings.TrimPrefix(strings.ToUpper(hex), "#"), clampFloat(alpha, 0, 1))
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
