package models

import (
	"fmt"
	"math"
)

// MinClipDuration is the shortest clip window that can be exported, in seconds
const MinClipDuration = 1.0

// ClipWindow is the source-media time range selected for export
type ClipWindow struct {
	ID              string  `json:"id"`
	StartSeconds    float64 `json:"start_seconds"`
	EndSeconds      float64 `json:"end_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// NewClipWindow builds a clip window from start/end, enforcing the minimum
// duration and clamping against sourceDuration when it is known (> 0).
// DurationSeconds is always recomputed from the clamped bounds.
func NewClipWindow(id string, start, end, sourceDuration float64) (ClipWindow, error) {
	if !isFinite(start) || !isFinite(end) {
		return ClipWindow{}, fmt.Errorf("clip bounds must be finite (start=%v end=%v)", start, end)
	}
	if sourceDuration > 0 && sourceDuration < MinClipDuration {
		return ClipWindow{}, fmt.Errorf("source duration %.3fs is shorter than the minimum clip", sourceDuration)
	}

	if start < 0 {
		start = 0
	}
	if sourceDuration > 0 && end > sourceDuration {
		end = sourceDuration
	}
	if end-start < MinClipDuration {
		end = start + MinClipDuration
		if sourceDuration > 0 && end > sourceDuration {
			end = sourceDuration
			start = math.Max(0, end-MinClipDuration)
		}
	}

	return ClipWindow{
		ID:              id,
		StartSeconds:    start,
		EndSeconds:      end,
		DurationSeconds: end - start,
	}, nil
}

// Normalized re-derives the window, discarding any caller supplied duration.
func (c ClipWindow) Normalized(sourceDuration float64) (ClipWindow, error) {
	return NewClipWindow(c.ID, c.StartSeconds, c.EndSeconds, sourceDuration)
}

// Editor state bounds
const (
	MinZoom              = 0.5
	MaxZoom              = 4.0
	MinSubtitleScale     = 0.7
	MaxSubtitleScale     = 1.8
	MinSubtitleXPct      = 10.0
	MaxSubtitleXPct      = 90.0
	MinSubtitleYOffset   = 45.0
	MaxSubtitleYOffset   = 92.0
	defaultSubtitleYPct  = 78.0
	defaultSubtitleXPct  = 50.0
	defaultSubtitleScale = 1.0
)

// EditorState holds the framing and caption placement shared by preview and export
type EditorState struct {
	Zoom                 float64 `json:"zoom"`
	PanX                 float64 `json:"pan_x"`
	PanY                 float64 `json:"pan_y"`
	SubtitleScale        float64 `json:"subtitle_scale"`
	SubtitleXPositionPct float64 `json:"subtitle_x_position_pct"`
	SubtitleYOffsetPct   float64 `json:"subtitle_y_offset_pct"`
	ShowSafeZones        bool    `json:"show_safe_zones"`
}

// DefaultEditorState returns a centered, unzoomed editor state
func DefaultEditorState() EditorState {
	return EditorState{
		Zoom:                 1,
		SubtitleScale:        defaultSubtitleScale,
		SubtitleXPositionPct: defaultSubtitleXPct,
		SubtitleYOffsetPct:   defaultSubtitleYPct,
	}
}

// Clamped returns a copy with every bounded field forced into range.
// Zero values fall back to defaults so partially filled requests still work.
func (e EditorState) Clamped() EditorState {
	out := e
	if out.Zoom == 0 || !isFinite(out.Zoom) {
		out.Zoom = 1
	}
	if out.SubtitleScale == 0 || !isFinite(out.SubtitleScale) {
		out.SubtitleScale = defaultSubtitleScale
	}
	if out.SubtitleXPositionPct == 0 || !isFinite(out.SubtitleXPositionPct) {
		out.SubtitleXPositionPct = defaultSubtitleXPct
	}
	if out.SubtitleYOffsetPct == 0 || !isFinite(out.SubtitleYOffsetPct) {
		out.SubtitleYOffsetPct = defaultSubtitleYPct
	}
	if !isFinite(out.PanX) {
		out.PanX = 0
	}
	if !isFinite(out.PanY) {
		out.PanY = 0
	}

	out.Zoom = clamp(out.Zoom, MinZoom, MaxZoom)
	out.SubtitleScale = clamp(out.SubtitleScale, MinSubtitleScale, MaxSubtitleScale)
	out.SubtitleXPositionPct = clamp(out.SubtitleXPositionPct, MinSubtitleXPct, MaxSubtitleXPct)
	out.SubtitleYOffsetPct = clamp(out.SubtitleYOffsetPct, MinSubtitleYOffset, MaxSubtitleYOffset)
	return out
}

// SubtitleChunk is one timed caption in absolute source-media time.
// A nil end means the chunk has no explicit end.
type SubtitleChunk struct {
	Text      string      `json:"text"`
	Timestamp [2]*float64 `json:"timestamp"`
}

// NewSubtitleChunk is a convenience constructor for fully timed chunks
func NewSubtitleChunk(text string, start, end float64) SubtitleChunk {
	return SubtitleChunk{Text: text, Timestamp: [2]*float64{&start, &end}}
}

// Start returns the chunk start and whether it is set
func (c SubtitleChunk) Start() (float64, bool) {
	if c.Timestamp[0] == nil {
		return 0, false
	}
	return *c.Timestamp[0], true
}

// End returns the chunk end and whether it is set
func (c SubtitleChunk) End() (float64, bool) {
	if c.Timestamp[1] == nil {
		return 0, false
	}
	return *c.Timestamp[1], true
}

// ExportPlan names the presets an export is rendered with
type ExportPlan struct {
	Platform      string          `json:"platform"`
	SubtitleStyle string          `json:"subtitle_style"`
	EditorPreset  string          `json:"editor_preset,omitempty"`
	StyleOverride *StyleOverrides `json:"style_override,omitempty"`
}

// Size is a width/height pair in pixels
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an on-screen rectangle relative to the preview viewport origin
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
