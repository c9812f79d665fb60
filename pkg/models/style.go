package models

// Case transforms applied to caption text
const (
	CaseNone      = "none"
	CaseUppercase = "uppercase"
)

// StyleSettings is a fully resolved caption style. Every field carries a value.
type StyleSettings struct {
	Preset            string  `json:"preset"`
	FontSize          float64 `json:"font_size"` // pixels on a 1080 wide canvas at subtitle scale 1
	TextColor         string  `json:"text_color"`
	OutlineWidth      float64 `json:"outline_width"`
	OutlineColor      string  `json:"outline_color"`
	ShadowColor       string  `json:"shadow_color"`
	ShadowDistance    float64 `json:"shadow_distance"`
	ShadowOpacity     float64 `json:"shadow_opacity"`
	BackgroundEnabled bool    `json:"background_enabled"`
	BackgroundColor   string  `json:"background_color"`
	BackgroundOpacity float64 `json:"background_opacity"`
	BackgroundPadding float64 `json:"background_padding"`
	BackgroundRadius  float64 `json:"background_radius"`
	LetterWidth       float64 `json:"letter_width"`
	CaseTransform     string  `json:"case_transform"`
}

// StyleOverrides is a partial, per-project override of a caption preset
type StyleOverrides struct {
	FontSize          *float64 `json:"font_size,omitempty"`
	TextColor         *string  `json:"text_color,omitempty"`
	OutlineWidth      *float64 `json:"outline_width,omitempty"`
	OutlineColor      *string  `json:"outline_color,omitempty"`
	ShadowColor       *string  `json:"shadow_color,omitempty"`
	ShadowDistance    *float64 `json:"shadow_distance,omitempty"`
	ShadowOpacity     *float64 `json:"shadow_opacity,omitempty"`
	BackgroundEnabled *bool    `json:"background_enabled,omitempty"`
	BackgroundColor   *string  `json:"background_color,omitempty"`
	BackgroundOpacity *float64 `json:"background_opacity,omitempty"`
	BackgroundPadding *float64 `json:"background_padding,omitempty"`
	BackgroundRadius  *float64 `json:"background_radius,omitempty"`
	LetterWidth       *float64 `json:"letter_width,omitempty"`
	CaseTransform     *string  `json:"case_transform,omitempty"`
}
