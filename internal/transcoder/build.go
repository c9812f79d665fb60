package transcoder

import (
	"strings"

	"github.com/therealutkarshpriyadarshi/verticut/internal/config"
	"github.com/therealutkarshpriyadarshi/verticut/internal/logging"
)

// Pipeline bundles the engine, font provider and exporter built from config
type Pipeline struct {
	FFmpeg   *FFmpeg
	Session  *Session
	Fonts    *FontProvider
	Exporter *Exporter
}

// NewPipeline wires an exporter from the export section of the config
func NewPipeline(cfg config.ExportConfig, logger *logging.Logger) *Pipeline {
	ffmpeg := NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)
	session := NewSession(ffmpeg)
	fonts := NewFontProvider(cfg.FontURL, cfg.FontPath, cfg.FontCacheDir)

	exporter := NewExporter(session, fonts, ExporterConfig{
		WorkDir:      cfg.TempDir,
		SeekCushion:  cfg.SeekCushion,
		VideoCodec:   cfg.VideoCodec,
		Preset:       cfg.Preset,
		CRF:          cfg.CRF,
		AudioCodec:   cfg.AudioCodec,
		AudioBitrate: cfg.AudioBitrate,
		Strategy:     ParseStrategyMode(cfg.CaptionStrategy),
	}, logger)

	return &Pipeline{FFmpeg: ffmpeg, Session: session, Fonts: fonts, Exporter: exporter}
}

// ParseStrategyMode maps a config value onto a strategy, defaulting to auto
func ParseStrategyMode(s string) StrategyMode {
	switch StrategyMode(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyText:
		return StrategyText
	case StrategyRaster:
		return StrategyRaster
	default:
		return StrategyAuto
	}
}
