package transcoder

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/therealutkarshpriyadarshi/verticut/pkg/models"
)

// MimeTypeMP4 is the content type of every export
const MimeTypeMP4 = "video/mp4"

// ExportFile is the encoded clip
type ExportFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// Size is the encoded clip size in bytes
func (f ExportFile) Size() int64 {
	return int64(len(f.Data))
}

// ExportResult is a finished export with its provenance
type ExportResult struct {
	File             ExportFile          `json:"file"`
	CommandPreview   []string            `json:"command_preview"`
	CommandLine      string              `json:"command_line"`
	Notes            []string            `json:"notes"`
	CaptionsBurnedIn bool                `json:"captions_burned_in"`
	CaptionStrategy  CaptionStrategyKind `json:"caption_strategy,omitempty"`
	CaptionCount     int                 `json:"caption_count"`
	Geometry         *Geometry           `json:"geometry"`
}

// ResultInput is what AssembleResult formats
type ResultInput struct {
	SourceFilename string
	Platform       Platform
	Clip           models.ClipWindow
	Geometry       *Geometry
	Seek           SeekPlan
	Args           []string
	Data           []byte
	Captions       *CaptionArtifacts
	CaptionsTried  bool
	ShowSafeZones  bool
	ExtraNotes     []string
}

// AssembleResult packages the encoded bytes with the command and explanatory notes
func AssembleResult(in ResultInput) *ExportResult {
	res := &ExportResult{
		File: ExportFile{
			Name:     OutputFilename(in.SourceFilename, in.Platform.Name, in.Clip),
			MimeType: MimeTypeMP4,
			Data:     in.Data,
		},
		CommandPreview:   append([]string{"ffmpeg"}, in.Args...),
		CaptionsBurnedIn: in.Captions.Count() > 0,
		CaptionCount:     in.Captions.Count(),
		Geometry:         in.Geometry,
	}
	res.CommandLine = QuoteCommand(res.CommandPreview)
	if in.Captions != nil {
		res.CaptionStrategy = in.Captions.Strategy
	}

	if in.Geometry != nil {
		note := "Geometry: " + in.Geometry.Describe()
		if in.Geometry.FromPreview {
			note += " (measured from the preview)"
		}
		res.Notes = append(res.Notes, note)
	}
	res.Notes = append(res.Notes, fmt.Sprintf(
		"Seek: coarse input seek to %.3fs, exact residual seek of %.3fs, trimmed to %.3fs",
		in.Seek.Coarse, in.Seek.Residual, in.Seek.Duration))

	switch {
	case res.CaptionsBurnedIn:
		res.Notes = append(res.Notes, fmt.Sprintf("Captions burned in with the %s strategy (%d captions), windows shifted by %.3fs",
			res.CaptionStrategy, res.CaptionCount, in.Seek.Residual))
	case !in.CaptionsTried:
		res.Notes = append(res.Notes, "No captions overlap the clip window")
	}
	res.Notes = append(res.Notes, in.ExtraNotes...)

	if in.ShowSafeZones && in.Platform.Name != "" {
		res.Notes = append(res.Notes, fmt.Sprintf("Safe zones for %s: top %.0f%% and bottom %.0f%% are covered by platform UI",
			in.Platform.Label, in.Platform.SafeTopPct, in.Platform.SafeBottomPct))
	}
	return res
}

var nonWordRegex = regexp.MustCompile(`\W+`)

// OutputFilename builds {base}__{platform}__{floor(start)}-{ceil(end)}.mp4 with
// non-word characters removed from base and platform.
func OutputFilename(sourceFilename, platform string, clip models.ClipWindow) string {
	base := strings.TrimSuffix(filepath.Base(sourceFilename), filepath.Ext(sourceFilename))
	base = nonWordRegex.ReplaceAllString(base, "")
	if base == "" || base == "." {
		base = "clip"
	}
	platform = nonWordRegex.ReplaceAllString(platform, "")
	return fmt.Sprintf("%s__%s__%d-%d.mp4", base, platform,
		int64(math.Floor(clip.StartSeconds)), int64(math.Ceil(clip.EndSeconds)))
}

var shellSafeRegex = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// QuoteCommand renders args as a copy-pasteable shell command line
func QuoteCommand(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if shellSafeRegex.MatchString(a) {
			quoted[i] = a
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
