package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// DefaultLogTailLines is how many engine log lines are kept for diagnostics
const DefaultLogTailLines = 25

// FFmpeg runs the ffmpeg and ffprobe binaries
type FFmpeg struct {
	ffmpegPath   string
	ffprobePath  string
	logTailLines int
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:   ffmpegPath,
		ffprobePath:  ffprobePath,
		logTailLines: DefaultLogTailLines,
	}
}

// VideoMetadata holds video metadata extracted from ffprobe
type VideoMetadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

// SourceInfo is what the exporter needs to know about a source file
type SourceInfo struct {
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Duration  float64 `json:"duration"`
	Codec     string  `json:"codec"`
	FrameRate float64 `json:"frame_rate"`
	HasAudio  bool    `json:"has_audio"`
}

// ProbeVideo extracts metadata from a video file
func (f *FFmpeg) ProbeVideo(ctx context.Context, inputPath string) (*VideoMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, invalidMediaErrorf("ffprobe failed: %v, stderr: %s", err, stderr.String())
	}

	var metadata VideoMetadata
	if err := json.Unmarshal(stdout.Bytes(), &metadata); err != nil {
		return nil, invalidMediaErrorf("failed to parse ffprobe output: %v", err)
	}

	return &metadata, nil
}

// ProbeSource reads dimensions, duration and stream layout of a source file
func (f *FFmpeg) ProbeSource(ctx context.Context, inputPath string) (*SourceInfo, error) {
	metadata, err := f.ProbeVideo(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	return sourceInfoFromMetadata(metadata)
}

func sourceInfoFromMetadata(metadata *VideoMetadata) (*SourceInfo, error) {
	info := &SourceInfo{}
	if d, err := strconv.ParseFloat(metadata.Format.Duration, 64); err == nil {
		info.Duration = d
	}

	foundVideo := false
	for _, stream := range metadata.Streams {
		switch stream.CodecType {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			info.Width = float64(stream.Width)
			info.Height = float64(stream.Height)
			info.Codec = stream.CodecName
			info.FrameRate = parseFrameRate(stream.AvgFrameRate)
		case "audio":
			info.HasAudio = true
		}
	}

	if !foundVideo {
		return nil, invalidMediaErrorf("no video stream found")
	}
	if !validDimension(info.Width) || !validDimension(info.Height) {
		return nil, invalidMediaErrorf("video stream has dimensions %vx%v", info.Width, info.Height)
	}
	return info, nil
}

func parseFrameRate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

// Capabilities lists the engine's filters and version
func (f *FFmpeg) Capabilities(ctx context.Context) (Capabilities, error) {
	cmd := exec.CommandContext(ctx, f.ffmpegPath, "-hide_banner", "-filters")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Capabilities{}, &EngineError{
			Args:    []string{"-hide_banner", "-filters"},
			LogTail: tailLines(stderr.String(), f.logTailLines),
			Err:     err,
		}
	}
	caps := Capabilities{Drawtext: hasFilter(stdout.String(), "drawtext")}

	version := exec.CommandContext(ctx, f.ffmpegPath, "-hide_banner", "-version")
	if out, err := version.Output(); err == nil {
		caps.Version = strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	}
	return caps, nil
}

// hasFilter reports whether an `ffmpeg -filters` listing contains name.
// Listing rows look like " T.C drawtext          V->V       Draw text ...".
func hasFilter(listing, name string) bool {
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == name {
			return true
		}
	}
	return false
}

var progressKeyRegex = regexp.MustCompile(`^(out_time_us|out_time_ms)=(\d+)$`)

// Run executes ffmpeg with args, streaming -progress output from stdout and log lines from stderr.
// Both out_time_us and out_time_ms carry microseconds in ffmpeg's progress output.
func (f *FFmpeg) Run(ctx context.Context, args []string, h Handlers) error {
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return &EngineError{Args: args, Err: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}

	tail := newLogTail(f.logTailLines)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			matches := progressKeyRegex.FindStringSubmatch(line)
			if len(matches) < 3 {
				continue
			}
			us, err := strconv.ParseFloat(matches[2], 64)
			if err != nil || h.OnProgress == nil {
				continue
			}
			h.OnProgress(us / 1000000.0)
		}
		io.Copy(io.Discard, stdout)
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Split(scanLogLines)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			tail.add(line)
			if h.OnLog != nil {
				h.OnLog(line)
			}
		}
		// keep draining so ffmpeg never blocks on a full pipe
		io.Copy(io.Discard, stderr)
	}()

	wg.Wait()
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &EngineError{Args: args, LogTail: tail.lines(), Err: err}
	}
	return nil
}

var logTimeRegex = regexp.MustCompile(`time=\s*(-?\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ParseLogTime extracts processed time in seconds from an ffmpeg stats line such as
// "frame=  120 fps= 60 q=28.0 size=     512kB time=00:00:04.00 bitrate=...".
func ParseLogTime(line string) (float64, bool) {
	m := logTimeRegex.FindStringSubmatch(line)
	if len(m) < 4 {
		return 0, false
	}
	hours, err1 := strconv.ParseFloat(m[1], 64)
	mins, err2 := strconv.ParseFloat(m[2], 64)
	secs, err3 := strconv.ParseFloat(m[3], 64)
	if err1 != nil || err2 != nil || err3 != nil || hours < 0 {
		return 0, false
	}
	return hours*3600 + mins*60 + secs, true
}

// scanLogLines splits on both \n and \r, since ffmpeg rewrites its stats line with \r
func scanLogLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

type logTail struct {
	mu   sync.Mutex
	max  int
	buf  []string
	next int
	full bool
}

func newLogTail(max int) *logTail {
	if max <= 0 {
		max = DefaultLogTailLines
	}
	return &logTail{max: max, buf: make([]string, max)}
}

func (t *logTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf[t.next] = line
	t.next = (t.next + 1) % t.max
	if t.next == 0 {
		t.full = true
	}
}

func (t *logTail) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]string(nil), t.buf[:t.next]...)
	}
	out := make([]string, 0, t.max)
	out = append(out, t.buf[t.next:]...)
	return append(out, t.buf[:t.next]...)
}

func tailLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
