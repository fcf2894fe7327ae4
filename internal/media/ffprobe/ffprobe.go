package ffprobe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Result represents the parsed output from an ffprobe inspection.
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
	raw     []byte
}

// Stream describes a single stream in the media container.
type Stream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Profile      string `json:"profile"`
	PixelFormat  string `json:"pix_fmt"`
	Duration     string `json:"duration"`
	BitRate      string `json:"bit_rate"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
}

// Format captures container-level metadata extracted by ffprobe.
type Format struct {
	Filename   string `json:"filename"`
	NBStreams  int    `json:"nb_streams"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

// Inspect executes ffprobe against the provided path and decodes the JSON response.
func Inspect(ctx context.Context, binary string, path string) (Result, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, errors.New("ffprobe inspect: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return Result{}, fmt.Errorf("ffprobe inspect: %w: %s", err, strings.TrimSpace(string(output)))
	}

	var result Result
	if err := json.Unmarshal(output, &result); err != nil {
		return Result{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	result.raw = append([]byte(nil), output...)
	return result, nil
}

// RawJSON returns the raw ffprobe JSON payload.
func (r Result) RawJSON() []byte {
	return append([]byte(nil), r.raw...)
}

// VideoStream returns the first video stream, or nil when the container
// carries none.
func (r Result) VideoStream() *Stream {
	for i := range r.Streams {
		if strings.EqualFold(r.Streams[i].CodecType, "video") {
			return &r.Streams[i]
		}
	}
	return nil
}

// AudioStream returns the first audio stream, or nil when the container
// carries none.
func (r Result) AudioStream() *Stream {
	for i := range r.Streams {
		if strings.EqualFold(r.Streams[i].CodecType, "audio") {
			return &r.Streams[i]
		}
	}
	return nil
}

// VideoStreamCount returns the number of video streams discovered.
func (r Result) VideoStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "video") {
			count++
		}
	}
	return count
}

// AudioStreamCount returns the number of audio streams discovered.
func (r Result) AudioStreamCount() int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, "audio") {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration in seconds, or 0 when unavailable.
func (r Result) DurationSeconds() float64 {
	return parseFloat(r.Format.Duration)
}

// SizeBytes returns the reported container size in bytes, or 0 when unavailable.
func (r Result) SizeBytes() int64 {
	size := parseFloat(r.Format.Size)
	if math.IsNaN(size) || size < 0 {
		return 0
	}
	return int64(size)
}

// BitRate returns the container bitrate in bits per second, or 0 when unavailable.
func (r Result) BitRate() int64 {
	rate := parseFloat(r.Format.BitRate)
	if math.IsNaN(rate) || rate < 0 {
		return 0
	}
	return int64(rate)
}

// FrameRate parses a stream's average frame rate into frames per second.
// ffprobe reports rates as a ratio ("30000/1001"); a zero denominator or
// missing rate yields 0.
func (s Stream) FrameRate() float64 {
	for _, raw := range []string{s.AvgFrameRate, s.RFrameRate} {
		if rate := parseRatio(raw); rate > 0 {
			return rate
		}
	}
	return 0
}

// Descriptor is the conform-level view of a media file: the attributes the
// decision engine and command builders consume. Container holds the file
// extension without the leading dot; downstream compatibility checks match
// on it rather than on ffprobe's format_name, so a misnamed file is treated
// as the container its name claims.
type Descriptor struct {
	Path      string
	Container string
	SizeBytes int64
	Duration  float64
	Video     *VideoInfo
	Audio     *AudioInfo
}

// VideoInfo carries the video stream attributes used for conformance checks.
type VideoInfo struct {
	Codec       string
	Profile     string
	PixelFormat string
	Width       int
	Height      int
	FPS         float64
	BitRate     int64
}

// AudioInfo carries the audio stream attributes used for conformance checks.
type AudioInfo struct {
	Codec      string
	Channels   int
	SampleRate int
	BitRate    int64
}

// inspect is swappable in tests.
var inspect = Inspect

// Describe probes a media file and reduces the raw ffprobe result to a
// Descriptor. A file may be video, audio, or both; one without either kind
// of stream is rejected.
func Describe(ctx context.Context, binary string, path string) (Descriptor, error) {
	result, err := inspect(ctx, binary, path)
	if err != nil {
		return Descriptor{}, err
	}
	return describeResult(path, result)
}

func describeResult(path string, result Result) (Descriptor, error) {
	video := result.VideoStream()
	audio := result.AudioStream()
	if video == nil && audio == nil {
		return Descriptor{}, fmt.Errorf("ffprobe describe: %s: no video or audio stream", path)
	}

	desc := Descriptor{
		Path:      path,
		Container: ContainerOf(path),
		SizeBytes: result.SizeBytes(),
		Duration:  result.DurationSeconds(),
	}
	if video != nil {
		desc.Video = &VideoInfo{
			Codec:       strings.ToLower(strings.TrimSpace(video.CodecName)),
			Profile:     strings.ToLower(strings.TrimSpace(video.Profile)),
			PixelFormat: strings.ToLower(strings.TrimSpace(video.PixelFormat)),
			Width:       video.Width,
			Height:      video.Height,
			FPS:         video.FrameRate(),
			BitRate:     streamBitRate(*video, result),
		}
	}
	if audio != nil {
		desc.Audio = &AudioInfo{
			Codec:      strings.ToLower(strings.TrimSpace(audio.CodecName)),
			Channels:   audio.Channels,
			SampleRate: int(parseFloat(audio.SampleRate)),
			BitRate:    int64(parseFloat(audio.BitRate)),
		}
	}
	return desc, nil
}

// ContainerOf derives the container name from the file extension.
func ContainerOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

func streamBitRate(stream Stream, result Result) int64 {
	if rate := parseFloat(stream.BitRate); rate > 0 && !math.IsNaN(rate) {
		return int64(rate)
	}
	// Streams in some containers carry no per-stream bitrate; fall back to
	// the container rate.
	return result.BitRate()
}

func parseRatio(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	num, den, found := strings.Cut(value, "/")
	if !found {
		rate := parseFloat(value)
		if math.IsNaN(rate) || rate < 0 {
			return 0
		}
		return rate
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if math.IsNaN(n) || math.IsNaN(d) || d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return parsed
	}
	return math.NaN()
}
