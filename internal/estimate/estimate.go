package estimate

import (
	"strings"

	"conform/internal/decision"
	"conform/internal/media/ffprobe"
)

// compressionRatio is the expected output size relative to the source for a
// software encode at default quality. The figures are rough planning numbers,
// not promises; newer codecs land well under their source at similar quality.
var compressionRatio = map[string]float64{
	"h264": 0.90,
	"hevc": 0.60,
	"vp8":  0.95,
	"vp9":  0.65,
	"av1":  0.55,
}

// encodeSpeed is the expected encode throughput as a multiple of realtime for
// a software encode at 1080p on commodity hardware.
var encodeSpeed = map[string]float64{
	"h264": 2.5,
	"hevc": 1.0,
	"vp8":  2.0,
	"vp9":  0.6,
	"av1":  0.4,
}

const (
	hardwareSpeedFactor = 4.0
	defaultRatio        = 0.75
	defaultSpeed        = 1.0
	// Loudness re-encodes keep the source codec, so size holds steady and
	// throughput is limited by the filter, not an encoder.
	audioEncodeSpeed = 30.0
)

// Candidate is a single file queued for transcoding.
type Candidate struct {
	Descriptor ffprobe.Descriptor
	Codec      string
	Caps       decision.Caps
	Hardware   bool
}

// Estimate describes the expected cost of one encode.
type Estimate struct {
	OutputBytes int64
	Seconds     float64
}

// Plan aggregates per-candidate estimates into a batch-level forecast.
type Plan struct {
	Estimates     []Estimate
	OutputBytes   int64
	ScratchBytes  int64
	RequiredBytes int64
	Seconds       float64
}

// ForCandidate estimates the output size and wall time for one encode.
//
// Size is the smaller of a codec-ratio projection from the source size and
// the configured bitrate ceiling applied over the full duration. Time is the
// duration divided by the expected encode speed, scaled down further when the
// target resolution shrinks the pixel count.
func ForCandidate(c Candidate) Estimate {
	if c.Descriptor.Video == nil {
		est := Estimate{OutputBytes: c.Descriptor.SizeBytes}
		if c.Descriptor.Duration > 0 {
			est.Seconds = c.Descriptor.Duration / audioEncodeSpeed
		}
		return est
	}

	codec := strings.ToLower(c.Codec)

	ratio, ok := compressionRatio[codec]
	if !ok {
		ratio = defaultRatio
	}
	size := int64(float64(c.Descriptor.SizeBytes) * ratio)

	if c.Caps.MaxBitrateKbps > 0 && c.Descriptor.Duration > 0 {
		capped := int64(float64(c.Caps.MaxBitrateKbps) * 1000 / 8 * c.Descriptor.Duration)
		// Audio and container overhead ride on top of the video ceiling.
		capped += capped / 10
		if size == 0 || capped < size {
			size = capped
		}
	}

	speed, ok := encodeSpeed[codec]
	if !ok {
		speed = defaultSpeed
	}
	if c.Hardware {
		speed *= hardwareSpeedFactor
	}
	if f := resolutionFactor(c.Descriptor.Video, c.Caps); f > 0 {
		speed /= f
	}

	seconds := 0.0
	if c.Descriptor.Duration > 0 && speed > 0 {
		seconds = c.Descriptor.Duration / speed
	}

	return Estimate{OutputBytes: size, Seconds: seconds}
}

// ForBatch estimates every candidate and derives the aggregate disk
// requirement. With backups enabled each original stays on disk next to its
// replacement, and the rollback scratch copy doubles that again, so the
// requirement is the sum of projected outputs plus one source-sized copy per
// candidate.
func ForBatch(candidates []Candidate, backups bool) Plan {
	plan := Plan{Estimates: make([]Estimate, 0, len(candidates))}
	var largest int64
	for _, c := range candidates {
		est := ForCandidate(c)
		plan.Estimates = append(plan.Estimates, est)
		plan.OutputBytes += est.OutputBytes
		plan.Seconds += est.Seconds
		if backups {
			plan.ScratchBytes += c.Descriptor.SizeBytes
		}
		if est.OutputBytes > largest {
			largest = est.OutputBytes
		}
	}
	// Jobs run one at a time, so only one temp output exists alongside the
	// finished replacements at any moment.
	plan.RequiredBytes = plan.OutputBytes + plan.ScratchBytes + largest
	return plan
}

func resolutionFactor(video *ffprobe.VideoInfo, caps decision.Caps) float64 {
	if video == nil || video.Width <= 0 || video.Height <= 0 {
		return 1
	}
	srcPixels := float64(video.Width * video.Height)
	outPixels := srcPixels
	if caps.MaxWidth > 0 && caps.MaxHeight > 0 {
		capPixels := float64(caps.MaxWidth * caps.MaxHeight)
		if capPixels < outPixels {
			outPixels = capPixels
		}
	}
	reference := 1920.0 * 1080.0
	return outPixels / reference
}
