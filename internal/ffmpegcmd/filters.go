package ffmpegcmd

import (
	"fmt"
	"math"

	"conform/internal/decision"
	"conform/internal/media/ffprobe"
)

const fpsEpsilon = 0.1

// videoFilters computes the scale, pad, and fps filter chain for a job.
//
// Limit mode downscales only when a dimension exceeds its cap, preserving
// aspect ratio. Exact mode scales to the target box and pads to fill it,
// except for VP9 and AV1 where the historical behavior is scale without
// padding. Dimensions stay divisible by two for 4:2:0 output.
func videoFilters(video *ffprobe.VideoInfo, caps decision.Caps, codec string) []string {
	var filters []string
	if video == nil {
		return filters
	}

	if caps.MaxWidth > 0 && caps.MaxHeight > 0 {
		switch caps.Mode {
		case decision.CapsExact:
			filters = append(filters, fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease:force_divisible_by=2", caps.MaxWidth, caps.MaxHeight))
			if codec != "vp9" && codec != "av1" {
				filters = append(filters, fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", caps.MaxWidth, caps.MaxHeight))
			}
		default:
			if video.Width > caps.MaxWidth || video.Height > caps.MaxHeight {
				filters = append(filters, fmt.Sprintf("scale='min(iw,%d)':'min(ih,%d)':force_original_aspect_ratio=decrease:force_divisible_by=2", caps.MaxWidth, caps.MaxHeight))
			}
		}
	}

	if caps.MaxFPS > 0 && video.FPS > 0 {
		switch caps.Mode {
		case decision.CapsExact:
			if math.Abs(video.FPS-caps.MaxFPS) > fpsEpsilon {
				filters = append(filters, fmt.Sprintf("fps=%s", formatFPS(caps.MaxFPS)))
			}
		default:
			if video.FPS > caps.MaxFPS+fpsEpsilon {
				filters = append(filters, fmt.Sprintf("fps=%s", formatFPS(caps.MaxFPS)))
			}
		}
	}

	return filters
}

func formatFPS(fps float64) string {
	if fps == math.Trunc(fps) {
		return fmt.Sprintf("%d", int(fps))
	}
	return fmt.Sprintf("%.3f", fps)
}
