package decision

import (
	"fmt"
	"math"
	"strings"

	"conform/internal/config"
	"conform/internal/media/ffprobe"
)

// fpsEpsilon absorbs container frame-rate jitter (29.97 vs 30000/1001).
const fpsEpsilon = 0.1

// Action is the verdict of a conformance check.
type Action int

const (
	Skip Action = iota
	Transcode
)

func (a Action) String() string {
	if a == Transcode {
		return "transcode"
	}
	return "skip"
}

// CapsMode selects how stream caps are interpreted.
type CapsMode string

const (
	// CapsLimit treats caps as ceilings; a stream at or below them conforms.
	CapsLimit CapsMode = "limit"
	// CapsExact requires outputs to match the caps exactly.
	CapsExact CapsMode = "exact"
)

// Caps bounds the video stream attributes.
type Caps struct {
	MaxWidth       int
	MaxHeight      int
	MaxFPS         float64
	MaxBitrateKbps int
	Mode           CapsMode
}

// Profile is the target every file is checked against.
type Profile struct {
	Codec        string
	Container    string
	VideoProfile string
	PixelFormat  string
	Caps         Caps
	Force        bool
}

// Verdict carries the action plus the ordered list of reasons that produced
// it. A Skip verdict has no reasons unless Force is set.
type Verdict struct {
	Action  Action
	Reasons []string
}

// NeedsWork reports whether the file must be re-encoded.
func (v Verdict) NeedsWork() bool {
	return v.Action == Transcode
}

// FromConfig builds the decision profile from loaded configuration.
func FromConfig(cfg *config.Config) Profile {
	codec := cfg.Transcode.TargetCodec
	settings := cfg.CodecSettings(codec)
	return Profile{
		Codec:        codec,
		Container:    settings.Container,
		VideoProfile: settings.Profile,
		PixelFormat:  settings.PixelFormat,
		Caps: Caps{
			MaxWidth:       cfg.Transcode.MaxWidth,
			MaxHeight:      cfg.Transcode.MaxHeight,
			MaxFPS:         cfg.Transcode.MaxFPS,
			MaxBitrateKbps: cfg.Transcode.MaxBitrateKbps,
			Mode:           CapsMode(cfg.Transcode.CapsMode),
		},
		Force: cfg.Transcode.Force,
	}
}

// Decide checks a probed file against the target profile. Checks run in a
// fixed order and every failed check contributes a reason, so the verdict
// explains all the ways a file deviates, not just the first. Force mode
// still runs the full pass; the reasons then describe the file truthfully
// while the action is overridden to Transcode.
func Decide(desc ffprobe.Descriptor, profile Profile) Verdict {
	var reasons []string

	// Audio-only sources have no video conformance to check; whether they
	// need work is a loudness question, answered by the measurement re-check
	// that runs after selection.
	if desc.Video == nil {
		if profile.Force {
			return Verdict{Action: Transcode, Reasons: []string{"re-encode forced"}}
		}
		return Verdict{Action: Skip}
	}

	if desc.Video.Codec != profile.Codec {
		reasons = append(reasons, fmt.Sprintf("codec %s does not match target %s", orUnknown(desc.Video.Codec), profile.Codec))
	}

	if profile.Container != "" && desc.Container != profile.Container {
		reasons = append(reasons, fmt.Sprintf("container %s does not match target %s", orUnknown(desc.Container), profile.Container))
	}

	// Only the H.264/HEVC families carry meaningful profile and pixel
	// format constraints; VP8/VP9/AV1 conformance is codec identity alone.
	if desc.Video.Codec == profile.Codec {
		reasons = append(reasons, codecAttributeReasons(desc, profile)...)
	}

	reasons = append(reasons, capsReasons(desc, profile.Caps)...)

	action := Skip
	if len(reasons) > 0 {
		action = Transcode
	}
	if profile.Force && action == Skip {
		action = Transcode
		reasons = append(reasons, "re-encode forced")
	}
	return Verdict{Action: action, Reasons: reasons}
}

func codecAttributeReasons(desc ffprobe.Descriptor, profile Profile) []string {
	switch profile.Codec {
	case "h264", "hevc":
	default:
		return nil
	}
	var reasons []string
	if profile.VideoProfile != "" && desc.Video.Profile != profile.VideoProfile {
		reasons = append(reasons, fmt.Sprintf("profile %s does not match target %s", orUnknown(desc.Video.Profile), profile.VideoProfile))
	}
	if profile.PixelFormat != "" && desc.Video.PixelFormat != profile.PixelFormat {
		reasons = append(reasons, fmt.Sprintf("pixel format %s does not match target %s", orUnknown(desc.Video.PixelFormat), profile.PixelFormat))
	}
	return reasons
}

func capsReasons(desc ffprobe.Descriptor, caps Caps) []string {
	var reasons []string
	video := desc.Video

	if caps.MaxWidth > 0 && caps.MaxHeight > 0 {
		switch caps.Mode {
		case CapsExact:
			if video.Width != caps.MaxWidth || video.Height != caps.MaxHeight {
				reasons = append(reasons, fmt.Sprintf("resolution %dx%d does not match required %dx%d", video.Width, video.Height, caps.MaxWidth, caps.MaxHeight))
			}
		default:
			if video.Width > caps.MaxWidth || video.Height > caps.MaxHeight {
				reasons = append(reasons, fmt.Sprintf("resolution %dx%d exceeds limit %dx%d", video.Width, video.Height, caps.MaxWidth, caps.MaxHeight))
			}
		}
	}

	if caps.MaxFPS > 0 && video.FPS > 0 {
		switch caps.Mode {
		case CapsExact:
			if math.Abs(video.FPS-caps.MaxFPS) > fpsEpsilon {
				reasons = append(reasons, fmt.Sprintf("frame rate %.3f does not match required %.3f", video.FPS, caps.MaxFPS))
			}
		default:
			if video.FPS > caps.MaxFPS+fpsEpsilon {
				reasons = append(reasons, fmt.Sprintf("frame rate %.3f exceeds limit %.3f", video.FPS, caps.MaxFPS))
			}
		}
	}

	// Bitrate is a ceiling in both modes.
	if caps.MaxBitrateKbps > 0 && video.BitRate > int64(caps.MaxBitrateKbps)*1000 {
		reasons = append(reasons, fmt.Sprintf("bitrate %d kbps exceeds limit %d kbps", video.BitRate/1000, caps.MaxBitrateKbps))
	}

	return reasons
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}
