package ffmpegcmd

import (
	"fmt"
	"strconv"
	"strings"

	"conform/internal/config"
	"conform/internal/decision"
	"conform/internal/hwaccel"
	"conform/internal/media/ffprobe"
	"conform/internal/services"
)

// Request describes one transcode job for the command builder.
type Request struct {
	Input               ffprobe.Descriptor
	Output              string
	Codec               string
	Encoder             string
	Settings            config.Codec
	Caps                decision.Caps
	Hardware            *hwaccel.Selection
	Decoder             *hwaccel.Accelerator
	DecodeRequested     bool
	ForceHardwareDecode bool
	AudioFilter         string
	Audio               config.Audio
}

// Command is the assembled ffmpeg invocation (argv after the binary) plus
// the choices made while building it.
type Command struct {
	Args               []string
	Filters            []string
	UsedHardwareDecode bool
}

type videoHandler func(settings config.Codec) []string

// handlers maps output codecs to their software encoder argument builders.
var handlers = map[string]videoHandler{
	"h264": x26xArgs,
	"hevc": x26xArgs,
	"vp8":  vp8Args,
	"vp9":  vp9Args,
	"av1":  nil, // dispatched per resolved encoder
}

// Build assembles the full ffmpeg argument list for a job.
//
// Shape: global flags, optional hardware decode, input, video encoder and
// its quality settings, rate ceiling, filter chain, constant frame rate,
// audio, container flags, temp output.
func Build(req Request) (Command, error) {
	if req.Input.Video == nil {
		return buildAudioOnly(req)
	}

	codec := strings.ToLower(strings.TrimSpace(req.Codec))
	if _, ok := handlers[codec]; !ok {
		return Command{}, services.Wrap(services.ErrConfiguration, "ffmpegcmd", "build", fmt.Sprintf("unsupported codec %q", codec), nil)
	}
	if strings.TrimSpace(req.Encoder) == "" {
		return Command{}, services.Wrap(services.ErrConfiguration, "ffmpegcmd", "build", "no encoder resolved", nil)
	}
	if strings.TrimSpace(req.Output) == "" {
		return Command{}, services.Wrap(services.ErrConfiguration, "ffmpegcmd", "build", "no output path", nil)
	}

	filters := videoFilters(req.Input.Video, req.Caps, codec)
	decoder := req.Decoder
	if decoder == nil && req.Hardware != nil {
		decoder = &req.Hardware.Accel
	}
	hwDecode := hwaccel.UseHardwareDecode(req.DecodeRequested, req.ForceHardwareDecode, decoder != nil, len(filters) > 0)

	args := []string{"-hide_banner", "-nostdin", "-y"}
	if hwDecode {
		args = append(args, decoder.DecodeArgs...)
	}
	args = append(args, "-i", req.Input.Path)

	args = append(args, "-c:v", req.Encoder)
	if req.Hardware != nil {
		args = append(args, hardwareQualityArgs(req.Hardware.Accel.Name, req.Settings)...)
		if req.Settings.Profile != "" && (codec == "h264" || codec == "hevc") {
			args = append(args, "-profile:v", req.Settings.Profile)
		}
	} else {
		args = append(args, softwareArgs(codec, req.Encoder, req.Settings)...)
	}

	if req.Caps.MaxBitrateKbps > 0 {
		maxrate := fmt.Sprintf("%dk", req.Caps.MaxBitrateKbps)
		bufsize := fmt.Sprintf("%dk", req.Caps.MaxBitrateKbps*2)
		args = append(args, "-maxrate", maxrate, "-bufsize", bufsize)
	}

	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}
	args = append(args, "-vsync", "cfr")

	container := req.Settings.Container
	args = append(args, audioArgs(req.Input.Audio, container, req.AudioFilter, req.Audio)...)

	if container == "mp4" || container == "mov" {
		args = append(args, "-movflags", "+faststart")
	}

	args = append(args, req.Output)

	return Command{Args: args, Filters: filters, UsedHardwareDecode: hwDecode}, nil
}

// buildAudioOnly assembles the command for a standalone audio file. The
// output keeps the source container, so there is no video encoder to resolve
// and no filter chain beyond the loudness pass.
func buildAudioOnly(req Request) (Command, error) {
	if req.Input.Audio == nil {
		return Command{}, services.Wrap(services.ErrConfiguration, "ffmpegcmd", "build", "source carries no streams", nil)
	}
	if strings.TrimSpace(req.Output) == "" {
		return Command{}, services.Wrap(services.ErrConfiguration, "ffmpegcmd", "build", "no output path", nil)
	}

	args := []string{"-hide_banner", "-nostdin", "-y", "-i", req.Input.Path, "-vn"}
	args = append(args, audioArgs(req.Input.Audio, req.Input.Container, req.AudioFilter, req.Audio)...)
	args = append(args, req.Output)
	return Command{Args: args}, nil
}

func softwareArgs(codec, encoder string, settings config.Codec) []string {
	if codec == "av1" {
		return av1Args(encoder, settings)
	}
	return handlers[codec](settings)
}

func x26xArgs(settings config.Codec) []string {
	var args []string
	if settings.Profile != "" {
		args = append(args, "-profile:v", settings.Profile)
	}
	if settings.Preset != "" {
		args = append(args, "-preset", settings.Preset)
	}
	args = append(args, "-crf", strconv.Itoa(settings.CRF))
	if settings.PixelFormat != "" {
		args = append(args, "-pix_fmt", settings.PixelFormat)
	}
	return args
}

func vp8Args(settings config.Codec) []string {
	// libvpx ignores -crf unless a bitrate bound accompanies it.
	return []string{
		"-crf", strconv.Itoa(settings.CRF),
		"-b:v", "1M",
		"-cpu-used", strconv.Itoa(settings.CPUUsed),
	}
}

func vp9Args(settings config.Codec) []string {
	args := []string{
		"-crf", strconv.Itoa(settings.CRF),
		"-b:v", "0",
		"-cpu-used", strconv.Itoa(settings.CPUUsed),
		"-row-mt", "1",
	}
	if settings.Quality != "" {
		args = append(args, "-deadline", settings.Quality)
	}
	return args
}

func av1Args(encoder string, settings config.Codec) []string {
	switch encoder {
	case "libsvtav1":
		return []string{
			"-crf", strconv.Itoa(settings.CRF),
			"-preset", strconv.Itoa(settings.CPUUsed),
		}
	case "libaom-av1":
		return []string{
			"-crf", strconv.Itoa(settings.CRF),
			"-b:v", "0",
			"-cpu-used", strconv.Itoa(settings.CPUUsed),
			"-row-mt", "1",
		}
	default:
		return []string{"-crf", strconv.Itoa(settings.CRF)}
	}
}

// hardwareQualityArgs maps the configured CRF onto each vendor's quality
// knob; hardware encoders do not share libx264's -crf.
func hardwareQualityArgs(accel string, settings config.Codec) []string {
	quality := strconv.Itoa(settings.CRF)
	switch accel {
	case "quicksync":
		return []string{"-global_quality", quality}
	case "nvenc":
		return []string{"-rc", "vbr", "-cq", quality}
	case "amf":
		return []string{"-qp_i", quality, "-qp_p", quality}
	case "videotoolbox":
		return []string{"-q:v", quality}
	case "vaapi":
		return []string{"-qp", quality}
	default:
		return nil
	}
}
