package ffmpegcmd

import (
	"fmt"
	"strconv"

	"conform/internal/config"
	"conform/internal/media/ffprobe"
)

// copyableCodecs lists the audio codecs each container can carry without a
// re-encode.
var copyableCodecs = map[string]map[string]bool{
	"mp4":  {"aac": true, "mp3": true, "alac": true},
	"mov":  {"aac": true, "mp3": true, "alac": true},
	"webm": {"opus": true, "vorbis": true},
	"mkv":  {"opus": true, "vorbis": true},
	"mp3":  {"mp3": true},
	"m4a":  {"aac": true, "alac": true},
	"flac": {"flac": true},
	"ogg":  {"vorbis": true, "opus": true},
}

const (
	defaultAACBitrateKbps  = 192
	defaultOpusBitrateKbps = 160
	defaultMP3Quality      = 2
	defaultVorbisQuality   = 5
)

// audioArgs builds the audio half of the command. The stream copies when the
// container can carry its codec, no filter needs the samples decoded, and no
// explicit target codec forces a re-encode; otherwise the configured handler
// encodes it.
func audioArgs(audio *ffprobe.AudioInfo, container, filter string, settings config.Audio) []string {
	if audio == nil {
		return []string{"-an"}
	}

	forced := settings.Codec != "" && settings.Codec != audio.Codec
	if filter == "" && !forced && copyableCodecs[container][audio.Codec] {
		return []string{"-c:a", "copy"}
	}

	var args []string
	if filter != "" {
		args = append(args, "-af", filter)
	}
	return append(args, audioEncoderArgs(TargetAudioCodec(container, settings), settings)...)
}

// TargetAudioCodec resolves the re-encode codec for a container: an explicit
// configuration wins, standalone audio containers keep their native codec,
// and video containers pick their conventional default.
func TargetAudioCodec(container string, settings config.Audio) string {
	if settings.Codec != "" {
		return settings.Codec
	}
	switch container {
	case "webm", "mkv":
		return "opus"
	case "mp3":
		return "mp3"
	case "flac":
		return "flac"
	case "ogg":
		return "vorbis"
	default:
		return "aac"
	}
}

func audioEncoderArgs(codec string, settings config.Audio) []string {
	switch codec {
	case "flac":
		return []string{"-c:a", "flac"}
	case "mp3":
		quality := settings.VBRQuality
		if quality <= 0 {
			quality = defaultMP3Quality
		}
		return []string{"-c:a", "libmp3lame", "-q:a", strconv.Itoa(quality)}
	case "vorbis":
		quality := settings.VBRQuality
		if quality <= 0 {
			quality = defaultVorbisQuality
		}
		return []string{"-c:a", "libvorbis", "-q:a", strconv.Itoa(quality)}
	case "opus":
		bitrate := settings.BitrateKbps
		if bitrate <= 0 {
			bitrate = defaultOpusBitrateKbps
		}
		return []string{"-c:a", "libopus", "-b:a", fmt.Sprintf("%dk", bitrate)}
	default: // aac
		if settings.AACVBRMode > 0 {
			return []string{"-c:a", "aac", "-q:a", strconv.Itoa(settings.AACVBRMode)}
		}
		bitrate := settings.BitrateKbps
		if bitrate <= 0 {
			bitrate = defaultAACBitrateKbps
		}
		return []string{"-c:a", "aac", "-b:a", fmt.Sprintf("%dk", bitrate)}
	}
}
