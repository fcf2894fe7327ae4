package deps

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"conform/internal/config"
)

// Requirements returns the external tools conform needs for the configured
// workflow. FFmpeg and ffprobe are always required; everything the pipeline
// does runs through them.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Transcodes video, re-encodes audio, and measures loudness",
		},
		{
			Name:        "ffprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Inspects container, stream, and frame-rate metadata",
		},
	}
}

// Check resolves and reports every configured tool.
func Check(cfg *config.Config) []Status {
	return CheckBinaries(Requirements(cfg))
}

var runVersion = func(ctx context.Context, binary string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, "-version")
	return cmd.Output()
}

// FFmpegVersion reports the version line of the given ffmpeg or ffprobe
// binary, or an empty string when the binary cannot be executed.
func FFmpegVersion(ctx context.Context, binary string) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := runVersion(ctx, binary)
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(out), "\n")
	line = strings.TrimSpace(line)
	// "ffmpeg version 7.1 Copyright ..." -> "7.1"
	fields := strings.Fields(line)
	for i, field := range fields {
		if field == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return line
}
