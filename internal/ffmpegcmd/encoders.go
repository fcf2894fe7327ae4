package ffmpegcmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"conform/internal/services"
)

// av1Chain is the software AV1 fallback order. The first encoder the local
// ffmpeg build supports wins.
var av1Chain = []string{"libsvtav1", "libaom-av1", "av1"}

var softwareEncoders = map[string]string{
	"h264": "libx264",
	"hevc": "libx265",
	"vp8":  "libvpx",
	"vp9":  "libvpx-vp9",
}

// listEncoders is swappable in tests.
var listEncoders = queryEncoders

var encoderCache struct {
	mu      sync.Mutex
	results map[string]map[string]bool
}

// SoftwareEncoder resolves the software encoder for an output codec. AV1
// needs the installed ffmpeg consulted because builds ship different AV1
// encoders; everything else is a fixed mapping.
func SoftwareEncoder(ctx context.Context, binary, codec string) (string, error) {
	codec = strings.ToLower(strings.TrimSpace(codec))
	if enc, ok := softwareEncoders[codec]; ok {
		return enc, nil
	}
	if codec != "av1" {
		return "", services.Wrap(services.ErrConfiguration, "ffmpegcmd", "resolve encoder", fmt.Sprintf("unsupported codec %q", codec), nil)
	}

	supported, err := supportedEncoders(ctx, binary)
	if err != nil {
		return "", err
	}
	for _, candidate := range av1Chain {
		if supported[candidate] {
			return candidate, nil
		}
	}
	return "", services.Wrap(services.ErrExternalTool, "ffmpegcmd", "resolve encoder", "ffmpeg build has no AV1 encoder", nil)
}

func supportedEncoders(ctx context.Context, binary string) (map[string]bool, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}

	encoderCache.mu.Lock()
	defer encoderCache.mu.Unlock()
	if encoderCache.results == nil {
		encoderCache.results = make(map[string]map[string]bool)
	}
	if cached, ok := encoderCache.results[binary]; ok {
		return cached, nil
	}

	supported, err := listEncoders(ctx, binary)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "ffmpegcmd", "list encoders", "", err)
	}
	encoderCache.results[binary] = supported
	return supported, nil
}

func queryEncoders(ctx context.Context, binary string) (map[string]bool, error) {
	cmd := exec.CommandContext(ctx, binary, "-hide_banner", "-encoders")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -encoders: %w", err)
	}
	return parseEncoderList(output), nil
}

// parseEncoderList extracts encoder names from `ffmpeg -encoders` output.
// Lines look like " V....D libx264  libx264 H.264 / AVC ...": a capability
// column, the encoder name, then its description.
func parseEncoderList(output []byte) map[string]bool {
	supported := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	inList := false
	for scanner.Scan() {
		line := scanner.Text()
		if !inList {
			if strings.HasPrefix(strings.TrimSpace(line), "----") {
				inList = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		supported[fields[1]] = true
	}
	return supported
}
