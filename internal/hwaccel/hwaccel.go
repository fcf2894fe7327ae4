package hwaccel

import (
	"context"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"conform/internal/logging"
)

// Accelerator describes one hardware encode path: where it exists, which
// encoders it offers per output codec, and the decode arguments that pair
// with it.
type Accelerator struct {
	Name       string
	Platforms  []string
	Encoders   map[string]string
	DecodeArgs []string
}

// SupportsPlatform reports whether the accelerator exists on the given GOOS.
func (a Accelerator) SupportsPlatform(goos string) bool {
	for _, p := range a.Platforms {
		if p == goos {
			return true
		}
	}
	return false
}

// Encoder returns the accelerator's encoder for the codec, if any.
func (a Accelerator) Encoder(codec string) (string, bool) {
	enc, ok := a.Encoders[codec]
	return enc, ok
}

// registry lists the known accelerators in selection priority order.
var registry = []Accelerator{
	{
		Name:      "quicksync",
		Platforms: []string{"linux", "windows"},
		Encoders: map[string]string{
			"h264": "h264_qsv",
			"hevc": "hevc_qsv",
			"vp9":  "vp9_qsv",
			"av1":  "av1_qsv",
		},
		DecodeArgs: []string{"-hwaccel", "qsv"},
	},
	{
		Name:      "nvenc",
		Platforms: []string{"linux", "windows"},
		Encoders: map[string]string{
			"h264": "h264_nvenc",
			"hevc": "hevc_nvenc",
			"av1":  "av1_nvenc",
		},
		DecodeArgs: []string{"-hwaccel", "cuda"},
	},
	{
		Name:      "amf",
		Platforms: []string{"windows"},
		Encoders: map[string]string{
			"h264": "h264_amf",
			"hevc": "hevc_amf",
			"av1":  "av1_amf",
		},
		DecodeArgs: []string{"-hwaccel", "d3d11va"},
	},
	{
		Name:      "videotoolbox",
		Platforms: []string{"darwin"},
		Encoders: map[string]string{
			"h264": "h264_videotoolbox",
			"hevc": "hevc_videotoolbox",
		},
		DecodeArgs: []string{"-hwaccel", "videotoolbox"},
	},
	{
		Name:      "vaapi",
		Platforms: []string{"linux"},
		Encoders: map[string]string{
			"h264": "h264_vaapi",
			"hevc": "hevc_vaapi",
			"vp9":  "vp9_vaapi",
			"av1":  "av1_vaapi",
		},
		DecodeArgs: []string{"-hwaccel", "vaapi"},
	},
}

// Names returns the registered accelerator names in priority order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, accel := range registry {
		names = append(names, accel.Name)
	}
	return names
}

// Lookup finds a registered accelerator by name.
func Lookup(name string) (Accelerator, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, accel := range registry {
		if accel.Name == name {
			return accel, true
		}
	}
	return Accelerator{}, false
}

// Selection is a resolved encode path: the accelerator plus the concrete
// encoder to pass to ffmpeg.
type Selection struct {
	Accel   Accelerator
	Encoder string
}

// probeEncoder is swappable in tests.
var probeEncoder = runEncoderProbe

// Selector picks working accelerators. Availability probes run a tiny null
// encode through ffmpeg; results are cached for the life of the process
// because device presence does not change mid-batch.
type Selector struct {
	binary string
	goos   string
	logger *slog.Logger

	mu      sync.Mutex
	probed  map[string]bool
	methods map[string]struct{}
}

// NewSelector builds a selector that probes with the given ffmpeg binary.
func NewSelector(binary string, logger *slog.Logger) *Selector {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &Selector{
		binary: binary,
		goos:   runtime.GOOS,
		logger: logging.NewComponentLogger(logger, "hwaccel"),
		probed: make(map[string]bool),
	}
}

// Select returns the first accelerator that exists on this platform, offers
// an encoder for the codec, and passes the availability probe. The preferred
// list narrows and reorders the candidates; empty means all in priority
// order. ok is false when every candidate fails, which callers treat as
// software encode.
func (s *Selector) Select(ctx context.Context, codec string, preferred []string) (Selection, bool) {
	codec = strings.ToLower(strings.TrimSpace(codec))
	for _, accel := range s.candidates(preferred) {
		if !accel.SupportsPlatform(s.goos) {
			continue
		}
		encoder, ok := accel.Encoder(codec)
		if !ok {
			continue
		}
		if !s.available(ctx, encoder) {
			s.logger.Debug("accelerator probe failed",
				logging.String(logging.FieldAccel, accel.Name),
				logging.String(logging.FieldEncoder, encoder),
			)
			continue
		}
		s.logger.Debug("accelerator selected",
			logging.String(logging.FieldAccel, accel.Name),
			logging.String(logging.FieldEncoder, encoder),
		)
		return Selection{Accel: accel, Encoder: encoder}, true
	}
	return Selection{}, false
}

func (s *Selector) candidates(preferred []string) []Accelerator {
	if len(preferred) == 0 {
		return registry
	}
	out := make([]Accelerator, 0, len(preferred))
	for _, name := range preferred {
		if accel, ok := Lookup(name); ok {
			out = append(out, accel)
		}
	}
	return out
}

func (s *Selector) available(ctx context.Context, encoder string) bool {
	s.mu.Lock()
	cached, ok := s.probed[encoder]
	s.mu.Unlock()
	if ok {
		return cached
	}

	result := probeEncoder(ctx, s.binary, encoder)

	s.mu.Lock()
	s.probed[encoder] = result
	s.mu.Unlock()
	return result
}

// runEncoderProbe encodes a fraction of a second of generated video through
// the candidate encoder. A zero exit means the driver and device are usable.
func runEncoderProbe(ctx context.Context, binary, encoder string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, binary,
		"-hide_banner", "-v", "error",
		"-f", "lavfi", "-i", "nullsrc=s=64x64:d=0.1",
		"-c:v", encoder,
		"-f", "null", "-",
	)
	return cmd.Run() == nil
}

// UseHardwareDecode decides whether a job decodes on the device.
// Hardware-decoded frames live in device memory; software scale and fps
// filters force a copy back to system memory, which costs more than decoding
// on the CPU in the first place, so decode falls back to software whenever
// those filters are present. Forcing overrides that fallback for sources
// known to decode faster on the device anyway.
func UseHardwareDecode(decodeRequested, forced, decoderAvailable, hasScaleOrFPSFilter bool) bool {
	if !decodeRequested || !decoderAvailable {
		return false
	}
	if forced {
		return true
	}
	return !hasScaleOrFPSFilter
}

// listHWAccels is swappable in tests.
var listHWAccels = runHWAccelList

// SelectDecoder returns the first accelerator on this platform whose decode
// method ffmpeg reports as compiled in. Unlike Select it does not need an
// encoder for the output codec, so a hardware decoder can feed a software
// encode.
func (s *Selector) SelectDecoder(ctx context.Context, preferred []string) (Accelerator, bool) {
	methods := s.decodeMethods(ctx)
	for _, accel := range s.candidates(preferred) {
		if !accel.SupportsPlatform(s.goos) {
			continue
		}
		if len(accel.DecodeArgs) < 2 {
			continue
		}
		if _, ok := methods[accel.DecodeArgs[1]]; !ok {
			continue
		}
		s.logger.Debug("decoder selected", logging.String(logging.FieldAccel, accel.Name))
		return accel, true
	}
	return Accelerator{}, false
}

func (s *Selector) decodeMethods(ctx context.Context) map[string]struct{} {
	s.mu.Lock()
	cached := s.methods
	s.mu.Unlock()
	if cached != nil {
		return cached
	}

	methods := make(map[string]struct{})
	for _, name := range listHWAccels(ctx, s.binary) {
		methods[name] = struct{}{}
	}

	s.mu.Lock()
	s.methods = methods
	s.mu.Unlock()
	return methods
}

// runHWAccelList asks ffmpeg which hardware acceleration methods it was
// built with.
func runHWAccelList(ctx context.Context, binary string) []string {
	listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	out, err := exec.CommandContext(listCtx, binary, "-hide_banner", "-hwaccels").Output()
	if err != nil {
		return nil
	}
	var methods []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, " ") {
			continue
		}
		methods = append(methods, line)
	}
	return methods
}
