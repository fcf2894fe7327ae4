package loudness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"conform/internal/config"
	"conform/internal/services"
)

// Targets are the normalization goals in LUFS / dBTP / LU.
type Targets struct {
	I   float64
	TP  float64
	LRA float64
}

// Measurements holds the loudnorm first-pass analysis of a file.
type Measurements struct {
	I         float64
	TP        float64
	LRA       float64
	Threshold float64
	Offset    float64
}

// Tolerances bound how far a measurement may drift from its target and
// still count as normalized.
type Tolerances struct {
	I   float64
	TP  float64
	LRA float64
}

// Verification presets, loosest to strictest bounds.
var presets = map[string]Tolerances{
	"strict":   {I: 1.0, TP: 0.3, LRA: 2.0},
	"balanced": {I: 1.5, TP: 0.5, LRA: 3.0},
	"relaxed":  {I: 2.0, TP: 0.8, LRA: 4.0},
}

// TargetsFromConfig extracts loudness targets from configuration.
func TargetsFromConfig(cfg *config.Config) Targets {
	return Targets{
		I:   cfg.Loudness.TargetI,
		TP:  cfg.Loudness.TargetTP,
		LRA: cfg.Loudness.TargetLRA,
	}
}

// TolerancesFromConfig resolves the active tolerances. Each custom override
// falls back to the named preset independently; an unknown preset name
// resolves to balanced.
func TolerancesFromConfig(cfg *config.Config) Tolerances {
	base, ok := presets[cfg.Loudness.Preset]
	if !ok {
		base = presets["balanced"]
	}
	tol := base
	if cfg.Loudness.TolI > 0 {
		tol.I = cfg.Loudness.TolI
	}
	if cfg.Loudness.TolTP > 0 {
		tol.TP = cfg.Loudness.TolTP
	}
	if cfg.Loudness.TolLRA > 0 {
		tol.LRA = cfg.Loudness.TolLRA
	}
	return tol
}

// Evaluate reports whether measured loudness conforms to the targets within
// the tolerances. Integrated loudness and range are two-sided checks; true
// peak only matters when it exceeds the target ceiling plus tolerance.
func Evaluate(m Measurements, targets Targets, tol Tolerances) (bool, []string) {
	var reasons []string
	if math.Abs(m.I-targets.I) > tol.I {
		reasons = append(reasons, fmt.Sprintf("integrated loudness %.1f LUFS outside %.1f±%.1f", m.I, targets.I, tol.I))
	}
	if m.TP > targets.TP+tol.TP {
		reasons = append(reasons, fmt.Sprintf("true peak %.1f dBTP above %.1f+%.1f", m.TP, targets.TP, tol.TP))
	}
	if math.Abs(m.LRA-targets.LRA) > tol.LRA {
		reasons = append(reasons, fmt.Sprintf("loudness range %.1f LU outside %.1f±%.1f", m.LRA, targets.LRA, tol.LRA))
	}
	return len(reasons) == 0, reasons
}

// runAnalysis is swappable in tests.
var runAnalysis = runFFmpegAnalysis

// Measure runs the loudnorm analysis pass against a file and parses the
// measurements ffmpeg prints to stderr.
func Measure(ctx context.Context, binary, path string, targets Targets) (Measurements, error) {
	stderr, err := runAnalysis(ctx, binary, path, targets)
	if err != nil {
		return Measurements{}, services.Wrap(services.ErrExternalTool, "loudness", "measure", path, err)
	}
	m, err := ParseAnalysis(stderr)
	if err != nil {
		return Measurements{}, services.Wrap(services.ErrExternalTool, "loudness", "parse", path, err)
	}
	return m, nil
}

func runFFmpegAnalysis(ctx context.Context, binary, path string, targets Targets) (string, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	filter := fmt.Sprintf("loudnorm=I=%s:TP=%s:LRA=%s:print_format=json",
		formatDB(targets.I), formatDB(targets.TP), formatDB(targets.LRA))
	cmd := exec.CommandContext(ctx, binary,
		"-hide_banner", "-nostdin",
		"-i", path,
		"-af", filter,
		"-f", "null", "-",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("loudnorm analysis: %w: %s", err, tail(string(output), 400))
	}
	return string(output), nil
}

// analysisPayload mirrors the JSON block loudnorm prints. All values arrive
// as strings; silence can measure as "-inf".
type analysisPayload struct {
	InputI      string `json:"input_i"`
	InputTP     string `json:"input_tp"`
	InputLRA    string `json:"input_lra"`
	InputThresh string `json:"input_thresh"`
	Offset      string `json:"target_offset"`
}

// ParseAnalysis extracts loudnorm measurements from ffmpeg stderr output.
// The stream mixes progress lines with the JSON block, and a multi-pass
// filter graph can print more than one block; the last well-formed object
// carrying the measurement keys wins.
func ParseAnalysis(stderr string) (Measurements, error) {
	var (
		found   bool
		payload analysisPayload
	)
	rest := stderr
	for {
		start := strings.Index(rest, "{")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			break
		}
		block := rest[start : start+end+1]
		rest = rest[start+end+1:]

		var candidate analysisPayload
		if err := json.Unmarshal([]byte(block), &candidate); err != nil {
			continue
		}
		if candidate.InputI == "" || candidate.InputTP == "" || candidate.InputLRA == "" || candidate.InputThresh == "" {
			continue
		}
		payload = candidate
		found = true
	}
	if !found {
		return Measurements{}, fmt.Errorf("no loudnorm measurements in ffmpeg output")
	}

	m := Measurements{
		I:         parseDB(payload.InputI),
		TP:        parseDB(payload.InputTP),
		LRA:       parseDB(payload.InputLRA),
		Threshold: parseDB(payload.InputThresh),
		Offset:    parseDB(payload.Offset),
	}
	return m, nil
}

// Pass2Filter builds the linear second-pass loudnorm filter from cached or
// fresh first-pass measurements.
func Pass2Filter(targets Targets, m Measurements) string {
	return fmt.Sprintf(
		"loudnorm=I=%s:TP=%s:LRA=%s:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true",
		formatDB(targets.I), formatDB(targets.TP), formatDB(targets.LRA),
		formatDB(m.I), formatDB(m.TP), formatDB(m.LRA), formatDB(m.Threshold), formatDB(m.Offset),
	)
}

// SettingsHash fingerprints the normalization settings so cached
// measurements invalidate when the targets or preset change.
func SettingsHash(targets Targets, preset string) string {
	payload := strings.Join([]string{
		"loudnorm",
		formatDB(targets.I),
		formatDB(targets.TP),
		formatDB(targets.LRA),
		strings.ToLower(strings.TrimSpace(preset)),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func formatDB(value float64) string {
	return strconv.FormatFloat(value, 'f', 1, 64)
}

func parseDB(value string) float64 {
	value = strings.TrimSpace(value)
	switch strings.ToLower(value) {
	case "", "-inf", "inf", "nan":
		return math.Inf(-1)
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return math.Inf(-1)
	}
	return parsed
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
