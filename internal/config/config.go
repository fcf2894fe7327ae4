package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir     string `toml:"work_dir"`
	LogDir      string `toml:"log_dir"`
	RollbackDir string `toml:"rollback_dir"`
}

// Transcode contains the target profile shared by every job: the codec to
// conform to, stream caps, and execution limits.
type Transcode struct {
	TargetCodec     string   `toml:"target_codec"`
	MaxWidth        int      `toml:"max_width"`
	MaxHeight       int      `toml:"max_height"`
	MaxFPS          float64  `toml:"max_fps"`
	MaxBitrateKbps  int      `toml:"max_bitrate_kbps"`
	CapsMode        string   `toml:"caps_mode"`
	Force           bool     `toml:"force"`
	TimeoutSeconds  int      `toml:"timeout_seconds"`
	GraceSeconds    int      `toml:"grace_seconds"`
	MinFreeSpaceMB  int      `toml:"min_free_space_mb"`
	Verification    bool     `toml:"verification"`
	HardwareEncode  bool     `toml:"hardware_encode"`
	HardwareDecode  bool     `toml:"hardware_decode"`
	ForceHWDecode   bool     `toml:"force_hardware_decode"`
	PreferredAccels []string `toml:"preferred_accelerators"`
}

// Codec contains per-output-codec encoder settings. Fields that do not apply
// to a codec are ignored by its handler.
type Codec struct {
	Profile     string `toml:"profile"`
	PixelFormat string `toml:"pixel_format"`
	CRF         int    `toml:"crf"`
	Preset      string `toml:"preset"`
	CPUUsed     int    `toml:"cpu_used"`
	Quality     string `toml:"quality"`
	Container   string `toml:"container"`
}

// Audio contains the audio encoding policy applied when a stream cannot be
// copied. Zero values fall back to per-codec defaults.
type Audio struct {
	Codec       string `toml:"codec"`
	BitrateKbps int    `toml:"bitrate_kbps"`
	VBRQuality  int    `toml:"vbr_quality"`
	AACVBRMode  int    `toml:"aac_vbr_mode"`
}

// Loudness contains loudness normalization targets and verification
// tolerances. Tolerance overrides of zero fall back to the preset value for
// that field.
type Loudness struct {
	Enabled   bool    `toml:"enabled"`
	TargetI   float64 `toml:"target_i"`
	TargetTP  float64 `toml:"target_tp"`
	TargetLRA float64 `toml:"target_lra"`
	Preset    string  `toml:"preset"`
	TolI      float64 `toml:"tolerance_i"`
	TolTP     float64 `toml:"tolerance_tp"`
	TolLRA    float64 `toml:"tolerance_lra"`
}

// Cache contains loudness cache storage settings.
type Cache struct {
	Enabled    bool   `toml:"enabled"`
	Path       string `toml:"path"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Backup contains persistent backup settings.
type Backup struct {
	Enabled bool   `toml:"enabled"`
	Suffix  string `toml:"suffix"`
}

// Tools contains external binary overrides. Empty values fall back to
// resolving the standard names from PATH.
type Tools struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for conform.
//
// Configuration sections by subsystem:
//   - Paths: work, log, and rollback scratch directories
//   - Transcode: target codec, stream caps, timeouts, accelerator policy
//   - Codecs: per-output-codec encoder settings keyed by codec name
//   - Audio: re-encode codec and quality knobs
//   - Loudness: normalization targets and verification tolerances
//   - Cache: loudness measurement cache storage
//   - Backup: persistent backup naming and enablement
//   - Tools: external binary overrides
//   - Logging: log format and level
type Config struct {
	Paths     Paths            `toml:"paths"`
	Transcode Transcode        `toml:"transcode"`
	Codecs    map[string]Codec `toml:"codec"`
	Audio     Audio            `toml:"audio"`
	Loudness  Loudness         `toml:"loudness"`
	Cache     Cache            `toml:"cache"`
	Backup    Backup           `toml:"backup"`
	Tools     Tools            `toml:"tools"`
	Logging   Logging          `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/conform/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/conform/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("conform.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for batch operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.WorkDir, c.Paths.LogDir, c.Paths.RollbackDir}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Path) != "" {
		dirs = append(dirs, filepath.Dir(c.Cache.Path))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable used for transcoding.
func (c *Config) FFmpegBinary() string {
	if binary := strings.TrimSpace(c.Tools.FFmpeg); binary != "" {
		return binary
	}
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable used for media inspection.
func (c *Config) FFprobeBinary() string {
	if binary := strings.TrimSpace(c.Tools.FFprobe); binary != "" {
		return binary
	}
	return "ffprobe"
}

// CodecSettings returns the settings table for the given output codec, falling
// back to the built-in defaults when the config carries no table for it.
func (c *Config) CodecSettings(codec string) Codec {
	codec = strings.ToLower(strings.TrimSpace(codec))
	if settings, ok := c.Codecs[codec]; ok {
		return settings
	}
	if settings, ok := defaultCodecs()[codec]; ok {
		return settings
	}
	return Codec{}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCachePath() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "conform", "loudness.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/conform/loudness.db"
	}
	return filepath.Join(home, ".cache", "conform", "loudness.db")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
