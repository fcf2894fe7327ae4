package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTranscode()
	c.normalizeCodecs()
	c.normalizeAudio()
	c.normalizeLoudness()
	if err := c.normalizeCache(); err != nil {
		return err
	}
	c.normalizeBackup()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.RollbackDir) == "" {
		c.Paths.RollbackDir = defaultRollbackDir
	}
	if c.Paths.RollbackDir, err = expandPath(c.Paths.RollbackDir); err != nil {
		return fmt.Errorf("paths.rollback_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeTranscode() {
	c.Transcode.TargetCodec = strings.ToLower(strings.TrimSpace(c.Transcode.TargetCodec))
	if c.Transcode.TargetCodec == "" {
		c.Transcode.TargetCodec = defaultTargetCodec
	}
	c.Transcode.CapsMode = strings.ToLower(strings.TrimSpace(c.Transcode.CapsMode))
	if c.Transcode.CapsMode == "" {
		c.Transcode.CapsMode = defaultCapsMode
	}
	if c.Transcode.TimeoutSeconds <= 0 {
		c.Transcode.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Transcode.GraceSeconds <= 0 {
		c.Transcode.GraceSeconds = defaultGraceSeconds
	}
	if c.Transcode.MinFreeSpaceMB < 0 {
		c.Transcode.MinFreeSpaceMB = defaultMinFreeSpaceMB
	}
	accels := make([]string, 0, len(c.Transcode.PreferredAccels))
	seen := make(map[string]struct{}, len(c.Transcode.PreferredAccels))
	for _, name := range c.Transcode.PreferredAccels {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		accels = append(accels, normalized)
	}
	c.Transcode.PreferredAccels = accels
}

func (c *Config) normalizeCodecs() {
	if c.Codecs == nil {
		c.Codecs = defaultCodecs()
		return
	}
	defaults := defaultCodecs()
	normalized := make(map[string]Codec, len(c.Codecs))
	for name, settings := range c.Codecs {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		base, ok := defaults[key]
		if ok {
			if strings.TrimSpace(settings.Profile) == "" {
				settings.Profile = base.Profile
			}
			if strings.TrimSpace(settings.PixelFormat) == "" {
				settings.PixelFormat = base.PixelFormat
			}
			if settings.CRF <= 0 {
				settings.CRF = base.CRF
			}
			if strings.TrimSpace(settings.Preset) == "" {
				settings.Preset = base.Preset
			}
			if settings.CPUUsed <= 0 {
				settings.CPUUsed = base.CPUUsed
			}
			if strings.TrimSpace(settings.Quality) == "" {
				settings.Quality = base.Quality
			}
			if strings.TrimSpace(settings.Container) == "" {
				settings.Container = base.Container
			}
		}
		settings.Profile = strings.ToLower(strings.TrimSpace(settings.Profile))
		settings.PixelFormat = strings.ToLower(strings.TrimSpace(settings.PixelFormat))
		settings.Preset = strings.ToLower(strings.TrimSpace(settings.Preset))
		settings.Quality = strings.ToLower(strings.TrimSpace(settings.Quality))
		settings.Container = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(settings.Container, ".")))
		normalized[key] = settings
	}
	for name, settings := range defaults {
		if _, ok := normalized[name]; !ok {
			normalized[name] = settings
		}
	}
	c.Codecs = normalized
}

func (c *Config) normalizeAudio() {
	c.Audio.Codec = strings.ToLower(strings.TrimSpace(c.Audio.Codec))
	if c.Audio.BitrateKbps < 0 {
		c.Audio.BitrateKbps = 0
	}
	if c.Audio.VBRQuality < 0 {
		c.Audio.VBRQuality = 0
	}
	if c.Audio.AACVBRMode < 0 {
		c.Audio.AACVBRMode = 0
	}
}

func (c *Config) normalizeLoudness() {
	c.Loudness.Preset = strings.ToLower(strings.TrimSpace(c.Loudness.Preset))
	if c.Loudness.Preset == "" {
		c.Loudness.Preset = defaultLoudnessPreset
	}
	if c.Loudness.TargetI == 0 {
		c.Loudness.TargetI = defaultLoudnessI
	}
	if c.Loudness.TargetTP == 0 {
		c.Loudness.TargetTP = defaultLoudnessTP
	}
	if c.Loudness.TargetLRA == 0 {
		c.Loudness.TargetLRA = defaultLoudnessLRA
	}
}

func (c *Config) normalizeCache() error {
	var err error
	if strings.TrimSpace(c.Cache.Path) == "" {
		c.Cache.Path = defaultCachePath()
	}
	if c.Cache.Path, err = expandPath(c.Cache.Path); err != nil {
		return fmt.Errorf("cache.path: %w", err)
	}
	if c.Cache.MaxAgeDays <= 0 {
		c.Cache.MaxAgeDays = defaultCacheMaxAge
	}
	return nil
}

func (c *Config) normalizeBackup() {
	c.Backup.Suffix = strings.TrimSpace(c.Backup.Suffix)
	if c.Backup.Suffix == "" {
		c.Backup.Suffix = defaultBackupSuffix
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
