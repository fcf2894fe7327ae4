package config

import (
	"errors"
	"fmt"
	"strings"
)

var knownCodecs = map[string]struct{}{
	"h264": {},
	"hevc": {},
	"vp8":  {},
	"vp9":  {},
	"av1":  {},
}

var knownAccelerators = map[string]struct{}{
	"quicksync":    {},
	"nvenc":        {},
	"amf":          {},
	"videotoolbox": {},
	"vaapi":        {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateCodecs(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateLoudness(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTranscode() error {
	if _, ok := knownCodecs[c.Transcode.TargetCodec]; !ok {
		return fmt.Errorf("transcode.target_codec %q is not supported (h264, hevc, vp8, vp9, av1)", c.Transcode.TargetCodec)
	}
	switch c.Transcode.CapsMode {
	case "limit", "exact":
	default:
		return fmt.Errorf("transcode.caps_mode must be %q or %q", "limit", "exact")
	}
	if c.Transcode.MaxWidth < 0 || c.Transcode.MaxHeight < 0 {
		return errors.New("transcode.max_width and transcode.max_height must be >= 0")
	}
	if (c.Transcode.MaxWidth == 0) != (c.Transcode.MaxHeight == 0) {
		return errors.New("transcode.max_width and transcode.max_height must be set together")
	}
	if c.Transcode.MaxFPS < 0 {
		return errors.New("transcode.max_fps must be >= 0")
	}
	if c.Transcode.MaxBitrateKbps < 0 {
		return errors.New("transcode.max_bitrate_kbps must be >= 0")
	}
	if c.Transcode.TimeoutSeconds <= 0 {
		return errors.New("transcode.timeout_seconds must be positive")
	}
	if c.Transcode.GraceSeconds <= 0 {
		return errors.New("transcode.grace_seconds must be positive")
	}
	for _, name := range c.Transcode.PreferredAccels {
		if _, ok := knownAccelerators[name]; !ok {
			return fmt.Errorf("transcode.preferred_accelerators: unknown accelerator %q", name)
		}
	}
	return nil
}

func (c *Config) validateCodecs() error {
	for name, settings := range c.Codecs {
		if _, ok := knownCodecs[name]; !ok {
			return fmt.Errorf("codec.%s: unsupported codec table", name)
		}
		if settings.CRF < 0 || settings.CRF > 63 {
			return fmt.Errorf("codec.%s.crf must be between 0 and 63", name)
		}
		if strings.TrimSpace(settings.Container) == "" {
			return fmt.Errorf("codec.%s.container must be set", name)
		}
	}
	return nil
}

var knownAudioCodecs = map[string]struct{}{
	"aac":    {},
	"mp3":    {},
	"opus":   {},
	"vorbis": {},
	"flac":   {},
}

func (c *Config) validateAudio() error {
	if c.Audio.Codec != "" {
		if _, ok := knownAudioCodecs[c.Audio.Codec]; !ok {
			return fmt.Errorf("audio.codec %q is not supported (aac, mp3, opus, vorbis, flac)", c.Audio.Codec)
		}
	}
	if c.Audio.VBRQuality > 10 {
		return errors.New("audio.vbr_quality must be between 0 and 10")
	}
	if c.Audio.AACVBRMode > 5 {
		return errors.New("audio.aac_vbr_mode must be between 0 and 5")
	}
	return nil
}

func (c *Config) validateLoudness() error {
	if !c.Loudness.Enabled {
		return nil
	}
	switch c.Loudness.Preset {
	case "strict", "balanced", "relaxed", "custom":
	default:
		return fmt.Errorf("loudness.preset %q is not supported (strict, balanced, relaxed, custom)", c.Loudness.Preset)
	}
	if c.Loudness.TargetI > 0 {
		return errors.New("loudness.target_i must be negative LUFS")
	}
	if c.Loudness.TargetTP > 0 {
		return errors.New("loudness.target_tp must be <= 0 dBTP")
	}
	if c.Loudness.TargetLRA <= 0 {
		return errors.New("loudness.target_lra must be positive LU")
	}
	if c.Loudness.TolI < 0 || c.Loudness.TolTP < 0 || c.Loudness.TolLRA < 0 {
		return errors.New("loudness tolerance overrides must be >= 0")
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Path) == "" {
		return errors.New("cache.path must be set when cache.enabled is true")
	}
	return nil
}
