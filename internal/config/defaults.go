package config

const (
	defaultWorkDir        = "~/.local/share/conform/work"
	defaultLogDir         = "~/.local/share/conform/logs"
	defaultRollbackDir    = "~/.local/share/conform/rollback"
	defaultTargetCodec    = "h264"
	defaultCapsMode       = "limit"
	defaultTimeoutSeconds = 600
	defaultGraceSeconds   = 5
	defaultMinFreeSpaceMB = 500
	defaultLoudnessI      = -18.0
	defaultLoudnessTP     = -2.0
	defaultLoudnessLRA    = 11.0
	defaultLoudnessPreset = "balanced"
	defaultCacheMaxAge    = 180
	defaultBackupSuffix   = "-source"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:     defaultWorkDir,
			LogDir:      defaultLogDir,
			RollbackDir: defaultRollbackDir,
		},
		Transcode: Transcode{
			TargetCodec:    defaultTargetCodec,
			CapsMode:       defaultCapsMode,
			TimeoutSeconds: defaultTimeoutSeconds,
			GraceSeconds:   defaultGraceSeconds,
			MinFreeSpaceMB: defaultMinFreeSpaceMB,
			Verification:   true,
		},
		Codecs: defaultCodecs(),
		Loudness: Loudness{
			TargetI:   defaultLoudnessI,
			TargetTP:  defaultLoudnessTP,
			TargetLRA: defaultLoudnessLRA,
			Preset:    defaultLoudnessPreset,
		},
		Cache: Cache{
			Enabled:    true,
			Path:       defaultCachePath(),
			MaxAgeDays: defaultCacheMaxAge,
		},
		Backup: Backup{
			Enabled: true,
			Suffix:  defaultBackupSuffix,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

func defaultCodecs() map[string]Codec {
	return map[string]Codec{
		"h264": {
			Profile:     "high",
			PixelFormat: "yuv420p",
			CRF:         18,
			Preset:      "fast",
			Container:   "mp4",
		},
		"hevc": {
			Profile:     "main",
			PixelFormat: "yuv420p",
			CRF:         18,
			Preset:      "faster",
			Container:   "mp4",
		},
		"vp8": {
			CRF:       10,
			CPUUsed:   4,
			Container: "webm",
		},
		"vp9": {
			CRF:       20,
			CPUUsed:   4,
			Quality:   "good",
			Container: "webm",
		},
		"av1": {
			CRF:       20,
			CPUUsed:   8,
			Container: "mkv",
		},
	}
}
