package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conform/internal/config"
)

func TestLoadDefaultsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_CACHE_HOME", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWork := filepath.Join(tempHome, ".local", "share", "conform", "work")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.Transcode.TargetCodec != "h264" {
		t.Fatalf("unexpected target codec: %q", cfg.Transcode.TargetCodec)
	}
	if cfg.Transcode.CapsMode != "limit" {
		t.Fatalf("unexpected caps mode: %q", cfg.Transcode.CapsMode)
	}
	if cfg.Transcode.TimeoutSeconds != 600 {
		t.Fatalf("unexpected timeout: %d", cfg.Transcode.TimeoutSeconds)
	}
	if !cfg.Transcode.Verification {
		t.Fatal("expected verification enabled by default")
	}
	if cfg.Loudness.Enabled {
		t.Fatal("expected loudness disabled by default")
	}
	if cfg.Loudness.TargetI != -18.0 || cfg.Loudness.TargetTP != -2.0 || cfg.Loudness.TargetLRA != 11.0 {
		t.Fatalf("unexpected loudness targets: %+v", cfg.Loudness)
	}
	if !cfg.Backup.Enabled || cfg.Backup.Suffix != "-source" {
		t.Fatalf("unexpected backup defaults: %+v", cfg.Backup)
	}
	if !strings.HasSuffix(cfg.Cache.Path, filepath.Join("conform", "loudness.db")) {
		t.Fatalf("unexpected cache path: %q", cfg.Cache.Path)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.WorkDir, cfg.Paths.LogDir, cfg.Paths.RollbackDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadParsesFileAndMergesCodecDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[transcode]
target_codec = "vp9"
max_width = 1920
max_height = 1080
caps_mode = "exact"

[codec.vp9]
crf = 31

[audio]
codec = "Opus"
bitrate_kbps = 128

[loudness]
enabled = true
preset = "strict"

[tools]
ffmpeg = "/opt/ffmpeg/bin/ffmpeg"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != path {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Transcode.TargetCodec != "vp9" {
		t.Fatalf("unexpected target codec: %q", cfg.Transcode.TargetCodec)
	}
	if cfg.Transcode.CapsMode != "exact" {
		t.Fatalf("unexpected caps mode: %q", cfg.Transcode.CapsMode)
	}

	vp9 := cfg.CodecSettings("vp9")
	if vp9.CRF != 31 {
		t.Fatalf("expected crf override: %d", vp9.CRF)
	}
	if vp9.CPUUsed != 4 || vp9.Quality != "good" || vp9.Container != "webm" {
		t.Fatalf("expected defaults merged into vp9 table: %+v", vp9)
	}

	h264 := cfg.CodecSettings("h264")
	if h264.Profile != "high" || h264.Container != "mp4" {
		t.Fatalf("expected untouched codec tables to keep defaults: %+v", h264)
	}

	if cfg.Audio.Codec != "opus" || cfg.Audio.BitrateKbps != 128 {
		t.Fatalf("expected normalized audio settings: %+v", cfg.Audio)
	}
	if cfg.FFmpegBinary() != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("expected ffmpeg override: %q", cfg.FFmpegBinary())
	}
	if cfg.FFprobeBinary() != "ffprobe" {
		t.Fatalf("expected ffprobe default: %q", cfg.FFprobeBinary())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "bad codec",
			body: "[transcode]\ntarget_codec = \"prores\"\n",
			want: "target_codec",
		},
		{
			name: "bad caps mode",
			body: "[transcode]\ncaps_mode = \"clamp\"\n",
			want: "caps_mode",
		},
		{
			name: "width without height",
			body: "[transcode]\nmax_width = 1920\n",
			want: "must be set together",
		},
		{
			name: "bad loudness preset",
			body: "[loudness]\nenabled = true\npreset = \"loose\"\n",
			want: "loudness.preset",
		},
		{
			name: "positive target_i",
			body: "[loudness]\nenabled = true\ntarget_i = 5.0\n",
			want: "target_i",
		},
		{
			name: "bad audio codec",
			body: "[audio]\ncodec = \"flac\"\n",
			want: "audio.codec",
		},
		{
			name: "unknown accelerator",
			body: "[transcode]\npreferred_accelerators = [\"cuda9000\"]\n",
			want: "unknown accelerator",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.toml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, _, _, err := config.Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestCreateSampleWritesParsableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	if _, _, exists, err := config.Load(path); err != nil || !exists {
		t.Fatalf("sample config should load: exists=%v err=%v", exists, err)
	}
}

func TestExpandPathTilde(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	got, err := config.ExpandPath("~/media")
	if err != nil {
		t.Fatalf("ExpandPath failed: %v", err)
	}
	if got != filepath.Join(tempHome, "media") {
		t.Fatalf("unexpected expansion: %q", got)
	}
}
