package ffmpegcmd

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"conform/internal/config"
	"conform/internal/decision"
	"conform/internal/hwaccel"
	"conform/internal/media/ffprobe"
)

func h264Request() Request {
	return Request{
		Input: ffprobe.Descriptor{
			Path:      "/media/clip.mkv",
			Container: "mkv",
			Video: &ffprobe.VideoInfo{
				Codec:  "vp9",
				Width:  1920,
				Height: 1080,
				FPS:    29.97,
			},
			Audio: &ffprobe.AudioInfo{Codec: "aac", Channels: 2},
		},
		Output:  "/media/clip.transcoding.mp4",
		Codec:   "h264",
		Encoder: "libx264",
		Settings: config.Codec{
			Profile:     "high",
			PixelFormat: "yuv420p",
			CRF:         18,
			Preset:      "fast",
			Container:   "mp4",
		},
	}
}

func argvString(t *testing.T, req Request) string {
	t.Helper()
	cmd, err := Build(req)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return strings.Join(cmd.Args, " ")
}

func TestBuildH264Software(t *testing.T) {
	argv := argvString(t, h264Request())

	for _, want := range []string{
		"-i /media/clip.mkv",
		"-c:v libx264",
		"-profile:v high",
		"-preset fast",
		"-crf 18",
		"-pix_fmt yuv420p",
		"-vsync cfr",
		"-c:a copy",
		"-movflags +faststart",
	} {
		if !strings.Contains(argv, want) {
			t.Fatalf("argv missing %q: %s", want, argv)
		}
	}
	if !strings.HasSuffix(argv, "/media/clip.transcoding.mp4") {
		t.Fatalf("output should be last: %s", argv)
	}
}

func TestBuildAudioReencodeWhenIncompatible(t *testing.T) {
	req := h264Request()
	req.Input.Audio.Codec = "opus" // mp4 cannot carry opus

	argv := argvString(t, req)
	if strings.Contains(argv, "-c:a copy") {
		t.Fatalf("opus in mp4 must re-encode: %s", argv)
	}
	if !strings.Contains(argv, "-c:a aac -b:a 192k") {
		t.Fatalf("expected aac default: %s", argv)
	}
}

func TestBuildAudioFilterForcesReencode(t *testing.T) {
	req := h264Request()
	req.AudioFilter = "loudnorm=I=-18.0:TP=-2.0:LRA=11.0"

	argv := argvString(t, req)
	if strings.Contains(argv, "-c:a copy") {
		t.Fatalf("filtered audio cannot stream copy: %s", argv)
	}
	if !strings.Contains(argv, "-af loudnorm=I=-18.0:TP=-2.0:LRA=11.0") {
		t.Fatalf("expected audio filter: %s", argv)
	}
}

func TestBuildNoAudioStream(t *testing.T) {
	req := h264Request()
	req.Input.Audio = nil

	argv := argvString(t, req)
	if !strings.Contains(argv, "-an") {
		t.Fatalf("expected -an for video-only input: %s", argv)
	}
}

func TestBuildAudioSettings(t *testing.T) {
	cases := []struct {
		name      string
		container string
		stream    string
		audio     config.Audio
		want      string
	}{
		{"aac vbr mode", "mp4", "opus", config.Audio{AACVBRMode: 4}, "-c:a aac -q:a 4"},
		{"aac bitrate", "mp4", "opus", config.Audio{BitrateKbps: 256}, "-c:a aac -b:a 256k"},
		{"mp3 quality", "mp4", "opus", config.Audio{Codec: "mp3", VBRQuality: 3}, "-c:a libmp3lame -q:a 3"},
		{"mp3 default quality", "mp4", "opus", config.Audio{Codec: "mp3"}, "-c:a libmp3lame -q:a 2"},
		{"vorbis quality", "mkv", "aac", config.Audio{Codec: "vorbis", VBRQuality: 7}, "-c:a libvorbis -q:a 7"},
		{"vorbis default quality", "mkv", "aac", config.Audio{Codec: "vorbis"}, "-c:a libvorbis -q:a 5"},
		{"opus bitrate", "mkv", "aac", config.Audio{Codec: "opus", BitrateKbps: 128}, "-c:a libopus -b:a 128k"},
		{"opus default bitrate", "mkv", "aac", config.Audio{Codec: "opus"}, "-c:a libopus -b:a 160k"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := h264Request()
			req.Settings.Container = tc.container
			req.Input.Audio = &ffprobe.AudioInfo{Codec: tc.stream, Channels: 2}
			req.Audio = tc.audio

			argv := argvString(t, req)
			if !strings.Contains(argv, tc.want) {
				t.Fatalf("argv missing %q: %s", tc.want, argv)
			}
		})
	}
}

func TestBuildForcedAudioCodecSkipsCopy(t *testing.T) {
	req := h264Request()
	req.Audio = config.Audio{Codec: "mp3"}
	// aac would stream copy into mp4, but the configured codec differs.

	argv := argvString(t, req)
	if strings.Contains(argv, "-c:a copy") {
		t.Fatalf("forced codec must re-encode: %s", argv)
	}
	if !strings.Contains(argv, "-c:a libmp3lame") {
		t.Fatalf("expected configured codec: %s", argv)
	}
}

func TestBuildForcedAudioCodecMatchingStreamCopies(t *testing.T) {
	req := h264Request()
	req.Audio = config.Audio{Codec: "aac"}

	argv := argvString(t, req)
	if !strings.Contains(argv, "-c:a copy") {
		t.Fatalf("matching configured codec should copy: %s", argv)
	}
}

func TestBuildVP9Software(t *testing.T) {
	req := h264Request()
	req.Codec = "vp9"
	req.Encoder = "libvpx-vp9"
	req.Settings = config.Codec{CRF: 20, CPUUsed: 4, Quality: "good", Container: "webm"}
	req.Input.Audio = &ffprobe.AudioInfo{Codec: "vorbis"}

	argv := argvString(t, req)
	for _, want := range []string{
		"-c:v libvpx-vp9",
		"-crf 20 -b:v 0",
		"-cpu-used 4",
		"-deadline good",
		"-c:a copy",
	} {
		if !strings.Contains(argv, want) {
			t.Fatalf("argv missing %q: %s", want, argv)
		}
	}
	if strings.Contains(argv, "faststart") {
		t.Fatalf("webm must not get movflags: %s", argv)
	}
}

func TestBuildAV1PerEncoderArgs(t *testing.T) {
	cases := []struct {
		encoder string
		want    string
	}{
		{"libsvtav1", "-crf 20 -preset 8"},
		{"libaom-av1", "-crf 20 -b:v 0 -cpu-used 8"},
		{"av1", "-crf 20"},
	}
	for _, tc := range cases {
		t.Run(tc.encoder, func(t *testing.T) {
			req := h264Request()
			req.Codec = "av1"
			req.Encoder = tc.encoder
			req.Settings = config.Codec{CRF: 20, CPUUsed: 8, Container: "mkv"}
			req.Input.Audio = &ffprobe.AudioInfo{Codec: "opus"}

			argv := argvString(t, req)
			if !strings.Contains(argv, tc.want) {
				t.Fatalf("argv missing %q: %s", tc.want, argv)
			}
		})
	}
}

func TestBuildBitrateCeiling(t *testing.T) {
	req := h264Request()
	req.Caps = decision.Caps{MaxBitrateKbps: 6000, Mode: decision.CapsLimit}

	argv := argvString(t, req)
	if !strings.Contains(argv, "-maxrate 6000k -bufsize 12000k") {
		t.Fatalf("expected rate ceiling: %s", argv)
	}
}

func TestBuildFiltersLimitMode(t *testing.T) {
	req := h264Request()
	req.Input.Video.Width = 3840
	req.Input.Video.Height = 2160
	req.Input.Video.FPS = 60
	req.Caps = decision.Caps{MaxWidth: 1920, MaxHeight: 1080, MaxFPS: 30, Mode: decision.CapsLimit}

	cmd, err := Build(req)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	argv := strings.Join(cmd.Args, " ")
	if !strings.Contains(argv, "-vf ") {
		t.Fatalf("expected filter chain: %s", argv)
	}
	if len(cmd.Filters) != 2 {
		t.Fatalf("expected scale and fps filters: %v", cmd.Filters)
	}
	if strings.Contains(argv, "pad=") {
		t.Fatalf("limit mode must not pad: %s", argv)
	}
}

func TestBuildFiltersExactModePads(t *testing.T) {
	req := h264Request()
	req.Caps = decision.Caps{MaxWidth: 1280, MaxHeight: 720, Mode: decision.CapsExact}

	cmd, err := Build(req)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !slices.ContainsFunc(cmd.Filters, func(f string) bool { return strings.HasPrefix(f, "pad=1280:720") }) {
		t.Fatalf("exact mode should pad h264 output: %v", cmd.Filters)
	}
}

func TestBuildFiltersExactModeVP9SkipsPad(t *testing.T) {
	req := h264Request()
	req.Codec = "vp9"
	req.Encoder = "libvpx-vp9"
	req.Settings = config.Codec{CRF: 20, CPUUsed: 4, Container: "webm"}
	req.Caps = decision.Caps{MaxWidth: 1280, MaxHeight: 720, Mode: decision.CapsExact}

	cmd, err := Build(req)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	for _, f := range cmd.Filters {
		if strings.HasPrefix(f, "pad=") {
			t.Fatalf("vp9 exact mode downscales without padding: %v", cmd.Filters)
		}
	}
}

func TestBuildHardwareEncodeDisablesDecodeWithFilters(t *testing.T) {
	sel, ok := hwaccel.Lookup("quicksync")
	if !ok {
		t.Fatal("quicksync missing from registry")
	}
	req := h264Request()
	req.Encoder = "h264_qsv"
	req.Hardware = &hwaccel.Selection{Accel: sel, Encoder: "h264_qsv"}
	req.DecodeRequested = true
	req.Input.Video.Width = 3840
	req.Input.Video.Height = 2160
	req.Caps = decision.Caps{MaxWidth: 1920, MaxHeight: 1080, Mode: decision.CapsLimit}

	cmd, err := Build(req)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if cmd.UsedHardwareDecode {
		t.Fatal("scale filter must force software decode")
	}
	argv := strings.Join(cmd.Args, " ")
	if strings.Contains(argv, "-hwaccel") {
		t.Fatalf("decode args should be absent: %s", argv)
	}
	if !strings.Contains(argv, "-global_quality 18") {
		t.Fatalf("expected qsv quality mapping: %s", argv)
	}
}

func TestBuildHardwareDecodeWithoutFilters(t *testing.T) {
	sel, ok := hwaccel.Lookup("quicksync")
	if !ok {
		t.Fatal("quicksync missing from registry")
	}
	req := h264Request()
	req.Encoder = "h264_qsv"
	req.Hardware = &hwaccel.Selection{Accel: sel, Encoder: "h264_qsv"}
	req.DecodeRequested = true

	cmd, err := Build(req)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !cmd.UsedHardwareDecode {
		t.Fatal("expected hardware decode")
	}
	argv := strings.Join(cmd.Args, " ")
	if !strings.Contains(argv, "-hwaccel qsv -i") {
		t.Fatalf("decode args must precede input: %s", argv)
	}
}

func TestBuildForcedDecodeOverridesFilterFallback(t *testing.T) {
	sel, ok := hwaccel.Lookup("quicksync")
	if !ok {
		t.Fatal("quicksync missing from registry")
	}
	req := h264Request()
	req.Encoder = "h264_qsv"
	req.Hardware = &hwaccel.Selection{Accel: sel, Encoder: "h264_qsv"}
	req.DecodeRequested = true
	req.ForceHardwareDecode = true
	req.Input.Video.Width = 3840
	req.Input.Video.Height = 2160
	req.Caps = decision.Caps{MaxWidth: 1920, MaxHeight: 1080, Mode: decision.CapsLimit}

	cmd, err := Build(req)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !cmd.UsedHardwareDecode {
		t.Fatal("forced decode must survive the scale filter")
	}
	if !strings.Contains(strings.Join(cmd.Args, " "), "-hwaccel qsv -i") {
		t.Fatalf("decode args must precede input: %v", cmd.Args)
	}
}

func TestBuildDecoderWithSoftwareEncoder(t *testing.T) {
	accel, ok := hwaccel.Lookup("vaapi")
	if !ok {
		t.Fatal("vaapi missing from registry")
	}
	req := h264Request()
	req.Decoder = &accel
	req.DecodeRequested = true

	cmd, err := Build(req)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !cmd.UsedHardwareDecode {
		t.Fatal("expected hardware decode in front of the software encoder")
	}
	argv := strings.Join(cmd.Args, " ")
	if !strings.Contains(argv, "-hwaccel vaapi -i") {
		t.Fatalf("decode args must precede input: %s", argv)
	}
	if !strings.Contains(argv, "-c:v libx264") {
		t.Fatalf("encoder should stay software: %s", argv)
	}
}

func TestBuildRejectsBadRequests(t *testing.T) {
	req := h264Request()
	req.Codec = "prores"
	if _, err := Build(req); err == nil {
		t.Fatal("expected error for unsupported codec")
	}

	req = h264Request()
	req.Encoder = ""
	if _, err := Build(req); err == nil {
		t.Fatal("expected error for missing encoder")
	}
}

func TestSoftwareEncoderAV1Chain(t *testing.T) {
	cases := []struct {
		name      string
		available map[string]bool
		want      string
		wantErr   bool
	}{
		{"svt preferred", map[string]bool{"libsvtav1": true, "libaom-av1": true}, "libsvtav1", false},
		{"aom fallback", map[string]bool{"libaom-av1": true}, "libaom-av1", false},
		{"generic last", map[string]bool{"av1": true}, "av1", false},
		{"none", map[string]bool{}, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orig := listEncoders
			listEncoders = func(_ context.Context, _ string) (map[string]bool, error) {
				return tc.available, nil
			}
			encoderCache.mu.Lock()
			encoderCache.results = nil
			encoderCache.mu.Unlock()
			t.Cleanup(func() {
				listEncoders = orig
				encoderCache.mu.Lock()
				encoderCache.results = nil
				encoderCache.mu.Unlock()
			})

			enc, err := SoftwareEncoder(context.Background(), "ffmpeg", "av1")
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("SoftwareEncoder failed: %v", err)
			}
			if enc != tc.want {
				t.Fatalf("SoftwareEncoder = %q, want %q", enc, tc.want)
			}
		})
	}
}

func TestSoftwareEncoderFixedMappings(t *testing.T) {
	for codec, want := range map[string]string{
		"h264": "libx264",
		"hevc": "libx265",
		"vp8":  "libvpx",
		"vp9":  "libvpx-vp9",
	} {
		enc, err := SoftwareEncoder(context.Background(), "ffmpeg", codec)
		if err != nil {
			t.Fatalf("SoftwareEncoder(%s) failed: %v", codec, err)
		}
		if enc != want {
			t.Fatalf("SoftwareEncoder(%s) = %q, want %q", codec, enc, want)
		}
	}
	if _, err := SoftwareEncoder(context.Background(), "ffmpeg", "prores"); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

func TestParseEncoderList(t *testing.T) {
	output := []byte(`Encoders:
 V..... = Video
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D libsvtav1            SVT-AV1(Scalable Video Technology for AV1) encoder
 A....D aac                  AAC (Advanced Audio Coding)
`)
	supported := parseEncoderList(output)
	if !supported["libx264"] || !supported["libsvtav1"] || !supported["aac"] {
		t.Fatalf("unexpected parse result: %v", supported)
	}
	if supported["Encoders:"] {
		t.Fatal("header lines must not register as encoders")
	}
}

func TestSoftwareEncoderListFailure(t *testing.T) {
	orig := listEncoders
	listEncoders = func(_ context.Context, _ string) (map[string]bool, error) {
		return nil, errors.New("exec failed")
	}
	encoderCache.mu.Lock()
	encoderCache.results = nil
	encoderCache.mu.Unlock()
	t.Cleanup(func() {
		listEncoders = orig
		encoderCache.mu.Lock()
		encoderCache.results = nil
		encoderCache.mu.Unlock()
	})

	if _, err := SoftwareEncoder(context.Background(), "ffmpeg", "av1"); err == nil {
		t.Fatal("expected error when encoder listing fails")
	}
}

func mp3Request() Request {
	return Request{
		Input: ffprobe.Descriptor{
			Path:      "/media/album/track.mp3",
			Container: "mp3",
			Audio:     &ffprobe.AudioInfo{Codec: "mp3", Channels: 2},
		},
		Output: "/media/album/track.transcoding.mp3",
	}
}

func TestBuildAudioOnlyLoudnessPass(t *testing.T) {
	req := mp3Request()
	req.AudioFilter = "loudnorm=I=-18.0:TP=-2.0:LRA=11.0:measured_I=-12.1"

	argv := argvString(t, req)
	for _, want := range []string{
		"-i /media/album/track.mp3",
		"-vn",
		"-af loudnorm=I=-18.0:TP=-2.0:LRA=11.0:measured_I=-12.1",
		"-c:a libmp3lame",
	} {
		if !strings.Contains(argv, want) {
			t.Fatalf("argv missing %q: %s", want, argv)
		}
	}
	if strings.Contains(argv, "-c:v") {
		t.Fatalf("audio file must not get a video encoder: %s", argv)
	}
	if !strings.HasSuffix(argv, "/media/album/track.transcoding.mp3") {
		t.Fatalf("output should be last: %s", argv)
	}
}

func TestBuildAudioOnlyNoFilterCopies(t *testing.T) {
	argv := argvString(t, mp3Request())
	if !strings.Contains(argv, "-c:a copy") {
		t.Fatalf("untouched audio should stream copy: %s", argv)
	}
}

func TestBuildAudioOnlyFLACKeepsCodec(t *testing.T) {
	req := mp3Request()
	req.Input.Path = "/media/album/track.flac"
	req.Input.Container = "flac"
	req.Input.Audio = &ffprobe.AudioInfo{Codec: "flac", Channels: 2}
	req.Output = "/media/album/track.transcoding.flac"
	req.AudioFilter = "loudnorm=I=-18.0:TP=-2.0:LRA=11.0"

	argv := argvString(t, req)
	if !strings.Contains(argv, "-c:a flac") {
		t.Fatalf("flac source should re-encode as flac: %s", argv)
	}
}

func TestBuildStreamlessInput(t *testing.T) {
	req := mp3Request()
	req.Input.Audio = nil

	if _, err := Build(req); err == nil {
		t.Fatal("expected error for input without streams")
	}
}
