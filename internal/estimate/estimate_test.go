package estimate

import (
	"testing"

	"conform/internal/decision"
	"conform/internal/media/ffprobe"
)

func descriptor(size int64, duration float64, width, height int) ffprobe.Descriptor {
	return ffprobe.Descriptor{
		Path:      "/library/movie.mkv",
		SizeBytes: size,
		Duration:  duration,
		Video:     &ffprobe.VideoInfo{Codec: "mpeg2video", Width: width, Height: height},
	}
}

func TestForCandidateRatioProjection(t *testing.T) {
	est := ForCandidate(Candidate{
		Descriptor: descriptor(1_000_000_000, 3600, 1920, 1080),
		Codec:      "hevc",
	})
	if est.OutputBytes != 600_000_000 {
		t.Fatalf("expected 600000000 bytes, got %d", est.OutputBytes)
	}
	if est.Seconds != 3600 {
		t.Fatalf("expected 3600s for hevc at realtime, got %.1f", est.Seconds)
	}
}

func TestForCandidateBitrateCeilingWins(t *testing.T) {
	// 2000 kbps over one hour is 900 MB of video plus 10% overhead, well
	// under the 9 GB ratio projection from a 10 GB source.
	est := ForCandidate(Candidate{
		Descriptor: descriptor(10_000_000_000, 3600, 1920, 1080),
		Codec:      "h264",
		Caps:       decision.Caps{MaxBitrateKbps: 2000},
	})
	want := int64(2000 * 1000 / 8 * 3600)
	want += want / 10
	if est.OutputBytes != want {
		t.Fatalf("expected %d bytes, got %d", want, est.OutputBytes)
	}
}

func TestForCandidateHardwareSpeedsUp(t *testing.T) {
	software := ForCandidate(Candidate{
		Descriptor: descriptor(1_000_000_000, 3600, 1920, 1080),
		Codec:      "h264",
	})
	hardware := ForCandidate(Candidate{
		Descriptor: descriptor(1_000_000_000, 3600, 1920, 1080),
		Codec:      "h264",
		Hardware:   true,
	})
	if hardware.Seconds >= software.Seconds {
		t.Fatalf("expected hardware estimate %.1fs to beat software %.1fs", hardware.Seconds, software.Seconds)
	}
}

func TestForCandidateResolutionScalesTime(t *testing.T) {
	uhd := ForCandidate(Candidate{
		Descriptor: descriptor(1_000_000_000, 3600, 3840, 2160),
		Codec:      "h264",
	})
	downscaled := ForCandidate(Candidate{
		Descriptor: descriptor(1_000_000_000, 3600, 3840, 2160),
		Codec:      "h264",
		Caps:       decision.Caps{MaxWidth: 1920, MaxHeight: 1080},
	})
	if downscaled.Seconds >= uhd.Seconds {
		t.Fatalf("expected downscaled encode %.1fs to be faster than native %.1fs", downscaled.Seconds, uhd.Seconds)
	}
}

func TestForCandidateUnknownCodecDefaults(t *testing.T) {
	est := ForCandidate(Candidate{
		Descriptor: descriptor(1_000_000_000, 100, 1920, 1080),
		Codec:      "prores",
	})
	if est.OutputBytes != 750_000_000 {
		t.Fatalf("expected default ratio projection, got %d", est.OutputBytes)
	}
	if est.Seconds != 100 {
		t.Fatalf("expected default realtime estimate, got %.1f", est.Seconds)
	}
}

func TestForCandidateZeroDuration(t *testing.T) {
	est := ForCandidate(Candidate{
		Descriptor: descriptor(1_000_000_000, 0, 1920, 1080),
		Codec:      "h264",
		Caps:       decision.Caps{MaxBitrateKbps: 2000},
	})
	if est.Seconds != 0 {
		t.Fatalf("expected zero time estimate, got %.1f", est.Seconds)
	}
	if est.OutputBytes != 900_000_000 {
		t.Fatalf("expected ratio projection without a duration, got %d", est.OutputBytes)
	}
}

func TestForBatchAggregates(t *testing.T) {
	candidates := []Candidate{
		{Descriptor: descriptor(1_000_000_000, 3600, 1920, 1080), Codec: "hevc"},
		{Descriptor: descriptor(500_000_000, 1800, 1280, 720), Codec: "hevc"},
	}

	plan := ForBatch(candidates, true)
	if len(plan.Estimates) != 2 {
		t.Fatalf("expected 2 estimates, got %d", len(plan.Estimates))
	}
	wantOutput := int64(600_000_000 + 300_000_000)
	if plan.OutputBytes != wantOutput {
		t.Fatalf("expected %d output bytes, got %d", wantOutput, plan.OutputBytes)
	}
	if plan.ScratchBytes != 1_500_000_000 {
		t.Fatalf("expected scratch bytes to cover both sources, got %d", plan.ScratchBytes)
	}
	wantRequired := wantOutput + 1_500_000_000 + 600_000_000
	if plan.RequiredBytes != wantRequired {
		t.Fatalf("expected %d required bytes, got %d", wantRequired, plan.RequiredBytes)
	}
	if plan.Seconds <= 0 {
		t.Fatalf("expected positive time estimate, got %.1f", plan.Seconds)
	}

	noBackups := ForBatch(candidates, false)
	if noBackups.ScratchBytes != 0 {
		t.Fatalf("expected no scratch overhead without backups, got %d", noBackups.ScratchBytes)
	}
	if noBackups.RequiredBytes >= plan.RequiredBytes {
		t.Fatalf("expected lower requirement without backups")
	}
}
