package hwaccel

import (
	"context"
	"testing"
)

func withProbe(t *testing.T, fn func(ctx context.Context, binary, encoder string) bool) {
	t.Helper()
	orig := probeEncoder
	probeEncoder = fn
	t.Cleanup(func() { probeEncoder = orig })
}

func newTestSelector(goos string) *Selector {
	s := NewSelector("ffmpeg", nil)
	s.goos = goos
	return s
}

func TestSelectPrefersPriorityOrder(t *testing.T) {
	withProbe(t, func(_ context.Context, _, _ string) bool { return true })

	s := newTestSelector("linux")
	sel, ok := s.Select(context.Background(), "h264", nil)
	if !ok {
		t.Fatal("expected a selection")
	}
	if sel.Accel.Name != "quicksync" || sel.Encoder != "h264_qsv" {
		t.Fatalf("expected quicksync first, got %s/%s", sel.Accel.Name, sel.Encoder)
	}
}

func TestSelectFallsThroughFailedProbes(t *testing.T) {
	withProbe(t, func(_ context.Context, _, encoder string) bool {
		return encoder == "h264_vaapi"
	})

	s := newTestSelector("linux")
	sel, ok := s.Select(context.Background(), "h264", nil)
	if !ok {
		t.Fatal("expected a selection")
	}
	if sel.Accel.Name != "vaapi" {
		t.Fatalf("expected vaapi after probe failures, got %s", sel.Accel.Name)
	}
}

func TestSelectHonorsPreferredList(t *testing.T) {
	withProbe(t, func(_ context.Context, _, _ string) bool { return true })

	s := newTestSelector("linux")
	sel, ok := s.Select(context.Background(), "h264", []string{"nvenc"})
	if !ok || sel.Accel.Name != "nvenc" {
		t.Fatalf("expected nvenc selection, got %+v ok=%v", sel, ok)
	}

	// Preferred accelerator that cannot serve the codec yields software.
	if _, ok := s.Select(context.Background(), "vp8", []string{"nvenc"}); ok {
		t.Fatal("nvenc offers no vp8 encoder")
	}
}

func TestSelectSkipsForeignPlatforms(t *testing.T) {
	withProbe(t, func(_ context.Context, _, _ string) bool { return true })

	s := newTestSelector("darwin")
	sel, ok := s.Select(context.Background(), "h264", nil)
	if !ok || sel.Accel.Name != "videotoolbox" {
		t.Fatalf("expected videotoolbox on darwin, got %+v ok=%v", sel, ok)
	}
}

func TestSelectCachesProbeResults(t *testing.T) {
	calls := 0
	withProbe(t, func(_ context.Context, _, _ string) bool {
		calls++
		return false
	})

	s := newTestSelector("linux")
	s.Select(context.Background(), "h264", nil)
	first := calls
	s.Select(context.Background(), "h264", nil)
	if calls != first {
		t.Fatalf("probes should be cached: %d then %d", first, calls)
	}
}

func TestSelectNoAcceleratorForVP8(t *testing.T) {
	withProbe(t, func(_ context.Context, _, _ string) bool { return true })

	s := newTestSelector("linux")
	if _, ok := s.Select(context.Background(), "vp8", nil); ok {
		t.Fatal("no accelerator offers vp8")
	}
}

func TestUseHardwareDecode(t *testing.T) {
	cases := []struct {
		name      string
		requested bool
		forced    bool
		decoder   bool
		filters   bool
		want      bool
	}{
		{"all clear", true, false, true, false, true},
		{"filters force software decode", true, false, true, true, false},
		{"forcing overrides the filter fallback", true, true, true, true, true},
		{"not requested", false, false, true, false, false},
		{"forcing does not imply requesting", false, true, true, false, false},
		{"no decoder available", true, true, false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := UseHardwareDecode(tc.requested, tc.forced, tc.decoder, tc.filters); got != tc.want {
				t.Fatalf("UseHardwareDecode = %v, want %v", got, tc.want)
			}
		})
	}
}

func withHWAccelList(t *testing.T, methods []string) {
	t.Helper()
	orig := listHWAccels
	listHWAccels = func(_ context.Context, _ string) []string { return methods }
	t.Cleanup(func() { listHWAccels = orig })
}

func TestSelectDecoderUsesReportedMethods(t *testing.T) {
	withHWAccelList(t, []string{"vaapi"})

	s := newTestSelector("linux")
	accel, ok := s.SelectDecoder(context.Background(), nil)
	if !ok || accel.Name != "vaapi" {
		t.Fatalf("expected vaapi decoder, got %+v ok=%v", accel, ok)
	}
}

func TestSelectDecoderHonorsPreferredList(t *testing.T) {
	withHWAccelList(t, []string{"qsv", "cuda"})

	s := newTestSelector("linux")
	accel, ok := s.SelectDecoder(context.Background(), []string{"nvenc"})
	if !ok || accel.Name != "nvenc" {
		t.Fatalf("expected nvenc decoder, got %+v ok=%v", accel, ok)
	}
}

func TestSelectDecoderNoMethods(t *testing.T) {
	withHWAccelList(t, nil)

	s := newTestSelector("linux")
	if _, ok := s.SelectDecoder(context.Background(), nil); ok {
		t.Fatal("no reported methods should yield software decode")
	}
}

func TestSelectDecoderCachesMethodList(t *testing.T) {
	calls := 0
	orig := listHWAccels
	listHWAccels = func(_ context.Context, _ string) []string {
		calls++
		return []string{"cuda"}
	}
	t.Cleanup(func() { listHWAccels = orig })

	s := newTestSelector("linux")
	s.SelectDecoder(context.Background(), nil)
	s.SelectDecoder(context.Background(), nil)
	if calls != 1 {
		t.Fatalf("method list should be cached: %d calls", calls)
	}
}

func TestLookupAndNames(t *testing.T) {
	if _, ok := Lookup("QuickSync"); !ok {
		t.Fatal("lookup should be case-insensitive")
	}
	names := Names()
	if len(names) != 5 || names[0] != "quicksync" || names[4] != "vaapi" {
		t.Fatalf("unexpected registry order: %v", names)
	}
}
