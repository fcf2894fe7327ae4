package services

import (
	"errors"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("exit status 1")
	err := Wrap(ErrExternalTool, "execute", "ffmpeg", "encode failed", base)

	if !errors.Is(err, ErrExternalTool) {
		t.Fatal("expected external tool marker")
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped base error")
	}
	want := "external tool error: execute: ffmpeg: encode failed: exit status 1"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := Wrap(nil, "decision", "", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatal("nil marker should default to transient")
	}
}

func TestWrapWithoutInnerError(t *testing.T) {
	err := Wrap(ErrValidation, "config", "load", "missing target codec", nil)
	want := "validation error: config: load: missing target codec"
	if err.Error() != want {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestFailureOutcome(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Outcome
	}{
		{"cancelled", Wrap(ErrCancelled, "batch", "", "", nil), OutcomeCancelled},
		{"validation", Wrap(ErrValidation, "probe", "", "", nil), OutcomeSkipped},
		{"configuration", Wrap(ErrConfiguration, "config", "", "", nil), OutcomeSkipped},
		{"external", Wrap(ErrExternalTool, "execute", "", "", nil), OutcomeFailed},
		{"timeout", Wrap(ErrTimeout, "execute", "", "", nil), OutcomeFailed},
		{"plain", errors.New("boom"), OutcomeFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FailureOutcome(tc.err); got != tc.want {
				t.Fatalf("FailureOutcome() = %q, want %q", got, tc.want)
			}
		})
	}
}
