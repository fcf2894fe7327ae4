package services

import (
	"context"
	"testing"
)

func TestJobIDRoundTrip(t *testing.T) {
	ctx := WithJobID(context.Background(), "job-7")
	id, ok := JobIDFromContext(ctx)
	if !ok || id != "job-7" {
		t.Fatalf("JobIDFromContext = %q, %v", id, ok)
	}
	if _, ok := JobIDFromContext(context.Background()); ok {
		t.Fatal("empty context should not yield a job id")
	}
}

func TestBatchAndPhaseRoundTrip(t *testing.T) {
	ctx := WithBatchID(context.Background(), "batch-1")
	ctx = WithPhase(ctx, "transcoding")

	if v, ok := BatchIDFromContext(ctx); !ok || v != "batch-1" {
		t.Fatalf("BatchIDFromContext = %q, %v", v, ok)
	}
	if v, ok := PhaseFromContext(ctx); !ok || v != "transcoding" {
		t.Fatalf("PhaseFromContext = %q, %v", v, ok)
	}
}

func TestEmptyValuesDoNotAnnotate(t *testing.T) {
	ctx := WithBatchID(context.Background(), "")
	if _, ok := BatchIDFromContext(ctx); ok {
		t.Fatal("empty batch id should not annotate context")
	}
	ctx = WithPhase(context.Background(), "")
	if _, ok := PhaseFromContext(ctx); ok {
		t.Fatal("empty phase should not annotate context")
	}
	ctx = WithJobID(context.Background(), "")
	if _, ok := JobIDFromContext(ctx); ok {
		t.Fatal("empty job id should not annotate context")
	}
}
