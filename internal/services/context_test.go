package services_test

import (
	"context"
	"testing"

	"courier/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRecordID(ctx, 42)
	ctx = services.WithStage(ctx, "hash")
	ctx = services.WithLane(ctx, "process")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.RecordIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("unexpected record id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "hash" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if lane, ok := services.LaneFromContext(ctx); !ok || lane != "process" {
		t.Fatalf("unexpected lane: %v %v", lane, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
}
