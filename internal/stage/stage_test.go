package stage_test

import (
	"context"
	"errors"
	"testing"

	"courier/internal/services"
	"courier/internal/stage"
)

func TestWithContextCarriesFields(t *testing.T) {
	ctx := stage.WithContext(context.Background(), 7, stage.Process, "process", "req-1")
	if id, ok := services.RecordIDFromContext(ctx); !ok || id != 7 {
		t.Fatalf("record id = %d %v", id, ok)
	}
	if name, ok := services.StageFromContext(ctx); !ok || name != stage.Process {
		t.Fatalf("stage = %q %v", name, ok)
	}
	if lane, ok := services.LaneFromContext(ctx); !ok || lane != "process" {
		t.Fatalf("lane = %q %v", lane, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-1" {
		t.Fatalf("request id = %q %v", rid, ok)
	}
}

func TestWithContextSkipsEmptyValues(t *testing.T) {
	ctx := stage.WithContext(context.Background(), 0, "", "", "")
	if _, ok := services.RecordIDFromContext(ctx); ok {
		t.Fatal("unexpected record id")
	}
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("unexpected stage")
	}
}

func TestProbe(t *testing.T) {
	ok := stage.Probe{Name: "transport", Check: func(context.Context) error { return nil }}.HealthCheck(context.Background())
	if !ok.Ready || ok.Name != "transport" {
		t.Fatalf("unexpected health %+v", ok)
	}
	bad := stage.Probe{Name: "transport", Check: func(context.Context) error { return errors.New("down") }}.HealthCheck(context.Background())
	if bad.Ready || bad.Detail != "down" {
		t.Fatalf("unexpected health %+v", bad)
	}
	if !(stage.Probe{Name: "noop"}).HealthCheck(context.Background()).Ready {
		t.Fatal("probe without check should be healthy")
	}
}
