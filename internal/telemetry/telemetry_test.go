package telemetry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"courier/internal/telemetry"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), "courier-test", "")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_, span := telemetry.Tracer().Start(context.Background(), "noop")
	span.End()
}

func TestInitRejectsEndpointWithoutHost(t *testing.T) {
	if _, err := telemetry.Init(context.Background(), "courier-test", "http://"); err == nil {
		t.Fatal("expected error for endpoint without host")
	}
}

func TestMiddlewarePassesThrough(t *testing.T) {
	handler := telemetry.Middleware("test")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}
