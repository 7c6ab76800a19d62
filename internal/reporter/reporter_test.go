package reporter_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"courier/internal/config"
	"courier/internal/reporter"
	"courier/internal/services"
)

func TestNewReturnsNoopWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	svc := reporter.New(&cfg, nil)
	if err := svc.Report(context.Background(), reporter.Event{Type: reporter.TypeSuccess}); err != nil {
		t.Fatalf("expected noop reporter to return nil, got %v", err)
	}
}

func TestHTTPReporterPostsJSON(t *testing.T) {
	var (
		mu  sync.Mutex
		got reporter.Event
		ct  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		ct = r.Header.Get("Content-Type")
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Reporter.URL = srv.URL
	svc := reporter.New(&cfg, nil)

	event := reporter.Event{
		Type:      reporter.TypeSuccess,
		Name:      "a.bin.001",
		Digest:    "abc",
		FileID:    7,
		Size:      1024,
		PartIndex: 1,
		PartCount: 3,
		Encrypted: true,
		Forward:   reporter.ForwardOK,
		Timestamp: time.Now().UTC(),
	}
	if err := svc.Report(context.Background(), event); err != nil {
		t.Fatalf("Report: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if got.Name != "a.bin.001" || got.FileID != 7 || got.PartCount != 3 || !got.Encrypted || got.Forward != "ok" {
		t.Fatalf("unexpected decoded event %+v", got)
	}
}

func TestHTTPReporterStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := reporter.NewHTTP(srv.URL, time.Second).Report(context.Background(), reporter.Event{})
	if !errors.Is(err, services.ErrReport) {
		t.Fatalf("expected report error, got %v", err)
	}
}

func TestHTTPReporterTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	err := reporter.NewHTTP(srv.URL, 20*time.Millisecond).Report(context.Background(), reporter.Event{})
	if !errors.Is(err, services.ErrReport) {
		t.Fatalf("expected report error on timeout, got %v", err)
	}
}

type recordingPublisher struct {
	subject string
	value   any
	err     error
}

func (r *recordingPublisher) PublishJSON(_ context.Context, subject string, v any) error {
	r.subject = subject
	r.value = v
	return r.err
}

func TestNATSAndMulti(t *testing.T) {
	ok := &recordingPublisher{}
	bad := &recordingPublisher{err: errors.New("disconnected")}

	svc := reporter.Multi(reporter.NewNATS(bad, "courier.events"), reporter.NewNATS(ok, "courier.events"))
	err := svc.Report(context.Background(), reporter.Event{Type: reporter.TypeError, Name: "x"})
	if !errors.Is(err, services.ErrReport) {
		t.Fatalf("expected joined report error, got %v", err)
	}
	if ok.subject != "courier.events" {
		t.Fatal("later sinks must still receive the event")
	}
	if event, isEvent := ok.value.(reporter.Event); !isEvent || event.Name != "x" {
		t.Fatalf("unexpected published value %#v", ok.value)
	}

	cfg := config.Default()
	cfg.Reporter.NATSSubject = "courier.events"
	if err := reporter.New(&cfg, ok).Report(context.Background(), reporter.Event{Name: "y"}); err != nil {
		t.Fatalf("Report: %v", err)
	}
}
