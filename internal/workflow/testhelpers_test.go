package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"courier/internal/config"
	"courier/internal/dedup"
	"courier/internal/dispatcher"
	"courier/internal/logging"
	"courier/internal/processor"
	"courier/internal/reporter"
	"courier/internal/stage"
	"courier/internal/store"
	"courier/internal/testsupport"
	"courier/internal/watch"
	"courier/internal/workflow"
)

type sendFunc func(context.Context, dispatcher.Message) (dispatcher.Receipt, error)

type fakeTransport struct {
	mu       sync.Mutex
	messages []dispatcher.Message
	calls    int
	send     sendFunc
}

func (f *fakeTransport) Send(ctx context.Context, msg dispatcher.Message) (dispatcher.Receipt, error) {
	f.mu.Lock()
	f.calls++
	send := f.send
	f.mu.Unlock()

	if send != nil {
		if _, err := send(ctx, msg); err != nil {
			return dispatcher.Receipt{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return dispatcher.Receipt{Stream: "COURIER", Sequence: uint64(len(f.messages))}, nil
}

func (f *fakeTransport) Messages() []dispatcher.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatcher.Message(nil), f.messages...)
}

func (f *fakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingReporter struct {
	mu     sync.Mutex
	events []reporter.Event
}

func (r *recordingReporter) Report(_ context.Context, event reporter.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingReporter) Events() []reporter.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reporter.Event(nil), r.events...)
}

type harness struct {
	cfg       *config.Config
	store     *store.Store
	transport *fakeTransport
	reporter  *recordingReporter
	manager   *workflow.Manager
}

func newHarness(t *testing.T, transport *fakeTransport, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	if transport == nil {
		transport = &fakeTransport{}
	}
	events := &recordingReporter{}

	proc, err := processor.New(processor.OptionsFromConfig(cfg, logging.NewNop()))
	if err != nil {
		t.Fatalf("processor.New: %v", err)
	}
	dispOpts := dispatcher.OptionsFromConfig(cfg)
	dispOpts.Transport = transport
	dispOpts.Reporter = events
	disp, err := dispatcher.New(dispOpts)
	if err != nil {
		t.Fatalf("dispatcher.New: %v", err)
	}

	mgr, err := workflow.NewManager(cfg, workflow.Components{
		Store:      st,
		Dedup:      dedup.New(st, logging.NewNop()),
		Processor:  proc,
		Dispatcher: disp,
		Health: []stage.Checker{
			stage.Probe{Name: "transport", Check: func(context.Context) error { return nil }},
		},
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &harness{cfg: cfg, store: st, transport: transport, reporter: events, manager: mgr}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.manager.Stop)
}

// offer registers path with the store and queues it.
func (h *harness) offer(t *testing.T, path string) *store.FileRecord {
	t.Helper()
	rec := testsupport.Discover(t, h.store, path)
	h.manager.Offer(context.Background(), watch.Candidate{
		RecordID: rec.ID,
		Path:     rec.Path,
		Size:     rec.Size,
		ModTime:  rec.ModTime,
		Status:   rec.Status,
	})
	return rec
}

func (h *harness) record(t *testing.T, id int64) *store.FileRecord {
	t.Helper()
	rec, err := h.store.GetRecord(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if rec == nil {
		t.Fatalf("record %d missing", id)
	}
	return rec
}

// waitSettled blocks until every id has left the pending and in-flight
// statuses.
func (h *harness) waitSettled(t *testing.T, ids ...int64) {
	t.Helper()
	waitFor(t, 10*time.Second, func() bool {
		for _, id := range ids {
			rec := h.record(t, id)
			if rec.Status == store.StatusPending || rec.Status.IsInFlight() {
				return false
			}
		}
		return true
	}, "records to settle")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
