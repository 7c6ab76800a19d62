package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"courier/internal/config"
	"courier/internal/services"
)

const userAgent = "courier/1.0"

// Service receives dispatch events.
type Service interface {
	Report(ctx context.Context, event Event) error
}

// Publisher publishes a JSON document on a subject. natsbus.Bus satisfies it.
type Publisher interface {
	PublishJSON(ctx context.Context, subject string, v any) error
}

// New builds the reporter described by cfg. publisher may be nil when no NATS
// connection exists; the NATS sink is then skipped.
func New(cfg *config.Config, publisher Publisher) Service {
	var sinks []Service
	if url := strings.TrimSpace(cfg.Reporter.URL); url != "" {
		sinks = append(sinks, NewHTTP(url, cfg.ReporterTimeout()))
	}
	if subject := strings.TrimSpace(cfg.Reporter.NATSSubject); subject != "" && publisher != nil {
		sinks = append(sinks, NewNATS(publisher, subject))
	}
	switch len(sinks) {
	case 0:
		return Noop()
	case 1:
		return sinks[0]
	default:
		return Multi(sinks...)
	}
}

// NewHTTP returns a Service that POSTs events as JSON to url.
func NewHTTP(url string, timeout time.Duration) Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &httpService{
		endpoint: url,
		client:   &http.Client{Timeout: timeout},
	}
}

type httpService struct {
	endpoint string
	client   *http.Client
}

func (h *httpService) Report(ctx context.Context, event Event) error {
	if h == nil || h.client == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return services.Wrap(services.ErrReport, "report", "encode event", "Unable to encode event", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return services.Wrap(services.ErrReport, "report", "build request", "Invalid reporter URL", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrReport, "report", "post event", "Reporter unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return services.Wrap(services.ErrReport, "report", "post event",
			fmt.Sprintf("Reporter returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// NewNATS returns a Service that publishes events on subject.
func NewNATS(publisher Publisher, subject string) Service {
	return &natsService{publisher: publisher, subject: subject}
}

type natsService struct {
	publisher Publisher
	subject   string
}

func (n *natsService) Report(ctx context.Context, event Event) error {
	if n == nil || n.publisher == nil {
		return nil
	}
	if err := n.publisher.PublishJSON(ctx, n.subject, event); err != nil {
		return services.Wrap(services.ErrReport, "report", "publish event", "Unable to publish event", err)
	}
	return nil
}

// Multi fans an event out to every sink. All sinks are attempted; their
// errors are joined.
func Multi(sinks ...Service) Service {
	return multiService(sinks)
}

type multiService []Service

func (m multiService) Report(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Report(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop discards events.
func Noop() Service {
	return noopService{}
}

type noopService struct{}

func (noopService) Report(context.Context, Event) error { return nil }
