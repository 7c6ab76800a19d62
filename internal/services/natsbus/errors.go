package natsbus

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"courier/internal/services"
)

// rateLimitBackoff is the wait suggested when JetStream answers 429.
const rateLimitBackoff = time.Second

// classify tags a publish error as transient or permanent.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, nats.ErrMaxPayload):
		return services.Wrap(services.ErrUpload, "transport", operation, "Unit exceeds server max_payload", err)
	case errors.Is(err, nats.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, nats.ErrNoResponders),
		errors.Is(err, nats.ErrNoStreamResponse),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting):
		return services.Wrap(services.ErrTransient, "transport", operation, "Endpoint unavailable", err)
	}
	var apiErr *nats.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return services.WithRetryAfter(
				services.Wrap(services.ErrTransient, "transport", operation, "Rate limited by server", err),
				rateLimitBackoff,
			)
		case http.StatusServiceUnavailable:
			return services.Wrap(services.ErrTransient, "transport", operation, "Stream unavailable", err)
		}
	}
	return services.Wrap(services.ErrUpload, "transport", operation, "Publish rejected", err)
}
