package natsbus

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"courier/internal/dispatcher"
)

// Forwarder republishes delivered units to a secondary subject on the same
// stream.
type Forwarder struct {
	bus     *Bus
	subject string
}

// NewForwarder returns a Forwarder publishing to subject.
func (b *Bus) NewForwarder(subject string) *Forwarder {
	return &Forwarder{bus: b, subject: subject}
}

// Forward publishes msg to the forward subject. A server that stores nothing
// on that subject is treated as unavailable rather than failed.
func (f *Forwarder) Forward(ctx context.Context, msg dispatcher.Message, _ dispatcher.Receipt) error {
	if f.bus.conn.IsClosed() {
		return dispatcher.ErrForwardUnavailable
	}
	if _, err := f.bus.publish(ctx, f.subject, msg); err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return errors.Join(dispatcher.ErrForwardUnavailable, err)
		}
		return err
	}
	return nil
}
