package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nats-io/nats.go"

	"courier/internal/config"
	"courier/internal/dispatcher"
	"courier/internal/logging"
	"courier/internal/services"
)

// duplicateWindow is how long JetStream remembers message ids.
const duplicateWindow = 10 * time.Minute

// Bus wraps a NATS connection and its JetStream context.
type Bus struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	stream  string
	subject string
	logger  *slog.Logger
}

// Connect dials transport.nats_url and prepares a JetStream context. It does
// not touch the stream; call EnsureStream for that.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Bus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "natsbus"))

	opts := []nats.Option{
		nats.Name("courier"),
		nats.Timeout(time.Duration(cfg.Transport.ConnectTimeout) * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected",
					logging.Error(err),
					logging.String(logging.FieldEventType, "nats_disconnected"),
					logging.String(logging.FieldImpact, "sends retry until the connection returns"),
				)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", logging.String("server", nc.ConnectedUrlRedacted()))
		}),
	}
	if cfg.Transport.CredentialsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.Transport.CredentialsFile))
	}

	nc, err := nats.Connect(cfg.Transport.NATSURL, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "transport", "connect", "NATS server unreachable", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, services.Wrap(services.ErrConfiguration, "transport", "jetstream", "JetStream unavailable", err)
	}
	logger.Info("nats connected",
		logging.String("server", nc.ConnectedUrlRedacted()),
		logging.Int64("max_payload", nc.MaxPayload()),
	)
	return &Bus{
		conn:    nc,
		js:      js,
		stream:  cfg.Transport.Stream,
		subject: cfg.Transport.Subject,
		logger:  logger,
	}, nil
}

// EnsureStream creates the stream or widens its subjects to include extra.
func (b *Bus) EnsureStream(ctx context.Context, extra ...string) error {
	subjects := []string{b.subject + ".>"}
	for _, s := range extra {
		if s != "" {
			subjects = append(subjects, s)
		}
	}

	info, err := b.js.StreamInfo(b.stream, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		_, err = b.js.AddStream(&nats.StreamConfig{
			Name:       b.stream,
			Subjects:   subjects,
			Storage:    nats.FileStorage,
			Retention:  nats.LimitsPolicy,
			Duplicates: duplicateWindow,
		}, nats.Context(ctx))
		if err != nil {
			return classify("create stream", err)
		}
		b.logger.Info("stream created", logging.String("stream", b.stream), logging.Any("subjects", subjects))
		return nil
	case err != nil:
		return classify("stream info", err)
	}

	missing := missingSubjects(info.Config.Subjects, subjects)
	if len(missing) == 0 {
		return nil
	}
	updated := info.Config
	updated.Subjects = append(append([]string(nil), updated.Subjects...), missing...)
	if _, err := b.js.UpdateStream(&updated, nats.Context(ctx)); err != nil {
		return classify("update stream", err)
	}
	b.logger.Info("stream subjects extended", logging.String("stream", b.stream), logging.Any("added", missing))
	return nil
}

// MaxPayload is the largest message the server accepts.
func (b *Bus) MaxPayload() int64 {
	return b.conn.MaxPayload()
}

// Send publishes one unit and waits for the stream acknowledgement.
func (b *Bus) Send(ctx context.Context, msg dispatcher.Message) (dispatcher.Receipt, error) {
	return b.publish(ctx, UnitSubject(b.subject, msg.FileID), msg)
}

func (b *Bus) publish(ctx context.Context, subject string, msg dispatcher.Message) (dispatcher.Receipt, error) {
	if limit := b.conn.MaxPayload(); limit > 0 && msg.Size() > limit {
		return dispatcher.Receipt{}, services.Wrap(services.ErrUpload, "transport", "publish",
			fmt.Sprintf("Unit of %d bytes exceeds server max_payload %d", msg.Size(), limit), nats.ErrMaxPayload)
	}
	ack, err := b.js.PublishMsg(encodeMessage(subject, msg), nats.Context(ctx))
	if err != nil {
		return dispatcher.Receipt{}, classify("publish", err)
	}
	return dispatcher.Receipt{
		Stream:    ack.Stream,
		Sequence:  ack.Sequence,
		Duplicate: ack.Duplicate,
		Location:  subject,
	}, nil
}

// PublishJSON encodes v and publishes it on core NATS.
func (b *Bus) PublishJSON(ctx context.Context, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return classify("publish event", err)
	}
	return nil
}

// Fetch reads every part of fileID back from the stream, ordered by index.
// count is the number of parts expected; zero takes it from the first
// message received.
func (b *Bus) Fetch(ctx context.Context, fileID int64, count int) ([]dispatcher.Message, error) {
	subject := UnitSubject(b.subject, fileID)
	sub, err := b.js.SubscribeSync(subject, nats.OrderedConsumer(), nats.DeliverAll(), nats.BindStream(b.stream))
	if err != nil {
		return nil, classify("subscribe", err)
	}
	defer sub.Unsubscribe()

	parts := make(map[int]dispatcher.Message)
	for count == 0 || len(parts) < count {
		in, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, services.Wrap(services.ErrNotFound, "transport", "fetch",
					fmt.Sprintf("Received %d of %s parts for file %d", len(parts), countLabel(count), fileID), err)
			}
			return nil, classify("fetch", err)
		}
		msg, err := decodeMessage(in)
		if err != nil {
			b.logger.Warn("skipping malformed unit", logging.String("subject", in.Subject), logging.Error(err))
			continue
		}
		if count == 0 {
			count = msg.Count
		}
		if msg.Count != count {
			return nil, services.Wrap(services.ErrSplit, "transport", "fetch",
				fmt.Sprintf("Part %d/%d does not match expected count %d", msg.Index, msg.Count, count), nil)
		}
		// A later copy of the same index (an earlier run) replaces the older one.
		parts[msg.Index] = msg
	}

	out := make([]dispatcher.Message, 0, len(parts))
	for _, msg := range parts {
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Close drains the connection.
func (b *Bus) Close() {
	if b == nil || b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// Ping flushes the connection to confirm the server is reachable.
func (b *Bus) Ping(ctx context.Context) error {
	if err := b.conn.FlushWithContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

func missingSubjects(have, want []string) []string {
	present := make(map[string]struct{}, len(have))
	for _, s := range have {
		present[s] = struct{}{}
	}
	var missing []string
	for _, s := range want {
		if _, ok := present[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

func countLabel(count int) string {
	if count == 0 {
		return "?"
	}
	return fmt.Sprintf("%d", count)
}
