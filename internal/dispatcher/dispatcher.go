package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"courier/internal/config"
	"courier/internal/logging"
	"courier/internal/metrics"
	"courier/internal/reporter"
	"courier/internal/services"
	"courier/internal/splitter"
	"courier/internal/telemetry"
)

// Options configures a Dispatcher. Zero pacing values disable the limiter.
type Options struct {
	Transport Transport
	Forwarder Forwarder
	Reporter  Reporter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	Requests int
	Interval time.Duration
	Burst    int

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	SendTimeout time.Duration
}

// OptionsFromConfig fills pacing, retry and timeout settings from cfg.
// Collaborators are left for the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Requests:    cfg.RateLimit.Requests,
		Interval:    cfg.RateInterval(),
		Burst:       cfg.RateLimit.Burst,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
		Multiplier:  cfg.Retry.Multiplier,
		SendTimeout: time.Duration(cfg.Transport.SendTimeout) * time.Second,
	}
}

// Dispatcher delivers units under a shared rate limit.
type Dispatcher struct {
	transport Transport
	forwarder Forwarder
	reporter  Reporter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	limiter   *fairLimiter

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	multiplier  float64
	sendTimeout time.Duration
}

// New validates opts and builds a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Transport == nil {
		return nil, services.Wrap(services.ErrConfiguration, "dispatch", "init", "No transport configured", nil)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 2
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = time.Minute
	}
	rep := opts.Reporter
	if rep == nil {
		rep = reporter.Noop()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		transport:   opts.Transport,
		forwarder:   opts.Forwarder,
		reporter:    rep,
		metrics:     opts.Metrics,
		logger:      logger.With(logging.String(logging.FieldComponent, "dispatcher")),
		limiter:     newFairLimiter(opts.Requests, opts.Interval, opts.Burst),
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		multiplier:  opts.Multiplier,
		sendTimeout: opts.SendTimeout,
	}, nil
}

// Waiting returns the number of units queued on the rate limiter.
func (d *Dispatcher) Waiting() int {
	return d.limiter.Waiting()
}

// Dispatch sends one unit, retrying transient failures, then forwards it and
// emits its event. It never returns without a terminal Result.
func (d *Dispatcher) Dispatch(ctx context.Context, unit Unit) Result {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "dispatch.unit", trace.WithAttributes(
		attribute.Int64("courier.file_id", unit.FileID),
		attribute.String("courier.part", unit.Part.Label()),
		attribute.Int64("courier.size", unit.Part.Size),
	))
	defer span.End()

	res := Result{Unit: unit}
	data, err := unit.Part.ReadAll()
	if err != nil {
		res.Err = err
		return d.finish(ctx, span, res, start)
	}
	msg := d.message(unit, data)

	var sendElapsed time.Duration
	res.Receipt, res.Attempts, sendElapsed, res.Err = d.send(ctx, msg)
	if res.Err == nil {
		if sendElapsed > 0 {
			res.Rate = float64(msg.Size()) / sendElapsed.Seconds()
		}
		res.Forward = d.forward(ctx, msg, res.Receipt)
	}
	return d.finish(ctx, span, res, start)
}

// Abort finalizes a unit that will not be sent, emitting its error event.
func (d *Dispatcher) Abort(ctx context.Context, unit Unit, reason string) Result {
	return d.Reject(ctx, unit, services.Wrap(services.ErrUpload, "dispatch", "abort", reason, nil))
}

// Reject emits the error event for a file that failed before any of its
// units reached the transport. A zero Part.Count marks the whole file.
func (d *Dispatcher) Reject(ctx context.Context, unit Unit, err error) Result {
	return d.finish(ctx, nil, Result{Unit: unit, Err: err}, time.Now())
}

func (d *Dispatcher) message(unit Unit, data []byte) Message {
	part := unit.Part
	msg := Message{
		FileID:        unit.FileID,
		Name:          part.Name,
		Archive:       part.ArchiveName,
		Source:        unit.Source,
		Digest:        unit.Digest,
		ArchiveDigest: part.ArchiveDigest,
		Index:         part.Index,
		Count:         part.Count,
		Caption:       part.Caption(),
		Encrypted:     unit.Encrypted,
		Data:          data,
	}
	if part.Count > 1 && part.Index == part.Count {
		msg.Hint = splitter.ReassemblyHint(part.ArchiveName, part.Count)
	}
	return msg
}

func (d *Dispatcher) send(ctx context.Context, msg Message) (Receipt, int, time.Duration, error) {
	logger := logging.WithContext(ctx, d.logger).With(
		logging.Int64(logging.FieldFileID, msg.FileID),
		logging.String(logging.FieldPart, fmt.Sprintf("%d/%d", msg.Index, msg.Count)),
	)

	var (
		receipt  Receipt
		attempts int
		elapsed  time.Duration
		hint     time.Duration
	)
	err := retry.Do(ctx, d.backoff(&hint), func(ctx context.Context) error {
		if err := d.wait(ctx); err != nil {
			return err
		}
		attempts++
		d.metrics.Attempt()

		started := time.Now()
		r, err := d.sendOnce(ctx, msg)
		if err == nil {
			receipt = r
			elapsed = time.Since(started)
			return nil
		}
		if !errors.Is(err, services.ErrTransient) {
			return err
		}
		hint = 0
		if after, ok := services.RetryAfter(err); ok {
			hint = after
		}
		if attempts < d.maxAttempts {
			logger.Warn("transport send failed; retrying",
				logging.Int("attempt", attempts),
				logging.Int("max_attempts", d.maxAttempts),
				logging.Duration("retry_after", hint),
				logging.Error(err),
				logging.String(logging.FieldEventType, "send_retry"),
			)
		}
		return retry.RetryableError(err)
	})
	if err == nil {
		return receipt, attempts, elapsed, nil
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		err = services.Wrap(services.ErrUpload, "dispatch", "send", "Cancelled before delivery", err)
	case errors.Is(err, services.ErrTransient):
		err = services.Wrap(services.ErrUpload, "dispatch", "send",
			fmt.Sprintf("Gave up after %d attempts", attempts), err)
	case !errors.Is(err, services.ErrUpload):
		err = services.Wrap(services.ErrUpload, "dispatch", "send", "Transport rejected unit", err)
	}
	return Receipt{}, attempts, 0, err
}

// sendOnce runs one transport call. A started send outlives cancellation of
// ctx and is bounded by the send timeout instead.
func (d *Dispatcher) sendOnce(ctx context.Context, msg Message) (Receipt, error) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()
	return d.transport.Send(sendCtx, msg)
}

// backoff grows by the configured multiplier, capped at MaxDelay. A
// Retry-After hint replaces the next delay when it is longer.
func (d *Dispatcher) backoff(hint *time.Duration) retry.Backoff {
	next := d.baseDelay
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		delay := next
		if delay > d.maxDelay {
			delay = d.maxDelay
		}
		if grown := time.Duration(float64(next) * d.multiplier); grown < d.maxDelay {
			next = grown
		} else {
			next = d.maxDelay
		}
		if *hint > delay {
			delay = *hint
		}
		return delay, false
	})
	return retry.WithMaxRetries(uint64(d.maxAttempts-1), b)
}

func (d *Dispatcher) wait(ctx context.Context) error {
	started := time.Now()
	err := d.limiter.Wait(ctx)
	d.metrics.LimiterWaited(time.Since(started))
	return err
}

func (d *Dispatcher) forward(ctx context.Context, msg Message, receipt Receipt) string {
	if d.forwarder == nil {
		return reporter.ForwardNone
	}
	logger := logging.WithContext(ctx, d.logger).With(
		logging.Int64(logging.FieldFileID, msg.FileID),
		logging.String(logging.FieldPart, fmt.Sprintf("%d/%d", msg.Index, msg.Count)),
	)
	if err := d.wait(ctx); err != nil {
		logger.Info("forward skipped", logging.String("reason", "shutdown"))
		d.metrics.Forwarded(reporter.ForwardSkipped)
		return reporter.ForwardSkipped
	}
	fwdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()
	if err := d.forwarder.Forward(fwdCtx, msg, receipt); err != nil {
		if errors.Is(err, ErrForwardUnavailable) {
			logger.Info("forward skipped", logging.Error(err))
			d.metrics.Forwarded(reporter.ForwardSkipped)
			return reporter.ForwardSkipped
		}
		logger.Warn("forward failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "forward_failed"),
			logging.String(logging.FieldImpact, "unit was delivered; secondary copy missing"),
		)
		d.metrics.Forwarded("failed")
		return "failed: " + err.Error()
	}
	d.metrics.Forwarded(reporter.ForwardOK)
	return reporter.ForwardOK
}

func (d *Dispatcher) finish(ctx context.Context, span trace.Span, res Result, start time.Time) Result {
	res.Elapsed = time.Since(start)
	unit := res.Unit
	event := reporter.Event{
		Type:          reporter.TypeSuccess,
		Name:          unit.Part.Name,
		Source:        unit.Source,
		Digest:        unit.Digest,
		ArchiveDigest: unit.Part.ArchiveDigest,
		FileID:        unit.FileID,
		Size:          unit.Part.Size,
		PartIndex:     unit.Part.Index,
		PartCount:     unit.Part.Count,
		ProcessingMS:  (unit.ProcessingTime + res.Elapsed).Milliseconds(),
		TransferRate:  res.Rate,
		Encrypted:     unit.Encrypted,
		Forward:       res.Forward,
		Attempts:      res.Attempts,
		Timestamp:     time.Now().UTC(),
	}
	logger := logging.WithContext(ctx, d.logger).With(
		logging.Int64(logging.FieldFileID, unit.FileID),
		logging.String(logging.FieldPart, unit.Part.Label()),
	)
	result := "success"
	if res.Err != nil {
		result = "error"
		details := services.Details(res.Err)
		event.Type = reporter.TypeError
		event.Error = res.Err.Error()
		event.ErrorKind = details.Kind
		logger.Error("unit failed",
			logging.Int("attempts", res.Attempts),
			logging.Error(res.Err),
			logging.String(logging.FieldErrorKind, details.Kind),
			logging.String(logging.FieldErrorHint, details.Hint),
			logging.String(logging.FieldEventType, "unit_failed"),
		)
		if span != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, details.Kind)
		}
	} else {
		logger.Info("unit sent",
			logging.String("name", unit.Part.Name),
			logging.Int64("size", unit.Part.Size),
			logging.Int("attempts", res.Attempts),
			logging.Uint64("sequence", res.Receipt.Sequence),
			logging.Bool("duplicate", res.Receipt.Duplicate),
			logging.Duration("elapsed", res.Elapsed),
		)
		if span != nil {
			span.SetAttributes(attribute.Int("courier.attempts", res.Attempts))
		}
	}
	d.metrics.UnitFinished(result, unit.Part.Size, res.Elapsed)
	res.Event = event

	// Events outlive shutdown the same way started sends do.
	if err := d.reporter.Report(context.WithoutCancel(ctx), event); err != nil {
		d.metrics.ReportFailed()
		logger.Warn("event report failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "report_failed"),
			logging.String(logging.FieldImpact, "event dropped; delivery state unaffected"),
		)
	}
	return res
}
