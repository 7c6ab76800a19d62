package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"courier/internal/api"
	"courier/internal/config"
	"courier/internal/daemon"
	"courier/internal/dedup"
	"courier/internal/dispatcher"
	"courier/internal/logging"
	"courier/internal/metrics"
	"courier/internal/preflight"
	"courier/internal/processor"
	"courier/internal/reporter"
	"courier/internal/services/natsbus"
	"courier/internal/services/s3"
	"courier/internal/sizecache"
	"courier/internal/stage"
	"courier/internal/store"
	"courier/internal/telemetry"
	"courier/internal/watch"
	"courier/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// LogLevel overrides logging.level when set.
	LogLevel string
}

// Run starts the courier daemon and blocks until ctx is cancelled or the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	shutdownTracing, err := telemetry.Init(signalCtx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		logging.WarnWithContext(logger, "tracing disabled", "telemetry_init_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check telemetry.otlp_endpoint"),
		)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
	}

	logConfigSnapshot(logger, cfg)
	logPreflight(signalCtx, logger, cfg)

	pidPath := filepath.Join(cfg.Paths.LogDir, "courier.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}

	bus, err := natsbus.Connect(signalCtx, cfg, logger)
	if err != nil {
		st.Close()
		return fmt.Errorf("connect transport: %w", err)
	}
	defer bus.Close()

	var streamExtra []string
	if cfg.Forward.Kind == config.ForwardKindNATS {
		streamExtra = append(streamExtra, cfg.Forward.Subject)
	}
	if err := bus.EnsureStream(signalCtx, streamExtra...); err != nil {
		st.Close()
		return fmt.Errorf("ensure stream: %w", err)
	}

	forwarder, presigner, err := buildForwarder(signalCtx, cfg, bus)
	if err != nil {
		st.Close()
		return fmt.Errorf("forward: %w", err)
	}

	m := metrics.New()
	proc, err := processor.New(processor.OptionsFromConfig(cfg, logger))
	if err != nil {
		st.Close()
		return fmt.Errorf("processor: %w", err)
	}
	dispatchOpts := dispatcher.OptionsFromConfig(cfg)
	dispatchOpts.Transport = bus
	dispatchOpts.Forwarder = forwarder
	dispatchOpts.Reporter = reporter.New(cfg, bus)
	dispatchOpts.Metrics = m
	dispatchOpts.Logger = logger
	disp, err := dispatcher.New(dispatchOpts)
	if err != nil {
		st.Close()
		return fmt.Errorf("dispatcher: %w", err)
	}

	cachePath := ""
	if cfg.Processing.CacheEnabled {
		cachePath = cfg.Processing.SizeCachePath
	}
	cache := sizecache.NewCache(cachePath, logger)
	defer func() {
		if err := cache.Flush(); err != nil {
			logger.Warn("size cache flush failed", logging.Error(err))
		}
	}()

	mgr, err := workflow.NewManager(cfg, workflow.Components{
		Store:      st,
		Dedup:      dedup.New(st, logger),
		Processor:  proc,
		Dispatcher: disp,
		Cache:      cache,
		Metrics:    m,
		Health: []stage.Checker{
			stage.Probe{Name: "transport", Check: bus.Ping},
		},
	}, logger)
	if err != nil {
		st.Close()
		return fmt.Errorf("workflow: %w", err)
	}

	d, err := daemon.New(cfg, daemon.Options{
		Store:    st,
		Workflow: mgr,
		Scanner:  watch.New(cfg, st, cache, mgr, logger),
		Files:    api.NewFileService(st, presigner),
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running daemon and store access"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("courier daemon shutting down")
	return nil
}

// buildForwarder returns the secondary destination for forward.kind, plus a
// presigner when forwarded parts can be linked. Both are nil when no forward
// is configured.
func buildForwarder(ctx context.Context, cfg *config.Config, bus *natsbus.Bus) (dispatcher.Forwarder, api.Presigner, error) {
	switch cfg.Forward.Kind {
	case config.ForwardKindNATS:
		return bus.NewForwarder(cfg.Forward.Subject), nil, nil
	case config.ForwardKindS3:
		client, err := s3.NewClient(ctx, cfg.Forward.S3)
		if err != nil {
			return nil, nil, err
		}
		return client, client, nil
	default:
		return nil, nil, nil
	}
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg)
	for _, result := range preflight.Failed(results) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "the pipeline may fail until this is fixed"),
		)
	}
	logger.Info("preflight complete",
		logging.Int("checks", len(results)),
		logging.Int("failed", len(preflight.Failed(results))),
	)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.Any("watch_folders", cfg.Watch.Folders),
		logging.String("work_dir", cfg.Paths.WorkDir),
		logging.String("compression", cfg.Processing.CompressionLevel),
		logging.Bool("encryption", cfg.Processing.EncryptionEnabled),
		logging.Bool("password_present", strings.TrimSpace(cfg.Processing.Password) != ""),
		logging.Bytes("max_part_size", cfg.Processing.MaxPartBytes()),
		logging.String("nats_url", cfg.Transport.NATSURL),
		logging.String("stream", cfg.Transport.Stream),
		logging.String("forward", cfg.Forward.Kind),
		logging.Bool("reporter_http", cfg.Reporter.URL != ""),
		logging.Bool("reporter_nats", cfg.Reporter.NATSSubject != ""),
		logging.Int("process_workers", cfg.Workflow.ProcessWorkers),
		logging.Int("dispatch_workers", cfg.Workflow.DispatchWorkers),
	)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
