package config

const (
	defaultDataDir              = "~/.local/share/courier"
	defaultWorkDir              = "~/.local/share/courier/work"
	defaultLogDir               = "~/.local/share/courier/logs"
	defaultSizeCachePath        = "~/.cache/courier/size_cache.json"
	defaultAPIBind              = "127.0.0.1:7488"
	defaultScanInterval         = 30
	defaultCompressionLevel     = CompressionNone
	defaultScryptWorkFactor     = 18
	defaultMaxPartSize          = "45MB"
	defaultNATSURL              = "nats://127.0.0.1:4222"
	defaultStream               = "COURIER"
	defaultSubject              = "courier.files"
	defaultConnectTimeout       = 10
	defaultSendTimeout          = 60
	defaultRateRequests         = 20
	defaultRateIntervalSeconds  = 60
	defaultRateBurst            = 1
	defaultRetryMaxAttempts     = 5
	defaultRetryBaseDelayMS     = 1000
	defaultRetryMultiplier      = 2.0
	defaultRetryMaxDelayMS      = 60000
	defaultReporterTimeout      = 5
	defaultProcessWorkers       = 2
	defaultDispatchWorkers      = 4
	defaultStaleWorkHours       = 24
	defaultShutdownGraceSeconds = 30
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultServiceName          = "courier"
)

// Compression levels accepted by processing.compression_level.
const (
	CompressionNone    = "none"
	CompressionFast    = "fast"
	CompressionDefault = "default"
)

// APIDisabled as paths.api_bind turns the HTTP API off.
const APIDisabled = "off"

// Forward kinds accepted by forward.kind.
const (
	ForwardKindNone = ""
	ForwardKindNATS = "nats"
	ForwardKindS3   = "s3"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Watch: Watch{
			ScanInterval: defaultScanInterval,
		},
		Processing: Processing{
			CompressionLevel: defaultCompressionLevel,
			ScryptWorkFactor: defaultScryptWorkFactor,
			SizeCachePath:    defaultSizeCachePath,
			MaxPartSize:      defaultMaxPartSize,
		},
		Transport: Transport{
			NATSURL:        defaultNATSURL,
			Stream:         defaultStream,
			Subject:        defaultSubject,
			ConnectTimeout: defaultConnectTimeout,
			SendTimeout:    defaultSendTimeout,
		},
		RateLimit: RateLimit{
			Requests:        defaultRateRequests,
			IntervalSeconds: defaultRateIntervalSeconds,
			Burst:           defaultRateBurst,
		},
		Retry: Retry{
			MaxAttempts: defaultRetryMaxAttempts,
			BaseDelayMS: defaultRetryBaseDelayMS,
			Multiplier:  defaultRetryMultiplier,
			MaxDelayMS:  defaultRetryMaxDelayMS,
		},
		Reporter: Reporter{
			TimeoutSeconds: defaultReporterTimeout,
		},
		Workflow: Workflow{
			ProcessWorkers:       defaultProcessWorkers,
			DispatchWorkers:      defaultDispatchWorkers,
			StaleWorkHours:       defaultStaleWorkHours,
			ShutdownGraceSeconds: defaultShutdownGraceSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Telemetry: Telemetry{
			ServiceName: defaultServiceName,
		},
	}
}
