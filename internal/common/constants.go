package common

import "time"

// Environment variable keys
const (
	EnvConfigFile      = "CONFIG_FILE"
	EnvDotEnvFile      = "DOTENV_FILE"
	EnvDataPath        = "DATA_PATH"
	EnvArtifactDir     = "ARTIFACT_DIR"
	EnvTestSize        = "TEST_SIZE"
	EnvSeed            = "RANDOM_SEED"
	EnvTrees           = "N_ESTIMATORS"
	EnvMaxDepth        = "MAX_DEPTH"
	EnvWorkers         = "TRAINING_WORKERS"
	EnvMetricsFile     = "TRAINING_METRICS_FILE"
	EnvPort            = "PORT"
	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
	EnvCacheSize       = "CACHE_SIZE"
	EnvRateLimit       = "RATE_LIMIT"
	EnvRateBurst       = "RATE_BURST"
	EnvWatchArtifacts  = "WATCH_ARTIFACTS"
	EnvCORSOrigins     = "CORS_ORIGINS"
	EnvDriftWindow     = "DRIFT_WINDOW"
	EnvDriftThreshold  = "DRIFT_THRESHOLD"
	EnvServerURL       = "SERVER_URL"
	EnvClientTimeout   = "CLIENT_TIMEOUT"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFile         = "LOG_FILE"
	EnvLogPretty       = "LOG_PRETTY"
)

// Configuration defaults
const (
	DefaultDotEnvFile      = ".env"
	DefaultDataPath        = "Titanic-Dataset.csv"
	DefaultArtifactDir     = "models"
	DefaultTestSize        = 0.2
	DefaultSeed            = 42
	DefaultTrees           = 100
	DefaultMaxDepth        = 10
	DefaultPort            = 5000
	DefaultReadTimeout     = 5 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultCacheSize       = 1024
	DefaultRateLimit       = 50.0 // requests per second
	DefaultRateBurst       = 100
	DefaultDriftWindow     = 500
	DefaultDriftThreshold  = 0.1
	DefaultServerURL       = "http://localhost:5000"
	DefaultClientTimeout   = 10 * time.Second
	DefaultLogLevel        = "info"
)

// Validation constants
const (
	MaxTrees       = 1000
	MaxDepthLimit  = 100
	MinPort        = 1024
	MaxPort        = 65535
	MinTimeout     = time.Second
	MaxTimeout     = 5 * time.Minute
	MaxCacheSize   = 1_000_000
	MaxDriftWindow = 100_000
)
