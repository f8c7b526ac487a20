package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"titanic-predictor/internal/common"
)

type Settings struct {
	// Training
	DataPath    string
	ArtifactDir string
	TestSize    float64
	Seed        int64
	Trees       int
	MaxDepth    int
	Workers     int
	MetricsFile string

	// Serving
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CacheSize       int
	RateLimit       float64
	RateBurst       int
	WatchArtifacts  bool
	CORSOrigins     []string
	DriftWindow     int
	DriftThreshold  float64

	// Client
	ServerURL     string
	ClientTimeout time.Duration

	// Logging
	LogLevel  string
	LogFile   string
	LogPretty bool
}

type ConfigFile struct {
	Training struct {
		DataPath    string  `yaml:"dataPath"`
		ArtifactDir string  `yaml:"artifactDir"`
		TestSize    float64 `yaml:"testSize"`
		Seed        int64   `yaml:"seed"`
		Trees       int     `yaml:"trees"`
		MaxDepth    int     `yaml:"maxDepth"`
		Workers     int     `yaml:"workers"`
		MetricsFile string  `yaml:"metricsFile"`
	} `yaml:"training"`

	Server struct {
		Port            int      `yaml:"port"`
		ReadTimeout     string   `yaml:"readTimeout"`
		WriteTimeout    string   `yaml:"writeTimeout"`
		ShutdownTimeout string   `yaml:"shutdownTimeout"`
		CacheSize       *int     `yaml:"cacheSize"`
		RateLimit       *float64 `yaml:"rateLimit"`
		RateBurst       int      `yaml:"rateBurst"`
		WatchArtifacts  bool     `yaml:"watchArtifacts"`
		CORSOrigins     []string `yaml:"corsOrigins"`
		DriftWindow     *int     `yaml:"driftWindow"`
		DriftThreshold  float64  `yaml:"driftThreshold"`
	} `yaml:"server"`

	Client struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"client"`

	Log struct {
		Level  string `yaml:"level"`
		File   string `yaml:"file"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Load reads settings from the YAML file named by CONFIG_FILE when set, and
// from environment variables otherwise. A .env file, if present, is loaded
// into the environment first without overriding variables already set.
func Load() (Settings, error) {
	if err := loadDotEnv(getEnvOrDefault(common.EnvDotEnvFile, common.DefaultDotEnvFile)); err != nil {
		return Settings{}, err
	}

	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	cacheSize := common.DefaultCacheSize
	if config.Server.CacheSize != nil {
		cacheSize = *config.Server.CacheSize
	}
	rateLimit := common.DefaultRateLimit
	if config.Server.RateLimit != nil {
		rateLimit = *config.Server.RateLimit
	}
	driftWindow := common.DefaultDriftWindow
	if config.Server.DriftWindow != nil {
		driftWindow = *config.Server.DriftWindow
	}

	// Override with environment variables if they exist
	settings := Settings{
		DataPath:    getEnvOrDefault(common.EnvDataPath, orDefault(config.Training.DataPath, common.DefaultDataPath)),
		ArtifactDir: getEnvOrDefault(common.EnvArtifactDir, orDefault(config.Training.ArtifactDir, common.DefaultArtifactDir)),
		TestSize:    getFloatFromEnvOrConfig(common.EnvTestSize, config.Training.TestSize, common.DefaultTestSize),
		Seed:        int64(getIntFromEnvOrConfig(common.EnvSeed, int(config.Training.Seed), common.DefaultSeed)),
		Trees:       getIntFromEnvOrConfig(common.EnvTrees, config.Training.Trees, common.DefaultTrees),
		MaxDepth:    getIntFromEnvOrConfig(common.EnvMaxDepth, config.Training.MaxDepth, common.DefaultMaxDepth),
		Workers:     getIntFromEnvOrConfig(common.EnvWorkers, config.Training.Workers, 0),
		MetricsFile: getEnvOrDefault(common.EnvMetricsFile, config.Training.MetricsFile),

		Port:            getIntFromEnvOrConfig(common.EnvPort, config.Server.Port, common.DefaultPort),
		ReadTimeout:     getDurationFromEnvOrConfig(common.EnvReadTimeout, config.Server.ReadTimeout, common.DefaultReadTimeout),
		WriteTimeout:    getDurationFromEnvOrConfig(common.EnvWriteTimeout, config.Server.WriteTimeout, common.DefaultWriteTimeout),
		ShutdownTimeout: getDurationFromEnvOrConfig(common.EnvShutdownTimeout, config.Server.ShutdownTimeout, common.DefaultShutdownTimeout),
		CacheSize:       getIntOrDefault(common.EnvCacheSize, cacheSize),
		RateLimit:       getFloatOrDefault(common.EnvRateLimit, rateLimit),
		RateBurst:       getIntFromEnvOrConfig(common.EnvRateBurst, config.Server.RateBurst, common.DefaultRateBurst),
		WatchArtifacts:  getBoolFromEnvOrConfig(common.EnvWatchArtifacts, config.Server.WatchArtifacts),
		CORSOrigins:     getListFromEnvOrConfig(common.EnvCORSOrigins, config.Server.CORSOrigins),
		DriftWindow:     getIntOrDefault(common.EnvDriftWindow, driftWindow),
		DriftThreshold:  getFloatFromEnvOrConfig(common.EnvDriftThreshold, config.Server.DriftThreshold, common.DefaultDriftThreshold),

		ServerURL:     getEnvOrDefault(common.EnvServerURL, orDefault(config.Client.URL, common.DefaultServerURL)),
		ClientTimeout: getDurationFromEnvOrConfig(common.EnvClientTimeout, config.Client.Timeout, common.DefaultClientTimeout),

		LogLevel:  getEnvOrDefault(common.EnvLogLevel, orDefault(config.Log.Level, common.DefaultLogLevel)),
		LogFile:   getEnvOrDefault(common.EnvLogFile, config.Log.File),
		LogPretty: getBoolFromEnvOrConfig(common.EnvLogPretty, config.Log.Pretty),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		DataPath:    getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		ArtifactDir: getEnvOrDefault(common.EnvArtifactDir, common.DefaultArtifactDir),
		TestSize:    getFloatOrDefault(common.EnvTestSize, common.DefaultTestSize),
		Seed:        int64(getIntOrDefault(common.EnvSeed, common.DefaultSeed)),
		Trees:       getIntOrDefault(common.EnvTrees, common.DefaultTrees),
		MaxDepth:    getIntOrDefault(common.EnvMaxDepth, common.DefaultMaxDepth),
		Workers:     getIntOrDefault(common.EnvWorkers, 0), // 0 = GOMAXPROCS
		MetricsFile: os.Getenv(common.EnvMetricsFile),    // optional

		Port:            getIntOrDefault(common.EnvPort, common.DefaultPort),
		ReadTimeout:     getDurationOrDefault(common.EnvReadTimeout, common.DefaultReadTimeout),
		WriteTimeout:    getDurationOrDefault(common.EnvWriteTimeout, common.DefaultWriteTimeout),
		ShutdownTimeout: getDurationOrDefault(common.EnvShutdownTimeout, common.DefaultShutdownTimeout),
		CacheSize:       getIntOrDefault(common.EnvCacheSize, common.DefaultCacheSize),
		RateLimit:       getFloatOrDefault(common.EnvRateLimit, common.DefaultRateLimit),
		RateBurst:       getIntOrDefault(common.EnvRateBurst, common.DefaultRateBurst),
		WatchArtifacts:  getBoolOrDefault(common.EnvWatchArtifacts, false),
		CORSOrigins:     splitOrDefault(os.Getenv(common.EnvCORSOrigins), nil),
		DriftWindow:     getIntOrDefault(common.EnvDriftWindow, common.DefaultDriftWindow),
		DriftThreshold:  getFloatOrDefault(common.EnvDriftThreshold, common.DefaultDriftThreshold),

		ServerURL:     getEnvOrDefault(common.EnvServerURL, common.DefaultServerURL),
		ClientTimeout: getDurationOrDefault(common.EnvClientTimeout, common.DefaultClientTimeout),

		LogLevel:  getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogFile:   os.Getenv(common.EnvLogFile), // optional
		LogPretty: getBoolOrDefault(common.EnvLogPretty, true),
	}

	// Validate configuration
	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// Addr is the listen address for the HTTP server.
func (s *Settings) Addr() string {
	return ":" + strconv.Itoa(s.Port)
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func orDefault(v, defaultValue string) string {
	if v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func getListFromEnvOrConfig(key string, configValue []string) []string {
	if env := os.Getenv(key); env != "" {
		return splitOrDefault(env, nil)
	}
	return configValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

func getDurationFromEnvOrConfig(key, configValue string, defaultValue time.Duration) time.Duration {
	if env := os.Getenv(key); env != "" {
		if d, err := time.ParseDuration(env); err == nil {
			return d
		}
	}
	if d, err := time.ParseDuration(configValue); err == nil {
		return d
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	// Validate paths
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}
	if settings.ArtifactDir == "" {
		return fmt.Errorf("artifact directory cannot be empty")
	}

	// Validate training parameters
	if settings.TestSize <= 0 || settings.TestSize >= 1 {
		return fmt.Errorf("test size must be strictly between 0 and 1, got %f", settings.TestSize)
	}
	if settings.Trees <= 0 || settings.Trees > common.MaxTrees {
		return fmt.Errorf("number of trees must be between 1 and %d, got %d", common.MaxTrees, settings.Trees)
	}
	if settings.MaxDepth <= 0 || settings.MaxDepth > common.MaxDepthLimit {
		return fmt.Errorf("max depth must be between 1 and %d, got %d", common.MaxDepthLimit, settings.MaxDepth)
	}
	if settings.Workers < 0 {
		return fmt.Errorf("training workers cannot be negative, got %d", settings.Workers)
	}

	// Validate server parameters
	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"read timeout", settings.ReadTimeout},
		{"write timeout", settings.WriteTimeout},
		{"shutdown timeout", settings.ShutdownTimeout},
		{"client timeout", settings.ClientTimeout},
	}
	for _, tt := range timeouts {
		if tt.d < common.MinTimeout || tt.d > common.MaxTimeout {
			return fmt.Errorf("%s must be between %v and %v, got %v", tt.name, common.MinTimeout, common.MaxTimeout, tt.d)
		}
	}
	if settings.CacheSize < 0 || settings.CacheSize > common.MaxCacheSize {
		return fmt.Errorf("cache size must be between 0 and %d, got %d", common.MaxCacheSize, settings.CacheSize)
	}
	if settings.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative, got %f", settings.RateLimit)
	}
	if settings.RateLimit > 0 && settings.RateBurst < 1 {
		return fmt.Errorf("rate burst must be at least 1 when rate limiting is enabled, got %d", settings.RateBurst)
	}
	if settings.DriftWindow < 0 || settings.DriftWindow > common.MaxDriftWindow {
		return fmt.Errorf("drift window must be between 0 and %d, got %d", common.MaxDriftWindow, settings.DriftWindow)
	}
	if settings.DriftThreshold <= 0 {
		return fmt.Errorf("drift threshold must be positive, got %f", settings.DriftThreshold)
	}

	// Validate client and logging
	if settings.ServerURL == "" {
		return fmt.Errorf("server URL cannot be empty")
	}
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	return nil
}
