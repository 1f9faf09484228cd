// Package util provides initialization utilities shared by the
// coordinator's entrypoints: logger setup and layered configuration.
package util

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"

	"github.com/cpape/butler/pkg/config"
)

// InitLogger initializes and returns a zerolog logger at info level.
// It writes pretty console output when stdout is a terminal and JSON
// otherwise.
func InitLogger() *zerolog.Logger {
	// Default to info level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Create logger with timestamp
	var logger zerolog.Logger

	// Check if we're in a terminal for pretty output
	if isTerminal() {
		// Pretty console output for development
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().
			Timestamp().
			Caller().
			Logger()
	} else {
		// JSON output for production
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "butler").
			Logger()
	}

	return &logger
}

// InitConfig initializes and returns a koanf configuration instance.
// It loads configuration from the TOML file and allows environment variable overrides.
func InitConfig(logger *zerolog.Logger, configPath string) *koanf.Koanf {
	ko := koanf.New(".")

	// Load configuration from TOML file
	if err := ko.Load(file.Provider(configPath), toml.Parser()); err != nil {
		logger.Fatal().
			Err(err).
			Str("path", configPath).
			Msg("failed to load config file")
	}

	// Load environment variables with prefix handling
	// Environment variables like BUTLER_CHECK_INTERVAL override check_interval;
	// the underscore after a section name becomes the key delimiter, so
	// BUTLER_METRICS_ADDRESS overrides metrics.address.
	if err := ko.Load(env.Provider("BUTLER_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "BUTLER_"))
		for _, section := range []string{"metrics", "postgres", "nats", "logging"} {
			if strings.HasPrefix(key, section+"_") {
				return section + "." + strings.TrimPrefix(key, section+"_")
			}
		}
		return key
	}), nil); err != nil {
		logger.Warn().
			Err(err).
			Msg("failed to load environment variables")
	}

	logger.Info().
		Str("config_file", configPath).
		Msg("configuration loaded successfully")

	return ko
}

// UpdateLogLevel updates the global log level based on configuration.
func UpdateLogLevel(ko *koanf.Koanf, logger *zerolog.Logger) {
	levelStr := ko.String("logging.level")
	if levelStr == "" {
		levelStr = "info"
	}

	var level zerolog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
		logger.Warn().
			Str("configured_level", levelStr).
			Str("using_level", "info").
			Msg("unknown log level, defaulting to info")
	}

	zerolog.SetGlobalLevel(level)
	logger.Info().
		Str("level", level.String()).
		Msg("log level set")
}

// isTerminal checks if stdout is a terminal (for pretty console output).
func isTerminal() bool {
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// BuildConfig maps a loaded koanf instance onto config.Config, applying
// the coordinator's defaults (check_interval=60s, num_retries=2,
// block_arity=3, metrics address :9090).
func BuildConfig(ko *koanf.Koanf) config.Config {
	cfg := config.Config{
		BlockFile:     ko.String("block_file"),
		Host:          ko.String("host"),
		Port:          ko.Int("port"),
		TimeLimit:     durationOrSeconds(ko, "time_limit", 0),
		CheckInterval: durationOrSeconds(ko, "check_interval", 60*time.Second),
		NumRetries:    intOrDefault(ko, "num_retries", 2),
		BlockArity:    intOrDefault(ko, "block_arity", 3),
		OutPrefix:     ko.String("out_prefix"),
		MetricsAddr:   stringOrDefault(ko, "metrics.address", ":9090"),
		PostgresDSN:   ko.String("postgres.dsn"),
		NATSURL:       ko.String("nats.url"),
		NATSSubject:   stringOrDefault(ko, "nats.subject_prefix", "butler"),
	}
	return cfg
}

func durationOrSeconds(ko *koanf.Koanf, key string, fallback time.Duration) time.Duration {
	if !ko.Exists(key) {
		return fallback
	}
	return time.Duration(ko.Int64(key)) * time.Second
}

func intOrDefault(ko *koanf.Koanf, key string, fallback int) int {
	if !ko.Exists(key) {
		return fallback
	}
	return ko.Int(key)
}

func stringOrDefault(ko *koanf.Koanf, key, fallback string) string {
	v := ko.String(key)
	if v == "" {
		return fallback
	}
	return v
}
