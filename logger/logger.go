package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/secrun/secrun/config"
)

// modes maps a logging mode to its base zap configuration.
var modes = map[string]func() zap.Config{
	"production":  productionConfig,
	"development": developmentConfig,
}

// NewFromConfig builds the application logger from the logging section
// of the configuration.
func NewFromConfig(cfg *config.Config) (*zap.Logger, error) {
	return New(cfg.Logging.Mode, cfg.Logging.Level)
}

// New creates a logger for the given mode and level. Production emits
// JSON with ISO8601 timestamps and a service field; development uses
// the console encoder with colored levels.
func New(mode, level string) (*zap.Logger, error) {
	build, ok := modes[mode]
	if !ok {
		return nil, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}

	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}

	cfg := build()
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	return cfg.Build()
}

func productionConfig() zap.Config {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]any{"service": "secrun"}
	return cfg
}

func developmentConfig() zap.Config {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return cfg
}
