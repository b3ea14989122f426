package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options shape the process-wide logger.
type Options struct {
	Level       string
	Service     string
	Version     string
	Environment string
}

// New builds the root zap.Logger. Production gets JSON with ISO-8601
// timestamps; everything else gets the console encoder for readable local
// output. Every entry carries the service name and version so scheduler and
// API logs can be told apart in a shared sink.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Environment == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	level := opts.Level
	if level == "" {
		level = "info"
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if opts.Service != "" {
		logger = logger.With(
			zap.String("service", opts.Service),
			zap.String("version", opts.Version),
		)
	}

	zap.ReplaceGlobals(logger)
	return logger, nil
}
