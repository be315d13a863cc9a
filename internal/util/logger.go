package util

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultServiceName names logs and spans until InitLogger or InitTracer says otherwise
const DefaultServiceName = "checkout-service"

var (
	logger      *zap.Logger
	serviceName = DefaultServiceName
)

// InitLogger builds the process logger. Every entry carries the service name and environment.
func InitLogger(service, env, level string) error {
	cfg, err := loggerConfig(env, level)
	if err != nil {
		return err
	}

	built, err := cfg.Build(zap.Fields(
		zap.String("service", service),
		zap.String("env", env),
	))
	if err != nil {
		return err
	}

	logger = built
	if service != "" {
		serviceName = service
	}
	zap.ReplaceGlobals(logger)
	return nil
}

// loggerConfig picks JSON output for production and colored console output elsewhere.
// An empty level keeps the preset's default.
func loggerConfig(env, level string) (zap.Config, error) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return cfg, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = lvl
	}
	return cfg, nil
}

// GetLogger returns the process logger, falling back to a development logger in tests
func GetLogger() *zap.Logger {
	if logger == nil {
		dev, _ := zap.NewDevelopment()
		logger = dev.With(zap.String("service", serviceName))
	}
	return logger
}

func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
