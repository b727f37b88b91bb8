package config

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the zap logger from configuration and installs it as
// the global logger. The returned logger should be synced on exit.
func InitLogger(cfg *Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if strings.ToLower(cfg.LogFormat) == "json" {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)

	logger.Sugar().Infow("Logger initialized",
		"level", level.String(),
		"format", cfg.LogFormat,
	)
	return logger, nil
}
