// Package logging builds the process wide zap logger.
package logging

import (
	"go.uber.org/zap"

	"podlink/internal/config"
)

// New builds a logger for cfg: the development preset prints console
// output with caller and stack traces, production emits JSON.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.ZapLevel())
	return zc.Build()
}

// Install builds a logger and makes it the global one returned by zap.L().
// The returned func flushes the logger and restores the previous globals.
func Install(cfg config.LogConfig) (func(), error) {
	logger, err := New(cfg)
	if err != nil {
		return nil, err
	}
	undo := zap.ReplaceGlobals(logger)
	return func() {
		_ = logger.Sync()
		undo()
	}, nil
}
