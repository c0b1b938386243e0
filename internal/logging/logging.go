// Package logging builds the zap loggers used across every latchan
// collaborator: console output with colorized levels when stderr is a
// terminal and plain levels otherwise, or JSON when Config.JSON is set.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Init builds a *zap.SugaredLogger plus its mutable level, writing to
// stderr with colorized levels when attached to a terminal and plain
// capital levels otherwise (for log aggregators).
func Init(cfg *Config) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()

	if term.IsTerminal(int(os.Stderr.Fd())) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	encoding := "console"
	if cfg.JSON {
		encoding = "json"
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	zapCfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Development:      false,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger.Sugar(), zapCfg.Level, nil
}

// Nop returns a logger that discards everything, the default for
// components that weren't given one explicitly.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
