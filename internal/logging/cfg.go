package logging

import "go.uber.org/zap/zapcore"

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
	// JSON switches the encoder to structured JSON output, for when
	// stderr is consumed by a log collector rather than a terminal.
	JSON bool `yaml:"json"`
}
