// Package config defines the YAML configuration shared by latchand and
// latchan-watch: defaults first, then whatever the YAML file overrides.
package config

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/latchan/latchan/internal/logging"
)

// Config is the top-level configuration for both latchand and
// latchan-watch; each binary only reads the sections it needs.
type Config struct {
	Logging logging.Config `yaml:"logging"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Channel ChannelConfig  `yaml:"channel"`
	Bridge  BridgeConfig   `yaml:"bridge"`
	Watch   WatchConfig    `yaml:"watch"`
}

// MetricsConfig controls the prometheus HTTP exporter.
type MetricsConfig struct {
	// ListenAddr is the address /metrics is served on; empty disables it.
	ListenAddr string `yaml:"listen_addr"`
}

// ChannelConfig describes a channel to create or attach to.
type ChannelConfig struct {
	Name         string            `yaml:"name"`
	FrameCount   uint64            `yaml:"frame_count"`
	MaxFrameSize datasize.ByteSize `yaml:"max_frame_size"`
}

// BridgeConfig configures the latchand TCP relay.
type BridgeConfig struct {
	// ListenAddr, when set, runs latchand as a server relaying a local
	// channel's frames to accepted connections.
	ListenAddr string `yaml:"listen_addr"`
	// DialAddr, when set, runs latchand as a client pulling frames from
	// a remote peer into a local channel.
	DialAddr string `yaml:"dial_addr"`
}

// WatchConfig configures latchan-watch.
type WatchConfig struct {
	Command    []string `yaml:"command"`
	PidFile    string   `yaml:"pid_file"`
	MaxRetries int      `yaml:"max_retries"`
}

// DefaultConfig returns sane defaults, overridden field-by-field by
// whatever the YAML file specifies.
func DefaultConfig() *Config {
	return &Config{
		Logging: logging.Config{Level: 0}, // zapcore.InfoLevel
		Metrics: MetricsConfig{ListenAddr: ":9110"},
		Channel: ChannelConfig{
			FrameCount:   16,
			MaxFrameSize: 4 * datasize.KB,
		},
		Watch: WatchConfig{MaxRetries: 0},
	}
}

// LoadConfig reads and parses a YAML configuration file, starting from
// DefaultConfig so unset fields keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	return cfg, nil
}
