package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sensornet/ingestd/internal/wire"
)

const (
	defaultListen      = ":9000"
	defaultStoragePath = "received_data.db"
	defaultIdleTimeout = 5 * time.Minute
)

// Duration is a time.Duration that unmarshals from YAML strings such
// as "5m" or "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", s, err)
	}

	*d = Duration(v)
	return nil
}

// Config represents the main application configuration
type Config struct {
	Listen       string        `yaml:"listen"`
	Encoding     wire.Encoding `yaml:"encoding"`
	IdleTimeout  Duration      `yaml:"idleTimeout"`
	DrainTimeout Duration      `yaml:"drainTimeout"`
	LogLevel     string        `yaml:"logLevel"`
	Storage      StorageConfig `yaml:"storage"`
	Metrics      MetricsConfig `yaml:"metrics"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig represents the optional metrics endpoint settings. An
// empty listen address disables metrics.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Level parses the configured log level.
func (c *Config) Level() (slog.Level, error) {
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level '%s': %w", c.LogLevel, err)
	}
	return level, nil
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Encoding:    wire.EncodingDelimited,
		IdleTimeout: Duration(defaultIdleTimeout),
		Storage:     StorageConfig{Path: defaultStoragePath},
	}
}

// LoadConfig reads and validates the YAML configuration at path. An
// empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err = config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path must not be empty")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("drain timeout must not be negative")
	}

	switch c.Encoding {
	case wire.EncodingDelimited, wire.EncodingJSON, wire.EncodingAuto:
	default:
		return fmt.Errorf("unknown encoding '%s'", c.Encoding)
	}

	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}
