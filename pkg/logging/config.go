package logging

import (
	"io"
	"os"
)

// LogFormat is the log output encoding.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// Config holds configuration for the logger.
type Config struct {
	Level        int                    `mapstructure:"level"`
	Format       LogFormat              `mapstructure:"format"`
	Output       io.Writer              `mapstructure:"-"`
	EnableCaller bool                   `mapstructure:"enable_caller"`
	Metadata     map[string]interface{} `mapstructure:"metadata"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:        int(LevelInfo),
		Format:       LogFormatJSON,
		Output:       os.Stdout,
		EnableCaller: false,
		Metadata: map[string]interface{}{
			"service": "gfl-ze-watcher-sub000",
		},
	}
}

// DevelopmentConfig returns a configuration suitable for local development.
func DevelopmentConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = int(LevelDebug)
	cfg.Format = LogFormatText
	cfg.EnableCaller = true
	cfg.Metadata["environment"] = "development"
	return cfg
}

// Validate normalizes an invalid configuration to sane defaults in place.
func (c *Config) Validate() {
	if c.Level < int(LevelDebug) || c.Level > int(LevelFatal) {
		c.Level = int(LevelInfo)
	}
	if c.Format != LogFormatJSON && c.Format != LogFormatText {
		c.Format = LogFormatJSON
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	if c.Metadata == nil {
		c.Metadata = map[string]interface{}{}
	}
}
