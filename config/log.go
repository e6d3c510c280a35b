package config

import "os"

type LogConfig struct {
	// LogLevel: "debug", "info", "warn" or "error".
	// Default: "info", env LOG_LEVEL
	LogLevel string `json:"logLevel,omitempty"`

	// LogHandler: "json" for machine-readable output, anything else gets the
	// tinted text handler.
	// Default: "default", env LOG_HANDLER
	LogHandler string `json:"logHandler,omitempty"`
}

func NewLogConfig() *LogConfig {
	config := &LogConfig{
		LogLevel:   os.Getenv("LOG_LEVEL"),
		LogHandler: os.Getenv("LOG_HANDLER"),
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogHandler == "" {
		config.LogHandler = "default"
	}
	return config
}
