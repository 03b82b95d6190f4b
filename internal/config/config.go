package config

import (
	"fmt"
	"slices"
)

// MinFrameCacheSize matches the smallest frame cache the decoder accepts.
const MinFrameCacheSize = 3

// OutputFormats lists the accepted values of Config.OutputFormat.
var OutputFormats = []string{"text", "json", "yaml"}

// Config holds app configuration
type Config struct {
	InputFile  string `mapstructure:"input"`
	OutputDir  string `mapstructure:"output"`
	Match      string `mapstructure:"match"`
	ShowAll    bool   `mapstructure:"include_internal"`
	OutputFmt  string `mapstructure:"output_format"`
	Workers    int    `mapstructure:"workers"`
	Containers int    `mapstructure:"container_cache_size"`

	// FrameCacheSize is the number of decoded 32 KiB LZX frames kept per
	// open container
	FrameCacheSize int `mapstructure:"frame_cache_size"`

	LogLevel      string `mapstructure:"log_level"`
	LogOutputDir  string `mapstructure:"log_output_dir"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		OutputDir:      ".",
		OutputFmt:      "text",
		Workers:        4,
		Containers:     16,
		FrameCacheSize: 64,
		LogLevel:       "info",
		LogMaxSizeMB:   25,
		LogMaxBackups:  5,
		LogMaxAgeDays:  7,
	}
}

// Validate rejects values the commands cannot work with
func (c *Config) Validate() error {
	if !slices.Contains(OutputFormats, c.OutputFmt) {
		return fmt.Errorf("unknown output format %q (want one of %v)", c.OutputFmt, OutputFormats)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Containers < 1 {
		return fmt.Errorf("container cache size must be positive, got %d", c.Containers)
	}
	if c.FrameCacheSize < MinFrameCacheSize {
		return fmt.Errorf("frame cache size must be at least %d, got %d", MinFrameCacheSize, c.FrameCacheSize)
	}
	return nil
}
