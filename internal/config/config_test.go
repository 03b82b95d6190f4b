package config

import (
	"strings"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{name: "defaults", modify: func(c *Config) {}},
		{name: "yaml output", modify: func(c *Config) { c.OutputFmt = "yaml" }},
		{name: "unknown format", modify: func(c *Config) { c.OutputFmt = "xml" }, wantErr: "unknown output format"},
		{name: "no workers", modify: func(c *Config) { c.Workers = 0 }, wantErr: "workers"},
		{name: "no frame cache", modify: func(c *Config) { c.FrameCacheSize = 0 }, wantErr: "frame cache size"},
		{name: "frame cache of one", modify: func(c *Config) { c.FrameCacheSize = 1 }, wantErr: "at least 3"},
		{name: "frame cache of two", modify: func(c *Config) { c.FrameCacheSize = 2 }, wantErr: "at least 3"},
		{name: "smallest frame cache", modify: func(c *Config) { c.FrameCacheSize = 3 }},
		{name: "no container cache", modify: func(c *Config) { c.Containers = -1 }, wantErr: "container cache size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() failed: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, should contain %q", err, tt.wantErr)
			}
		})
	}
}
