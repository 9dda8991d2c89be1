package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.SyncDirectory = "/tmp/photos"

	return cfg
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, Validate(validConfig()))
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing sync_directory", func(c *Config) { c.SyncDirectory = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
		{"bad execution mode", func(c *Config) { c.ExecutionMode = "daemon" }},
		{"negative max_downloads", func(c *Config) { c.MaxDownloads = -1 }},
		{"negative max_file_size_mb", func(c *Config) { c.MaxFileSizeMB = -5 }},
		{"zero max_consecutive_failures", func(c *Config) { c.MaxConsecutiveFailures = 0 }},
		{"port range wrong length", func(c *Config) { c.AuthWebPortRange = []int{8080} }},
		{"port range inverted", func(c *Config) { c.AuthWebPortRange = []int{8090, 8080} }},
		{"port range privileged", func(c *Config) { c.AuthWebPortRange = []int{80, 90} }},
		{"personal allowlist with kind disabled", func(c *Config) {
			c.IncludePersonalAlbums = false
			c.PersonalAlbumNames = []string{"Family"}
		}},
		{"shared allowlist with kind disabled", func(c *Config) {
			c.IncludeSharedAlbums = false
			c.SharedAlbumNames = []string{"Trips"}
		}},
		{"pushover enabled without token", func(c *Config) {
			c.Pushover.Enabled = true
			c.Pushover.UserKey = "user"
		}},
		{"zero sync interval", func(c *Config) { c.SyncInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}
