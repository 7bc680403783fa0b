package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// clearEnv blanks every override so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	for _, key := range []string{"LI_AT", "LI_OWNER", "DB_DRIVER", "DB_PATH", "DB_HOST", "DB_PORT",
		"DB_USER", "DB_PASSWORD", "DB_NAME", "API_PORT", "LOG_LEVEL", "CHROME_PATH", "CHROME_HEADLESS"} {
		t.Setenv(key, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15, cfg.Scraper.MaxScrollAttempts)
	assert.Equal(t, 3, cfg.Scraper.StallLimit)
	assert.Equal(t, 10*time.Minute, cfg.Scraper.KeepOpenTimeout())
	assert.Equal(t, 30*time.Minute, cfg.Scraper.JobTimeout())
	assert.Equal(t, 6*time.Second, cfg.Pacing.InterProfileDelay())
	assert.Equal(t, time.Minute, cfg.Browser.NavigationTimeoutDuration())
	assert.Equal(t, "data/engagement.db", cfg.Database.DSN())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
browser:
  engine: selenium
scraper:
  max_identities: 20
pacing:
  profiles_per_minute: 0
database:
  driver: postgres
`)
	clearEnv(t)
	t.Setenv("LI_AT", "AQEDfrom-env")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("API_PORT", "not-a-number")
	t.Setenv("CHROME_HEADLESS", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "selenium", cfg.Browser.Engine)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 20, cfg.Scraper.MaxIdentities)
	assert.Equal(t, 15, cfg.Scraper.MaxScrollAttempts, "unset keys keep their defaults")
	assert.Zero(t, cfg.Pacing.ProfilesPerMinute)
	assert.Equal(t, "AQEDfrom-env", cfg.LinkedIn.Token)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 8080, cfg.API.Port, "malformed numbers are ignored")
	assert.Equal(t, "host=localhost port=6543 user=postgres password= dbname=engagement sslmode=disable", cfg.Database.DSN())
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeFile(t, "browser:\n  engine: firefox\n"))
	require.ErrorContains(t, err, `unknown browser engine "firefox"`)

	_, err = Load(writeFile(t, "scraper: [not, a, map]\n"))
	require.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"driver", func(c *Config) { c.Database.Driver = "mysql" }, `unknown database driver "mysql"`},
		{"retries", func(c *Config) { c.Scraper.RetryAttempts = 0 }, "scraper.retry_attempts must be at least 1, got 0"},
		{"stall", func(c *Config) { c.Scraper.StallLimit = 0 }, "scraper.stall_limit must be at least 1, got 0"},
		{"scrolls", func(c *Config) { c.Scraper.MaxScrollAttempts = 0 }, "scraper.max_scroll_attempts must be at least 1, got 0"},
		{"rate", func(c *Config) { c.Pacing.ProfilesPerMinute = -1 }, "pacing.profiles_per_minute must not be negative, got -1"},
		{"identities", func(c *Config) { c.Scraper.MaxIdentities = 0 }, "scraper.max_identities must be at least 1, got 0"},
		{"job timeout", func(c *Config) { c.Scraper.JobTimeoutMin = 0 }, "scraper.job_timeout_min must be at least 1, got 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.EqualError(t, cfg.Validate(), tt.errMsg)
		})
	}
}
