package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	LinkedIn   LinkedInConfig   `yaml:"linkedin"`
	Browser    BrowserConfig    `yaml:"browser"`
	Scraper    ScraperConfig    `yaml:"scraper"`
	Pacing     PacingConfig     `yaml:"pacing"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type LinkedInConfig struct {
	BaseURL      string `yaml:"base_url"`
	LandingPath  string `yaml:"landing_path"`
	CookieDomain string `yaml:"cookie_domain"`
	TokenPrefix  string `yaml:"token_prefix"`
	// Token and Owner are normally supplied by the session store or LI_AT.
	Token string `yaml:"token"`
	Owner string `yaml:"owner"`
}

type BrowserConfig struct {
	Engine             string `yaml:"engine"`
	Headless           bool   `yaml:"headless"`
	ExecPath           string `yaml:"exec_path"`
	UserAgent          string `yaml:"user_agent"`
	WindowWidth        int    `yaml:"window_width"`
	WindowHeight       int    `yaml:"window_height"`
	TabWidth           int    `yaml:"tab_width"`
	TabHeight          int    `yaml:"tab_height"`
	SeleniumURL        string `yaml:"selenium_url"`
	NavigationTimeout  int    `yaml:"navigation_timeout"`
	LandingTimeout     int    `yaml:"landing_timeout"`
	OverlayTimeout     int    `yaml:"overlay_timeout"`
	ProfileCardTimeout int    `yaml:"profile_card_timeout"`
}

type ScraperConfig struct {
	MaxIdentities      int `yaml:"max_identities"`
	MaxScrollAttempts  int `yaml:"max_scroll_attempts"`
	StallLimit         int `yaml:"stall_limit"`
	ScrollIncrement    int `yaml:"scroll_increment"`
	FeedScrollSteps    int `yaml:"feed_scroll_steps"`
	ExperienceScrolls  int `yaml:"experience_scrolls"`
	RetryAttempts      int `yaml:"retry_attempts"`
	KeepOpenTimeoutMin int `yaml:"keep_open_timeout_min"`
	JobTimeoutMin      int `yaml:"job_timeout_min"`
}

// PacingConfig holds every settle and pacing delay, in milliseconds.
// ProfilesPerMinute caps enrichment throughput on top of the fixed delay.
type PacingConfig struct {
	LandingSettleMs     int `yaml:"landing_settle_ms"`
	PageSettleMs        int `yaml:"page_settle_ms"`
	FeedScrollMs        int `yaml:"feed_scroll_ms"`
	ClickSettleMs       int `yaml:"click_settle_ms"`
	AfterClickMs        int `yaml:"after_click_ms"`
	OverlaySettleMs     int `yaml:"overlay_settle_ms"`
	OverlayScrollMs     int `yaml:"overlay_scroll_ms"`
	BeforeExtractMs     int `yaml:"before_extract_ms"`
	DismissSettleMs     int `yaml:"dismiss_settle_ms"`
	ProfileSettleMs     int `yaml:"profile_settle_ms"`
	ExperienceScrollMs  int `yaml:"experience_scroll_ms"`
	RetryBackoffMs      int `yaml:"retry_backoff_ms"`
	InterProfileDelayMs int `yaml:"inter_profile_delay_ms"`
	JitterMs            int `yaml:"jitter_ms"`
	ProfilesPerMinute   int `yaml:"profiles_per_minute"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

type APIConfig struct {
	Port          int    `yaml:"port"`
	AllowedOrigin string `yaml:"allowed_origin"`
}

type MonitoringConfig struct {
	MetricsFile       string  `yaml:"metrics_file"`
	MinSuccessRate    float64 `yaml:"min_success_rate"`
	MaxDegradedRatio  float64 `yaml:"max_degraded_ratio"`
	StaleAfterHours   int     `yaml:"stale_after_hours"`
	MaxRunDurationMin int     `yaml:"max_run_duration_min"`
}

// Default returns a configuration usable without any config file.
func Default() *Config {
	return &Config{
		LinkedIn: LinkedInConfig{
			BaseURL:      "https://www.linkedin.com",
			LandingPath:  "/feed",
			CookieDomain: ".linkedin.com",
			TokenPrefix:  "AQED",
			Owner:        "default",
		},
		Browser: BrowserConfig{
			Engine:             "chromedp",
			Headless:           true,
			UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			WindowWidth:        1920,
			WindowHeight:       1080,
			TabWidth:           1280,
			TabHeight:          800,
			SeleniumURL:        "http://localhost:4444/wd/hub",
			NavigationTimeout:  60,
			LandingTimeout:     60,
			OverlayTimeout:     10,
			ProfileCardTimeout: 15,
		},
		Scraper: ScraperConfig{
			MaxIdentities:      50,
			MaxScrollAttempts:  15,
			StallLimit:         3,
			ScrollIncrement:    800,
			FeedScrollSteps:    3,
			ExperienceScrolls:  5,
			RetryAttempts:      3,
			KeepOpenTimeoutMin: 10,
			JobTimeoutMin:      30,
		},
		Pacing: PacingConfig{
			LandingSettleMs:     5000,
			PageSettleMs:        5000,
			FeedScrollMs:        2000,
			ClickSettleMs:       2000,
			AfterClickMs:        5000,
			OverlaySettleMs:     2000,
			OverlayScrollMs:     2500,
			BeforeExtractMs:     3000,
			DismissSettleMs:     2000,
			ProfileSettleMs:     3000,
			ExperienceScrollMs:  1000,
			RetryBackoffMs:      5000,
			InterProfileDelayMs: 6000,
			JitterMs:            400,
			ProfilesPerMinute:   8,
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Path:    "data/engagement.db",
			Host:    "localhost",
			Port:    5432,
			Name:    "engagement",
			User:    "postgres",
			SSLMode: "disable",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
		},
		API: APIConfig{
			Port:          8080,
			AllowedOrigin: "*",
		},
		Monitoring: MonitoringConfig{
			MetricsFile:       "data/metrics.json",
			MinSuccessRate:    0.8,
			MaxDegradedRatio:  0.5,
			StaleAfterHours:   24,
			MaxRunDurationMin: 30,
		},
	}
}

// Load reads configFile over the defaults, then applies environment
// overrides. A missing file is not an error.
func Load(configFile string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := Default()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setString("LI_AT", &c.LinkedIn.Token)
	setString("LI_OWNER", &c.LinkedIn.Owner)
	setString("DB_DRIVER", &c.Database.Driver)
	setString("DB_PATH", &c.Database.Path)
	setString("DB_HOST", &c.Database.Host)
	setInt("DB_PORT", &c.Database.Port)
	setString("DB_USER", &c.Database.User)
	setString("DB_PASSWORD", &c.Database.Password)
	setString("DB_NAME", &c.Database.Name)
	setInt("API_PORT", &c.API.Port)
	setString("LOG_LEVEL", &c.Logging.Level)
	setString("CHROME_PATH", &c.Browser.ExecPath)
	if v := os.Getenv("CHROME_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Browser.Headless = b
		}
	}
}

func (c *Config) Validate() error {
	switch c.Browser.Engine {
	case "chromedp", "selenium":
	default:
		return fmt.Errorf("unknown browser engine %q", c.Browser.Engine)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Scraper.RetryAttempts < 1 {
		return fmt.Errorf("scraper.retry_attempts must be at least 1, got %d", c.Scraper.RetryAttempts)
	}
	if c.Scraper.StallLimit < 1 {
		return fmt.Errorf("scraper.stall_limit must be at least 1, got %d", c.Scraper.StallLimit)
	}
	if c.Scraper.MaxScrollAttempts < 1 {
		return fmt.Errorf("scraper.max_scroll_attempts must be at least 1, got %d", c.Scraper.MaxScrollAttempts)
	}
	if c.Pacing.ProfilesPerMinute < 0 {
		return fmt.Errorf("pacing.profiles_per_minute must not be negative, got %d", c.Pacing.ProfilesPerMinute)
	}
	if c.Scraper.MaxIdentities < 1 {
		return fmt.Errorf("scraper.max_identities must be at least 1, got %d", c.Scraper.MaxIdentities)
	}
	if c.Scraper.JobTimeoutMin < 1 {
		return fmt.Errorf("scraper.job_timeout_min must be at least 1, got %d", c.Scraper.JobTimeoutMin)
	}
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (p PacingConfig) LandingSettle() time.Duration     { return ms(p.LandingSettleMs) }
func (p PacingConfig) PageSettle() time.Duration        { return ms(p.PageSettleMs) }
func (p PacingConfig) FeedScroll() time.Duration        { return ms(p.FeedScrollMs) }
func (p PacingConfig) ClickSettle() time.Duration       { return ms(p.ClickSettleMs) }
func (p PacingConfig) AfterClick() time.Duration        { return ms(p.AfterClickMs) }
func (p PacingConfig) OverlaySettle() time.Duration     { return ms(p.OverlaySettleMs) }
func (p PacingConfig) OverlayScroll() time.Duration     { return ms(p.OverlayScrollMs) }
func (p PacingConfig) BeforeExtract() time.Duration     { return ms(p.BeforeExtractMs) }
func (p PacingConfig) DismissSettle() time.Duration     { return ms(p.DismissSettleMs) }
func (p PacingConfig) ProfileSettle() time.Duration     { return ms(p.ProfileSettleMs) }
func (p PacingConfig) ExperienceScroll() time.Duration  { return ms(p.ExperienceScrollMs) }
func (p PacingConfig) RetryBackoff() time.Duration      { return ms(p.RetryBackoffMs) }
func (p PacingConfig) InterProfileDelay() time.Duration { return ms(p.InterProfileDelayMs) }
func (p PacingConfig) Jitter() time.Duration            { return ms(p.JitterMs) }

func (b BrowserConfig) NavigationTimeoutDuration() time.Duration {
	return time.Duration(b.NavigationTimeout) * time.Second
}

func (b BrowserConfig) LandingTimeoutDuration() time.Duration {
	return time.Duration(b.LandingTimeout) * time.Second
}

func (b BrowserConfig) OverlayTimeoutDuration() time.Duration {
	return time.Duration(b.OverlayTimeout) * time.Second
}

func (b BrowserConfig) ProfileCardTimeoutDuration() time.Duration {
	return time.Duration(b.ProfileCardTimeout) * time.Second
}

func (s ScraperConfig) KeepOpenTimeout() time.Duration {
	return time.Duration(s.KeepOpenTimeoutMin) * time.Minute
}

// JobTimeout bounds a run that no caller can cancel, such as an API job
// whose client went away.
func (s ScraperConfig) JobTimeout() time.Duration {
	return time.Duration(s.JobTimeoutMin) * time.Minute
}

// DSN builds the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}
