package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// CurrentVersion of the config file.
const CurrentVersion = 1

// Config represents the entire application configuration.
type Config struct {
	// Version of the config file.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	Redis      Redis      `koanf:"redis"`
	Live       Live       `koanf:"live"`
	OAuth      OAuth      `koanf:"oauth"`
	Exchange   Exchange   `koanf:"exchange"`
	Mailer     Mailer     `koanf:"mailer"`
	Tracker    Tracker    `koanf:"tracker"`
	Crawl      Crawl      `koanf:"crawl"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// Live contains first-party game API configuration (session auth).
type Live struct {
	// Base URL of the leaderboard API.
	BaseURL string `koanf:"base_url"`
	// Login endpoint URL.
	LoginURL string `koanf:"login_url"`
	// Refresh endpoint URL.
	RefreshURL string `koanf:"refresh_url"`
	// Account username for the dedicated server account.
	Username string `koanf:"username"`
	// Account password for the dedicated server account.
	Password string `koanf:"password"`
	// Request timeout in milliseconds.
	RequestTimeout int `koanf:"request_timeout"`
}

// OAuth contains third-party API configuration (client-credentials grant).
type OAuth struct {
	// Base URL of the display-name API.
	BaseURL string `koanf:"base_url"`
	// Token endpoint URL.
	TokenURL string `koanf:"token_url"`
	// OAuth2 client ID.
	ClientID string `koanf:"client_id"`
	// OAuth2 client secret.
	ClientSecret string `koanf:"client_secret"`
	// Request timeout in milliseconds.
	RequestTimeout int `koanf:"request_timeout"`
}

// Exchange contains map catalog API configuration.
type Exchange struct {
	// Base URL of the map catalog API.
	BaseURL string `koanf:"base_url"`
	// Page size for catalog pagination.
	PageSize int `koanf:"page_size"`
	// Number of whole-walk retry attempts.
	WalkRetries int `koanf:"walk_retries"`
	// Delay between whole-walk retries in minutes.
	WalkRetryDelay int `koanf:"walk_retry_delay"`
	// Request timeout in milliseconds.
	RequestTimeout int `koanf:"request_timeout"`
}

// Mailer contains transactional email configuration.
type Mailer struct {
	// API key for the email provider.
	APIKey string `koanf:"api_key"`
	// Sender address.
	FromAddress string `koanf:"from_address"`
	// Sender display name.
	FromName string `koanf:"from_name"`
}

// Tracker contains position tracking thresholds.
type Tracker struct {
	// Map count above which a subscription is promoted to inaccurate mode.
	MapThreshold int `koanf:"map_threshold"`
	// Maximum changed-or-new maps per inaccurate run before degrading to a count-only summary.
	OverflowCap int `koanf:"overflow_cap"`
	// Delay between per-map leaderboard fetches in milliseconds.
	FetchDelay int `koanf:"fetch_delay"`
	// Leaderboard entries fetched per map.
	TopN int `koanf:"top_n"`
	// Trailing window for accurate-mode diffs in hours.
	WindowHours int `koanf:"window_hours"`
}

// Crawl contains crawl job configuration.
type Crawl struct {
	// Sliding window length in seconds for crawl-start limiting.
	LimiterWindow int `koanf:"limiter_window"`
	// Maximum crawl starts per username per window.
	LimiterMax int `koanf:"limiter_max"`
	// Terminal job retention in days before the lazy sweep removes them.
	JobRetentionDays int `koanf:"job_retention_days"`
}

// LoadConfig loads the configuration from the first search path that has a
// trackwatch.toml. Returns the config, the config directory used, and any error.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	// Get user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// List search paths
	configPaths := []string{
		".trackwatch",
		homeDir + "/.trackwatch/config",
		"/etc/trackwatch/config",
		"/app/config",
		"config",
		".",
	}

	var usedConfigPath string

	for _, path := range configPaths {
		configPath := fmt.Sprintf("%s/trackwatch.toml", path)
		if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
			usedConfigPath = path
			break
		}
	}

	if usedConfigPath == "" {
		return nil, "", fmt.Errorf("%w: trackwatch.toml", ErrConfigFileNotFound)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := checkConfigVersion(config.Version, CurrentVersion); err != nil {
		return nil, "", err
	}

	return &config, usedConfigPath, nil
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(current, expected int) error {
	if current == 0 {
		return ErrConfigVersionMissing
	}

	if current != expected {
		return fmt.Errorf("%w: expected version %d, got %d", ErrConfigVersionMismatch, expected, current)
	}

	return nil
}
