package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv   string
	LogLevel string

	// FPP host layout
	MediaDir     string
	ScheduleFile string
	StateDir     string
	FPPEnvFile   string

	// Sync
	CalendarID  string
	SyncMode    string
	Provider    string
	AllowStale  bool
	HTTPTimeout time.Duration

	// Estimator
	Latitude  float64
	Longitude float64

	// OAuth (Google provider)
	OAuthClientID     string
	OAuthClientSecret string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthRedirectURL  string
	OAuthScopes       string

	// CalDAV provider
	CalDAVURL      string
	CalDAVUsername string
	CalDAVPassword string
	CalDAVPath     string

	// Control plane
	HTTPAddr string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	mediaDir := getEnv("CALBRIDGE_MEDIA_DIR", "/home/fpp/media")

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("CALBRIDGE_LOG_LEVEL", "info"),

		MediaDir:     mediaDir,
		ScheduleFile: getEnv("CALBRIDGE_SCHEDULE_FILE", filepath.Join(mediaDir, "config", "schedule.json")),
		StateDir:     getEnv("CALBRIDGE_STATE_DIR", filepath.Join(mediaDir, "config", "calbridge")),
		FPPEnvFile:   getEnv("CALBRIDGE_FPP_ENV_FILE", filepath.Join(mediaDir, "settings")),

		CalendarID:  getEnv("CALBRIDGE_CALENDAR_ID", "primary"),
		SyncMode:    getEnv("CALBRIDGE_SYNC_MODE", "both"),
		Provider:    getEnv("CALBRIDGE_PROVIDER", "google"),
		AllowStale:  getBoolEnv("CALBRIDGE_ALLOW_STALE", false),
		HTTPTimeout: getDurationEnv("CALBRIDGE_HTTP_TIMEOUT", 15*time.Second),

		Latitude:  getFloatEnv("CALBRIDGE_LAT", 0),
		Longitude: getFloatEnv("CALBRIDGE_LON", 0),

		OAuthClientID:     getEnv("CALBRIDGE_OAUTH_CLIENT_ID", ""),
		OAuthClientSecret: getEnv("CALBRIDGE_OAUTH_CLIENT_SECRET", ""),
		OAuthAuthURL:      getEnv("CALBRIDGE_OAUTH_AUTH_URL", "https://accounts.google.com/o/oauth2/auth"),
		OAuthTokenURL:     getEnv("CALBRIDGE_OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		OAuthRedirectURL:  getEnv("CALBRIDGE_OAUTH_REDIRECT_URL", "urn:ietf:wg:oauth:2.0:oob"),
		OAuthScopes:       getEnv("CALBRIDGE_OAUTH_SCOPES", "https://www.googleapis.com/auth/calendar"),

		CalDAVURL:      getEnv("CALBRIDGE_CALDAV_URL", ""),
		CalDAVUsername: getEnv("CALBRIDGE_CALDAV_USERNAME", ""),
		CalDAVPassword: getEnv("CALBRIDGE_CALDAV_PASSWORD", ""),
		CalDAVPath:     getEnv("CALBRIDGE_CALDAV_PATH", ""),

		HTTPAddr: getEnv("CALBRIDGE_HTTP_ADDR", "127.0.0.1:8145"),
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
