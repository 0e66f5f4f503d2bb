package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr     string
	Env      string
	LogLevel string
	// APIToken guards the control API when set.
	APIToken string
	// Redis Configuration
	RedisURL string
	// Browser: attach to CDPURL when set, otherwise launch Chrome on AppURL.
	CDPURL   string
	AppURL   string
	Headless bool
	// Feature switches
	Enabled       bool
	AutoUpdateURL bool
	DefaultTitle  string
	// SettingsFile persists the feature switches when set.
	SettingsFile string
	// Timings
	Debounce          time.Duration
	LockGrace         time.Duration
	Settle            time.Duration
	ScrollRetry       time.Duration
	HighlightDuration time.Duration
	HandoffTTL        time.Duration
	ShortLinkTTL      time.Duration
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory if there is one.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:              getenv("CHATNAV_ADDR", "127.0.0.1:8788"),
		Env:               getenv("CHATNAV_ENV", "development"),
		LogLevel:          getenv("CHATNAV_LOG_LEVEL", "info"),
		APIToken:          getenv("CHATNAV_API_TOKEN", ""),
		RedisURL:          getenv("REDIS_URL", "redis://localhost:6379/0"),
		CDPURL:            getenv("CHATNAV_CDP_URL", ""),
		AppURL:            getenv("CHATNAV_APP_URL", "http://127.0.0.1:8000/"),
		Headless:          getenvBool("CHATNAV_HEADLESS", false),
		Enabled:           getenvBool("CHATNAV_ENABLED", true),
		AutoUpdateURL:     getenvBool("CHATNAV_AUTO_UPDATE_URL", true),
		DefaultTitle:      getenv("CHATNAV_DEFAULT_TITLE", "SillyTavern"),
		SettingsFile:      getenv("CHATNAV_SETTINGS_FILE", ""),
		Debounce:          getenvMillis("CHATNAV_DEBOUNCE_MS", 300),
		LockGrace:         getenvMillis("CHATNAV_LOCK_GRACE_MS", 500),
		Settle:            getenvMillis("CHATNAV_SETTLE_MS", 2000),
		ScrollRetry:       getenvMillis("CHATNAV_SCROLL_RETRY_MS", 500),
		HighlightDuration: getenvMillis("CHATNAV_HIGHLIGHT_MS", 2000),
		HandoffTTL:        getenvMillis("CHATNAV_HANDOFF_TTL_MS", 10000),
		ShortLinkTTL:      time.Duration(getenvInt("CHATNAV_SHORTLINK_TTL_HOURS", 7*24)) * time.Hour,
	}
}

// IsDevelopment returns true if running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvMillis(key string, fallback int) time.Duration {
	ms := getenvInt(key, fallback)
	if ms <= 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}
