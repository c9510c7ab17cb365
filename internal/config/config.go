package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	Port        string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	PushWorkers        int
	PushTimeout        time.Duration
	PushTTL            time.Duration
	PushIcon           string
	PushRetireRejected bool
	WebhookSecret      string
	PresenceWindow     time.Duration

	LogLevel  zerolog.Level
	LogFormat string
}

// Load reads configuration from the environment, after merging in a .env
// file when one exists. Variables already set win over .env.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	c := &Config{
		Port:               getenv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		VAPIDPublicKey:     os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:    os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:       getenv("VAPID_SUBJECT", "mailto:admin@example.com"),
		PushIcon:           getenv("PUSH_ICON", "/icons/icon-192.png"),
		WebhookSecret:      os.Getenv("PUSH_WEBHOOK_SECRET"),
		LogFormat:          getenv("LOG_FORMAT", "json"),
		PushRetireRejected: true,
	}

	var err error
	if c.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	if c.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if c.PushWorkers, err = intEnv("PUSH_WORKERS", 8); err != nil {
		return nil, err
	}
	if c.PushWorkers < 1 {
		return nil, fmt.Errorf("PUSH_WORKERS must be at least 1, got %d", c.PushWorkers)
	}
	if c.PushTimeout, err = durationEnv("PUSH_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if c.PushTimeout <= 0 {
		return nil, fmt.Errorf("PUSH_TIMEOUT must be positive, got %s", c.PushTimeout)
	}
	if c.PushTTL, err = durationEnv("PUSH_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if c.PushTTL < time.Second {
		return nil, fmt.Errorf("PUSH_TTL must be at least 1s, got %s", c.PushTTL)
	}
	if c.PresenceWindow, err = durationEnv("PRESENCE_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if c.PresenceWindow <= 0 {
		return nil, fmt.Errorf("PRESENCE_WINDOW must be positive, got %s", c.PresenceWindow)
	}
	if v := os.Getenv("PUSH_RETIRE_ON_AUTH_FAILURE"); v != "" {
		if c.PushRetireRejected, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("PUSH_RETIRE_ON_AUTH_FAILURE: %w", err)
		}
	}
	if c.LogLevel, err = zerolog.ParseLevel(strings.ToLower(getenv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return c, nil
}

// PushConfigured reports whether both VAPID keys are present.
func (c *Config) PushConfigured() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// durationEnv accepts Go durations ("15s") or plain seconds ("15").
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
