package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr string

	RedisURL    string
	DatabaseURL string

	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration

	PresetsFile string
	MessagesDir string

	TickInterval     time.Duration
	SessionRetention time.Duration
	ChallengeTTL     time.Duration
	SeekTTL          time.Duration
	LiveStateTTL     time.Duration
	BusBuffer        int

	WSRateLimit float64
	WSBurst     int

	// AdminToken guards game suspension; empty disables the admin routes.
	AdminToken string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:         ":8080",
		WebhookTimeout:   5 * time.Second,
		TickInterval:     time.Second,
		SessionRetention: 5 * time.Minute,
		ChallengeTTL:     2 * time.Minute,
		SeekTTL:          10 * time.Minute,
		LiveStateTTL:     time.Hour,
		BusBuffer:        256,
		WSRateLimit:      10,
		WSBurst:          20,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.WebhookURL = strings.TrimSpace(os.Getenv("WEBHOOK_URL"))
	cfg.WebhookSecret = strings.TrimSpace(os.Getenv("WEBHOOK_SECRET"))
	cfg.PresetsFile = strings.TrimSpace(os.Getenv("PRESETS_FILE"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	cfg.AdminToken = strings.TrimSpace(os.Getenv("ADMIN_TOKEN"))

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"WEBHOOK_TIMEOUT", &cfg.WebhookTimeout},
		{"TICK_INTERVAL", &cfg.TickInterval},
		{"SESSION_RETENTION", &cfg.SessionRetention},
		{"CHALLENGE_TTL", &cfg.ChallengeTTL},
		{"SEEK_TTL", &cfg.SeekTTL},
		{"LIVESTATE_TTL", &cfg.LiveStateTTL},
	}
	for _, d := range durations {
		if v := strings.TrimSpace(os.Getenv(d.env)); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
				*d.dst = parsed
			}
		}
	}

	if v := strings.TrimSpace(os.Getenv("BUS_BUFFER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BusBuffer = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("WS_RATE_LIMIT")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.WSRateLimit = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("WS_BURST")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WSBurst = n
		}
	}

	if cfg.TickInterval < 100*time.Millisecond {
		return nil, errors.New("TICK_INTERVAL must be at least 100ms")
	}
	return cfg, nil
}
