package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config keeps runtime settings for the bot and its workers.
type Config struct {
	TelegramToken string
	DatabaseURL   string
	RedisAddr     string
	Timezone      *time.Location

	ReminderInterval time.Duration
	SyncInterval     time.Duration
	MidnightTime     string
	SummaryTime      string
	JobTimeout       time.Duration
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	cfg := Config{
		TelegramToken:    strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:        strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		ReminderInterval: parseDuration(os.Getenv("REMINDER_INTERVAL"), 30*time.Second),
		SyncInterval:     parseDuration(os.Getenv("SYNC_INTERVAL"), 10*time.Minute),
		MidnightTime:     strings.TrimSpace(os.Getenv("MIDNIGHT_TIME")),
		SummaryTime:      strings.TrimSpace(os.Getenv("SUMMARY_TIME")),
		JobTimeout:       parseDuration(os.Getenv("JOB_TIMEOUT"), 2*time.Minute),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "todobot.db"
	}
	if cfg.MidnightTime == "" {
		cfg.MidnightTime = "00:00"
	}
	if cfg.SummaryTime == "" {
		cfg.SummaryTime = "08:00"
	}

	tz := strings.TrimSpace(os.Getenv("TIMEZONE"))
	if tz == "" {
		cfg.Timezone = time.UTC
	} else {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return cfg, fmt.Errorf("TIMEZONE %q: %w", tz, err)
		}
		cfg.Timezone = loc
	}

	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN is required")
	}

	return cfg, nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
