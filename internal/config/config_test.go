package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("TIMEZONE", "")
	t.Setenv("REMINDER_INTERVAL", "")
	t.Setenv("SYNC_INTERVAL", "")
	t.Setenv("MIDNIGHT_TIME", "")
	t.Setenv("JOB_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.TelegramToken)
	assert.Equal(t, "todobot.db", cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, time.UTC, cfg.Timezone)
	assert.Equal(t, 30*time.Second, cfg.ReminderInterval)
	assert.Equal(t, 10*time.Minute, cfg.SyncInterval)
	assert.Equal(t, "00:00", cfg.MidnightTime)
	assert.Equal(t, 2*time.Minute, cfg.JobTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("DATABASE_URL", "data/bot.db")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("REMINDER_INTERVAL", "1m")
	t.Setenv("SYNC_INTERVAL", "5m")
	t.Setenv("MIDNIGHT_TIME", "00:05")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "data/bot.db", cfg.DatabaseURL)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone.String())
	assert.Equal(t, time.Minute, cfg.ReminderInterval)
	assert.Equal(t, 5*time.Minute, cfg.SyncInterval)
	assert.Equal(t, "00:05", cfg.MidnightTime)
}

func TestLoadRejectsMissingToken(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TIMEZONE", "Mars/Olympus")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadIgnoresBadDurations(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("REMINDER_INTERVAL", "soon")
	t.Setenv("SYNC_INTERVAL", "-5m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.ReminderInterval)
	assert.Equal(t, 10*time.Minute, cfg.SyncInterval)
}
