package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "STORAGE", "DATABASE_URL", "REDIS_URL", "HISTORY_LIMIT", "RATE_LIMIT_WHITELIST"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "chat_history.db", cfg.StoragePath)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 100, cfg.HistoryLimit)
	assert.Empty(t, cfg.RateLimitWhitelist)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ENV", "staging")
	t.Setenv("STORAGE", "/var/lib/agentchat/chat.db")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("HISTORY_LIMIT", "25")
	t.Setenv("RATE_LIMIT_WHITELIST", "10.0.0.1, 192.168.0.0/16,")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Port)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "/var/lib/agentchat/chat.db", cfg.StoragePath)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 25, cfg.HistoryLimit)
	assert.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.RateLimitWhitelist)
}

func TestLoadIgnoresInvalidHistoryLimit(t *testing.T) {
	t.Setenv("HISTORY_LIMIT", "-3")
	assert.Equal(t, 100, Load().HistoryLimit)
}

func TestLoadRequiresDatabaseInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "")
	assert.Panics(t, func() { Load() })
}
