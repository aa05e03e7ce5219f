package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func setRequired(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("DO_SPACES_BUCKET", "lesions")
	t.Setenv("DO_SPACES_KEY", "key")
	t.Setenv("DO_SPACES_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg := Load()

	assert.Equal(t, "4000", cfg.Port)
	assert.Equal(t, "skin_lesion_db", cfg.MongoDB)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "http://localhost:5000", cfg.InferenceURL)
	assert.Equal(t, "qwen-turbo", cfg.LLM.SummaryModel)
	assert.Equal(t, "qwen-max", cfg.LLM.ChatModel)
	assert.Equal(t, "lesions", cfg.Storage.Bucket)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.Cache.Caches("get"))
	assert.False(t, cfg.Cache.Caches("POST"))
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TOKEN_TTL", "1h")
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	t.Setenv("CACHE_METHODS", "GET, HEAD")

	cfg := Load()
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, 1, cfg.RateLimit.Capacity)
	assert.Equal(t, 5*cfg.RateLimit.RefillInterval, cfg.RateLimit.TTL)
	assert.True(t, cfg.Cache.Caches("HEAD"))
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, levelFromString("", true))
	assert.Equal(t, zapcore.InfoLevel, levelFromString("", false))
	assert.Equal(t, zapcore.WarnLevel, levelFromString("warning", false))
	assert.Equal(t, zapcore.InfoLevel, levelFromString("loud", true))
}
