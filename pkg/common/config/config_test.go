package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.EventsEnabled)
	assert.Equal(t, 0.75, cfg.PotentialMatchRatio)
	assert.Equal(t, time.Hour, cfg.SlotLength)
	assert.Equal(t, 9, cfg.DayStartHour)
	assert.Equal(t, 17, cfg.DayEndHour)
	assert.Equal(t, 5*time.Minute, cfg.AnalyticsCacheTTL)
	assert.Equal(t, int64(16*1024*1024), cfg.MaxRequestBody)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("EVENTS_ENABLED", "false")
	t.Setenv("POTENTIAL_MATCH_RATIO", "0.8")
	t.Setenv("SLOT_LENGTH", "30m")
	t.Setenv("VOICE_MAX_RETRIES", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://dashboard.example.org")

	cfg := Load()
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.EventsEnabled)
	assert.Equal(t, 0.8, cfg.PotentialMatchRatio)
	assert.Equal(t, 30*time.Minute, cfg.SlotLength)
	assert.Equal(t, 5, cfg.VoiceMaxRetries)
	assert.Equal(t, []string{"https://dashboard.example.org"}, cfg.CORSOrigins)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("REDIS_DB", "two")
	t.Setenv("READ_TIMEOUT", "soon")
	t.Setenv("EVENTS_ENABLED", "maybe")

	cfg := Load()
	assert.Equal(t, 0, cfg.RedisDB)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.True(t, cfg.EventsEnabled)
}
