package config

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 50.0, cfg.Server.TrackRateLimit)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 60*time.Second, cfg.Billing.DuplicateClickWindow)
	assert.Equal(t, time.UTC, cfg.Billing.Location)
	assert.Equal(t, DefaultAuction(), cfg.Auction)
	assert.Equal(t, "none", cfg.EventHub.Sink)
	assert.Equal(t, "tracking-events", cfg.EventHub.KafkaTopic)
	assert.Empty(t, cfg.EventHub.KafkaBrokers)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_DSN", "postgres://localhost/ads")
	t.Setenv("DUPLICATE_CLICK_WINDOW", "2m")
	t.Setenv("BILLING_TIMEZONE", "Asia/Jakarta")
	t.Setenv("AUCTION_CTR_TIERS", "0.2=2")
	t.Setenv("EVENT_SINK", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/ads", cfg.Store.DSN)
	assert.Equal(t, 2*time.Minute, cfg.Billing.DuplicateClickWindow)
	assert.Equal(t, "Asia/Jakarta", cfg.Billing.Location.String())
	assert.Equal(t, []CTRTier{{MinRate: 0.2, Score: 2}}, cfg.Auction.Tiers)
	assert.Equal(t, "kafka", cfg.EventHub.Sink)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.EventHub.KafkaBrokers)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero window", "DUPLICATE_CLICK_WINDOW", "0s"},
		{"negative window", "DUPLICATE_CLICK_WINDOW", "-5s"},
		{"unknown timezone", "BILLING_TIMEZONE", "Mars/Olympus"},
		{"malformed tiers", "AUCTION_CTR_TIERS", "0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseCTRTiers(t *testing.T) {
	tiers, err := ParseCTRTiers(" 0.02=1.1 , 0.10=1.5,0.05=1.3")
	require.NoError(t, err)
	assert.Equal(t, []CTRTier{
		{MinRate: 0.10, Score: 1.5},
		{MinRate: 0.05, Score: 1.3},
		{MinRate: 0.02, Score: 1.1},
	}, tiers)

	tiers, err = ParseCTRTiers("")
	require.NoError(t, err)
	assert.Empty(t, tiers)

	for _, raw := range []string{"abc", "x=1", "0.1=y", "0=1", "1.5=1", "0.1=-1"} {
		_, err := ParseCTRTiers(raw)
		assert.Error(t, err, raw)
	}
}
