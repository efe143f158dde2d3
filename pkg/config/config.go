package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Application settings
type Config struct {
	Server   ServerConfig
	Logging  LoggingConfig
	Store    StoreConfig
	Redis    RedisConfig
	Billing  BillingConfig
	Auction  AuctionConfig
	EventHub EventHubConfig
}

// Server settings
type ServerConfig struct {
	Port            string
	RequestTimeout  time.Duration
	TrackRateLimit  float64
	TrackRateBurst  int
	ShutdownTimeout time.Duration
}

// Logging settings
type LoggingConfig struct {
	Level string
}

// StoreConfig selects the ad/account/event storage backend.
type StoreConfig struct {
	Driver string // memory, postgres or sqlite
	DSN    string
	// SeedFile optionally loads accounts and ads at startup.
	SeedFile string
}

// RedisConfig enables the per (ad, device) click lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type BillingConfig struct {
	DuplicateClickWindow time.Duration
	Location             *time.Location
}

// CTRTier maps a minimum click-through rate to a score multiplier.
type CTRTier struct {
	MinRate float64
	Score   float64
}

type AuctionConfig struct {
	// Tiers are sorted by MinRate, highest first.
	Tiers          []CTRTier
	ColdStartScore float64
	ZeroCTRScore   float64
	LowCTRScore    float64
	RelevanceMatch float64
	RelevanceMiss  float64
}

// EventHubConfig configures downstream fan-out of recorded events.
type EventHubConfig struct {
	Sink             string // none, webhook or kafka
	WebhookURL       string
	WebhookSecret    string
	WebhookRateLimit int
	WebhookTimeout   time.Duration
	KafkaBrokers     []string
	KafkaTopic       string
}

const defaultCTRTiers = "0.10=1.5,0.05=1.3,0.02=1.1"

// DefaultAuction returns the stock scoring parameters.
func DefaultAuction() AuctionConfig {
	tiers, _ := ParseCTRTiers(defaultCTRTiers)
	return AuctionConfig{
		Tiers:          tiers,
		ColdStartScore: 1.0,
		ZeroCTRScore:   0.85,
		LowCTRScore:    0.95,
		RelevanceMatch: 1.25,
		RelevanceMiss:  0.85,
	}
}

func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	tiers, err := ParseCTRTiers(v.GetString("AUCTION_CTR_TIERS"))
	if err != nil {
		return nil, err
	}

	location, err := time.LoadLocation(v.GetString("BILLING_TIMEZONE"))
	if err != nil {
		return nil, fmt.Errorf("invalid BILLING_TIMEZONE: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Port:            v.GetString("PORT"),
			RequestTimeout:  v.GetDuration("REQUEST_TIMEOUT"),
			TrackRateLimit:  v.GetFloat64("TRACK_RATE_LIMIT"),
			TrackRateBurst:  v.GetInt("TRACK_RATE_BURST"),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
		Store: StoreConfig{
			Driver:   strings.ToLower(v.GetString("STORE_DRIVER")),
			DSN:      v.GetString("DATABASE_DSN"),
			SeedFile: v.GetString("SEED_FILE"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Billing: BillingConfig{
			DuplicateClickWindow: v.GetDuration("DUPLICATE_CLICK_WINDOW"),
			Location:             location,
		},
		Auction: AuctionConfig{
			Tiers:          tiers,
			ColdStartScore: v.GetFloat64("AUCTION_COLD_START_SCORE"),
			ZeroCTRScore:   v.GetFloat64("AUCTION_ZERO_CTR_SCORE"),
			LowCTRScore:    v.GetFloat64("AUCTION_LOW_CTR_SCORE"),
			RelevanceMatch: v.GetFloat64("AUCTION_RELEVANCE_MATCH"),
			RelevanceMiss:  v.GetFloat64("AUCTION_RELEVANCE_MISS"),
		},
		EventHub: EventHubConfig{
			Sink:             strings.ToLower(v.GetString("EVENT_SINK")),
			WebhookURL:       v.GetString("WEBHOOK_URL"),
			WebhookSecret:    v.GetString("WEBHOOK_SECRET"),
			WebhookRateLimit: v.GetInt("WEBHOOK_RATE_LIMIT"),
			WebhookTimeout:   v.GetDuration("WEBHOOK_TIMEOUT"),
			KafkaBrokers:     splitList(v.GetString("KAFKA_BROKERS")),
			KafkaTopic:       v.GetString("KAFKA_TOPIC"),
		},
	}

	if config.Billing.DuplicateClickWindow <= 0 {
		return nil, fmt.Errorf("DUPLICATE_CLICK_WINDOW must be positive")
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("TRACK_RATE_LIMIT", 50)
	v.SetDefault("TRACK_RATE_BURST", 100)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", "memory")
	v.SetDefault("DATABASE_DSN", "")
	v.SetDefault("SEED_FILE", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DUPLICATE_CLICK_WINDOW", "60s")
	v.SetDefault("BILLING_TIMEZONE", "UTC")
	v.SetDefault("AUCTION_CTR_TIERS", defaultCTRTiers)
	v.SetDefault("AUCTION_COLD_START_SCORE", 1.0)
	v.SetDefault("AUCTION_ZERO_CTR_SCORE", 0.85)
	v.SetDefault("AUCTION_LOW_CTR_SCORE", 0.95)
	v.SetDefault("AUCTION_RELEVANCE_MATCH", 1.25)
	v.SetDefault("AUCTION_RELEVANCE_MISS", 0.85)
	v.SetDefault("EVENT_SINK", "none")
	v.SetDefault("WEBHOOK_URL", "")
	v.SetDefault("WEBHOOK_SECRET", "")
	v.SetDefault("WEBHOOK_RATE_LIMIT", 100)
	v.SetDefault("WEBHOOK_TIMEOUT", "5s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "tracking-events")
}

// ParseCTRTiers parses "rate=score" pairs separated by commas, e.g. "0.10=1.5,0.05=1.3".
func ParseCTRTiers(raw string) ([]CTRTier, error) {
	var tiers []CTRTier
	for _, part := range splitList(raw) {
		rate, score, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid CTR tier %q: expected rate=score", part)
		}
		minRate, err := strconv.ParseFloat(strings.TrimSpace(rate), 64)
		if err != nil || minRate <= 0 || minRate > 1 {
			return nil, fmt.Errorf("invalid CTR tier rate %q", rate)
		}
		multiplier, err := strconv.ParseFloat(strings.TrimSpace(score), 64)
		if err != nil || multiplier < 0 {
			return nil, fmt.Errorf("invalid CTR tier score %q", score)
		}
		tiers = append(tiers, CTRTier{MinRate: minRate, Score: multiplier})
	}

	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].MinRate > tiers[j].MinRate
	})

	return tiers, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
