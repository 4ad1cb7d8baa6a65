package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// TierLimit caps a KYC tier's fiat trade volume per UTC day and calendar month.
type TierLimit struct {
	Daily   float64
	Monthly float64
}

// Config is the single configuration surface for the service. Every TTL,
// timeout and fee rate lives here; nothing else in the codebase carries its
// own magic numbers for these.
type Config struct {
	Port         string
	DatabasePath string
	JWTSecret    string

	// Exchange boundary
	ExchangeBaseURL string
	ExchangeAPIKey  string
	WebhookSecret   string

	// Quote provider
	QuoteTTL       time.Duration
	PriceCacheTTL  time.Duration
	SupportedPairs []string

	// Fee model: flat rates applied to the fiat notional.
	ExchangeFeeRate   decimal.Decimal
	PlatformFeeRate   decimal.Decimal
	ProcessingFeeRate decimal.Decimal

	// Reconciliation
	PollInterval      time.Duration
	SweepInterval     time.Duration
	ConfirmingTimeout time.Duration

	// KYC tier limits, fiat-denominated.
	TierLimits map[int]TierLimit
}

// Load reads configuration from the environment, after loading a .env file
// if one is present. Missing values fall back to development defaults;
// secrets must be set explicitly in production.
func Load() (*Config, error) {
	// A missing .env file is fine; env vars may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		Port:            envOr("PORT", "8080"),
		DatabasePath:    envOr("DATABASE_PATH", "trade-api.db"),
		JWTSecret:       envOr("JWT_SECRET", "trade-api-secret-key"),
		ExchangeBaseURL: envOr("EXCHANGE_BASE_URL", "http://localhost:9090"),
		ExchangeAPIKey:  envOr("EXCHANGE_API_KEY", ""),
		WebhookSecret:   envOr("WEBHOOK_SECRET", "trade-api-webhook-secret"),
		SupportedPairs:  []string{"btc_ngn", "eth_ngn", "usdt_ngn"},
		TierLimits: map[int]TierLimit{
			1: {Daily: 100_000, Monthly: 1_000_000},
			2: {Daily: 1_000_000, Monthly: 10_000_000},
			3: {Daily: 10_000_000, Monthly: 100_000_000},
		},
	}

	var err error
	if cfg.QuoteTTL, err = envDuration("QUOTE_TTL", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.PriceCacheTTL, err = envDuration("PRICE_CACHE_TTL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = envDuration("POLL_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = envDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ConfirmingTimeout, err = envDuration("CONFIRMING_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}

	if cfg.ExchangeFeeRate, err = envDecimal("EXCHANGE_FEE_RATE", "0.001"); err != nil {
		return nil, err
	}
	if cfg.PlatformFeeRate, err = envDecimal("PLATFORM_FEE_RATE", "0.002"); err != nil {
		return nil, err
	}
	if cfg.ProcessingFeeRate, err = envDecimal("PROCESSING_FEE_RATE", "0.0005"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	// Accept either a bare number of seconds or a Go duration string.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

func envDecimal(key, fallback string) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal for %s: %w", key, err)
	}
	return d, nil
}

// SupportsPair reports whether the pair is tradeable.
func (c *Config) SupportsPair(pair string) bool {
	for _, p := range c.SupportedPairs {
		if p == pair {
			return true
		}
	}
	return false
}

// LimitsForTier returns the fiat limits for a KYC tier, falling back to the
// lowest tier for unknown values.
func (c *Config) LimitsForTier(tier int) TierLimit {
	if l, ok := c.TierLimits[tier]; ok {
		return l
	}
	return c.TierLimits[1]
}
