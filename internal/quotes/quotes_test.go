package quotes_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustbank/trade-api/internal/config"
	"github.com/trustbank/trade-api/internal/exchange"
	"github.com/trustbank/trade-api/internal/quotes"
	"github.com/trustbank/trade-api/internal/types"
)

func testConfig() *config.Config {
	return &config.Config{
		QuoteTTL:          2 * time.Minute,
		PriceCacheTTL:     10 * time.Second,
		SupportedPairs:    []string{"btc_ngn", "eth_ngn", "usdt_ngn"},
		ExchangeFeeRate:   decimal.NewFromFloat(0.001),
		PlatformFeeRate:   decimal.NewFromFloat(0.002),
		ProcessingFeeRate: decimal.NewFromFloat(0.0005),
	}
}

func TestQuoteFeeDecomposition(t *testing.T) {
	sim := exchange.NewSimulator()
	sim.SetPrice("btc_ngn", 95_000_000)
	provider := quotes.NewProvider(sim, testConfig())

	quote, err := provider.GetQuote(context.Background(), "btc_ngn", types.SideBuy, 0.001)
	require.NoError(t, err)

	// Notional 95,000 at the canonical rates: 0.1% + 0.2% + 0.05%
	assert.Equal(t, 95_000_000.0, quote.Rate)
	assert.Equal(t, 95.0, quote.Fees.Exchange)
	assert.Equal(t, 190.0, quote.Fees.Platform)
	assert.Equal(t, 47.5, quote.Fees.Processing)
	assert.Equal(t, 95_332.5, quote.Total)

	// total == amount*rate + fees.total
	assert.InDelta(t, quote.Volume*quote.Rate+quote.Fees.Total(), quote.Total, 0.01)
	assert.WithinDuration(t, time.Now().Add(testConfig().QuoteTTL), quote.ExpiresAt, 2*time.Second)
}

func TestUnsupportedPairRejected(t *testing.T) {
	provider := quotes.NewProvider(exchange.NewSimulator(), testConfig())

	_, err := provider.GetQuote(context.Background(), "doge_ngn", types.SideBuy, 1)
	require.ErrorIs(t, err, types.ErrUnsupportedPair)
}

func TestNonPositiveVolumeRejected(t *testing.T) {
	provider := quotes.NewProvider(exchange.NewSimulator(), testConfig())

	_, err := provider.GetQuote(context.Background(), "btc_ngn", types.SideBuy, 0)
	require.ErrorIs(t, err, types.ErrRateUnavailable)
}

func TestUpstreamFailureIsRateUnavailable(t *testing.T) {
	sim := exchange.NewSimulator()
	sim.FailNextPrice(errors.New("upstream timeout"))
	provider := quotes.NewProvider(sim, testConfig())

	_, err := provider.GetQuote(context.Background(), "btc_ngn", types.SideBuy, 0.001)
	require.ErrorIs(t, err, types.ErrRateUnavailable)
}

func TestNonPositivePriceIsRateUnavailable(t *testing.T) {
	sim := exchange.NewSimulator()
	sim.SetPrice("btc_ngn", 0)
	provider := quotes.NewProvider(sim, testConfig())

	_, err := provider.GetQuote(context.Background(), "btc_ngn", types.SideBuy, 0.001)
	require.ErrorIs(t, err, types.ErrRateUnavailable)
}

func TestConsumeIsOneShot(t *testing.T) {
	provider := quotes.NewProvider(exchange.NewSimulator(), testConfig())

	quote, err := provider.GetQuote(context.Background(), "btc_ngn", types.SideBuy, 0.001)
	require.NoError(t, err)

	consumed, err := provider.Consume(quote.QuoteID)
	require.NoError(t, err)
	assert.Equal(t, quote.QuoteID, consumed.QuoteID)

	_, err = provider.Consume(quote.QuoteID)
	require.ErrorIs(t, err, types.ErrQuoteExpired)
}

func TestExpiredQuoteNeverConsumed(t *testing.T) {
	cfg := testConfig()
	cfg.QuoteTTL = -time.Second
	provider := quotes.NewProvider(exchange.NewSimulator(), cfg)

	quote, err := provider.GetQuote(context.Background(), "btc_ngn", types.SideBuy, 0.001)
	require.NoError(t, err)

	_, err = provider.Consume(quote.QuoteID)
	require.ErrorIs(t, err, types.ErrQuoteExpired)
}

func TestPriceCacheServesWithinTTL(t *testing.T) {
	sim := exchange.NewSimulator()
	sim.SetPrice("btc_ngn", 95_000_000)
	provider := quotes.NewProvider(sim, testConfig())

	first, err := provider.GetQuote(context.Background(), "btc_ngn", types.SideBuy, 0.001)
	require.NoError(t, err)

	// The cached price holds even though the upstream moved.
	sim.SetPrice("btc_ngn", 99_000_000)
	second, err := provider.GetQuote(context.Background(), "btc_ngn", types.SideBuy, 0.001)
	require.NoError(t, err)
	assert.Equal(t, first.Rate, second.Rate)
}

func TestPriceCacheExpiryForcesRefetch(t *testing.T) {
	sim := exchange.NewSimulator()
	sim.SetPrice("btc_ngn", 95_000_000)
	cfg := testConfig()
	cfg.PriceCacheTTL = 0
	provider := quotes.NewProvider(sim, cfg)

	_, err := provider.GetQuote(context.Background(), "btc_ngn", types.SideBuy, 0.001)
	require.NoError(t, err)

	sim.SetPrice("btc_ngn", 99_000_000)
	refreshed, err := provider.GetQuote(context.Background(), "btc_ngn", types.SideBuy, 0.001)
	require.NoError(t, err)
	assert.Equal(t, 99_000_000.0, refreshed.Rate)
}
