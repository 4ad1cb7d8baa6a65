package quotes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/trustbank/trade-api/internal/config"
	"github.com/trustbank/trade-api/internal/types"
)

// PriceSource supplies the current fiat price for a currency pair. The
// exchange client satisfies this.
type PriceSource interface {
	TickerPrice(ctx context.Context, pair string) (float64, error)
}

// Provider issues time-boxed rate locks. Prices are cached per pair for a
// short window; the quotes built from them carry the full quote TTL and are
// held until consumed by a trade or expired. This cache is the only
// in-process shared state in the service.
type Provider struct {
	source PriceSource
	cfg    *config.Config

	mu     sync.Mutex
	prices map[string]cachedPrice
	issued map[string]*types.Quote
}

type cachedPrice struct {
	price     float64
	fetchedAt time.Time
}

func NewProvider(source PriceSource, cfg *config.Config) *Provider {
	return &Provider{
		source: source,
		cfg:    cfg,
		prices: make(map[string]cachedPrice),
		issued: make(map[string]*types.Quote),
	}
}

// GetQuote fetches the current rate for a pair and side and returns a quote
// with the computed fee breakdown and an explicit expiry. Failures of the
// upstream price call surface as ErrRateUnavailable; callers must not fall
// back to a stale rate for financial calculations.
func (p *Provider) GetQuote(ctx context.Context, pair string, side types.TradeSide, volume float64) (*types.Quote, error) {
	if !p.cfg.SupportsPair(pair) {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedPair, pair)
	}
	if volume <= 0 {
		return nil, fmt.Errorf("%w: volume must be positive", types.ErrRateUnavailable)
	}
	if side != types.SideBuy && side != types.SideSell {
		return nil, fmt.Errorf("invalid trade side %q", side)
	}

	price, err := p.price(ctx, pair)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rate := decimal.NewFromFloat(price)
	amount := decimal.NewFromFloat(volume)
	notional := amount.Mul(rate)

	fees := types.FeeBreakdown{
		Exchange:   notional.Mul(p.cfg.ExchangeFeeRate).Round(2).InexactFloat64(),
		Platform:   notional.Mul(p.cfg.PlatformFeeRate).Round(2).InexactFloat64(),
		Processing: notional.Mul(p.cfg.ProcessingFeeRate).Round(2).InexactFloat64(),
	}
	total := notional.Round(2).
		Add(decimal.NewFromFloat(fees.Total())).
		InexactFloat64()

	quote := &types.Quote{
		QuoteID:   "QTE_" + uuid.New().String(),
		Pair:      pair,
		Side:      side,
		Volume:    amount.Round(8).InexactFloat64(),
		Rate:      rate.InexactFloat64(),
		Fees:      fees,
		Total:     total,
		ExpiresAt: now.Add(p.cfg.QuoteTTL),
		CreatedAt: now,
	}

	p.mu.Lock()
	p.issued[quote.QuoteID] = quote
	p.mu.Unlock()

	log.Debug().
		Str("quote_id", quote.QuoteID).
		Str("pair", pair).
		Str("side", string(side)).
		Float64("rate", quote.Rate).
		Float64("total", quote.Total).
		Time("expires_at", quote.ExpiresAt).
		Msg("quote issued")

	return quote, nil
}

// Consume redeems an issued quote for trade creation. A quote can be
// consumed exactly once and never after its expiry.
func (p *Provider) Consume(quoteID string) (*types.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	quote, ok := p.issued[quoteID]
	if !ok {
		return nil, fmt.Errorf("%w: quote %s not found", types.ErrQuoteExpired, quoteID)
	}
	delete(p.issued, quoteID)

	if quote.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: quote %s expired at %s",
			types.ErrQuoteExpired, quoteID, quote.ExpiresAt.Format(time.RFC3339))
	}
	return quote, nil
}

// price returns a cached price when fresh, otherwise fetches from the source
// and validates it. Expired cache entries are dropped, never served.
func (p *Provider) price(ctx context.Context, pair string) (float64, error) {
	p.mu.Lock()
	cached, ok := p.prices[pair]
	if ok && time.Since(cached.fetchedAt) < p.cfg.PriceCacheTTL {
		p.mu.Unlock()
		return cached.price, nil
	}
	delete(p.prices, pair)
	p.mu.Unlock()

	price, err := p.source.TickerPrice(ctx, pair)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrRateUnavailable, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %f for %s", types.ErrRateUnavailable, price, pair)
	}

	p.mu.Lock()
	p.prices[pair] = cachedPrice{price: price, fetchedAt: time.Now()}
	// Drop issued quotes that can no longer be consumed.
	for id, q := range p.issued {
		if q.Expired(time.Now()) {
			delete(p.issued, id)
		}
	}
	p.mu.Unlock()

	return price, nil
}
