package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/trustbank/trade-api/internal/config"
	"github.com/trustbank/trade-api/internal/types"
)

// Processor runs the two background reliability loops: a polling fallback
// for trades whose webhooks never arrived, and a sweep that fails trades
// stuck in confirming beyond the configured window, triggering compensation.
type Processor struct {
	reconciler *Service
	cfg        *config.Config
}

func NewProcessor(reconciler *Service, cfg *config.Config) *Processor {
	return &Processor{
		reconciler: reconciler,
		cfg:        cfg,
	}
}

// Start runs the poll and sweep loops until the context is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "reconciler_processor").Logger()
	logger.Info().
		Dur("poll_interval", p.cfg.PollInterval).
		Dur("sweep_interval", p.cfg.SweepInterval).
		Dur("confirming_timeout", p.cfg.ConfirmingTimeout).
		Msg("starting reconciliation processor")

	pollTicker := time.NewTicker(p.cfg.PollInterval)
	defer pollTicker.Stop()
	sweepTicker := time.NewTicker(p.cfg.SweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down reconciliation processor")
			return
		case <-pollTicker.C:
			if err := p.pollActiveTrades(ctx); err != nil {
				logger.Error().Err(err).Msg("status poll pass failed")
			}
		case <-sweepTicker.C:
			if err := p.SweepStuckTrades(); err != nil {
				logger.Error().Err(err).Msg("confirming sweep failed")
			}
		}
	}
}

func (p *Processor) pollActiveTrades(ctx context.Context) error {
	trades, err := p.reconciler.trades.ListReconcilable()
	if err != nil {
		return err
	}
	for i := range trades {
		if err := p.reconciler.PollOnce(ctx, &trades[i]); err != nil {
			log.Warn().
				Err(err).
				Str("trade_id", trades[i].TradeID).
				Msg("poll reconciliation failed for trade")
		}
	}
	return nil
}

// SweepStuckTrades fails every trade that has sat in confirming longer than
// the confirming timeout. Failure runs compensation, so reserved funds are
// returned rather than stranded.
func (p *Processor) SweepStuckTrades() error {
	cutoff := time.Now().Add(-p.cfg.ConfirmingTimeout)
	trades, err := p.reconciler.trades.ListStuckConfirming(cutoff)
	if err != nil {
		return err
	}

	for i := range trades {
		trade := &trades[i]
		log.Warn().
			Str("trade_id", trade.TradeID).
			Time("updated_at", trade.UpdatedAt).
			Msg("failing trade stuck in confirming")
		if err := p.reconciler.trades.Transition(trade, types.StatusFailed); err != nil {
			log.Error().
				Err(err).
				Str("trade_id", trade.TradeID).
				Msg("failed to time out stuck trade")
		}
	}
	return nil
}
