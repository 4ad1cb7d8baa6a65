package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/trustbank/trade-api/internal/config"
	"github.com/trustbank/trade-api/internal/kyc"
	"github.com/trustbank/trade-api/internal/payment"
	"github.com/trustbank/trade-api/internal/quotes"
	"github.com/trustbank/trade-api/internal/types"
	"github.com/trustbank/trade-api/internal/wallet"
	"gorm.io/gorm"
)

// transitions is the authoritative lifecycle table. Everything not listed
// here is rejected; failed is reachable from every non-terminal state.
var transitions = map[types.TradeStatus][]types.TradeStatus{
	types.StatusInitiated:  {types.StatusProcessing, types.StatusFailed},
	types.StatusProcessing: {types.StatusConfirming, types.StatusFailed},
	types.StatusConfirming: {types.StatusCompleted, types.StatusFailed},
}

// CanTransition reports whether the lifecycle table allows from -> to.
func CanTransition(from, to types.TradeStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Service owns the trade lifecycle: creation against a live quote, payment
// submission, validated status transitions and their wallet side effects,
// and compensation when a trade fails after funds were reserved.
type Service struct {
	db       *Database
	quotes   *quotes.Provider
	wallets  *wallet.Service
	kyc      *kyc.Service
	payments *payment.Adapter
	cfg      *config.Config
}

func NewService(
	gormDB *gorm.DB,
	quoteProvider *quotes.Provider,
	wallets *wallet.Service,
	kycService *kyc.Service,
	payments *payment.Adapter,
	cfg *config.Config,
) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		quotes:   quoteProvider,
		wallets:  wallets,
		kyc:      kycService,
		payments: payments,
		cfg:      cfg,
	}
}

// CreateTradeRequest seeds a trade from an issued quote.
type CreateTradeRequest struct {
	QuoteID       string              `json:"quote_id" binding:"required"`
	PaymentMethod types.PaymentMethod `json:"payment_method" binding:"required"`
}

// CreateTrade consumes the quote, checks tier eligibility, persists the
// trade in initiated and pushes it through payment submission. Replays of
// the same idempotency key return the originally created trade.
func (s *Service) CreateTrade(ctx context.Context, userID string, req *CreateTradeRequest, idempotencyKey string) (*types.Trade, error) {
	if record, err := s.db.GetIdempotencyRecord(idempotencyKey); err == nil && record != nil && record.ExpiresAt.After(time.Now()) {
		existing, err := s.db.GetTrade(record.ResourceID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, errors.New("trade for idempotency key not found")
		}
		return existing, nil
	}

	quote, err := s.quotes.Consume(req.QuoteID)
	if err != nil {
		return nil, err
	}

	if err := s.kyc.CheckEligibility(userID, quote.Total); err != nil {
		return nil, err
	}

	currency := quote.Pair[:len(quote.Pair)-len("_"+types.FiatCurrency)]
	trade := &types.Trade{
		TradeID:       "TRD_" + uuid.New().String(),
		UserID:        userID,
		Side:          quote.Side,
		Currency:      currency,
		Amount:        quote.Volume,
		Rate:          quote.Rate,
		Total:         quote.Total,
		FeeExchange:   quote.Fees.Exchange,
		FeePlatform:   quote.Fees.Platform,
		FeeProcessing: quote.Fees.Processing,
		Status:        types.StatusInitiated,
		PaymentMethod: req.PaymentMethod,
		QuoteID:       quote.QuoteID,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	// Re-verify the limit windows after the insert, in the same transaction.
	// Two creations racing past the pre-check both insert; the one whose
	// re-check sees the combined volume breach rolls back here.
	if err := s.db.CreateTradeWithIdempotency(trade, idempotencyKey, func(tx *gorm.DB) error {
		return s.kyc.VerifyCommitted(tx, userID)
	}); err != nil {
		return nil, err
	}

	if err := s.SubmitPayment(ctx, trade); err != nil {
		return trade, err
	}
	return trade, nil
}

// SubmitPayment moves an initiated trade into processing, reserving wallet
// funds where applicable, and dispatches it through the payment adapter.
// Wallet payments confirm synchronously; card and bank transfer stay in
// processing until the reconciler resolves them.
func (s *Service) SubmitPayment(ctx context.Context, trade *types.Trade) error {
	if err := s.Transition(trade, types.StatusProcessing); err != nil {
		if errors.Is(err, types.ErrInsufficientBalance) {
			// Nothing was reserved, so failing here needs no compensation.
			if ferr := s.Transition(trade, types.StatusFailed); ferr != nil {
				log.Error().Err(ferr).Str("trade_id", trade.TradeID).Msg("failed to fail unfunded trade")
			}
		}
		return err
	}

	result, err := s.payments.Submit(ctx, trade)
	if err != nil {
		if ferr := s.Transition(trade, types.StatusFailed); ferr != nil {
			log.Error().Err(ferr).Str("trade_id", trade.TradeID).Msg("failed to fail rejected trade")
		}
		return err
	}

	if err := s.db.SetSubmissionResult(trade, result.ExternalReference, result.RedirectURL); err != nil {
		return err
	}

	if result.Synchronous {
		return s.Transition(trade, types.StatusConfirming)
	}
	return nil
}

// Transition applies a validated lifecycle transition and its side effects.
// The status write is a conditional update on the current status, so when
// two callers race, exactly one wins and applies the wallet side effects;
// the loser reloads and no-ops if the trade already reached the target.
func (s *Service) Transition(trade *types.Trade, target types.TradeStatus) error {
	from := trade.Status
	if !CanTransition(from, target) {
		return fmt.Errorf("%w: %s -> %s for trade %s", types.ErrInvalidStateTransition, from, target, trade.TradeID)
	}

	won, err := s.writeStatus(trade, from, target)
	if err != nil {
		return err
	}
	if !won {
		current, gerr := s.db.GetTrade(trade.TradeID)
		if gerr != nil || current == nil {
			return fmt.Errorf("%w: trade %s changed concurrently", types.ErrInvalidStateTransition, trade.TradeID)
		}
		trade.Status = current.Status
		if current.Status == target {
			return nil
		}
		return fmt.Errorf("%w: %s -> %s for trade %s", types.ErrInvalidStateTransition, current.Status, target, trade.TradeID)
	}

	trade.Status = target
	trade.UpdatedAt = time.Now()

	logger := log.With().
		Str("trade_id", trade.TradeID).
		Str("from", string(from)).
		Str("to", string(target)).
		Logger()
	logger.Info().Msg("trade transitioned")

	switch target {
	case types.StatusCompleted:
		if err := s.settle(trade); err != nil {
			logger.Error().Err(err).Msg("settlement side effects failed")
			return err
		}
	case types.StatusFailed:
		if from != types.StatusInitiated {
			if err := s.Compensate(trade); err != nil {
				logger.Error().Err(err).Bool("alert", true).Msg("compensation failed, ledger requires manual reconciliation")
				return err
			}
		}
	}
	return nil
}

// errTransitionLost aborts the reserve+flip transaction when another caller
// already moved the trade, rolling the reservation back with it.
var errTransitionLost = errors.New("transition lost")

// writeStatus persists the status flip. Entering processing with a wallet
// reservation runs the reservation and the flip in one transaction: a failed
// or lost conditional write rolls the reservation back, so funds can never
// sit in pending_balance against a trade that did not reach processing. The
// reservation itself is the balance check: one guarded decrement, no
// read-then-write.
func (s *Service) writeStatus(trade *types.Trade, from, target types.TradeStatus) (bool, error) {
	if target != types.StatusProcessing || trade.ReservedAmount() == 0 {
		return s.db.UpdateTradeStatus(trade.TradeID, from, target)
	}

	err := s.db.Session().Transaction(func(tx *gorm.DB) error {
		if err := s.wallets.ReserveIn(tx, trade.UserID, types.FiatCurrency, trade.ReservedAmount()); err != nil {
			return err
		}
		won, err := updateTradeStatusTx(tx, trade.TradeID, from, target)
		if err != nil {
			return err
		}
		if !won {
			return errTransitionLost
		}
		return nil
	})
	if errors.Is(err, errTransitionLost) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// settle applies the wallet effects of completion: reserved fiat is
// finalized as a withdrawal on buys, and sells credit net proceeds.
func (s *Service) settle(trade *types.Trade) error {
	if amount := trade.ReservedAmount(); amount > 0 {
		if err := s.wallets.Finalize(trade.UserID, types.FiatCurrency, amount); err != nil {
			return err
		}
	}
	if trade.Side == types.SideSell {
		if err := s.wallets.Credit(trade.UserID, types.FiatCurrency, trade.NetProceeds()); err != nil {
			return err
		}
	}
	return nil
}

// Compensate returns reserved funds for a failed trade. The reversal and
// the compensated_at stamp commit in one transaction, and the stamp is a
// conditional update, so re-invocation after a retry is a no-op and the
// reserved amount can never be returned twice.
func (s *Service) Compensate(trade *types.Trade) error {
	amount := trade.ReservedAmount()
	if amount == 0 {
		return nil
	}

	err := s.db.Session().Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&types.Trade{}).
			Where("trade_id = ? AND compensated_at IS NULL", trade.TradeID).
			Update("compensated_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already compensated.
			return nil
		}
		return s.wallets.Release(tx, trade.UserID, types.FiatCurrency, amount)
	})
	if err != nil {
		if errors.Is(err, types.ErrCompensationFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrCompensationFailed, err)
	}

	now := time.Now()
	trade.CompensatedAt = &now
	return nil
}

// GetTrade returns a trade by ID, or nil when absent.
func (s *Service) GetTrade(tradeID string) (*types.Trade, error) {
	return s.db.GetTrade(tradeID)
}

// GetUserTrade returns a trade only if it belongs to the user.
func (s *Service) GetUserTrade(tradeID, userID string) (*types.Trade, error) {
	return s.db.GetUserTrade(tradeID, userID)
}

// ListUserTrades returns the user's trades, newest first.
func (s *Service) ListUserTrades(userID string, limit, offset int) ([]types.Trade, error) {
	return s.db.ListUserTrades(userID, limit, offset)
}

// GetByExternalReference resolves the trade a provider signal refers to.
func (s *Service) GetByExternalReference(externalRef string) (*types.Trade, error) {
	return s.db.GetByExternalReference(externalRef)
}

// ListReconcilable returns non-terminal trades that have been submitted to
// the exchange, i.e. candidates for status polling.
func (s *Service) ListReconcilable() ([]types.Trade, error) {
	return s.db.ListReconcilable()
}

// ListStuckConfirming returns trades sitting in confirming since before the
// cutoff; the sweep fails them.
func (s *Service) ListStuckConfirming(cutoff time.Time) ([]types.Trade, error) {
	return s.db.ListStuckConfirming(cutoff)
}
