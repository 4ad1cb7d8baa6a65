package reconciler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/trustbank/trade-api/internal/payment"
	"github.com/trustbank/trade-api/internal/trading"
	"github.com/trustbank/trade-api/internal/types"
	"gorm.io/gorm"
)

// ErrMalformedPayload means a webhook body could not be parsed. The caller
// answers 400; the provider may retry with a corrected delivery.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// providerStatuses is the single source of truth for translating the
// exchange's status vocabulary into lifecycle states. Unknown statuses are
// logged and ignored rather than guessed at.
var providerStatuses = map[string]types.TradeStatus{
	"pending":    types.StatusProcessing,
	"processing": types.StatusProcessing,
	"submitted":  types.StatusConfirming,
	"accepted":   types.StatusConfirming,
	"confirming": types.StatusConfirming,
	"completed":  types.StatusCompleted,
	"done":       types.StatusCompleted,
	"settled":    types.StatusCompleted,
	"failed":     types.StatusFailed,
	"cancelled":  types.StatusFailed,
	"reversed":   types.StatusFailed,
}

// Service unifies webhook and poll-based status updates into one idempotent
// reconciliation path. Both inputs run through applyProviderStatus; there is
// no second code path to diverge.
type Service struct {
	trades   *trading.Service
	payments *payment.Adapter
	secret   []byte
	db       *gorm.DB
}

func NewService(trades *trading.Service, payments *payment.Adapter, webhookSecret string, gormDB *gorm.DB) *Service {
	return &Service{
		trades:   trades,
		payments: payments,
		secret:   []byte(webhookSecret),
		db:       gormDB,
	}
}

// webhookPayload is the exchange's signed notification body.
type webhookPayload struct {
	Event     string `json:"event"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// HandleWebhook verifies and applies one webhook delivery. The signature is
// HMAC-SHA256 over the raw body; mismatches are rejected outright with no
// state change. Replays of the same reference and status are no-ops.
func (s *Service) HandleWebhook(raw []byte, signature string) error {
	if !s.VerifySignature(raw, signature) {
		log.Warn().Str("signature", signature).Msg("webhook rejected: signature mismatch")
		return types.ErrSignatureInvalid
	}

	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if payload.Reference == "" {
		return fmt.Errorf("%w: missing reference", ErrMalformedPayload)
	}

	trade, err := s.trades.GetByExternalReference(payload.Reference)
	if err != nil {
		return err
	}
	if trade == nil {
		log.Warn().
			Str("reference", payload.Reference).
			Str("status", payload.Status).
			Msg("webhook for unknown reference dropped")
		return types.ErrUnknownReference
	}

	applied, err := s.applyProviderStatus(trade, payload.Status)

	event := types.WebhookEvent{
		ExternalReference: payload.Reference,
		ProviderStatus:    payload.Status,
		Applied:           applied,
		ReceivedAt:        time.Now(),
	}
	if aerr := s.db.Create(&event).Error; aerr != nil {
		log.Error().Err(aerr).Msg("failed to record webhook event")
	}

	return err
}

// VerifySignature checks the HMAC-SHA256 hex signature over the raw payload
// using a constant-time compare.
func (s *Service) VerifySignature(raw []byte, signature string) bool {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// PollOnce polls the exchange for one trade and applies the result through
// the same path webhooks use. Safe to call repeatedly.
func (s *Service) PollOnce(ctx context.Context, trade *types.Trade) error {
	if trade.ExternalReference == nil {
		return nil
	}
	status, err := s.payments.CheckStatus(ctx, *trade.ExternalReference)
	if err != nil {
		return err
	}
	_, err = s.applyProviderStatus(trade, status)
	return err
}

// applyProviderStatus translates a provider status and applies it when it
// moves the trade forward. Webhook delivery order is not guaranteed, so the
// decision is always made against the trade's current status: a stale or
// backwards signal is a no-op, never a regression.
func (s *Service) applyProviderStatus(trade *types.Trade, providerStatus string) (bool, error) {
	logger := log.With().
		Str("trade_id", trade.TradeID).
		Str("provider_status", providerStatus).
		Str("current_status", string(trade.Status)).
		Logger()

	target, ok := providerStatuses[providerStatus]
	if !ok {
		logger.Warn().Msg("unknown provider status ignored")
		return false, nil
	}

	if trade.Status == target {
		logger.Debug().Msg("reconciliation no-op: already in target state")
		return false, nil
	}
	if trade.Status.Terminal() {
		logger.Debug().Msg("reconciliation no-op: trade already terminal")
		return false, nil
	}
	// A final success for a trade still in processing implies the submission
	// was accepted; step through confirming before completing.
	if target == types.StatusCompleted && trade.Status == types.StatusProcessing {
		if err := s.trades.Transition(trade, types.StatusConfirming); err != nil {
			return false, err
		}
	}

	if !trading.CanTransition(trade.Status, target) {
		logger.Debug().Msg("reconciliation no-op: stale or out-of-order signal")
		return false, nil
	}

	if err := s.trades.Transition(trade, target); err != nil {
		return false, err
	}
	logger.Info().Str("new_status", string(target)).Msg("trade reconciled")
	return true, nil
}
