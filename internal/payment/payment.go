package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/trustbank/trade-api/internal/exchange"
	"github.com/trustbank/trade-api/internal/types"
)

// Adapter dispatches a confirmed trade to its payment method and normalizes
// the differing completion signals into the state machine's vocabulary.
// Wallet payments are synchronous; bank transfer and card return a redirect
// and resolve later through the reconciler.
type Adapter struct {
	exchange exchange.Client
}

// SubmissionResult is the normalized outcome of a payment submission.
type SubmissionResult struct {
	ExternalReference string
	RedirectURL       string
	// Synchronous means the payment needs no external completion step and
	// the trade is immediately eligible for confirming.
	Synchronous bool
}

func NewAdapter(client exchange.Client) *Adapter {
	return &Adapter{exchange: client}
}

// Submit sends the trade to the exchange. The trade ID doubles as the
// idempotency key, so a retried submission cannot create a duplicate order
// upstream. Rejections surface as ErrPaymentRejected.
func (a *Adapter) Submit(ctx context.Context, trade *types.Trade) (*SubmissionResult, error) {
	switch trade.PaymentMethod {
	case types.MethodWallet, types.MethodBankTransfer, types.MethodCard:
	default:
		return nil, fmt.Errorf("%w: unknown payment method %q", types.ErrPaymentRejected, trade.PaymentMethod)
	}

	result, err := a.exchange.SubmitTrade(ctx, &exchange.SubmitRequest{
		IdempotencyKey: trade.TradeID,
		UserID:         trade.UserID,
		Pair:           Pair(trade.Currency),
		Side:           trade.Side,
		Amount:         trade.Amount,
		PaymentMethod:  trade.PaymentMethod,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPaymentRejected, err)
	}
	if !result.Accepted {
		return nil, fmt.Errorf("%w: exchange declined submission", types.ErrPaymentRejected)
	}

	log.Info().
		Str("trade_id", trade.TradeID).
		Str("external_reference", result.ExternalReference).
		Str("payment_method", string(trade.PaymentMethod)).
		Msg("payment submitted")

	return &SubmissionResult{
		ExternalReference: result.ExternalReference,
		RedirectURL:       result.RedirectURL,
		Synchronous:       trade.PaymentMethod == types.MethodWallet,
	}, nil
}

// CheckStatus is the polling fallback for when webhook delivery does not
// arrive. It is a pure read and safe to call repeatedly.
func (a *Adapter) CheckStatus(ctx context.Context, externalRef string) (string, error) {
	return a.exchange.TradeStatus(ctx, externalRef)
}

// Pair builds the trading pair symbol for a crypto asset against the fiat
// settlement currency.
func Pair(currency string) string {
	return strings.ToLower(currency) + "_" + types.FiatCurrency
}
