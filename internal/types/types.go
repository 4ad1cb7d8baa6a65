package types

import (
	"time"

	"gorm.io/gorm"
)

// TradeStatus is the closed set of trade lifecycle states.
// Transitions between them are validated centrally by the trading service.
type TradeStatus string

const (
	StatusInitiated  TradeStatus = "initiated"
	StatusProcessing TradeStatus = "processing"
	StatusConfirming TradeStatus = "confirming"
	StatusCompleted  TradeStatus = "completed"
	StatusFailed     TradeStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s TradeStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

type PaymentMethod string

const (
	MethodWallet       PaymentMethod = "wallet"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCard         PaymentMethod = "card"
)

// FiatCurrency is the settlement currency for all trades.
const FiatCurrency = "ngn"

// FeeBreakdown decomposes the fees charged on a trade. All components are
// fiat-denominated and frozen at quote time.
type FeeBreakdown struct {
	Exchange   float64 `json:"exchange"`
	Platform   float64 `json:"platform"`
	Processing float64 `json:"processing"`
}

func (f FeeBreakdown) Total() float64 {
	return f.Exchange + f.Platform + f.Processing
}

// Trade is the central entity: a user's buy/sell request tracked through its
// lifecycle to settlement. Rows are never deleted, only terminally resolved.
type Trade struct {
	gorm.Model        `json:"-"`
	TradeID           string        `gorm:"uniqueIndex" json:"trade_id"`
	UserID            string        `gorm:"index" json:"user_id"`
	Side              TradeSide     `json:"side"`
	Currency          string        `json:"currency"` // crypto asset, e.g. "btc"
	Amount            float64       `json:"amount"`   // crypto-denominated
	Rate              float64       `json:"rate"`     // fiat per unit, locked at quote time
	Total             float64       `json:"total"`    // amount*rate + fees, fiat
	FeeExchange       float64       `json:"fee_exchange"`
	FeePlatform       float64       `json:"fee_platform"`
	FeeProcessing     float64       `json:"fee_processing"`
	Status            TradeStatus   `gorm:"index" json:"status"`
	PaymentMethod     PaymentMethod `json:"payment_method"`
	QuoteID           string        `json:"quote_id"`
	ExternalReference *string       `gorm:"uniqueIndex" json:"external_reference,omitempty"`
	RedirectURL       string        `json:"redirect_url,omitempty"`
	CompensatedAt     *time.Time    `json:"compensated_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Fees returns the frozen fee breakdown for the trade.
func (t *Trade) Fees() FeeBreakdown {
	return FeeBreakdown{
		Exchange:   t.FeeExchange,
		Platform:   t.FeePlatform,
		Processing: t.FeeProcessing,
	}
}

// ReservedAmount is the fiat amount moved to pending_balance when the trade
// entered processing, and therefore the compensation target on failure.
// Only wallet-funded buys reserve fiat; card and bank transfer trades are
// funded upstream, and sells settle by credit on completion.
func (t *Trade) ReservedAmount() float64 {
	if t.PaymentMethod == MethodWallet && t.Side == SideBuy {
		return t.Total
	}
	return 0
}

// NetProceeds is the fiat credited to the seller on completion of a sell:
// the notional minus the frozen fee total.
func (t *Trade) NetProceeds() float64 {
	return t.Amount*t.Rate - t.Fees().Total()
}

// Quote is an ephemeral rate lock for a currency pair. It is never persisted
// independently; it is consumed exactly once to seed a trade.
type Quote struct {
	QuoteID   string       `json:"quote_id"`
	Pair      string       `json:"pair"` // e.g. "btc_ngn"
	Side      TradeSide    `json:"side"`
	Volume    float64      `json:"volume"` // crypto-denominated
	Rate      float64      `json:"rate"`   // fiat per unit
	Fees      FeeBreakdown `json:"fees"`
	Total     float64      `json:"total"` // volume*rate + fees
	ExpiresAt time.Time    `json:"expires_at"`
	CreatedAt time.Time    `json:"created_at"`
}

// Expired reports whether the quote's rate lock has lapsed.
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Wallet is the per-user per-currency balance ledger. Balance and
// PendingBalance are kept non-negative by conditional updates and check
// constraints; PendingBalance holds funds reserved for in-flight trades.
type Wallet struct {
	gorm.Model       `json:"-"`
	UserID           string  `gorm:"uniqueIndex:idx_wallets_user_currency" json:"user_id"`
	Currency         string  `gorm:"uniqueIndex:idx_wallets_user_currency" json:"currency"`
	Balance          float64 `gorm:"check:balance >= 0" json:"balance"`
	PendingBalance   float64 `gorm:"check:pending_balance >= 0" json:"pending_balance"`
	TotalDeposits    float64 `json:"total_deposits"`
	TotalWithdrawals float64 `json:"total_withdrawals"`
}

// KYCProfile records a user's verification tier, which gates daily and
// monthly trade limits.
type KYCProfile struct {
	gorm.Model `json:"-"`
	UserID     string `gorm:"uniqueIndex" json:"user_id"`
	Tier       int    `json:"tier"`
}

// IdempotencyRecord ties a client-supplied idempotency key to the resource
// it created, so replayed requests return the original resource.
type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// WebhookEvent is an audit row for a processed exchange webhook delivery.
type WebhookEvent struct {
	gorm.Model        `json:"-"`
	ExternalReference string    `gorm:"index" json:"external_reference"`
	ProviderStatus    string    `json:"provider_status"`
	Applied           bool      `json:"applied"`
	ReceivedAt        time.Time `json:"received_at"`
}
