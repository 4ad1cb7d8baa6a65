package trading_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustbank/trade-api/internal/config"
	"github.com/trustbank/trade-api/internal/database"
	"github.com/trustbank/trade-api/internal/exchange"
	"github.com/trustbank/trade-api/internal/kyc"
	"github.com/trustbank/trade-api/internal/payment"
	"github.com/trustbank/trade-api/internal/quotes"
	"github.com/trustbank/trade-api/internal/trading"
	"github.com/trustbank/trade-api/internal/types"
	"github.com/trustbank/trade-api/internal/wallet"
	"gorm.io/gorm"
)

type testEnv struct {
	db      *gorm.DB
	sim     *exchange.Simulator
	cfg     *config.Config
	quotes  *quotes.Provider
	wallets *wallet.Service
	trades  *trading.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.NewDatabase(dsn)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	cfg := &config.Config{
		QuoteTTL:          2 * time.Minute,
		PriceCacheTTL:     10 * time.Second,
		SupportedPairs:    []string{"btc_ngn", "eth_ngn", "usdt_ngn"},
		ExchangeFeeRate:   decimal.NewFromFloat(0.001),
		PlatformFeeRate:   decimal.NewFromFloat(0.002),
		ProcessingFeeRate: decimal.NewFromFloat(0.0005),
		ConfirmingTimeout: 30 * time.Minute,
		TierLimits: map[int]config.TierLimit{
			1: {Daily: 100_000, Monthly: 1_000_000},
			2: {Daily: 1_000_000, Monthly: 10_000_000},
			3: {Daily: 10_000_000, Monthly: 100_000_000},
		},
	}

	sim := exchange.NewSimulator()
	quoteProvider := quotes.NewProvider(sim, cfg)
	wallets := wallet.NewService(db)
	kycService := kyc.NewService(db, cfg)
	payments := payment.NewAdapter(sim)
	trades := trading.NewService(db, quoteProvider, wallets, kycService, payments, cfg)

	return &testEnv{
		db:      db,
		sim:     sim,
		cfg:     cfg,
		quotes:  quoteProvider,
		wallets: wallets,
		trades:  trades,
	}
}

func (e *testEnv) fund(t *testing.T, userID string, amount float64) {
	t.Helper()
	require.NoError(t, e.wallets.Credit(userID, types.FiatCurrency, amount))
}

func (e *testEnv) buyTrade(t *testing.T, userID string, volume float64, method types.PaymentMethod) (*types.Trade, error) {
	t.Helper()
	quote, err := e.quotes.GetQuote(context.Background(), "btc_ngn", types.SideBuy, volume)
	require.NoError(t, err)
	return e.trades.CreateTrade(context.Background(), userID, &trading.CreateTradeRequest{
		QuoteID:       quote.QuoteID,
		PaymentMethod: method,
	}, uuid.New().String())
}

func (e *testEnv) walletOf(t *testing.T, userID string) *types.Wallet {
	t.Helper()
	w, err := e.wallets.Get(userID, types.FiatCurrency)
	require.NoError(t, err)
	return w
}

func (e *testEnv) insertTrade(t *testing.T, status types.TradeStatus) *types.Trade {
	t.Helper()
	ref := "SIM_" + uuid.New().String()
	trade := &types.Trade{
		TradeID:           "TRD_" + uuid.New().String(),
		UserID:            "user-1",
		Side:              types.SideBuy,
		Currency:          "btc",
		Amount:            0.001,
		Rate:              95_000_000,
		Total:             95_332.5,
		Status:            status,
		PaymentMethod:     types.MethodCard,
		ExternalReference: &ref,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	require.NoError(t, e.db.Create(trade).Error)
	return trade
}

func TestTransitionTable(t *testing.T) {
	statuses := []types.TradeStatus{
		types.StatusInitiated,
		types.StatusProcessing,
		types.StatusConfirming,
		types.StatusCompleted,
		types.StatusFailed,
	}
	valid := map[types.TradeStatus][]types.TradeStatus{
		types.StatusInitiated:  {types.StatusProcessing, types.StatusFailed},
		types.StatusProcessing: {types.StatusConfirming, types.StatusFailed},
		types.StatusConfirming: {types.StatusCompleted, types.StatusFailed},
	}
	isValid := func(from, to types.TradeStatus) bool {
		for _, v := range valid[from] {
			if v == to {
				return true
			}
		}
		return false
	}

	env := newTestEnv(t)
	for _, from := range statuses {
		for _, to := range statuses {
			trade := env.insertTrade(t, from)
			err := env.trades.Transition(trade, to)

			if isValid(from, to) {
				require.NoError(t, err, "%s -> %s should be allowed", from, to)
				stored, gerr := env.trades.GetTrade(trade.TradeID)
				require.NoError(t, gerr)
				assert.Equal(t, to, stored.Status)
			} else {
				require.ErrorIs(t, err, types.ErrInvalidStateTransition, "%s -> %s should be rejected", from, to)
				stored, gerr := env.trades.GetTrade(trade.TradeID)
				require.NoError(t, gerr)
				assert.Equal(t, from, stored.Status, "rejected transition must not mutate the trade")
			}
		}
	}
}

// Two callers race an initiated wallet trade into processing: the loser's
// conditional status write finds no row, and the reservation it made in the
// same transaction rolls back with it. Exactly one reservation survives.
func TestLostProcessingTransitionRollsBackReservation(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "user-1", 300_000)

	trade := &types.Trade{
		TradeID:       "TRD_" + uuid.New().String(),
		UserID:        "user-1",
		Side:          types.SideBuy,
		Currency:      "btc",
		Amount:        0.001,
		Rate:          95_000_000,
		Total:         95_332.5,
		Status:        types.StatusInitiated,
		PaymentMethod: types.MethodWallet,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, env.db.Create(trade).Error)
	stale := *trade

	require.NoError(t, env.trades.Transition(trade, types.StatusProcessing))

	// The stale caller loses the write but lands on the same target, so it
	// reports success without a second reservation.
	require.NoError(t, env.trades.Transition(&stale, types.StatusProcessing))
	assert.Equal(t, types.StatusProcessing, stale.Status)

	w := env.walletOf(t, "user-1")
	assert.Equal(t, 300_000-trade.Total, w.Balance)
	assert.Equal(t, trade.Total, w.PendingBalance)
}

// A status write that cannot land (here: no trade row at all) must not leave
// its reservation behind.
func TestFailedStatusWriteReleasesReservation(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "user-1", 100_000)

	ghost := &types.Trade{
		TradeID:       "TRD_" + uuid.New().String(),
		UserID:        "user-1",
		Side:          types.SideBuy,
		Total:         95_332.5,
		Status:        types.StatusInitiated,
		PaymentMethod: types.MethodWallet,
	}
	err := env.trades.Transition(ghost, types.StatusProcessing)
	require.ErrorIs(t, err, types.ErrInvalidStateTransition)

	w := env.walletOf(t, "user-1")
	assert.Equal(t, 100_000.0, w.Balance)
	assert.Equal(t, 0.0, w.PendingBalance)
}

// The eligibility pre-check reads committed rows only; the re-check inside
// the creation transaction sees the inserted row and rolls a breaching
// creation back, trade and idempotency record included.
func TestLimitBreachInsideCreationRollsBack(t *testing.T) {
	env := newTestEnv(t)
	kycService := kyc.NewService(env.db, env.cfg)
	tdb := trading.NewDatabase(env.db)

	// Day volume already near the tier-1 cap of 100,000.
	env.insertTrade(t, types.StatusConfirming)

	trade := &types.Trade{
		TradeID:       "TRD_" + uuid.New().String(),
		UserID:        "user-1",
		Side:          types.SideBuy,
		Currency:      "btc",
		Amount:        0.001,
		Rate:          95_000_000,
		Total:         95_332.5,
		Status:        types.StatusInitiated,
		PaymentMethod: types.MethodCard,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	err := tdb.CreateTradeWithIdempotency(trade, uuid.New().String(), func(tx *gorm.DB) error {
		return kycService.VerifyCommitted(tx, "user-1")
	})
	require.ErrorIs(t, err, types.ErrLimitExceeded)

	stored, gerr := env.trades.GetTrade(trade.TradeID)
	require.NoError(t, gerr)
	assert.Nil(t, stored, "breaching creation must leave no trade row")
}

func TestWalletBuyCompletesAndSettles(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "user-1", 100_000)

	trade, err := env.buyTrade(t, "user-1", 0.001, types.MethodWallet)
	require.NoError(t, err)

	// Wallet payments confirm synchronously.
	assert.Equal(t, types.StatusConfirming, trade.Status)
	require.NotNil(t, trade.ExternalReference)

	w := env.walletOf(t, "user-1")
	assert.Equal(t, 100_000-trade.Total, w.Balance)
	assert.Equal(t, trade.Total, w.PendingBalance)

	require.NoError(t, env.trades.Transition(trade, types.StatusCompleted))

	w = env.walletOf(t, "user-1")
	assert.Equal(t, 100_000-trade.Total, w.Balance)
	assert.Equal(t, 0.0, w.PendingBalance)
	assert.Equal(t, trade.Total, w.TotalWithdrawals)
}

func TestWalletBuyFailureRestoresBalance(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "user-1", 100_000)

	trade, err := env.buyTrade(t, "user-1", 0.001, types.MethodWallet)
	require.NoError(t, err)

	require.NoError(t, env.trades.Transition(trade, types.StatusFailed))

	w := env.walletOf(t, "user-1")
	assert.Equal(t, 100_000.0, w.Balance)
	assert.Equal(t, 0.0, w.PendingBalance)

	stored, err := env.trades.GetTrade(trade.TradeID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, stored.Status)
	assert.NotNil(t, stored.CompensatedAt)
}

func TestCompensationIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "user-1", 100_000)

	trade, err := env.buyTrade(t, "user-1", 0.001, types.MethodWallet)
	require.NoError(t, err)
	require.NoError(t, env.trades.Transition(trade, types.StatusFailed))

	// Re-running compensation must not credit the wallet twice.
	stored, err := env.trades.GetTrade(trade.TradeID)
	require.NoError(t, err)
	require.NoError(t, env.trades.Compensate(stored))
	require.NoError(t, env.trades.Compensate(stored))

	w := env.walletOf(t, "user-1")
	assert.Equal(t, 100_000.0, w.Balance)
	assert.Equal(t, 0.0, w.PendingBalance)
}

func TestLimitExceededLeavesWalletUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "user-1", 500_000)

	// Tier 1 daily limit is 100,000 NGN; 0.002 BTC is ~190,665 NGN.
	_, err := env.buyTrade(t, "user-1", 0.002, types.MethodWallet)
	require.ErrorIs(t, err, types.ErrLimitExceeded)

	w := env.walletOf(t, "user-1")
	assert.Equal(t, 500_000.0, w.Balance)
	assert.Equal(t, 0.0, w.PendingBalance)
}

func TestDailyLimitCountsCommittedVolume(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "user-1", 1_000_000)

	first, err := env.buyTrade(t, "user-1", 0.001, types.MethodWallet)
	require.NoError(t, err)
	require.NotEqual(t, types.StatusFailed, first.Status)

	// The second trade would push the day's volume past 100,000.
	_, err = env.buyTrade(t, "user-1", 0.001, types.MethodWallet)
	require.ErrorIs(t, err, types.ErrLimitExceeded)
}

func TestHigherTierRaisesLimit(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "user-1", 1_000_000)
	kycService := kyc.NewService(env.db, env.cfg)
	require.NoError(t, kycService.SetTier("user-1", 2))

	trade, err := env.buyTrade(t, "user-1", 0.002, types.MethodWallet)
	require.NoError(t, err)
	assert.Equal(t, types.StatusConfirming, trade.Status)
}

func TestInsufficientBalanceFailsSecondTrade(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.TierLimits[1] = config.TierLimit{Daily: 1_000_000, Monthly: 10_000_000}
	env.fund(t, "user-1", 100_000)

	first, err := env.buyTrade(t, "user-1", 0.001, types.MethodWallet)
	require.NoError(t, err)
	require.Equal(t, types.StatusConfirming, first.Status)

	// amount1 + amount2 > balance: at most one may succeed.
	second, err := env.buyTrade(t, "user-1", 0.001, types.MethodWallet)
	require.ErrorIs(t, err, types.ErrInsufficientBalance)
	require.NotNil(t, second)
	assert.Equal(t, types.StatusFailed, second.Status)

	w := env.walletOf(t, "user-1")
	assert.Equal(t, 100_000-first.Total, w.Balance)
	assert.Equal(t, first.Total, w.PendingBalance)
}

func TestExpiredQuoteNeverSeedsTrade(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.QuoteTTL = -time.Second
	env.fund(t, "user-1", 100_000)

	_, err := env.buyTrade(t, "user-1", 0.001, types.MethodWallet)
	require.ErrorIs(t, err, types.ErrQuoteExpired)

	w := env.walletOf(t, "user-1")
	assert.Equal(t, 100_000.0, w.Balance)
}

func TestCreateTradeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "user-1", 100_000)

	quote, err := env.quotes.GetQuote(context.Background(), "btc_ngn", types.SideBuy, 0.001)
	require.NoError(t, err)
	key := uuid.New().String()

	first, err := env.trades.CreateTrade(context.Background(), "user-1", &trading.CreateTradeRequest{
		QuoteID:       quote.QuoteID,
		PaymentMethod: types.MethodWallet,
	}, key)
	require.NoError(t, err)

	replay, err := env.trades.CreateTrade(context.Background(), "user-1", &trading.CreateTradeRequest{
		QuoteID:       quote.QuoteID,
		PaymentMethod: types.MethodWallet,
	}, key)
	require.NoError(t, err)
	assert.Equal(t, first.TradeID, replay.TradeID)

	// Only one reservation happened.
	w := env.walletOf(t, "user-1")
	assert.Equal(t, first.Total, w.PendingBalance)
}

func TestPaymentRejectionCompensates(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "user-1", 100_000)
	env.sim.RejectNextSubmission()

	trade, err := env.buyTrade(t, "user-1", 0.001, types.MethodWallet)
	require.ErrorIs(t, err, types.ErrPaymentRejected)
	require.NotNil(t, trade)

	stored, err := env.trades.GetTrade(trade.TradeID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, stored.Status)

	w := env.walletOf(t, "user-1")
	assert.Equal(t, 100_000.0, w.Balance)
	assert.Equal(t, 0.0, w.PendingBalance)
}

func TestCardTradeStaysProcessingWithRedirect(t *testing.T) {
	env := newTestEnv(t)

	trade, err := env.buyTrade(t, "user-1", 0.001, types.MethodCard)
	require.NoError(t, err)

	assert.Equal(t, types.StatusProcessing, trade.Status)
	assert.NotEmpty(t, trade.RedirectURL)

	// Card payments are funded upstream: no wallet reservation.
	w := env.walletOf(t, "user-1")
	assert.Equal(t, 0.0, w.PendingBalance)
}

func TestSellCreditsNetProceedsOnCompletion(t *testing.T) {
	env := newTestEnv(t)

	quote, err := env.quotes.GetQuote(context.Background(), "btc_ngn", types.SideSell, 0.001)
	require.NoError(t, err)

	trade, err := env.trades.CreateTrade(context.Background(), "user-1", &trading.CreateTradeRequest{
		QuoteID:       quote.QuoteID,
		PaymentMethod: types.MethodWallet,
	}, uuid.New().String())
	require.NoError(t, err)
	require.Equal(t, types.StatusConfirming, trade.Status)

	require.NoError(t, env.trades.Transition(trade, types.StatusCompleted))

	// Notional 95,000 minus 332.5 in fees.
	assert.InDelta(t, 94_667.5, trade.NetProceeds(), 0.01)

	w := env.walletOf(t, "user-1")
	assert.Equal(t, trade.NetProceeds(), w.Balance)
	assert.Equal(t, 0.0, w.PendingBalance)
}
