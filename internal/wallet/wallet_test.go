package wallet_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trustbank/trade-api/internal/database"
	"github.com/trustbank/trade-api/internal/types"
	"github.com/trustbank/trade-api/internal/wallet"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.NewDatabase(dsn)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestReserveInsufficientBalance(t *testing.T) {
	svc := wallet.NewService(newTestDB(t))

	require.NoError(t, svc.Credit("user-1", types.FiatCurrency, 100))

	err := svc.Reserve("user-1", types.FiatCurrency, 150)
	require.ErrorIs(t, err, types.ErrInsufficientBalance)

	w, err := svc.Get("user-1", types.FiatCurrency)
	require.NoError(t, err)
	assert.Equal(t, 100.0, w.Balance)
	assert.Equal(t, 0.0, w.PendingBalance)
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	db := newTestDB(t)
	svc := wallet.NewService(db)

	require.NoError(t, svc.Credit("user-1", types.FiatCurrency, 100_000))
	require.NoError(t, svc.Reserve("user-1", types.FiatCurrency, 95_332.5))

	w, err := svc.Get("user-1", types.FiatCurrency)
	require.NoError(t, err)
	assert.Equal(t, 4_667.5, w.Balance)
	assert.Equal(t, 95_332.5, w.PendingBalance)

	require.NoError(t, svc.Release(db, "user-1", types.FiatCurrency, 95_332.5))

	w, err = svc.Get("user-1", types.FiatCurrency)
	require.NoError(t, err)
	assert.Equal(t, 100_000.0, w.Balance)
	assert.Equal(t, 0.0, w.PendingBalance)
}

func TestReleaseWithoutReservationFails(t *testing.T) {
	db := newTestDB(t)
	svc := wallet.NewService(db)

	require.NoError(t, svc.Credit("user-1", types.FiatCurrency, 100))

	err := svc.Release(db, "user-1", types.FiatCurrency, 50)
	require.ErrorIs(t, err, types.ErrCompensationFailed)
}

func TestFinalizeMovesPendingToWithdrawals(t *testing.T) {
	svc := wallet.NewService(newTestDB(t))

	require.NoError(t, svc.Credit("user-1", types.FiatCurrency, 100_000))
	require.NoError(t, svc.Reserve("user-1", types.FiatCurrency, 40_000))
	require.NoError(t, svc.Finalize("user-1", types.FiatCurrency, 40_000))

	w, err := svc.Get("user-1", types.FiatCurrency)
	require.NoError(t, err)
	assert.Equal(t, 60_000.0, w.Balance)
	assert.Equal(t, 0.0, w.PendingBalance)
	assert.Equal(t, 40_000.0, w.TotalWithdrawals)
	assert.Equal(t, 100_000.0, w.TotalDeposits)
}

// Two reservations that together exceed the balance: the second guarded
// decrement finds no qualifying row, so only one can win regardless of
// interleaving.
func TestConcurrentReservationsCannotDoubleSpend(t *testing.T) {
	svc := wallet.NewService(newTestDB(t))

	require.NoError(t, svc.Credit("user-1", types.FiatCurrency, 100))

	require.NoError(t, svc.Reserve("user-1", types.FiatCurrency, 60))
	err := svc.Reserve("user-1", types.FiatCurrency, 60)
	require.ErrorIs(t, err, types.ErrInsufficientBalance)

	w, err := svc.Get("user-1", types.FiatCurrency)
	require.NoError(t, err)
	assert.Equal(t, 40.0, w.Balance)
	assert.Equal(t, 60.0, w.PendingBalance)
}

func TestCreditRejectsNonPositiveAmounts(t *testing.T) {
	svc := wallet.NewService(newTestDB(t))

	require.Error(t, svc.Credit("user-1", types.FiatCurrency, 0))
	require.Error(t, svc.Credit("user-1", types.FiatCurrency, -5))
}
