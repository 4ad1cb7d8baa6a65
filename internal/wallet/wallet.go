package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/trustbank/trade-api/internal/types"
	"gorm.io/gorm"
)

// Service is the balance ledger. Every mutation is a single conditional
// UPDATE guarded against negative balances; there is no read-then-write
// anywhere, so two concurrent reservations can never both pass a check
// against the same stale balance.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// Get returns the wallet for a user and currency, creating a zero-balance
// row on first access.
func (s *Service) Get(userID, currency string) (*types.Wallet, error) {
	return s.db.GetOrCreate(userID, currency)
}

// Reserve moves amount from balance to pending_balance, failing with
// ErrInsufficientBalance when available funds cannot cover it.
func (s *Service) Reserve(userID, currency string, amount float64) error {
	return s.ReserveIn(s.db.db, userID, currency, amount)
}

// ReserveIn is Reserve inside the given transaction handle, for callers that
// need the reservation to commit or roll back together with their own writes.
func (s *Service) ReserveIn(tx *gorm.DB, userID, currency string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("reserve amount must be positive, got %f", amount)
	}
	if err := ensureWallet(tx, userID, currency); err != nil {
		return err
	}

	applied, err := conditionalUpdateTx(tx, userID, currency,
		"balance >= ?", amount,
		map[string]interface{}{
			"balance":         gorm.Expr("balance - ?", amount),
			"pending_balance": gorm.Expr("pending_balance + ?", amount),
		})
	if err != nil {
		return err
	}
	if !applied {
		return types.ErrInsufficientBalance
	}

	log.Debug().
		Str("user_id", userID).
		Str("currency", currency).
		Float64("amount", amount).
		Msg("funds reserved")
	return nil
}

// Release moves a previously reserved amount back from pending_balance to
// balance inside the given transaction handle. It is the compensation
// primitive: a single guarded statement, so a partial reversal (debit
// without credit-back) cannot occur. A failed guard means the pending
// balance no longer covers the amount, which the caller must treat as a
// ledger inconsistency.
func (s *Service) Release(tx *gorm.DB, userID, currency string, amount float64) error {
	applied, err := conditionalUpdateTx(tx, userID, currency,
		"pending_balance >= ?", amount,
		map[string]interface{}{
			"balance":         gorm.Expr("balance + ?", amount),
			"pending_balance": gorm.Expr("pending_balance - ?", amount),
		})
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: pending balance below release amount %f for %s/%s",
			types.ErrCompensationFailed, amount, userID, currency)
	}
	return nil
}

// Finalize removes a reserved amount from pending_balance, recording it as a
// withdrawal. Called when a reserved trade completes: the fiat has left the
// platform for the exchange.
func (s *Service) Finalize(userID, currency string, amount float64) error {
	applied, err := s.db.conditionalUpdate(userID, currency,
		"pending_balance >= ?", amount,
		map[string]interface{}{
			"pending_balance":   gorm.Expr("pending_balance - ?", amount),
			"total_withdrawals": gorm.Expr("total_withdrawals + ?", amount),
		})
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: pending balance below finalize amount %f for %s/%s",
			types.ErrCompensationFailed, amount, userID, currency)
	}
	return nil
}

// Credit adds settled funds to the wallet: deposit confirmations and sell
// proceeds.
func (s *Service) Credit(userID, currency string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %f", amount)
	}
	if _, err := s.db.GetOrCreate(userID, currency); err != nil {
		return err
	}

	return s.db.db.Model(&types.Wallet{}).
		Where("user_id = ? AND currency = ?", userID, currency).
		Updates(map[string]interface{}{
			"balance":        gorm.Expr("balance + ?", amount),
			"total_deposits": gorm.Expr("total_deposits + ?", amount),
			"updated_at":     time.Now(),
		}).Error
}

// GetDB exposes the package database for collaborators that need to compose
// wallet updates into their own transactions.
func (s *Service) GetDB() *Database {
	return s.db
}

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetOrCreate(userID, currency string) (*types.Wallet, error) {
	var w types.Wallet
	err := d.db.Where("user_id = ? AND currency = ?", userID, currency).First(&w).Error
	if err == nil {
		return &w, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	w = types.Wallet{UserID: userID, Currency: currency}
	if err := d.db.Create(&w).Error; err != nil {
		// Lost a creation race; the row exists now.
		if ex, gerr := d.get(userID, currency); gerr == nil {
			return ex, nil
		}
		return nil, err
	}
	return &w, nil
}

// ensureWallet creates the zero-balance row if it does not exist yet, using
// the caller's transaction handle.
func ensureWallet(tx *gorm.DB, userID, currency string) error {
	var w types.Wallet
	err := tx.Where("user_id = ? AND currency = ?", userID, currency).First(&w).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	w = types.Wallet{UserID: userID, Currency: currency}
	if cerr := tx.Create(&w).Error; cerr != nil {
		// Lost a creation race; the row exists now.
		if gerr := tx.Where("user_id = ? AND currency = ?", userID, currency).First(&w).Error; gerr == nil {
			return nil
		}
		return cerr
	}
	return nil
}

func (d *Database) get(userID, currency string) (*types.Wallet, error) {
	var w types.Wallet
	if err := d.db.Where("user_id = ? AND currency = ?", userID, currency).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// conditionalUpdate applies updates to the wallet row only when the guard
// holds, reporting whether a row was changed.
func (d *Database) conditionalUpdate(userID, currency, guard string, guardArg interface{}, updates map[string]interface{}) (bool, error) {
	return conditionalUpdateTx(d.db, userID, currency, guard, guardArg, updates)
}

func conditionalUpdateTx(tx *gorm.DB, userID, currency, guard string, guardArg interface{}, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now()
	res := tx.Model(&types.Wallet{}).
		Where("user_id = ? AND currency = ?", userID, currency).
		Where(guard, guardArg).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Session returns the underlying gorm handle, for callers composing wallet
// mutations with trade updates in one transaction.
func (d *Database) Session() *gorm.DB {
	return d.db
}
