package trading

import (
	"errors"
	"time"

	"github.com/trustbank/trade-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetTrade(tradeID string) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (d *Database) GetUserTrade(tradeID, userID string) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.Where("trade_id = ? AND user_id = ?", tradeID, userID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (d *Database) GetByExternalReference(externalRef string) (*types.Trade, error) {
	var trade types.Trade
	if err := d.db.Where("external_reference = ?", externalRef).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

func (d *Database) ListUserTrades(userID string, limit, offset int) ([]types.Trade, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	var trades []types.Trade
	err := d.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&trades).Error
	return trades, err
}

func (d *Database) ListReconcilable() ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.Where("status IN ? AND external_reference IS NOT NULL",
		[]types.TradeStatus{types.StatusProcessing, types.StatusConfirming}).
		Find(&trades).Error
	return trades, err
}

func (d *Database) ListStuckConfirming(cutoff time.Time) ([]types.Trade, error) {
	var trades []types.Trade
	err := d.db.Where("status = ? AND updated_at < ?", types.StatusConfirming, cutoff).
		Find(&trades).Error
	return trades, err
}

// UpdateTradeStatus flips the status only when the row still holds the
// expected current status. The zero-rows case means another caller already
// moved the trade; the caller decides whether that is a no-op or an error.
func (d *Database) UpdateTradeStatus(tradeID string, from, to types.TradeStatus) (bool, error) {
	return updateTradeStatusTx(d.db, tradeID, from, to)
}

func updateTradeStatusTx(tx *gorm.DB, tradeID string, from, to types.TradeStatus) (bool, error) {
	res := tx.Model(&types.Trade{}).
		Where("trade_id = ? AND status = ?", tradeID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetSubmissionResult records the exchange-assigned reference and any
// checkout redirect. The reference is written once and reused for every
// later status check.
func (d *Database) SetSubmissionResult(trade *types.Trade, externalRef, redirectURL string) error {
	err := d.db.Model(&types.Trade{}).
		Where("trade_id = ?", trade.TradeID).
		Updates(map[string]interface{}{
			"external_reference": externalRef,
			"redirect_url":       redirectURL,
			"updated_at":         time.Now(),
		}).Error
	if err != nil {
		return err
	}
	trade.ExternalReference = &externalRef
	trade.RedirectURL = redirectURL
	return nil
}

// CreateTradeWithIdempotency creates the trade and its idempotency record in
// one transaction. The verify hook runs after the inserts against the same
// transaction; returning an error rolls the whole creation back.
func (d *Database) CreateTradeWithIdempotency(trade *types.Trade, idempotencyKey string, verify func(tx *gorm.DB) error) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trade).Error; err != nil {
			return err
		}
		record := types.IdempotencyRecord{
			IdempotencyKey: idempotencyKey,
			ResourceID:     trade.TradeID,
			ResourceType:   "trade",
			ExpiresAt:      time.Now().Add(24 * time.Hour),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if verify != nil {
			return verify(tx)
		}
		return nil
	})
}

// GetIdempotencyRecord retrieves an idempotency record by key, nil when the
// key has not been seen.
func (d *Database) GetIdempotencyRecord(key string) (*types.IdempotencyRecord, error) {
	var record types.IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Session exposes the gorm handle for cross-package transactions.
func (d *Database) Session() *gorm.DB {
	return d.db
}
