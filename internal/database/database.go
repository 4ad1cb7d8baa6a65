package database

import (
	"github.com/trustbank/trade-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the sqlite database at the given path and migrates the
// schema. The wallet table's non-negative check constraints and the unique
// index on trades.external_reference come from the model tags.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&types.Trade{},
		&types.Wallet{},
		&types.KYCProfile{},
		&types.IdempotencyRecord{},
		&types.WebhookEvent{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
