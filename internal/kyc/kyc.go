package kyc

import (
	"errors"
	"fmt"
	"time"

	"github.com/trustbank/trade-api/internal/config"
	"github.com/trustbank/trade-api/internal/types"
	"gorm.io/gorm"
)

// Service answers trade eligibility questions against a user's verification
// tier. Volume already committed for the current UTC day and calendar month
// counts completed and in-flight trades; only failed trades fall out of the
// window.
type Service struct {
	db  *Database
	cfg *config.Config
}

func NewService(gormDB *gorm.DB, cfg *config.Config) *Service {
	return &Service{
		db:  NewDatabase(gormDB),
		cfg: cfg,
	}
}

// CheckEligibility rejects with ErrLimitExceeded when adding fiatAmount to
// the user's current-day or current-month volume would breach their tier.
// This pre-check reads committed rows only; trade creation re-verifies the
// windows inside its own transaction with VerifyCommitted.
func (s *Service) CheckEligibility(userID string, fiatAmount float64) error {
	return s.checkWindows(s.db.db, userID, fiatAmount)
}

// VerifyCommitted re-runs the window check inside the transaction that just
// inserted a trade row; the row's total is already in the sums. Two creations
// racing past CheckEligibility both insert, and the one whose re-check sees
// the combined volume breach rolls back.
func (s *Service) VerifyCommitted(tx *gorm.DB, userID string) error {
	return s.checkWindows(tx, userID, 0)
}

func (s *Service) checkWindows(tx *gorm.DB, userID string, fiatAmount float64) error {
	tier, err := getTier(tx, userID)
	if err != nil {
		return err
	}
	limits := s.cfg.LimitsForTier(tier)

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	dayVolume, err := committedVolumeSince(tx, userID, dayStart)
	if err != nil {
		return err
	}
	if dayVolume+fiatAmount > limits.Daily {
		return fmt.Errorf("%w: daily limit %.2f, used %.2f, requested %.2f",
			types.ErrLimitExceeded, limits.Daily, dayVolume, fiatAmount)
	}

	monthVolume, err := committedVolumeSince(tx, userID, monthStart)
	if err != nil {
		return err
	}
	if monthVolume+fiatAmount > limits.Monthly {
		return fmt.Errorf("%w: monthly limit %.2f, used %.2f, requested %.2f",
			types.ErrLimitExceeded, limits.Monthly, monthVolume, fiatAmount)
	}

	return nil
}

// SetTier upserts a user's verification tier.
func (s *Service) SetTier(userID string, tier int) error {
	return s.db.SetTier(userID, tier)
}

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetTier returns the user's tier, defaulting unverified users to tier 1.
func (d *Database) GetTier(userID string) (int, error) {
	return getTier(d.db, userID)
}

func getTier(tx *gorm.DB, userID string) (int, error) {
	var profile types.KYCProfile
	if err := tx.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 1, nil
		}
		return 0, err
	}
	return profile.Tier, nil
}

func (d *Database) SetTier(userID string, tier int) error {
	var profile types.KYCProfile
	err := d.db.Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.Create(&types.KYCProfile{UserID: userID, Tier: tier}).Error
	}
	if err != nil {
		return err
	}
	profile.Tier = tier
	return d.db.Save(&profile).Error
}

// CommittedVolumeSince sums the fiat totals of the user's non-failed trades
// created at or after the cutoff.
func (d *Database) CommittedVolumeSince(userID string, since time.Time) (float64, error) {
	return committedVolumeSince(d.db, userID, since)
}

func committedVolumeSince(tx *gorm.DB, userID string, since time.Time) (float64, error) {
	var total float64
	err := tx.Model(&types.Trade{}).
		Select("COALESCE(SUM(total), 0)").
		Where("user_id = ? AND status != ? AND created_at >= ?", userID, types.StatusFailed, since).
		Scan(&total).Error
	return total, err
}
