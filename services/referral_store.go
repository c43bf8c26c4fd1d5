package services

import (
	"context"

	"affiliate-leaderboard/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReferralStore is the durable record store behind both the sync path and the
// leaderboard. Each record's write is atomic; nothing spans records.
type ReferralStore struct {
	DB *gorm.DB
}

func NewReferralStore(db *gorm.DB) *ReferralStore {
	return &ReferralStore{DB: db}
}

// LeaderboardFilter bounds records by ReferredAt, inclusive. Nil means open.
type LeaderboardFilter struct {
	From *int64
	To   *int64
}

// Upsert writes rec keyed by (Source, UserID) and reports whether it created a
// new row. On conflict every metric is overwritten; referred_at only when the
// incoming value is non-null.
func (s *ReferralStore) Upsert(ctx context.Context, rec *models.ReferralRecord) (bool, error) {
	var created bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.ReferralRecord{}).
			Where("source = ? AND user_id = ?", rec.Source, rec.UserID).
			Count(&n).Error; err != nil {
			return err
		}
		created = n == 0

		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "source"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"display_name":      gorm.Expr("excluded.display_name"),
				"xp":                gorm.Expr("excluded.xp"),
				"wager_amount":      gorm.Expr("excluded.wager_amount"),
				"deposit_amount":    gorm.Expr("excluded.deposit_amount"),
				"commission_amount": gorm.Expr("excluded.commission_amount"),
				"referred_at":       gorm.Expr("COALESCE(excluded.referred_at, referral_records.referred_at)"),
				"updated_at":        gorm.Expr("excluded.updated_at"),
			}),
		}).Create(rec).Error
	})
	if err != nil {
		return false, storeErr("upsert referral", err)
	}
	return created, nil
}

// Get returns the record for an identity; found is false when none exists.
func (s *ReferralStore) Get(ctx context.Context, source, userID string) (models.ReferralRecord, bool, error) {
	var rec models.ReferralRecord
	err := s.DB.WithContext(ctx).Where("source = ? AND user_id = ?", source, userID).First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return rec, false, nil
		}
		return rec, false, storeErr("get referral", err)
	}
	return rec, true, nil
}

func (s *ReferralStore) Count(ctx context.Context, source string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.ReferralRecord{}).Where("source = ?", source).Count(&n).Error
	return n, storeErr("count referrals", err)
}

// ReferralFilter bounds a referral listing by xp, both ends inclusive.
type ReferralFilter struct {
	MinXP *float64
	MaxXP *float64
}

// List returns up to limit records of source, most recently referred first.
// Records without an acquisition time come last, newest insert first.
func (s *ReferralStore) List(ctx context.Context, source string, filter ReferralFilter, limit int) ([]models.ReferralRecord, error) {
	q := s.DB.WithContext(ctx).Where("source = ?", source)
	if filter.MinXP != nil {
		q = q.Where("xp >= ?", *filter.MinXP)
	}
	if filter.MaxXP != nil {
		q = q.Where("xp <= ?", *filter.MaxXP)
	}

	records := make([]models.ReferralRecord, 0, limit)
	err := q.Order("referred_at IS NULL").Order("referred_at DESC").Order("created_at DESC").Order("user_id ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, storeErr("list referrals", err)
	}
	return records, nil
}

// Top returns up to limit records of source ordered by xp descending. Ties go
// to the record stored first, then to the lower user id.
func (s *ReferralStore) Top(ctx context.Context, source string, filter LeaderboardFilter, limit int) ([]models.ReferralRecord, error) {
	q := s.DB.WithContext(ctx).Where("source = ?", source)
	if filter.From != nil {
		q = q.Where("referred_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("referred_at <= ?", *filter.To)
	}

	records := make([]models.ReferralRecord, 0, limit)
	err := q.Order("xp DESC").Order("created_at ASC").Order("user_id ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, storeErr("query leaderboard", err)
	}
	return records, nil
}
