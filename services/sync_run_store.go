package services

import (
	"context"

	"affiliate-leaderboard/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncRunStore keeps the audit trail of finished cycles.
type SyncRunStore struct {
	DB *gorm.DB
}

func NewSyncRunStore(db *gorm.DB) *SyncRunStore {
	return &SyncRunStore{DB: db}
}

func (s *SyncRunStore) RecordRun(ctx context.Context, run *models.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	return storeErr("record sync run", s.DB.WithContext(ctx).Create(run).Error)
}

// RecentRuns returns the latest runs of source, newest first.
func (s *SyncRunStore) RecentRuns(ctx context.Context, source string, limit int) ([]models.SyncRun, error) {
	runs := make([]models.SyncRun, 0, limit)
	err := s.DB.WithContext(ctx).
		Where("source = ?", source).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, storeErr("list sync runs", err)
	}
	return runs, nil
}
