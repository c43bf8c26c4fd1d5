package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"affiliate-leaderboard/models"
	"affiliate-leaderboard/workers"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Per-test in-memory database to avoid cross-test interference.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.ReferralRecord{}, &models.SyncRun{}))
	return db
}

func ptr[T any](v T) *T { return &v }

func item(id string, xp float64, referredAt *int64) models.FeedItem {
	return models.FeedItem{UserID: id, DisplayName: ptr("name-" + id), XP: xp, ReferredAt: referredAt}
}

// fakeFeed is a scripted FeedClient. When block is set, FetchFeed waits on it.
type fakeFeed struct {
	source string

	mu     sync.Mutex
	pages  [][]models.FeedItem
	errs   []error
	calls  int
	window *workers.Window

	entered chan struct{}
	block   chan struct{}
}

func (f *fakeFeed) Source() string { return f.source }

func (f *fakeFeed) FetchFeed(ctx context.Context, window *workers.Window) ([]models.FeedItem, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.window = window
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx < len(f.pages) {
		return f.pages[idx], nil
	}
	return nil, nil
}

func (f *fakeFeed) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func countRecords(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.ReferralRecord{}).Count(&n).Error)
	return n
}
