package services

import (
	"context"
	"fmt"

	"affiliate-leaderboard/models"

	log "github.com/sirupsen/logrus"
)

// MaxLeaderboardLimit caps a single leaderboard page.
const MaxLeaderboardLimit = 500

// LeaderboardCache is an optional read-through cache in front of the store.
// Pages live under a generation; Invalidate moves source to a new one, so
// pages written under any earlier generation are never returned again.
type LeaderboardCache interface {
	Generation(ctx context.Context, source string) (int64, error)
	Get(ctx context.Context, source string, gen int64, key string) ([]models.ReferralRecord, bool, error)
	Set(ctx context.Context, source string, gen int64, key string, records []models.ReferralRecord) error
	Invalidate(ctx context.Context, source string) error
}

type LeaderboardService struct {
	store        *ReferralStore
	cache        LeaderboardCache
	defaultLimit int
	sources      map[string]bool
}

func NewLeaderboardService(store *ReferralStore, cache LeaderboardCache, defaultLimit int, sources ...string) *LeaderboardService {
	known := make(map[string]bool, len(sources))
	for _, s := range sources {
		known[s] = true
	}
	return &LeaderboardService{store: store, cache: cache, defaultLimit: defaultLimit, sources: known}
}

func (s *LeaderboardService) DefaultLimit() int { return s.defaultLimit }

// Query returns the ranked top of source. It only reads, so a cycle that is
// writing concurrently may be partially visible, record by record.
func (s *LeaderboardService) Query(ctx context.Context, source string, filter LeaderboardFilter, limit int) ([]models.ReferralRecord, error) {
	if !s.sources[source] {
		return nil, &ValidationError{Field: "source", Message: fmt.Sprintf("unknown leaderboard %q", source)}
	}
	if limit < 1 {
		return nil, &ValidationError{Field: "limit", Message: "must be a positive integer"}
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}
	if filter.From != nil && filter.To != nil && *filter.From > *filter.To {
		return nil, &ValidationError{Field: "from", Message: "must not be after to"}
	}

	key := cacheKey(filter, limit)
	useCache := s.cache != nil
	var gen int64
	if useCache {
		// The generation is read before the store so a page read ahead of a
		// cycle is written back under the generation that cycle retires.
		var err error
		if gen, err = s.cache.Generation(ctx, source); err != nil {
			log.WithError(err).WithField("source", source).Warn("[LEADERBOARD] cache unavailable, using store")
			useCache = false
		}
	}
	if useCache {
		records, ok, err := s.cache.Get(ctx, source, gen, key)
		if err != nil {
			log.WithError(err).WithField("source", source).Warn("[LEADERBOARD] cache read failed, using store")
		} else if ok {
			return records, nil
		}
	}

	records, err := s.store.Top(ctx, source, filter, limit)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := s.cache.Set(ctx, source, gen, key, records); err != nil {
			log.WithError(err).WithField("source", source).Warn("[LEADERBOARD] cache write failed")
		}
	}
	return records, nil
}

// Referrals lists the stored referrals of source newest first. It always
// reads the store.
func (s *LeaderboardService) Referrals(ctx context.Context, source string, filter ReferralFilter, limit int) ([]models.ReferralRecord, error) {
	if !s.sources[source] {
		return nil, &ValidationError{Field: "source", Message: fmt.Sprintf("unknown leaderboard %q", source)}
	}
	if limit < 1 {
		return nil, &ValidationError{Field: "limit", Message: "must be a positive integer"}
	}
	if limit > MaxLeaderboardLimit {
		limit = MaxLeaderboardLimit
	}
	if filter.MinXP != nil && filter.MaxXP != nil && *filter.MinXP > *filter.MaxXP {
		return nil, &ValidationError{Field: "minXp", Message: "must not be above maxXp"}
	}
	return s.store.List(ctx, source, filter, limit)
}

// AfterCycle drops cached pages once a cycle has written new data.
func (s *LeaderboardService) AfterCycle(ctx context.Context, report ReconciliationReport) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx, report.Source)
}

// AfterFailedCycle drops cached pages too: a failed cycle can leave partial
// writes behind.
func (s *LeaderboardService) AfterFailedCycle(ctx context.Context, report ReconciliationReport, _ error) error {
	return s.AfterCycle(ctx, report)
}

func (s *LeaderboardService) HookName() string { return "leaderboard-cache" }

func cacheKey(filter LeaderboardFilter, limit int) string {
	bound := func(v *int64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%d", *v)
	}
	return fmt.Sprintf("%s:%s:%d", bound(filter.From), bound(filter.To), limit)
}
