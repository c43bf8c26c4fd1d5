package cache

import (
	"context"
	"testing"
	"time"

	"affiliate-leaderboard/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisLeaderboardCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLeaderboardCache(client, time.Minute), mr
}

func page(userID string, xp float64) []models.ReferralRecord {
	return []models.ReferralRecord{{Source: "chicken", UserID: userID, XP: xp}}
}

func TestCacheRoundTripWithinGeneration(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	gen, err := c.Generation(ctx, "chicken")
	require.NoError(t, err)
	require.Zero(t, gen)

	_, ok, err := c.Get(ctx, "chicken", gen, "page")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, "chicken", gen, "page", page("u1", 3)))
	got, ok, err := c.Get(ctx, "chicken", gen, "page")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	require.Equal(t, "u1", got[0].UserID)
}

func TestInvalidateHidesOlderPages(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "chicken", 0, "page", page("u1", 3)))
	require.NoError(t, c.Invalidate(ctx, "chicken"))

	gen, err := c.Generation(ctx, "chicken")
	require.NoError(t, err)
	require.Equal(t, int64(1), gen)

	_, ok, err := c.Get(ctx, "chicken", gen, "page")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPageComputedBeforeInvalidationStaysUnreachable(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	// Query reads the generation and misses, then a cycle invalidates
	// before the query writes back what it read from the store.
	gen, err := c.Generation(ctx, "chicken")
	require.NoError(t, err)
	_, ok, err := c.Get(ctx, "chicken", gen, "page")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Invalidate(ctx, "chicken"))
	require.NoError(t, c.Set(ctx, "chicken", gen, "page", page("old", 1)))

	current, err := c.Generation(ctx, "chicken")
	require.NoError(t, err)
	_, ok, err = c.Get(ctx, "chicken", current, "page")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGenerationsAreScopedBySource(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "rainbet", 0, "page", page("r1", 9)))
	require.NoError(t, c.Invalidate(ctx, "chicken"))

	gen, err := c.Generation(ctx, "rainbet")
	require.NoError(t, err)
	require.Zero(t, gen)
	_, ok, err := c.Get(ctx, "rainbet", gen, "page")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPagesExpireAfterTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "chicken", 0, "page", page("u1", 3)))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "chicken", 0, "page")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheErrorsWhenServerIsGone(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Close()

	_, err := c.Generation(context.Background(), "chicken")
	require.Error(t, err)
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "redis://:bad port")
	require.Error(t, err)
}
