package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"affiliate-leaderboard/models"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, errors.Wrap(parseErr, "parse redis url")
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// RedisLeaderboardCache stores leaderboard pages under a per-source
// generation number. Invalidation bumps the generation, so older pages are
// never read again and simply expire.
//
// Callers read the generation once, before touching the store, and pass the
// same value to Get and Set. A page computed before an invalidation is then
// written under the old generation and stays unreachable.
type RedisLeaderboardCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLeaderboardCache(client *redis.Client, ttl time.Duration) *RedisLeaderboardCache {
	return &RedisLeaderboardCache{client: client, ttl: ttl}
}

func generationKey(source string) string {
	return "leaderboard:" + source + ":gen"
}

func pageKey(source string, gen int64, key string) string {
	return fmt.Sprintf("leaderboard:%s:%d:%s", source, gen, key)
}

// Generation returns the current generation of source, 0 before the first
// invalidation.
func (c *RedisLeaderboardCache) Generation(ctx context.Context, source string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(source)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "read %s cache generation", source)
	}
	return gen, nil
}

func (c *RedisLeaderboardCache) Get(ctx context.Context, source string, gen int64, key string) ([]models.ReferralRecord, bool, error) {
	raw, err := c.client.Get(ctx, pageKey(source, gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "read %s leaderboard page", source)
	}
	var out []models.ReferralRecord
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, errors.Wrapf(err, "decode %s leaderboard page", source)
	}
	return out, true, nil
}

func (c *RedisLeaderboardCache) Set(ctx context.Context, source string, gen int64, key string, records []models.ReferralRecord) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return errors.Wrap(err, "encode leaderboard page")
	}
	if err := c.client.Set(ctx, pageKey(source, gen, key), raw, c.ttl).Err(); err != nil {
		return errors.Wrapf(err, "write %s leaderboard page", source)
	}
	return nil
}

func (c *RedisLeaderboardCache) Invalidate(ctx context.Context, source string) error {
	if err := c.client.Incr(ctx, generationKey(source)).Err(); err != nil {
		return errors.Wrapf(err, "bump %s cache generation", source)
	}
	return nil
}
