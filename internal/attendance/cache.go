package attendance

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"classattend/internal/model"
	"classattend/internal/store"
)

// RedisRecapCache keeps built recaps in Redis for a short ttl. Each schedule
// has a generation counter; recaps are stored under the generation they were
// built in, so bumping the counter orphans every older copy.
type RedisRecapCache struct {
	redis *store.Redis
	ttl   time.Duration
}

func NewRedisRecapCache(r *store.Redis, ttl time.Duration) *RedisRecapCache {
	return &RedisRecapCache{redis: r, ttl: ttl}
}

func genKey(scheduleID string) string { return "classattend:recap-gen:" + scheduleID }

func recapKey(scheduleID string, gen int64) string {
	return "classattend:recap:" + scheduleID + ":" + strconv.FormatInt(gen, 10)
}

func (c *RedisRecapCache) generation(ctx context.Context, scheduleID string) (int64, error) {
	gen, err := c.redis.Client.Get(ctx, genKey(scheduleID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisRecapCache) Get(ctx context.Context, scheduleID string) (*model.Recap, int64, error) {
	gen, err := c.generation(ctx, scheduleID)
	if err != nil {
		return nil, 0, err
	}
	var recap model.Recap
	ok, err := c.redis.GetJSON(ctx, recapKey(scheduleID, gen), &recap)
	if err != nil || !ok {
		return nil, gen, err
	}
	return &recap, gen, nil
}

func (c *RedisRecapCache) Set(ctx context.Context, recap *model.Recap, gen int64) error {
	return c.redis.SetJSON(ctx, recapKey(recap.ScheduleID, gen), recap, c.ttl)
}

func (c *RedisRecapCache) Invalidate(ctx context.Context, scheduleID string) error {
	return c.redis.Client.Incr(ctx, genKey(scheduleID)).Err()
}
