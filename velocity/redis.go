package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/redis/go-redis/v9"

	"github.com/warriorguo/riskflow/types"
)

var (
	_ types.VelocityCache = &RedisCache{}
)

const defaultKeyPrefix = "riskflow:velocity:"

func NewRedisClient(cfg *types.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisCache stores each identifier as a sorted set scored by event time,
// which lets several processes share one velocity window.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Append prunes, adds and counts inside one MULTI/EXEC so concurrent
// callers never under-count.
func (c *RedisCache) Append(ctx context.Context, identifier string, at time.Time, window time.Duration) (int, error) {
	key := c.prefix + identifier
	now := at.UnixMilli()
	cutoff := now - window.Milliseconds()

	var card *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: fmt.Sprintf("%d-%s", now, uuid.NewString())})
		card = pipe.ZCard(ctx, key)
		pipe.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, errors.Annotatef(err, "velocity append %s", identifier)
	}
	return int(card.Val()), nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return errors.Trace(c.client.Ping(ctx).Err())
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
