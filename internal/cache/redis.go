package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"clinicslots/internal/availability"
)

// RedisCache shares computed schedules between instances. Values are JSON.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zerolog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis_cache").Logger(),
	}
}

func (c *RedisCache) Get(ctx context.Context, practitionerID, date string) (availability.DaySchedule, bool) {
	key := Key(practitionerID, date)
	val, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		}
		return availability.DaySchedule{}, false
	}

	var schedule availability.DaySchedule
	if err := json.Unmarshal(val, &schedule); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("drop undecodable cache entry")
		_ = c.client.Del(ctx, key).Err()
		return availability.DaySchedule{}, false
	}
	if schedule.Slots == nil {
		schedule.Slots = []availability.AvailabilitySlot{}
	}
	return schedule, true
}

func (c *RedisCache) Set(ctx context.Context, schedule availability.DaySchedule) {
	data, err := json.Marshal(schedule)
	if err != nil {
		c.logger.Warn().Err(err).Msg("encode schedule")
		return
	}
	key := Key(schedule.PractitionerID, schedule.Date)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, practitionerID, date string) {
	key := Key(practitionerID, date)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis del failed")
	}
}

func (c *RedisCache) InvalidatePractitioner(ctx context.Context, practitionerID string) {
	c.deleteMatching(ctx, practitionerPrefix(practitionerID)+"*")
}

func (c *RedisCache) Purge(ctx context.Context) {
	c.deleteMatching(ctx, "slots:*")
}

func (c *RedisCache) deleteMatching(ctx context.Context, pattern string) {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Str("pattern", pattern).Msg("redis scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Str("pattern", pattern).Msg("redis del failed")
	}
}

// Ping reports whether Redis is reachable; used by readiness checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
