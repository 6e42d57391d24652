package oracle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// cacheTTL bounds how long a cached conversion rate is served before the
// next call falls through to the upstream oracle again.
const cacheTTL = 60 * time.Second

const localCacheSize = 256

// CachedRateOracle wraps an upstream RateOracle with two cache tiers: an
// in-process TTL-evicting LRU in front of a shared Redis TTL cache, the same
// Redis-in-front-of-Postgres shape the teacher uses one layer down for
// balances, applied here to rate lookups instead. singleflight collapses
// concurrent misses for the same network into one upstream call.
type CachedRateOracle struct {
	upstream RateOracle
	local    *expirable.LRU[string, float64]
	redis    *redis.Client
	group    singleflight.Group
	log      zerolog.Logger
}

func NewCachedRateOracle(upstream RateOracle, redisClient *redis.Client, logger zerolog.Logger) *CachedRateOracle {
	return &CachedRateOracle{
		upstream: upstream,
		local:    expirable.NewLRU[string, float64](localCacheSize, nil, cacheTTL),
		redis:    redisClient,
		log:      logger.With().Str("component", "rate_oracle_cache").Logger(),
	}
}

func (c *CachedRateOracle) HbarToUsd(ctx context.Context, network string) (float64, error) {
	if v, ok := c.local.Get(network); ok {
		return v, nil
	}

	if rate, ok := c.readRedis(ctx, network); ok {
		c.local.Add(network, rate)
		return rate, nil
	}

	v, err, _ := c.group.Do(network, func() (interface{}, error) {
		rate, err := c.upstream.HbarToUsd(ctx, network)
		if err != nil {
			return nil, err
		}
		c.local.Add(network, rate)
		c.writeRedis(ctx, network, rate)
		return rate, nil
	})
	if err != nil {
		return 0, fmt.Errorf("rate oracle unavailable for network %q: %w", network, err)
	}
	return v.(float64), nil
}

func (c *CachedRateOracle) readRedis(ctx context.Context, network string) (float64, bool) {
	if c.redis == nil {
		return 0, false
	}
	s, err := c.redis.Get(ctx, redisKey(network)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Msg("redis rate cache read failed, falling through")
		}
		return 0, false
	}
	rate, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return rate, true
}

func (c *CachedRateOracle) writeRedis(ctx context.Context, network string, rate float64) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, redisKey(network), strconv.FormatFloat(rate, 'f', -1, 64), cacheTTL).Err(); err != nil {
		c.log.Warn().Err(err).Msg("redis rate cache write failed")
	}
}

func redisKey(network string) string {
	return fmt.Sprintf("rate:hbar_usd:%s", network)
}
