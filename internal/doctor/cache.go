package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedProvider wraps an AvailabilityProvider with a Redis read-through
// cache. Availability changes rarely relative to how often the slot
// endpoint reads it, so a short TTL is enough; cache failures fall back
// to the inner provider and are only logged.
type CachedProvider struct {
	inner  AvailabilityProvider
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedProvider(inner AvailabilityProvider, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedProvider {
	return &CachedProvider{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *CachedProvider) Get(ctx context.Context, doctorID uuid.UUID) (*Availability, error) {
	key := availabilityKey(doctorID)

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var av Availability
		if err := json.Unmarshal(data, &av); err == nil {
			return &av, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable availability cache entry")
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Str("key", key).Msg("availability cache read failed")
	}

	av, err := c.inner.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(av); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("availability cache write failed")
		}
	}

	return av, nil
}

// Invalidate drops the cached entry for a doctor, for use when doctor
// management updates working hours.
func (c *CachedProvider) Invalidate(ctx context.Context, doctorID uuid.UUID) error {
	return c.client.Del(ctx, availabilityKey(doctorID)).Err()
}

func availabilityKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("cache:availability:%s", doctorID)
}
