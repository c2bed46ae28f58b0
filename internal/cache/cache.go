package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"drainwatch/internal/logger"
	"drainwatch/internal/models"
)

// ErrMiss is returned when no cached reading exists for the manhole.
var ErrMiss = errors.New("cache miss")

const lastReadingTTL = 24 * time.Hour

// ReadingCache keeps the most recent reading per manhole in Redis so the
// dashboard's latest-state view never touches MySQL. Cache failures are
// non-fatal: the store remains the source of truth.
type ReadingCache struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr string, db int) (*ReadingCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &ReadingCache{client: client}, nil
}

func lastReadingKey(manholeID string) string {
	return "reading:last:" + manholeID
}

// SetLast stores the reading as the manhole's latest.
func (c *ReadingCache) SetLast(ctx context.Context, reading *models.SensorReading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, lastReadingKey(reading.ManholeID), data, lastReadingTTL).Err(); err != nil {
		log := logger.WithComponent("cache")
		log.Warn().Err(err).
			Str("manhole_id", reading.ManholeID).
			Msg("failed to cache latest reading")
		return err
	}
	return nil
}

// Last returns the manhole's cached latest reading, or ErrMiss.
func (c *ReadingCache) Last(ctx context.Context, manholeID string) (*models.SensorReading, error) {
	data, err := c.client.Get(ctx, lastReadingKey(manholeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	var reading models.SensorReading
	if err := json.Unmarshal(data, &reading); err != nil {
		return nil, err
	}
	return &reading, nil
}

// Close releases the Redis connection.
func (c *ReadingCache) Close() error {
	return c.client.Close()
}
