package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"sokoni/internal/middleware"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

var loadGroup singleflight.Group

// GetJSON loads key into dest. It reports false on a miss or when no client
// is configured.
func GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if client == nil {
		return false, nil
	}
	raw, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON stores value under key for ttl. A nil client is a no-op.
func SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, raw, ttl).Err()
}

// Aside implements cache-aside: on a hit dest is filled from Redis, on a miss
// load fills dest and the result is written back. Concurrent misses for the
// same key share one load. Cache failures never fail the read.
func Aside(ctx context.Context, key string, dest any, ttl time.Duration, load func() error) error {
	if client == nil {
		return load()
	}

	hit, err := GetJSON(ctx, key, dest)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	if hit {
		return nil
	}

	raw, err, _ := loadGroup.Do(key, func() (any, error) {
		if err := load(); err != nil {
			return nil, err
		}
		b, err := json.Marshal(dest)
		if err != nil {
			return nil, err
		}
		if err := client.Set(ctx, key, b, ttl).Err(); err != nil {
			middleware.Logger.WarnContext(ctx, "cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		return b, nil
	})
	if err != nil {
		return err
	}
	// Callers that joined another caller's load still need dest filled.
	return json.Unmarshal(raw.([]byte), dest)
}
