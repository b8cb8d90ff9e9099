package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Aside implements cache-aside: it decodes key into dst on a hit, otherwise it
// calls load (which must populate dst) and stores the result for ttl.
// Cache failures never fail the call; load errors are returned as-is and nothing is cached.
func Aside(ctx context.Context, key string, dst interface{}, ttl time.Duration, load func() error) error {
	if client == nil {
		return load()
	}

	raw, err := client.Get(ctx, key).Bytes()
	if err == nil {
		if jsonErr := json.Unmarshal(raw, dst); jsonErr == nil {
			return nil
		}
		client.Del(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		log.Printf("cache: get %s failed: %v", key, err)
	}

	if err := load(); err != nil {
		return err
	}

	payload, err := json.Marshal(dst)
	if err != nil {
		return nil
	}
	if err := client.Set(ctx, key, payload, ttl).Err(); err != nil {
		log.Printf("cache: set %s failed: %v", key, err)
	}
	return nil
}
