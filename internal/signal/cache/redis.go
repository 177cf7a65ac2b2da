package cache

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/linkgate/linkgate/internal/signal"
)

// RedisStore backs the result cache with Redis so multiple instances share
// detector verdicts. TTL enforcement is delegated to Redis key expiry.
type RedisStore struct {
	client *redis.Client
	ttls   TTLs
	prefix string
}

// NewRedisStore creates a Redis-backed cache. The prefix namespaces keys so
// the cache can share a database with other consumers.
func NewRedisStore(client *redis.Client, ttls TTLs, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "linkgate:sig"
	}
	return &RedisStore{client: client, ttls: ttls, prefix: prefix}
}

func (r *RedisStore) key(kind signal.Kind, key string) string {
	return r.prefix + ":" + string(kind) + ":" + key
}

func (r *RedisStore) Get(ctx context.Context, kind signal.Kind, key string) (signal.Result, bool) {
	raw, err := r.client.Get(ctx, r.key(kind, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("cache: redis get failed: %v", err)
		}
		return signal.Result{}, false
	}
	var res signal.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		log.Printf("cache: corrupt redis entry for %s: %v", r.key(kind, key), err)
		return signal.Result{}, false
	}
	return res, true
}

func (r *RedisStore) Put(ctx context.Context, kind signal.Kind, key string, res signal.Result) {
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.key(kind, key), raw, r.ttls.For(kind)).Err(); err != nil {
		// Cache writes are best effort; the detector re-runs on the next miss.
		log.Printf("cache: redis set failed: %v", err)
	}
}
