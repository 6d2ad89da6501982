package normalize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/model"
)

// ErrCacheMiss is returned by a KV when the key is absent.
var ErrCacheMiss = errors.New("normalize: cache miss")

// KV is the string store behind Cached.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// DefaultTTL is how long a live normalization is reused across runs.
const DefaultTTL = 7 * 24 * time.Hour

const keyPrefix = "normalize:v1:"

type cachedEntry struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// Cached reuses live normalizations across runs. Only live results are
// stored, so heuristic fallbacks get another chance next run. Store errors
// degrade to calling the wrapped normalizer.
type Cached struct {
	next Normalizer
	kv   KV
	ttl  time.Duration
}

// NewCached wraps next with kv.
func NewCached(next Normalizer, kv KV, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cached{next: next, kv: kv, ttl: ttl}
}

// Key returns the cache key for title.
func Key(title string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(title))))
	return keyPrefix + hex.EncodeToString(sum[:16])
}

// Normalize implements Normalizer.
func (c *Cached) Normalize(ctx context.Context, title string) (Result, error) {
	key := Key(title)

	raw, err := c.kv.Get(ctx, key)
	switch {
	case err == nil:
		var e cachedEntry
		if jerr := json.Unmarshal([]byte(raw), &e); jerr == nil && e.Name != "" {
			return Result{
				Name:  e.Name,
				Usage: model.AIUsage{Provider: e.Provider, Model: e.Model, Mode: model.ModeCache, Used: true},
			}, nil
		}
		zap.L().Debug("normalize: dropping unreadable cache entry", zap.String("key", key))
	case !errors.Is(err, ErrCacheMiss):
		zap.L().Warn("normalize: cache get failed", zap.String("key", key), zap.Error(err))
	}

	res, err := c.next.Normalize(ctx, title)
	if err != nil {
		return res, err
	}
	if res.Usage.Mode != model.ModeLive || res.Name == "" {
		return res, nil
	}

	data, err := json.Marshal(cachedEntry{Name: res.Name, Provider: res.Usage.Provider, Model: res.Usage.Model})
	if err == nil {
		err = c.kv.Set(ctx, key, string(data), c.ttl)
	}
	if err != nil {
		zap.L().Warn("normalize: cache set failed", zap.String("key", key), zap.Error(err))
	}
	return res, nil
}

// RedisConfig holds connection parameters for the cache's Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct {
	rdb *redis.Client
}

// NewRedisKV connects to Redis and pings it.
func NewRedisKV(ctx context.Context, cfg RedisConfig) (*RedisKV, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "normalize: redis ping")
	}
	return &RedisKV{rdb: rdb}, nil
}

// Get implements KV.
func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", eris.Wrapf(err, "normalize: redis get %s", key)
	}
	return v, nil
}

// Set implements KV.
func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return eris.Wrapf(err, "normalize: redis set %s", key)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisKV) Close() error {
	return r.rdb.Close()
}
