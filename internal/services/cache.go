// Package services holds the pipeline's outbound service clients: a
// cache abstraction used by the resolver to remember model-fallback
// verdicts, and the model client used by the parsing cascade's text/vision
// stages.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheService abstracts Redis/in-memory caching so callers don't care which
// backend is wired; Redis is primary, memory is the fallback when Redis is
// unreachable at startup.
type CacheService interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type cacheEntry struct {
	Value      []byte
	Expiration time.Time
}

// MemoryCache is the fallback backend when Redis is unavailable.
type MemoryCache struct {
	store map[string]cacheEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{store: make(map[string]cacheEntry)}
}

func (m *MemoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	entry, exists := m.store[key]
	if !exists {
		return fmt.Errorf("key not found: %s", key)
	}
	if time.Now().After(entry.Expiration) {
		delete(m.store, key)
		return fmt.Errorf("key expired: %s", key)
	}
	return json.Unmarshal(entry.Value, dest)
}

func (m *MemoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.store[key] = cacheEntry{Value: data, Expiration: time.Now().Add(expiration)}
	return nil
}

func (m *MemoryCache) Delete(ctx context.Context, key string) error {
	delete(m.store, key)
	return nil
}

func (m *MemoryCache) Close() error {
	m.store = make(map[string]cacheEntry)
	return nil
}

// RedisCache is the primary caching backend.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("key not found: %s", key)
		}
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, expiration).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

// GenerateOperatorCacheKey keys the resolver's model-fallback verdict cache on
// the normalized operator string, so two raw operator spellings that
// normalize the same share a cache entry.
func GenerateOperatorCacheKey(normalizedOperator string) string {
	hash := sha256.Sum256([]byte(normalizedOperator))
	return "operator:" + hex.EncodeToString(hash[:])[:16]
}

// GenerateIdempotencyProbeKey builds an in-flight cache key from a content
// fingerprint. Nothing in this module calls it; the Work Queue's in-flight
// set is an in-process map.
func GenerateIdempotencyProbeKey(fingerprint string) string {
	return "inflight:" + fingerprint
}
