// Package cache memoizes normalized vectors keyed by the space that
// produced them and a digest of the input.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/embedgate/internal/vector"
)

const keyPrefix = "embedgate:vec:"

// Key identifies one cached vector.
type Key struct {
	Space       string
	Fingerprint string // adapter fingerprint; a model change yields new keys
	Modality    string
	Digest      string // hex sha256 of the input
}

// NewKey builds a key for input embedded in space.
func NewKey(space, fingerprint, modality string, input []byte) Key {
	sum := sha256.Sum256(input)
	return Key{Space: space, Fingerprint: fingerprint, Modality: modality, Digest: hex.EncodeToString(sum[:])}
}

// String renders the Redis key. The fingerprint is shortened to a hash so
// templates containing separators cannot collide with other fields.
func (k Key) String() string {
	fp := sha256.Sum256([]byte(k.Fingerprint))
	return keyPrefix + k.Space + ":" + hex.EncodeToString(fp[:6]) + ":" + k.Modality + ":" + k.Digest
}

// Cache stores vectors. Failures are never surfaced: a miss is always a
// valid answer.
type Cache interface {
	Get(ctx context.Context, key Key) ([]float32, bool)
	Set(ctx context.Context, key Key, vec []float32)
}

// Redis is a Cache backed by a Redis server.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis connects to redisURL. A zero ttl keeps entries until evicted.
func NewRedis(redisURL string, ttl time.Duration, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	logger.Info("vector cache connected", zap.String("addr", opts.Addr), zap.Duration("ttl", ttl))
	return &Redis{rdb: rdb, ttl: ttl, logger: logger}, nil
}

func (c *Redis) Get(ctx context.Context, key Key) ([]float32, bool) {
	data, err := c.rdb.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("vector cache read failed", zap.String("space", key.Space), zap.Error(err))
		return nil, false
	}
	vec, err := vector.BytesToFloat32s(data)
	if err != nil || len(vec) == 0 {
		c.logger.Warn("vector cache entry corrupt", zap.String("space", key.Space), zap.Error(err))
		return nil, false
	}
	return vec, true
}

func (c *Redis) Set(ctx context.Context, key Key, vec []float32) {
	if err := c.rdb.Set(ctx, key.String(), vector.Float32sToBytes(vec), c.ttl).Err(); err != nil {
		c.logger.Warn("vector cache write failed", zap.String("space", key.Space), zap.Error(err))
	}
}

// Close closes the Redis connection.
func (c *Redis) Close() error {
	return c.rdb.Close()
}
