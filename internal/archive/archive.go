// Package archive keeps concluded debate sessions, transcript included,
// after they have been evicted from the in-memory registry.
package archive

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"agora/pkg/types"
)

// StoreType selects an archive driver
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

const (
	defaultRedisTTL    = 7 * 24 * time.Hour
	defaultRedisPrefix = "agora:session:"
)

// Store holds sealed sessions keyed by ID
type Store interface {
	// Put stores a full snapshot, replacing any previous one
	Put(ctx context.Context, session *types.DebateSession) error

	// Get returns the snapshot or ErrNotFound
	Get(ctx context.Context, id string) (*types.DebateSession, error)

	// Delete removes a snapshot; deleting a missing ID is not an error
	Delete(ctx context.Context, id string) error

	Close() error
}

// Option configures a Store
type Option func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
	redisPrefix string
}

// WithRedisClient sets the client used by the redis driver
func WithRedisClient(client *redis.Client) Option {
	return func(c *storeConfig) { c.redisClient = client }
}

// WithRedisTTL sets how long archived sessions live in redis
func WithRedisTTL(ttl time.Duration) Option {
	return func(c *storeConfig) { c.redisTTL = ttl }
}

// WithRedisPrefix sets the key prefix for archived sessions
func WithRedisPrefix(prefix string) Option {
	return func(c *storeConfig) { c.redisPrefix = prefix }
}

// NewStore creates an archive store of the given type. The redis driver
// requires WithRedisClient.
func NewStore(storeType StoreType, opts ...Option) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory, "":
		return newMemoryStore(), nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		ttl := config.redisTTL
		if ttl <= 0 {
			ttl = defaultRedisTTL
		}
		prefix := config.redisPrefix
		if prefix == "" {
			prefix = defaultRedisPrefix
		}
		return &redisStore{client: config.redisClient, ttl: ttl, prefix: prefix}, nil

	default:
		return nil, ErrInvalidStoreType
	}
}
