package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/errors"
)

const storageType = "redis"

// RedisConfig holds configuration for the Redis forecast cache
type RedisConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	Addr         string        `json:"addr" mapstructure:"addr"`
	Password     string        `json:"password" mapstructure:"password"`
	DB           int           `json:"db" mapstructure:"db"`
	DialTimeout  time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
	PoolSize     int           `json:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns" mapstructure:"min_idle_conns"`
	MaxRetries   int           `json:"max_retries" mapstructure:"max_retries"`
	TTL          time.Duration `json:"ttl" mapstructure:"ttl"`
	KeyPrefix    string        `json:"key_prefix" mapstructure:"key_prefix"`
}

// RedisCache implements interfaces.Cache on a single Redis instance
type RedisCache struct {
	config *RedisConfig
	client *redis.Client
	logger *logrus.Logger
	mu     sync.RWMutex
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(config *RedisConfig, logger *logrus.Logger) (*RedisCache, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis config cannot be nil")
	}
	if config.Addr == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Redis address is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &RedisCache{
		config: config,
		logger: logger,
	}, nil
}

// Connect establishes connection to Redis
func (r *RedisCache) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         r.config.Addr,
		Password:     r.config.Password,
		DB:           r.config.DB,
		DialTimeout:  r.config.DialTimeout,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.WriteTimeout,
		PoolSize:     r.config.PoolSize,
		MinIdleConns: r.config.MinIdleConns,
		MaxRetries:   r.config.MaxRetries,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return errors.NewStorageConnectionError(storageType, r.config.Addr, err)
	}

	r.client = client

	r.logger.WithFields(logrus.Fields{
		"addr":       r.config.Addr,
		"db":         r.config.DB,
		"key_prefix": r.config.KeyPrefix,
	}).Info("Connected to Redis")

	return nil
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	if err != nil {
		return errors.WrapStorageError(err, "close", storageType).WithLocation(r.config.Addr)
	}

	r.logger.Info("Redis connection closed")
	return nil
}

// Ping tests the Redis connection
func (r *RedisCache) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.client == nil {
		return errors.NewStorageError(errors.CodeNotConnected, "Redis not connected")
	}
	if _, err := r.client.Ping(ctx).Result(); err != nil {
		return errors.WrapStorageError(err, "ping", storageType).WithLocation(r.config.Addr)
	}
	return nil
}

// Get returns the cached value for key
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.client == nil {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "Redis not connected")
	}

	redisKey := r.generateKey(key)
	value, err := r.client.Get(ctx, redisKey).Bytes()
	if err == redis.Nil {
		return nil, errors.NewStorageNotFoundError(storageType, redisKey)
	}
	if err != nil {
		return nil, errors.WrapStorageError(err, "get", storageType).WithLocation(redisKey)
	}

	return value, nil
}

// Set stores value under key. A zero ttl uses the configured TTL, and a zero
// configured TTL keeps the key forever.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.client == nil {
		return errors.NewStorageError(errors.CodeNotConnected, "Redis not connected")
	}
	if ttl == 0 {
		ttl = r.config.TTL
	}

	redisKey := r.generateKey(key)
	if err := r.client.Set(ctx, redisKey, value, ttl).Err(); err != nil {
		return errors.WrapStorageError(err, "set", storageType).WithLocation(redisKey)
	}

	r.logger.WithFields(logrus.Fields{
		"key":   redisKey,
		"bytes": len(value),
		"ttl":   ttl,
	}).Debug("Cached value")
	return nil
}

// Delete removes key
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.client == nil {
		return errors.NewStorageError(errors.CodeNotConnected, "Redis not connected")
	}

	redisKey := r.generateKey(key)
	if err := r.client.Del(ctx, redisKey).Err(); err != nil {
		return errors.WrapStorageError(err, "delete", storageType).WithLocation(redisKey)
	}
	return nil
}

func (r *RedisCache) generateKey(key string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.config.KeyPrefix, key)
	}
	return key
}
