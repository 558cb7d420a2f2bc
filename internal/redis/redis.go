// Package redis holds the optional shared counter store behind the admission limiter.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"videoinsight/internal/config"

	redis "github.com/redis/go-redis/v9"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 6379
	pingTimeout = 3 * time.Second
)

var errNotInitialized = errors.New("redis client not initialized")

// Client wraps the go-redis client; a nil *Client returns errNotInitialized.
type Client struct {
	inner *redis.Client
}

// Enabled reports whether a redis host is configured at all.
func Enabled(cfg *config.Config) bool {
	return cfg != nil && cfg.Redis.Host != ""
}

// Options maps the redis config block onto go-redis options.
func Options(rc config.RedisConfig) *redis.Options {
	host, port := rc.Host, rc.Port
	if host == "" {
		host = defaultHost
	}
	if port <= 0 {
		port = defaultPort
	}
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: rc.Username,
		Password: rc.Password,
		DB:       rc.DB,
	}
}

// NewRedisClient connects using the app config and pings the server.
func NewRedisClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	return Dial(Options(cfg.Redis))
}

// Dial connects with explicit options; used by tests against TEST_REDIS_ADDR.
func Dial(opts *redis.Options) (*Client, error) {
	inner := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := inner.Ping(ctx).Err(); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &Client{inner: inner}, nil
}

// IncrWindow bumps the counter at key and returns its new value. The first
// increment of a key also sets its expiry to window, in the same transaction.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if c == nil || c.inner == nil {
		return 0, errNotInitialized
	}
	var incr *redis.IntCmd
	_, err := c.inner.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
