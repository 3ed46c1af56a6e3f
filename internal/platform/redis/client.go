package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"vigil/internal/platform/config"
)

// Client is the shared connection plus the key namespace every cache in
// the process writes under.
type Client struct {
	*redis.Client
	namespace string
}

// New connects and pings, retrying while Redis starts alongside the
// service. Returns nil, nil when no URL is configured.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := pingWithRetry(ctx, client, max(cfg.ConnectAttempts, 1)); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Client{Client: client, namespace: strings.TrimSuffix(cfg.KeyPrefix, ":")}, nil
}

func pingWithRetry(ctx context.Context, client *redis.Client, attempts int) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		return client.Ping(ctx).Err()
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx))
	if err != nil {
		return fmt.Errorf("redis ping failed after %d attempts: %w", attempts, err)
	}
	return nil
}

// Key joins parts under the configured namespace: Key("consensus", "state")
// is "vigil:consensus:state".
func (c *Client) Key(parts ...string) string {
	if c.namespace == "" {
		return strings.Join(parts, ":")
	}
	return c.namespace + ":" + strings.Join(parts, ":")
}

// Health pings with a short bound so readiness never hangs on Redis.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return c.Ping(ctx).Err()
}
