package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vigil/internal/consensus/models"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/sentinel"
)

const (
	defaultPrefix = "vigil:consensus:state"
	defaultTTL    = 24 * time.Hour
)

// RedisCache stores states as JSON with a TTL. Expiry only costs a rebuild.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

type RedisOption func(*RedisCache)

// WithKeyPrefix replaces the default key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

func NewRedis(client *redis.Client, ttl time.Duration, opts ...RedisOption) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c := &RedisCache{client: client, ttl: ttl, prefix: defaultPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) Get(ctx context.Context, subject id.SubjectID) (*models.State, error) {
	raw, err := c.client.Get(ctx, c.key(subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("state %s: %w", subject, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get state: %w", err)
	}
	var st models.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &st, nil
}

func (c *RedisCache) Put(ctx context.Context, st *models.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := c.client.Set(ctx, c.key(st.SubjectID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set state: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, subject id.SubjectID) error {
	if err := c.client.Del(ctx, c.key(subject)).Err(); err != nil {
		return fmt.Errorf("redis del state: %w", err)
	}
	return nil
}

func (c *RedisCache) key(subject id.SubjectID) string {
	return c.prefix + ":" + subject.String()
}
