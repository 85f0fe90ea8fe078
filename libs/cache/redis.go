package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

const scanBatch = 200

type Options struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a thin byte-oriented cache over go-redis.
type Redis struct {
	rdb *redis.Client
}

// Open connects and pings. The caller owns Close.
func Open(ctx context.Context, opts Options) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return &Redis{rdb: rdb}, nil
}

func New(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Client exposes the underlying client for components that need raw
// commands, such as the rate limiter.
func (c *Redis) Client() *redis.Client {
	return c.rdb
}

func (c *Redis) Close() error {
	return c.rdb.Close()
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}
	return b, nil
}

// Set stores value under key. ttl <= 0 means no expiry.
func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// InvalidatePrefix removes every key starting with prefix. Keys are walked
// with SCAN so a large keyspace never blocks the server, and removed with
// UNLINK in batches.
func (c *Redis) InvalidatePrefix(ctx context.Context, prefix string) error {
	if strings.TrimSpace(prefix) == "" {
		return errors.New("cache invalidate: empty prefix")
	}
	pattern := escapeGlob(prefix) + "*"

	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("cache scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Unlink(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache unlink: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func ReadyCheck(c *Redis) func(context.Context) error {
	return func(ctx context.Context) error {
		if c == nil || c.rdb == nil {
			return errors.New("redis not configured")
		}
		return c.rdb.Ping(ctx).Err()
	}
}

// escapeGlob quotes the characters SCAN MATCH treats specially so ids that
// contain them are matched literally.
func escapeGlob(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
