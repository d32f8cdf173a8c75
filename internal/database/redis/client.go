// Package redis keeps live session statistics in a Redis hash and share
// counters per status, for dashboards that poll Redis.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bardlex/gompminer/internal/reporting"
)

// Client wraps Redis operations for the miner
type Client struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// Config holds Redis connection configuration
type Config struct {
	// URL is a redis:// URL as accepted by redis.ParseURL.
	URL string
	// Prefix namespaces every key, normally the worker name.
	Prefix string
	// TTL expires keys of a miner that stopped reporting.
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient creates a new Redis client
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return newClient(rdb, cfg), nil
}

func newClient(rdb *redis.Client, cfg *Config) *Client {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "default"
	}
	return &Client{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// StatsKey is the hash holding the latest snapshot.
func (c *Client) StatsKey() string {
	return fmt.Sprintf("miner:%s:stats", c.prefix)
}

// CounterKey is the counter for one share status.
func (c *Client) CounterKey(status reporting.ShareStatus) string {
	return fmt.Sprintf("miner:%s:shares:%s", c.prefix, status)
}

// SetStats replaces the stats hash with snap.
func (c *Client) SetStats(ctx context.Context, snap reporting.StatsSnapshot) error {
	key := c.StatsKey()

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, StatsFields(snap))
	pipe.Expire(ctx, key, c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set stats: %w", err)
	}
	return nil
}

// StatsFields flattens a snapshot into hash fields.
func StatsFields(snap reporting.StatsSnapshot) map[string]any {
	return map[string]any{
		"pool":             snap.Pool,
		"user":             snap.User,
		"phase":            snap.Phase,
		"difficulty":       strconv.FormatFloat(snap.Difficulty, 'g', -1, 64),
		"shares_submitted": snap.SharesSubmitted,
		"shares_accepted":  snap.SharesAccepted,
		"shares_rejected":  snap.SharesRejected,
		"shares_stale":     snap.SharesStale,
		"hashes":           snap.Hashes,
		"hashrate":         strconv.FormatFloat(snap.Hashrate, 'f', 2, 64),
		"uptime_seconds":   int64(snap.Uptime.Seconds()),
		"updated_at":       snap.At.Unix(),
	}
}

// GetStats reads the stats hash back.
func (c *Client) GetStats(ctx context.Context) (map[string]string, error) {
	vals, err := c.rdb.HGetAll(ctx, c.StatsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return vals, nil
}

// IncrementCounter increments a counter with expiration
func (c *Client) IncrementCounter(ctx context.Context, key string) (int64, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, c.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return incrCmd.Val(), nil
}

// GetCounter retrieves a counter value
func (c *Client) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}
