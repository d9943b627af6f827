package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const defaultNamespace = "al"

var errNotInitialized = errors.New("redis client not initialized")

// commands is the subset of redis.Cmdable the ledger uses.
type commands interface {
	Ping(context.Context) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	SetNX(context.Context, string, any, time.Duration) *redis.BoolCmd
	Incr(context.Context, string) *redis.IntCmd
	Expire(context.Context, string, time.Duration) *redis.BoolCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// Pinger exposes the health-check surface.
type Pinger interface {
	Ping(context.Context) error
}

// Claimer is the SETNX surface the view dedup engine needs.
type Claimer interface {
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	ViewClaimKey(assetID int64, identity string, bucket int64) string
}

// RateLimiter applies fixed-window counters.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// IdempotencyStore backs request replay and consumer dedup.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// Client is the ledger's handle on redis. Keys are namespaced by Keyspace.
type Client struct {
	Keyspace

	cmds commands
	conn *redis.Client
	now  func() time.Time
}

// New dials redis and fails fast when the first PING does not answer.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	conn := redis.NewClient(opts)
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"addr":      opts.Addr,
			"db":        opts.DB,
			"pool_size": opts.PoolSize,
		}), "redis connection established")
	}
	return newClient(conn, cfg.KeyPrefix, conn), nil
}

func newClient(cmds commands, prefix string, conn *redis.Client) *Client {
	return &Client{Keyspace: NewKeyspace(prefix), cmds: cmds, conn: conn, now: time.Now}
}

// optionsFromConfig prefers the URL form and lets explicit config fill in
// anything the URL left unset.
func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case strings.TrimSpace(cfg.URL) != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case strings.TrimSpace(cfg.Address) != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password}
	default:
		return nil, errors.New("redis url or address is required")
	}

	setInt(&opts.DB, cfg.DB)
	setInt(&opts.PoolSize, cfg.PoolSize)
	setInt(&opts.MinIdleConns, cfg.MinIdleConns)
	setDuration(&opts.DialTimeout, cfg.DialTimeout)
	setDuration(&opts.ReadTimeout, cfg.ReadTimeout)
	setDuration(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func setInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.cmds == nil {
		return "", errNotInitialized
	}
	return c.cmds.Get(ctx, key).Result()
}

// SetNX reports whether this call created key.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.cmds == nil {
		return false, errNotInitialized
	}
	return c.cmds.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.cmds == nil {
		return errNotInitialized
	}
	if len(keys) == 0 {
		return nil
	}
	return c.cmds.Del(ctx, keys...).Err()
}

// FixedWindowAllow counts a hit against scope in the current window. The
// window start is part of the key, so a counter whose EXPIRE was lost still
// stops being consulted once the window rolls over.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if c.cmds == nil {
		return false, 0, errNotInitialized
	}
	if window <= 0 {
		return false, 0, fmt.Errorf("rate limit window must be positive")
	}
	bucket := c.now().UnixNano() / int64(window)
	key := c.RateLimitKey(scope, bucket)

	count, err := c.cmds.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := c.cmds.Expire(ctx, key, window).Err(); err != nil {
			return true, count, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return count <= limit, count, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c.cmds == nil {
		return errNotInitialized
	}
	return c.cmds.Ping(ctx).Err()
}

// Close is a no-op for clients built without a connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Keyspace builds `<prefix>:<kind>:...` keys.
type Keyspace struct {
	prefix string
}

func NewKeyspace(prefix string) Keyspace {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultNamespace
	}
	return Keyspace{prefix: prefix}
}

func (k Keyspace) IdempotencyKey(scope, id string) string {
	return k.join("idempotency", scope, id)
}

func (k Keyspace) RateLimitKey(scope string, bucket int64) string {
	return k.join("rate_limit", scope, strconv.FormatInt(bucket, 10))
}

// ViewClaimKey identifies one identity viewing an asset within one dedup
// bucket.
func (k Keyspace) ViewClaimKey(assetID int64, identity string, bucket int64) string {
	return k.join("view_claim", strconv.FormatInt(assetID, 10), identity, strconv.FormatInt(bucket, 10))
}

func (k Keyspace) join(parts ...string) string {
	prefix := k.prefix
	if prefix == "" {
		prefix = defaultNamespace
	}
	out := []string{prefix}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, ":")
}
