package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	// memcached reads expirations above 30 days as unix timestamps.
	maxRelativeExp = 30 * 24 * 60 * 60
	maxKeyLen      = 250
	defaultAddr    = "localhost:11211"
	fallbackTTL    = 5 * time.Minute
)

// MemcachedCache implements Cache on one or more memcached servers.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache connects to the comma-separated server list addrs.
// Zero timeout or maxIdleConns keep the gomemcache defaults.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedCache {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{defaultAddr}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}
}

func parseAddrs(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// memcacheKey escapes city names (spaces, unicode) into a legal memcached key.
// Escaped keys over the protocol limit are replaced by a digest.
func memcacheKey(k string) string {
	escaped := url.PathEscape(k)
	if len(escaped) <= maxKeyLen {
		return escaped
	}
	sum := sha256.Sum256([]byte(k))
	return "weather:h:" + hex.EncodeToString(sum[:])
}

func (c *MemcachedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	item, err := c.client.Get(memcacheKey(key))
	switch {
	case errors.Is(err, memcache.ErrCacheMiss):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return item.Value, true, nil
}

func (c *MemcachedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{Key: memcacheKey(key), Value: value, Expiration: expirationSeconds(ttl)})
}

// Delete treats a missing key as success.
func (c *MemcachedCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.client.Delete(memcacheKey(key)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	return nil
}

// expirationSeconds converts ttl to whole seconds, rounding sub-second TTLs up to one.
// Non-positive TTLs fall back to five minutes.
func expirationSeconds(ttl time.Duration) int32 {
	if ttl <= 0 {
		ttl = fallbackTTL
	}
	sec := int64((ttl + time.Second - 1) / time.Second)
	if sec > maxRelativeExp {
		sec = maxRelativeExp
	}
	return int32(sec)
}

func (c *MemcachedCache) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.client.Ping()
}

func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
