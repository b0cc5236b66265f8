package overpass

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores successful response bodies by key
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
	Close() error
}

// CacheKey derives the cache key for a query against an endpoint
func CacheKey(endpoint, query string) string {
	sum := sha1.Sum([]byte(endpoint + "\n" + query))
	return hex.EncodeToString(sum[:])
}

// OpenCache opens a Redis cache for redis:// and rediss:// URLs and a
// directory cache for anything else. An empty location disables caching.
func OpenCache(location string, ttl time.Duration) (Cache, error) {
	switch {
	case location == "":
		return nil, nil
	case strings.HasPrefix(location, "redis://"), strings.HasPrefix(location, "rediss://"):
		opts, err := redis.ParseURL(location)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		return NewRedisCache(redis.NewClient(opts), ttl), nil
	default:
		return NewDirCache(location, ttl)
	}
}

// RedisCache keeps responses in Redis with a TTL
type RedisCache struct {
	rc     *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps a client. A zero ttl keeps entries forever.
func NewRedisCache(rc *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rc: rc, ttl: ttl, prefix: "speedtiles:overpass:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.rc.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, data []byte) error {
	return c.rc.Set(ctx, c.prefix+key, data, c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.rc.Close()
}

// DirCache keeps one file per response; entries older than ttl are misses
type DirCache struct {
	dir string
	ttl time.Duration
}

// NewDirCache creates the cache directory
func NewDirCache(dir string, ttl time.Duration) (*DirCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &DirCache{dir: dir, ttl: ttl}, nil
}

func (c *DirCache) path(key string) string {
	return filepath.Join(c.dir, key+".json")
}

func (c *DirCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	path := c.path(key)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if c.ttl > 0 && time.Since(info.ModTime()) > c.ttl {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *DirCache) Set(_ context.Context, key string, data []byte) error {
	path := c.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

func (c *DirCache) Close() error {
	return nil
}
