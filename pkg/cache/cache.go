// Package cache stores fetched directory index pages so repeated batch runs
// do not crawl the remote server again.
//
// Three backends implement [Cache]:
//
//   - [FileCache]: JSON entries under a directory, the CLI default
//   - [RedisCache]: a shared Redis instance for hosts that run many batches
//   - [NullCache]: stores nothing, used with --no-cache
//
// [Open] picks a backend from [Config]; [Instrument] reports hits and misses
// to the registered observability hooks.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Cache is a byte-oriented key/value store with per-entry expiration.
type Cache interface {
	// Get returns the value for key and whether it was found.
	// Expired entries are reported as misses.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of 0 means the entry never expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Backend names accepted by [Open].
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendNone  = "none"
)

// Config selects and configures a cache backend.
type Config struct {
	Backend  string // file (default), redis or none
	Dir      string // FileCache directory; empty uses DefaultDir
	Addr     string // Redis address, host:port
	Password string
	DB       int    // Redis database number
	Prefix   string // Redis key prefix
}

// Open creates the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Cache, error) {
	switch cfg.Backend {
	case "", BackendFile:
		dir := cfg.Dir
		if dir == "" {
			d, err := DefaultDir()
			if err != nil {
				return nil, err
			}
			dir = d
		}
		c, err := NewFileCache(dir)
		if err != nil {
			return nil, err
		}
		return c, nil
	case BackendRedis:
		c, err := NewRedisCache(ctx, RedisOptions{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB, Prefix: cfg.Prefix})
		if err != nil {
			return nil, err
		}
		return c, nil
	case BackendNone:
		return NewNullCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q (want file, redis or none)", cfg.Backend)
	}
}

// DefaultDir returns the per-user cache directory for index pages,
// e.g. ~/.cache/cratepack/index on Linux.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "cratepack", "index"), nil
}

// IndexKey returns the cache key for a directory index page URL.
func IndexKey(url string) string {
	return "index:" + hashKey(url)
}

// hashKey is the hex SHA-256 of key.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
