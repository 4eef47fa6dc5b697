// Package cache provides a content-addressed cache of registry entries.
//
// Keys are scoped by content hash, so a cached row can never go stale: the
// hash is stamped once at publish and the entries behind it are immutable.
// The cache is deliberately unusable for "latest version" lookups - those are
// always answered by the store so resolution stays replay-safe.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"covenant/internal/registry/models"
)

const keyPrefix = "registry:entries:"

// EntryCache caches the entry list of hashed (published or deprecated)
// versions in Redis. A nil *EntryCache is a valid no-op cache.
type EntryCache struct {
	client *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(client *goredis.Client, ttl time.Duration, logger *slog.Logger) *EntryCache {
	if client == nil {
		return nil
	}
	return &EntryCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached entries for a content hash, or ok=false on miss.
// Cache errors degrade to a miss; the store remains the source of truth.
func (c *EntryCache) Get(ctx context.Context, contentHash string) ([]*models.RegistryEntry, bool) {
	if c == nil || contentHash == "" {
		return nil, false
	}
	raw, err := c.client.Get(ctx, keyPrefix+contentHash).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false
	}
	if err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "entry cache read failed", "error", err)
		}
		return nil, false
	}
	var entries []*models.RegistryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "entry cache decode failed", "error", err)
		}
		return nil, false
	}
	return entries, true
}

// Set stores the entries under their content hash. Best effort.
func (c *EntryCache) Set(ctx context.Context, contentHash string, entries []*models.RegistryEntry) {
	if c == nil || contentHash == "" {
		return
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+contentHash, raw, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.WarnContext(ctx, "entry cache write failed", "error", err)
	}
}
