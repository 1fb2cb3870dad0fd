package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/jitaccess/pkg/resources"
)

const groupCacheKeyPrefix = "jitaccess:groups:"

// CachedDirectory caches direct group memberships in Redis in front of a
// DirectoryClient. Membership changes are rare relative to privilege
// listings, and the directory API is the slowest call on the listing path.
// Cache failures fall through to the inner client.
type CachedDirectory struct {
	inner  DirectoryClient
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedDirectory wraps inner with a Redis TTL cache.
func NewCachedDirectory(inner DirectoryClient, client *redis.Client, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: slog.Default().With("component", "catalog.groupcache"),
	}
}

// ListDirectGroups serves memberships from the cache when present.
func (d *CachedDirectory) ListDirectGroups(ctx context.Context, user resources.UserEmail) ([]string, error) {
	key := groupCacheKeyPrefix + user.Email

	cached, err := d.client.Get(ctx, key).Result()
	if err == nil {
		var groups []string
		if jerr := json.Unmarshal([]byte(cached), &groups); jerr == nil {
			return groups, nil
		}
		// Unreadable entry: drop it and refetch.
		d.client.Del(ctx, key)
	} else if err != redis.Nil {
		d.logger.WarnContext(ctx, "group cache read failed", "error", err)
	}

	groups, err := d.inner.ListDirectGroups(ctx, user)
	if err != nil {
		return nil, err
	}

	if payload, jerr := json.Marshal(groups); jerr == nil {
		if serr := d.client.Set(ctx, key, payload, d.ttl).Err(); serr != nil {
			d.logger.WarnContext(ctx, "group cache write failed", "error", serr)
		}
	}
	return groups, nil
}

// ListGroupMembers is not cached: it only runs on the reviewer-listing
// path, which is far less frequent than privilege listings.
func (d *CachedDirectory) ListGroupMembers(ctx context.Context, groupEmail string) ([]resources.UserEmail, error) {
	return d.inner.ListGroupMembers(ctx, groupEmail)
}
