// Package cache holds the node's in-process caches.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// FailedChallengesCache is a time-windowed negative cache of challenge ids.
// The challenge worker consults it before re-attempting a challenge that
// recently failed. Entries expire on their own; ClearOutdatedChallenges
// reclaims the memory eagerly at tick boundaries.
type FailedChallengesCache struct {
	entries *gocache.Cache
}

// NewFailedChallengesCache builds an empty cache. Expiration is always set
// per entry, so no default ttl applies; automatic janitor runs are disabled
// because the owning worker sweeps explicitly.
func NewFailedChallengesCache() *FailedChallengesCache {
	return &FailedChallengesCache{
		entries: gocache.New(gocache.NoExpiration, 0),
	}
}

// RememberFailedChallenge records the failure for ttl. A repeated failure
// overwrites the previous window.
func (c *FailedChallengesCache) RememberFailedChallenge(challengeID string, ttl time.Duration) {
	c.entries.Set(challengeID, struct{}{}, ttl)
}

// DidChallengeFailRecently reports whether the challenge failed within its
// remembered window.
func (c *FailedChallengesCache) DidChallengeFailRecently(challengeID string) bool {
	_, found := c.entries.Get(challengeID)
	return found
}

// ClearOutdatedChallenges drops every expired entry.
func (c *FailedChallengesCache) ClearOutdatedChallenges() {
	c.entries.DeleteExpired()
}

// Size returns the number of live entries, expired ones excluded.
func (c *FailedChallengesCache) Size() int {
	size := 0
	for _, item := range c.entries.Items() {
		if !item.Expired() {
			size++
		}
	}
	return size
}
