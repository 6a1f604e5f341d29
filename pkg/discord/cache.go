package discord

import (
	"slices"
	"time"

	"github.com/gematik/zero-gate/pkg/membership"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemberCache is the local tier of the guild member directory. It is written by the
// gateway handlers and by REST fetches and read by the membership oracle.
type MemberCache struct {
	members *expirable.LRU[string, membership.Member]
}

// NewMemberCache creates a cache holding at most size members, each for at most ttl.
// A size of 0 means unbounded, a ttl of 0 means no expiry.
func NewMemberCache(size int, ttl time.Duration) *MemberCache {
	return &MemberCache{
		members: expirable.NewLRU[string, membership.Member](size, nil, ttl),
	}
}

func cacheKey(guildID, userID string) string {
	return guildID + "/" + userID
}

func (c *MemberCache) Member(guildID, userID string) (*membership.Member, bool) {
	member, ok := c.members.Get(cacheKey(guildID, userID))
	if !ok {
		return nil, false
	}
	// callers must not be able to alter the cached roles
	member.Roles = slices.Clone(member.Roles)
	return &member, true
}

func (c *MemberCache) Put(guildID string, member membership.Member) {
	member.Roles = slices.Clone(member.Roles)
	c.members.Add(cacheKey(guildID, member.UserID), member)
}

func (c *MemberCache) Remove(guildID, userID string) {
	c.members.Remove(cacheKey(guildID, userID))
}

func (c *MemberCache) Len() int {
	return c.members.Len()
}

func (c *MemberCache) Purge() {
	c.members.Purge()
}
