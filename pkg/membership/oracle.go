// Package membership decides whether an identity belongs to the closed group the
// gate protects: membership in one guild plus at least one authorized role.
package membership

import (
	"context"
	"log/slog"
)

type Member struct {
	UserID string
	Roles  []string
}

// Cache is the local, read-mostly tier of the member directory. It is kept warm by an
// external sync and may be mutated concurrently with lookups.
type Cache interface {
	Member(guildID, userID string) (*Member, bool)
}

// Fetcher retrieves a single member from the remote directory.
type Fetcher interface {
	FetchMember(ctx context.Context, guildID, userID string) (*Member, error)
}

type Config struct {
	GuildID         string
	AuthorizedRoles []string
}

type Oracle struct {
	guildID         string
	authorizedRoles map[string]struct{}
	cache           Cache
	fetcher         Fetcher
}

func New(cfg Config, cache Cache, fetcher Fetcher) *Oracle {
	roles := make(map[string]struct{}, len(cfg.AuthorizedRoles))
	for _, role := range cfg.AuthorizedRoles {
		roles[role] = struct{}{}
	}
	return &Oracle{
		guildID:         cfg.GuildID,
		authorizedRoles: roles,
		cache:           cache,
		fetcher:         fetcher,
	}
}

// IsAuthorized never fails. Whenever membership cannot be confirmed the answer is
// false.
func (o *Oracle) IsAuthorized(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}

	member, ok := o.lookup(ctx, userID)
	if !ok {
		return false
	}

	for _, role := range member.Roles {
		if _, ok := o.authorizedRoles[role]; ok {
			return true
		}
	}

	slog.Debug("Member lacks authorized roles", "user_id", userID, "roles", member.Roles)
	return false
}

func (o *Oracle) lookup(ctx context.Context, userID string) (*Member, bool) {
	if o.cache != nil {
		if member, ok := o.cache.Member(o.guildID, userID); ok {
			lookupsTotal.WithLabelValues(sourceCache).Inc()
			return member, true
		}
	}

	if o.fetcher == nil {
		lookupsTotal.WithLabelValues(sourceMiss).Inc()
		return nil, false
	}

	member, err := o.fetcher.FetchMember(ctx, o.guildID, userID)
	if err != nil || member == nil {
		slog.Warn("Failed to fetch guild member", "user_id", userID, "guild_id", o.guildID, "error", err)
		lookupsTotal.WithLabelValues(sourceMiss).Inc()
		return nil, false
	}

	lookupsTotal.WithLabelValues(sourceRemote).Inc()
	return member, true
}
