// Package discord keeps the guild member directory. A bot session follows the guild
// over the gateway and feeds the local member cache; members the cache does not know
// are fetched over REST.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v5"
	"github.com/gematik/zero-gate/pkg/membership"
)

const (
	userAgent = "DiscordBot (https://github.com/gematik/zero-gate, 0.1)"
	intents   = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
)

var (
	ErrUnknownMember = errors.New("unknown guild member")
	errNoUser        = errors.New("guild member carries no user")
)

func init() {
	discordgo.Logger = func(level, _ int, format string, a ...any) {
		slog.Log(context.Background(), slogLevel(level), fmt.Sprintf(format, a...), "component", "discordgo")
	}
}

func slogLevel(level int) slog.Level {
	switch level {
	case discordgo.LogError:
		return slog.LevelError
	case discordgo.LogWarning:
		return slog.LevelWarn
	case discordgo.LogInformational:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

type Config struct {
	BotToken string
	GuildID  string
	// HTTPClient replaces the client used for REST calls when set
	HTTPClient *http.Client
}

// Directory answers member lookups for the membership oracle and keeps the cache in
// sync with the guild while its gateway connection is running.
type Directory struct {
	session        *discordgo.Session
	guildID        string
	cache          *MemberCache
	requestMembers func(guildID string) error
}

func NewDirectory(cfg Config, cache *MemberCache) (*Directory, error) {
	s, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create bot session: %w", err)
	}
	s.UserAgent = userAgent
	s.LogLevel = discordgo.LogWarning
	s.Identify.Intents = intents
	// cache updates must apply in gateway order
	s.SyncEvents = true
	// members live in cache only
	s.State.TrackMembers = false
	s.State.TrackPresences = false
	if cfg.HTTPClient != nil {
		s.Client = cfg.HTTPClient
	}

	d := &Directory{
		session: s,
		guildID: cfg.GuildID,
		cache:   cache,
		requestMembers: func(guildID string) error {
			return s.RequestGuildMembers(guildID, "", 0, "", false)
		},
	}

	s.AddHandler(d.onReady)
	s.AddHandler(d.onGuildCreate)
	s.AddHandler(d.onGuildMembersChunk)
	s.AddHandler(d.onGuildMemberAdd)
	s.AddHandler(d.onGuildMemberUpdate)
	s.AddHandler(d.onGuildMemberRemove)

	return d, nil
}

// FetchMember implements membership.Fetcher.
func (d *Directory) FetchMember(ctx context.Context, guildID, userID string) (*membership.Member, error) {
	guildMember, err := d.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return nil, ErrUnknownMember
		}
		return nil, fmt.Errorf("fetch guild member: %w", err)
	}

	member, ok := toMember(guildMember)
	if !ok {
		return nil, fmt.Errorf("fetch guild member: %w", errNoUser)
	}
	d.cache.Put(guildID, member)

	slog.Debug("Fetched guild member", "guild_id", guildID, "user_id", member.UserID, "roles", member.Roles)

	return &member, nil
}

// Run opens the gateway connection and holds it until ctx is done. Once open the
// session resumes and reconnects by itself; only the first connect is retried here.
func (d *Directory) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 2 * time.Minute

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, d.session.Open()
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Gateway connect failed", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("open gateway: %w", err)
	}
	slog.Info("Gateway connected", "guild_id", d.guildID)

	<-ctx.Done()

	if err := d.session.Close(); err != nil {
		slog.Warn("Gateway close failed", "error", err)
	}
	return nil
}

// a fresh gateway session may have missed removals, members are refilled by GUILD_CREATE
func (d *Directory) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	d.cache.Purge()
	slog.Debug("Gateway session ready", "session_id", r.SessionID)
}

func (d *Directory) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil || g.ID != d.guildID {
		return
	}
	d.putMembers(g.Members)
	if err := d.requestMembers(g.ID); err != nil {
		slog.Warn("Requesting guild members failed", "guild_id", g.ID, "error", err)
	}
}

func (d *Directory) onGuildMembersChunk(_ *discordgo.Session, c *discordgo.GuildMembersChunk) {
	if c.GuildID != d.guildID {
		return
	}
	d.putMembers(c.Members)
	slog.Debug("Guild members chunk", "guild_id", c.GuildID, "index", c.ChunkIndex, "count", c.ChunkCount, "members", len(c.Members))
}

func (d *Directory) onGuildMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.GuildID != d.guildID {
		return
	}
	d.putMembers([]*discordgo.Member{m.Member})
}

func (d *Directory) onGuildMemberUpdate(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m.Member == nil || m.GuildID != d.guildID {
		return
	}
	d.putMembers([]*discordgo.Member{m.Member})
}

func (d *Directory) onGuildMemberRemove(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
	if m.Member == nil || m.User == nil || m.GuildID != d.guildID {
		return
	}
	d.cache.Remove(d.guildID, m.User.ID)
}

func (d *Directory) putMembers(members []*discordgo.Member) {
	for _, guildMember := range members {
		if member, ok := toMember(guildMember); ok {
			d.cache.Put(d.guildID, member)
		}
	}
}

func toMember(m *discordgo.Member) (membership.Member, bool) {
	if m == nil || m.User == nil || m.User.ID == "" {
		return membership.Member{}, false
	}
	return membership.Member{
		UserID: m.User.ID,
		Roles:  m.Roles,
	}, true
}
