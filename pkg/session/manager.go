package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gematik/zero-gate/pkg/oauth2"
	"github.com/gorilla/sessions"
	"github.com/segmentio/ksuid"
)

const (
	DefaultCookieName = "ctec-webmap-entrance"
	DefaultMaxAge     = 7 * 24 * time.Hour
)

type valueKey int

const (
	identityKey valueKey = iota
	createdAtKey
)

type Options struct {
	CookieName string
	// Secret the cookie keys are derived from
	Secret []byte
	// MaxAge is the absolute lifetime of a session, counted from creation or regeneration
	MaxAge time.Duration
	Secure bool
}

// Manager is a sessions.Store backed by a server-side Store. The cookie carries nothing
// but the sealed session token.
type Manager struct {
	store   Store
	codec   *cookieCodec
	name    string
	maxAge  time.Duration
	options sessions.Options
	now     func() time.Time
}

var _ sessions.Store = (*Manager)(nil)

func NewManager(store Store, opts Options) (*Manager, error) {
	codec, err := newCookieCodec(opts.Secret)
	if err != nil {
		return nil, err
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	return &Manager{
		store:  store,
		codec:  codec,
		name:   opts.CookieName,
		maxAge: opts.MaxAge,
		options: sessions.Options{
			Path:     "/",
			MaxAge:   int(opts.MaxAge / time.Second),
			Secure:   opts.Secure,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
		now: time.Now,
	}, nil
}

func (m *Manager) CookieName() string {
	return m.name
}

// Get returns the session of the request, resolving it at most once per request.
func (m *Manager) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(m, name)
}

// New resolves the session from the request cookie. Any cookie that does not lead to a
// stored record yields a fresh unsaved session. Store failures are returned.
func (m *Manager) New(r *http.Request, name string) (*sessions.Session, error) {
	s := sessions.NewSession(m, name)
	opts := m.options
	s.Options = &opts
	s.IsNew = true

	cookie, err := r.Cookie(name)
	if err != nil {
		return s, nil
	}

	id, err := m.codec.Decode(cookie.Value)
	if err != nil {
		slog.Debug("Ignoring invalid session cookie", "error", err)
		return s, nil
	}

	record, err := m.store.Load(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("load session: %w", err)
	}
	if m.remaining(record.CreatedAt) <= 0 {
		return s, nil
	}

	s.ID = id
	s.IsNew = false
	s.Values[createdAtKey] = record.CreatedAt
	if record.User != nil {
		s.Values[identityKey] = record.User
	}
	return s, nil
}

// Save writes the session record and sets the cookie. A negative MaxAge deletes both.
func (m *Manager) Save(r *http.Request, w http.ResponseWriter, s *sessions.Session) error {
	ctx := context.WithoutCancel(r.Context())
	if s.Options == nil {
		opts := m.options
		s.Options = &opts
	}

	if s.Options.MaxAge < 0 {
		if s.ID != "" {
			if err := m.store.Delete(ctx, s.ID); err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
		}
		setCookie(w, sessions.NewCookie(s.Name(), "", s.Options))
		return nil
	}

	if s.ID == "" {
		m.reset(s)
	}

	createdAt, _ := s.Values[createdAtKey].(time.Time)
	remaining := m.remaining(createdAt)
	if remaining < time.Second {
		// lifetime is over, continue in a fresh empty session
		if err := m.Regenerate(ctx, s); err != nil {
			return err
		}
		createdAt = s.Values[createdAtKey].(time.Time)
		remaining = m.maxAge
	}

	record := &Record{
		User:      Identity(s),
		CreatedAt: createdAt,
	}
	if err := m.store.Save(ctx, s.ID, record, remaining); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	value, err := m.codec.Encode(s.ID)
	if err != nil {
		return err
	}
	opts := *s.Options
	opts.MaxAge = int(remaining / time.Second)
	setCookie(w, sessions.NewCookie(s.Name(), value, &opts))
	s.IsNew = false

	return nil
}

// setCookie sets cookie on the response, replacing a cookie of the same name written
// earlier in the same request.
func setCookie(w http.ResponseWriter, cookie *http.Cookie) {
	header := w.Header()
	prefix := cookie.Name + "="
	kept := make([]string, 0, len(header["Set-Cookie"]))
	for _, line := range header["Set-Cookie"] {
		if !strings.HasPrefix(line, prefix) {
			kept = append(kept, line)
		}
	}
	header.Del("Set-Cookie")
	for _, line := range kept {
		header.Add("Set-Cookie", line)
	}
	http.SetCookie(w, cookie)
}

// Regenerate drops the stored record and moves the session to a new token with an empty
// value set and a fresh lifetime. The change is persisted by the next Save.
func (m *Manager) Regenerate(ctx context.Context, s *sessions.Session) error {
	if s.ID != "" {
		if err := m.store.Delete(ctx, s.ID); err != nil {
			return fmt.Errorf("regenerate session: %w", err)
		}
	}
	previous := s.ID
	m.reset(s)
	for s.ID == previous {
		s.ID = ksuid.New().String()
	}
	return nil
}

func (m *Manager) reset(s *sessions.Session) {
	clear(s.Values)
	s.ID = ksuid.New().String()
	s.Values[createdAtKey] = m.now()
	s.IsNew = true
}

func (m *Manager) remaining(createdAt time.Time) time.Duration {
	return createdAt.Add(m.maxAge).Sub(m.now())
}

// Current resolves the session of the request. New sessions are persisted right away.
func (m *Manager) Current(r *http.Request, w http.ResponseWriter) (*sessions.Session, error) {
	s, err := m.Get(r, m.name)
	if err != nil {
		return nil, err
	}
	if s.IsNew {
		if err := m.Save(r, w, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AttachIdentity moves the session to a new token and stores identity in it.
func (m *Manager) AttachIdentity(r *http.Request, w http.ResponseWriter, s *sessions.Session, identity *oauth2.Identity) error {
	if err := m.Regenerate(context.WithoutCancel(r.Context()), s); err != nil {
		return err
	}
	s.Values[identityKey] = identity
	if err := m.Save(r, w, s); err != nil {
		return err
	}
	slog.Info("Identity attached to session", "user_id", identity.ID, "username", identity.Username)
	return nil
}

// ClearIdentity removes the identity and moves the session to a new token.
func (m *Manager) ClearIdentity(r *http.Request, w http.ResponseWriter, s *sessions.Session) error {
	delete(s.Values, identityKey)
	if err := m.Save(r, w, s); err != nil {
		return err
	}
	if err := m.Regenerate(context.WithoutCancel(r.Context()), s); err != nil {
		return err
	}
	return m.Save(r, w, s)
}

func Identity(s *sessions.Session) *oauth2.Identity {
	if s == nil {
		return nil
	}
	identity, _ := s.Values[identityKey].(*oauth2.Identity)
	return identity
}
