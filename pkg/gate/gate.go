// Package gate decides for every inbound request whether the visitor reaches the
// protected upstream or is sent elsewhere.
package gate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gematik/zero-gate/pkg/oauth2"
	"github.com/gematik/zero-gate/pkg/session"
	"github.com/labstack/echo/v4"
)

const Version = "0.1.0"

const (
	pathLanding   = "/"
	pathForbidden = "/403"
	pathStatic    = "/_gate/static"
)

type Exchanger interface {
	AuthCodeURL() string
	Exchange(ctx context.Context, code string) (*oauth2.Identity, error)
}

type Authorizer interface {
	IsAuthorized(ctx context.Context, userID string) bool
}

type Config struct {
	UpstreamURL string
}

type Gate struct {
	sessions   *session.Manager
	exchanger  Exchanger
	authorizer Authorizer
	upstream   *url.URL
	proxy      *httputil.ReverseProxy
}

func New(cfg Config, sessions *session.Manager, exchanger Exchanger, authorizer Authorizer) (*Gate, error) {
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("upstream url must be absolute: %q", cfg.UpstreamURL)
	}

	return &Gate{
		sessions:   sessions,
		exchanger:  exchanger,
		authorizer: authorizer,
		upstream:   upstream,
		proxy:      newReverseProxy(upstream),
	}, nil
}

func (g *Gate) Upstream() *url.URL {
	return g.upstream
}

func (g *Gate) MountRoutes(e *echo.Echo) {
	e.HTTPErrorHandler = HTTPErrorHandler

	static, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	e.StaticFS(pathStatic, static)

	e.GET("/login", g.login)
	e.GET("/callback", g.callback)
	e.GET("/logout", g.logout)
	e.GET(pathForbidden, g.forbidden)
	e.Any(pathLanding, g.landing)
	e.Any("/*", g.protected)
}

func (g *Gate) login(c echo.Context) error {
	recordDecision(routeLogin, outcomeLogin)
	return c.Redirect(http.StatusFound, g.exchanger.AuthCodeURL())
}

func (g *Gate) callback(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		recordDecision(routeCallback, outcomeNoCode)
		return c.Redirect(http.StatusFound, pathLanding)
	}

	ctx := c.Request().Context()
	identity, err := g.exchanger.Exchange(ctx, code)
	if errors.Is(err, oauth2.ErrNoToken) {
		slog.Info("Authorization declined by provider", "error", err)
		recordDecision(routeCallback, outcomeDeclined)
		return c.Redirect(http.StatusFound, pathLanding)
	}
	if err != nil {
		slog.Error("Authorization code exchange failed", "error", err)
		recordDecision(routeCallback, outcomeExchangeFailed)
		return c.Redirect(http.StatusFound, pathForbidden)
	}

	s, err := g.sessions.Get(c.Request(), g.sessions.CookieName())
	if err != nil {
		return err
	}
	if err := g.sessions.AttachIdentity(c.Request(), c.Response(), s, identity); err != nil {
		return err
	}

	if !g.authorizer.IsAuthorized(ctx, identity.ID) {
		slog.Info("Visitor is not an authorized member", "user_id", identity.ID, "username", identity.Username)
		recordDecision(routeCallback, outcomeForbidden)
		return c.Redirect(http.StatusFound, pathForbidden)
	}

	slog.Info("Visitor admitted", "user_id", identity.ID, "name", identity.DisplayName())
	recordDecision(routeCallback, outcomeAuthorized)
	return c.Redirect(http.StatusFound, pathLanding)
}

func (g *Gate) logout(c echo.Context) error {
	s, err := g.sessions.Get(c.Request(), g.sessions.CookieName())
	if err != nil {
		return err
	}
	if err := g.sessions.ClearIdentity(c.Request(), c.Response(), s); err != nil {
		return err
	}
	recordDecision(routeLogout, outcomeLogout)
	return c.Redirect(http.StatusFound, pathLanding)
}

func (g *Gate) forbidden(c echo.Context) error {
	return c.HTMLBlob(http.StatusForbidden, pageForbidden)
}

func (g *Gate) landing(c echo.Context) error {
	authorized, err := g.authorized(c)
	if err != nil {
		return err
	}
	if authorized {
		recordDecision(routeLanding, outcomeForwarded)
		return g.forward(c)
	}

	switch c.Request().Method {
	case http.MethodGet, http.MethodHead:
		recordDecision(routeLanding, outcomeLanding)
		return c.HTMLBlob(http.StatusOK, pageLanding)
	default:
		recordDecision(routeLanding, outcomeRedirected)
		return c.Redirect(http.StatusFound, pathLanding)
	}
}

func (g *Gate) protected(c echo.Context) error {
	authorized, err := g.authorized(c)
	if err != nil {
		return err
	}
	if !authorized {
		recordDecision(routeProtected, outcomeRedirected)
		return c.Redirect(http.StatusFound, pathLanding)
	}
	recordDecision(routeProtected, outcomeForwarded)
	return g.forward(c)
}

// authorized resolves the current session and asks the oracle about its identity.
// Only session store failures are returned.
func (g *Gate) authorized(c echo.Context) (bool, error) {
	s, err := g.sessions.Current(c.Request(), c.Response())
	if err != nil {
		return false, err
	}
	identity := session.Identity(s)
	if identity == nil {
		return false, nil
	}
	return g.authorizer.IsAuthorized(c.Request().Context(), identity.ID), nil
}

func (g *Gate) forward(c echo.Context) error {
	g.proxy.ServeHTTP(c.Response(), c.Request())
	return nil
}
