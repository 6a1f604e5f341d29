package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gematik/zero-gate/pkg/config"
	"github.com/gematik/zero-gate/pkg/discord"
	"github.com/gematik/zero-gate/pkg/gate"
	"github.com/gematik/zero-gate/pkg/membership"
	"github.com/gematik/zero-gate/pkg/oauth2"
	"github.com/gematik/zero-gate/pkg/session"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/valkey-io/valkey-go"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the gate",
	RunE: withConfig(func(cmd *cobra.Command, cfg *config.Config) error {
		slog.Info("Starting Zero Gate", "version", gate.Version, "address", cfg.Address, "production", cfg.Production)
		if err := run(cmd.Context(), cfg); err != nil {
			slog.Error("Zero Gate stopped with error", "error", err)
			return err
		}
		return nil
	}),
}

func newSessionStore(cfg config.ValkeyConfig, maxAge time.Duration) (session.Store, func(), error) {
	if len(cfg.Addresses) == 0 {
		slog.Warn("No valkey configured, sessions are kept in memory")
		return session.NewMemoryStore(maxAge), func() {}, nil
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: cfg.Addresses,
		Username:    cfg.Username,
		Password:    cfg.Password.Value(),
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create valkey client: %w", err)
	}
	slog.Info("Using valkey session store", "addresses", cfg.Addresses)
	return session.NewValkeyStore(client), client.Close, nil
}

func newEcho(cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
				"remote_ip", v.RemoteIP,
			}
			if v.Error != nil {
				slog.Warn("Request", append(attrs, "error", v.Error)...)
			} else {
				slog.Info("Request", attrs...)
			}
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowCredentials: true,
	}))
	e.Use(echoprometheus.NewMiddleware("zero_gate"))

	return e
}

func run(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newSessionStore(cfg.Valkey, cfg.Session.MaxAge)
	if err != nil {
		return err
	}
	defer closeStore()

	sessions, err := session.NewManager(store, session.Options{
		CookieName: cfg.Session.CookieName,
		Secret:     []byte(cfg.Session.Secret.Value()),
		MaxAge:     cfg.Session.MaxAge,
		Secure:     cfg.Production,
	})
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}

	cache := discord.NewMemberCache(cfg.Discord.CacheSize, cfg.Discord.CacheTTL)
	directory, err := discord.NewDirectory(discord.Config{
		BotToken: cfg.Discord.BotToken.Value(),
		GuildID:  cfg.Discord.GuildID,
	}, cache)
	if err != nil {
		return fmt.Errorf("create member directory: %w", err)
	}
	oracle := membership.New(membership.Config{
		GuildID:         cfg.Discord.GuildID,
		AuthorizedRoles: cfg.Discord.AuthorizedRoles,
	}, cache, directory)

	exchanger := oauth2.NewClient(oauth2.Config{
		ClientID:     cfg.Discord.ClientID,
		ClientSecret: cfg.Discord.ClientSecret.Value(),
		RedirectURI:  cfg.Discord.RedirectURI,
		Scopes:       cfg.Discord.Scopes,
		AuthURL:      cfg.Discord.AuthURL,
		TokenURL:     cfg.Discord.TokenURL,
		ProfileURL:   cfg.Discord.ProfileURL,
	}, nil)
	slog.Debug("OAuth client configured", "client", exchanger)

	g, err := gate.New(gate.Config{UpstreamURL: cfg.UpstreamURL}, sessions, exchanger, oracle)
	if err != nil {
		return fmt.Errorf("create gate: %w", err)
	}

	var wg sync.WaitGroup
	if cfg.Discord.Gateway {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := directory.Run(ctx); err != nil {
				slog.Error("Gateway failed", "error", err)
			}
		}()
	} else {
		slog.Info("Gateway sync disabled, member lookups go to the REST API")
	}

	e := newEcho(cfg)
	g.MountRoutes(e)
	for _, route := range e.Routes() {
		slog.Debug("Route", "method", route.Method, "path", route.Path)
	}

	servers := []*echo.Echo{e}
	errs := make(chan error, 2)
	serve := func(name string, srv *echo.Echo, address string) {
		slog.Info("Listening", "server", name, "address", address)
		if err := srv.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("%s server: %w", name, err)
		}
	}

	go serve("gate", e, cfg.Address)
	slog.Info("Forwarding authorized visitors", "upstream", g.Upstream().String())

	if cfg.MetricsAddress != "" {
		metrics := echo.New()
		metrics.HideBanner = true
		metrics.HidePort = true
		metrics.GET("/metrics", echoprometheus.NewHandler())
		servers = append(servers, metrics)
		go serve("metrics", metrics, cfg.MetricsAddress)
	}

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Warn("Server shutdown failed", "error", shutdownErr)
		}
	}

	stop()
	wg.Wait()

	return err
}
