package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gematik/zero-gate/pkg/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, name := range []string{
		"PORT", "NODE_ENV", "DISCORD_CLIENT_ID", "DISCORD_CLIENT_SECRET", "DISCORD_CLIENT_REDIRECT_URI",
		"DISCORD_TOKEN", "SECRET_KEY", "CORS_ORIGIN", "WEB_MAP_URL",
		"GATE_ADDRESS", "GATE_UPSTREAM_URL", "GATE_DISCORD_CLIENT_ID", "GATE_DISCORD_CLIENT_SECRET",
		"GATE_DISCORD_BOT_TOKEN", "GATE_SESSION_SECRET", "GATE_DISCORD_AUTHORIZED_ROLES",
		"GATE_SESSION_MAX_AGE", "GATE_DISCORD_GATEWAY",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadLegacyEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("DISCORD_CLIENT_ID", "client")
	t.Setenv("DISCORD_CLIENT_SECRET", "client-secret")
	t.Setenv("DISCORD_TOKEN", "bot-token")
	t.Setenv("SECRET_KEY", "a session secret of some length")
	t.Setenv("CORS_ORIGIN", "https://a.example.org, https://b.example.org")
	t.Setenv("WEB_MAP_URL", "http://webmap:8000")

	cfg, err := config.Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address)
	assert.True(t, cfg.Production)
	assert.Equal(t, "http://localhost:8080/callback", cfg.Discord.RedirectURI)
	assert.Equal(t, "client", cfg.Discord.ClientID)
	assert.Equal(t, "client-secret", cfg.Discord.ClientSecret.Value())
	assert.Equal(t, "bot-token", cfg.Discord.BotToken.Value())
	assert.Equal(t, "a session secret of some length", cfg.Session.Secret.Value())
	assert.Equal(t, []string{"https://a.example.org", "https://b.example.org"}, cfg.CORSOrigins)
	assert.Equal(t, "http://webmap:8000", cfg.UpstreamURL)

	assert.Equal(t, "933290709589577728", cfg.Discord.GuildID)
	assert.Equal(t, []string{"933382711148695673", "1049504039211118652"}, cfg.Discord.AuthorizedRoles)
	assert.Equal(t, []string{"identify"}, cfg.Discord.Scopes)
	assert.Equal(t, "ctec-webmap-entrance", cfg.Session.CookieName)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.MaxAge)
	assert.True(t, cfg.Discord.Gateway)
}

func TestLoadFileAndPrefixedEnvironment(t *testing.T) {
	clearEnv(t)
	file := filepath.Join(t.TempDir(), "gate.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
address: ":9000"
upstream_url: http://upstream:8000
discord:
  client_id: from-file
  client_secret: file-secret
  redirect_uri: https://gate.example.org/callback
  bot_token: file-bot-token
  authorized_roles: ["1", "2"]
session:
  secret: file session secret value
  max_age: 24h
`), 0o600))

	t.Setenv("GATE_DISCORD_CLIENT_ID", "from-env")
	t.Setenv("GATE_DISCORD_AUTHORIZED_ROLES", "3,4,5")
	t.Setenv("GATE_DISCORD_GATEWAY", "false")

	cfg, err := config.Load(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Address)
	assert.False(t, cfg.Production)
	assert.Equal(t, "from-env", cfg.Discord.ClientID)
	assert.Equal(t, "file-secret", cfg.Discord.ClientSecret.Value())
	assert.Equal(t, "https://gate.example.org/callback", cfg.Discord.RedirectURI)
	assert.Equal(t, []string{"3", "4", "5"}, cfg.Discord.AuthorizedRoles)
	assert.Equal(t, 24*time.Hour, cfg.Session.MaxAge)
	assert.False(t, cfg.Discord.Gateway)
}

func TestLoadMissingFileFallsBackToEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATE_UPSTREAM_URL", "http://upstream:8000")
	t.Setenv("GATE_DISCORD_CLIENT_ID", "client")
	t.Setenv("GATE_DISCORD_CLIENT_SECRET", "secret")
	t.Setenv("GATE_DISCORD_BOT_TOKEN", "token")
	t.Setenv("GATE_SESSION_SECRET", "0123456789abcdef")

	cfg, err := config.Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Address)
}

func TestLoadValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATE_UPSTREAM_URL", "http://upstream:8000")
	t.Setenv("GATE_DISCORD_CLIENT_ID", "client")
	t.Setenv("GATE_DISCORD_CLIENT_SECRET", "secret")
	t.Setenv("GATE_DISCORD_BOT_TOKEN", "token")

	_, err := config.Load(viper.New(), "")
	require.Error(t, err, "session secret is required")

	t.Setenv("GATE_SESSION_SECRET", "too short")
	_, err = config.Load(viper.New(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret")
}

func TestYAMLMasksSecrets(t *testing.T) {
	cfg := &config.Config{
		Address: ":3000",
		Discord: config.DiscordConfig{
			ClientID:     "client",
			ClientSecret: config.NewSecretString("client-secret"),
			BotToken:     config.NewSecretString("bot-token"),
		},
		Session: config.SessionConfig{Secret: config.NewSecretString("session-secret")},
	}

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "client-secret")
	assert.NotContains(t, string(out), "bot-token")
	assert.NotContains(t, string(out), "session-secret")
	assert.Contains(t, string(out), "*****")
	assert.Equal(t, "*****", cfg.Discord.BotToken.String())
}
