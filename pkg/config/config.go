// Package config loads the gate configuration from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix   = "GATE"
	defaultPort = "3000"
)

type Config struct {
	// Address the gate listens on, defaults to :$PORT
	Address string `mapstructure:"address" yaml:"address" validate:"required"`
	// MetricsAddress enables a separate prometheus endpoint when set
	MetricsAddress string        `mapstructure:"metrics_address" yaml:"metrics_address,omitempty"`
	Production     bool          `mapstructure:"production" yaml:"production"`
	UpstreamURL    string        `mapstructure:"upstream_url" yaml:"upstream_url" validate:"required,url"`
	CORSOrigins    []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	Discord        DiscordConfig `mapstructure:"discord" yaml:"discord"`
	Session        SessionConfig `mapstructure:"session" yaml:"session"`
	Valkey         ValkeyConfig  `mapstructure:"valkey" yaml:"valkey"`
}

type DiscordConfig struct {
	ClientID        string        `mapstructure:"client_id" yaml:"client_id" validate:"required"`
	ClientSecret    SecretString  `mapstructure:"client_secret" yaml:"client_secret" validate:"required"`
	RedirectURI     string        `mapstructure:"redirect_uri" yaml:"redirect_uri" validate:"required,url"`
	Scopes          []string      `mapstructure:"scopes" yaml:"scopes" validate:"required,min=1"`
	BotToken        SecretString  `mapstructure:"bot_token" yaml:"bot_token" validate:"required"`
	GuildID         string        `mapstructure:"guild_id" yaml:"guild_id" validate:"required"`
	AuthorizedRoles []string      `mapstructure:"authorized_roles" yaml:"authorized_roles" validate:"required,min=1,dive,required"`
	AuthURL         string        `mapstructure:"auth_url" yaml:"auth_url" validate:"required,url"`
	TokenURL        string        `mapstructure:"token_url" yaml:"token_url" validate:"required,url"`
	ProfileURL      string        `mapstructure:"profile_url" yaml:"profile_url" validate:"required,url"`
	Gateway         bool          `mapstructure:"gateway" yaml:"gateway"`
	CacheSize       int           `mapstructure:"cache_size" yaml:"cache_size" validate:"gte=0"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl" validate:"gte=0"`
}

type SessionConfig struct {
	CookieName string        `mapstructure:"cookie_name" yaml:"cookie_name" validate:"required"`
	Secret     SecretString  `mapstructure:"secret" yaml:"secret" validate:"required,min=16"`
	MaxAge     time.Duration `mapstructure:"max_age" yaml:"max_age" validate:"gt=0"`
}

// ValkeyConfig selects the valkey session backend. Without addresses sessions are kept in memory.
type ValkeyConfig struct {
	Addresses []string     `mapstructure:"addresses" yaml:"addresses,omitempty"`
	Username  string       `mapstructure:"username" yaml:"username,omitempty"`
	Password  SecretString `mapstructure:"password" yaml:"password,omitempty"`
	DB        int          `mapstructure:"db" yaml:"db,omitempty" validate:"gte=0"`
}

// legacyEnv maps configuration keys to the variable names used by earlier deployments.
var legacyEnv = map[string]string{
	"discord.client_id":     "DISCORD_CLIENT_ID",
	"discord.client_secret": "DISCORD_CLIENT_SECRET",
	"discord.redirect_uri":  "DISCORD_CLIENT_REDIRECT_URI",
	"discord.bot_token":     "DISCORD_TOKEN",
	"session.secret":        "SECRET_KEY",
	"cors_origins":          "CORS_ORIGIN",
	"upstream_url":          "WEB_MAP_URL",
}

var keys = []string{
	"address",
	"metrics_address",
	"production",
	"upstream_url",
	"cors_origins",
	"discord.client_id",
	"discord.client_secret",
	"discord.redirect_uri",
	"discord.scopes",
	"discord.bot_token",
	"discord.guild_id",
	"discord.authorized_roles",
	"discord.auth_url",
	"discord.token_url",
	"discord.profile_url",
	"discord.gateway",
	"discord.cache_size",
	"discord.cache_ttl",
	"session.cookie_name",
	"session.secret",
	"session.max_age",
	"valkey.addresses",
	"valkey.username",
	"valkey.password",
	"valkey.db",
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("discord.scopes", []string{"identify"})
	v.SetDefault("discord.guild_id", "933290709589577728")
	v.SetDefault("discord.authorized_roles", []string{
		"933382711148695673",  // member
		"1049504039211118652", // trialing
	})
	v.SetDefault("discord.auth_url", "https://discord.com/api/oauth2/authorize")
	v.SetDefault("discord.token_url", "https://discord.com/api/oauth2/token")
	v.SetDefault("discord.profile_url", "https://discord.com/api/users/@me")
	v.SetDefault("discord.gateway", true)
	v.SetDefault("discord.cache_size", 10000)
	v.SetDefault("discord.cache_ttl", time.Hour)
	v.SetDefault("session.cookie_name", "ctec-webmap-entrance")
	v.SetDefault("session.max_age", 7*24*time.Hour)
}

// BindEnv makes every key available as GATE_<KEY> (dots become underscores) and as its
// legacy variable name.
func BindEnv(v *viper.Viper) error {
	for _, key := range keys {
		names := []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Load reads the optional config file and decodes and validates the configuration.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			slog.Debug("Config file not found, using environment only", "config_file", configFile)
		}
	}

	cfg := new(Config)
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyLegacyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyLegacyDefaults derives the values earlier deployments computed from PORT and NODE_ENV.
func applyLegacyDefaults(cfg *Config) {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	if cfg.Address == "" {
		cfg.Address = ":" + port
	}
	if cfg.Discord.RedirectURI == "" {
		cfg.Discord.RedirectURI = fmt.Sprintf("http://localhost:%s/callback", port)
	}
	if os.Getenv("NODE_ENV") == "production" {
		cfg.Production = true
	}
	for i, origin := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(origin)
	}
}

func Validate(cfg *Config) error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		return name
	})
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if secret, ok := field.Interface().(SecretString); ok {
			return secret.Value()
		}
		return nil
	}, SecretString{})

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// YAML renders the configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
