// Package config loads rolepass settings from a config file and ROLEPASS_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"git.sr.ht/~jakintosh/rolepass/pkg/client"
	"git.sr.ht/~jakintosh/rolepass/pkg/ephemeral"
	"git.sr.ht/~jakintosh/rolepass/pkg/resource"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const EnvPrefix = "ROLEPASS"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Authority AuthorityConfig `mapstructure:"authority"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Resource  ResourceConfig  `mapstructure:"resource"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type RolesConfig struct {
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
}

type AuthorityConfig struct {
	Listen         string        `mapstructure:"listen"`
	Issuer         string        `mapstructure:"issuer"`
	DBPath         string        `mapstructure:"db_path"`
	ClientsDir     string        `mapstructure:"clients_dir"`
	TemplatesDir   string        `mapstructure:"templates_dir"`
	SigningKeyPath string        `mapstructure:"signing_key_path"`
	Roles          RolesConfig   `mapstructure:"roles"`
	InteractionTTL time.Duration `mapstructure:"interaction_ttl"`
	CodeTTL        time.Duration `mapstructure:"code_ttl"`
	TokenLifetime  time.Duration `mapstructure:"token_lifetime"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

type ApplicationConfig struct {
	PostLoginTarget string   `mapstructure:"post_login_target"`
	Scopes          []string `mapstructure:"scopes"`
}

type GatewayConfig struct {
	Listen          string                       `mapstructure:"listen"`
	AuthorityURL    string                       `mapstructure:"authority_url"`
	CallbackURL     string                       `mapstructure:"callback_url"`
	RedirectMode    string                       `mapstructure:"redirect_mode"`
	DefaultClient   string                       `mapstructure:"default_client"`
	CorrelationTTL  time.Duration                `mapstructure:"correlation_ttl"`
	SessionTTL      time.Duration                `mapstructure:"session_ttl"`
	ExchangeTimeout time.Duration                `mapstructure:"exchange_timeout"`
	SweepInterval   time.Duration                `mapstructure:"sweep_interval"`
	Applications    map[string]ApplicationConfig `mapstructure:"applications"`
}

type ResourceConfig struct {
	Listen          string        `mapstructure:"listen"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
	GatewayURL      string        `mapstructure:"gateway_url"`
	ReplayPolicy    string        `mapstructure:"replay_policy"`
	KeyFetchTimeout time.Duration `mapstructure:"key_fetch_timeout"`
	KeyRefreshMin   time.Duration `mapstructure:"key_refresh_interval"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis.addr", "")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "rolepass")

	v.SetDefault("authority.listen", ":9000")
	v.SetDefault("authority.issuer", "http://localhost:9000")
	v.SetDefault("authority.db_path", "rolepass.db")
	v.SetDefault("authority.clients_dir", "clients")
	v.SetDefault("authority.templates_dir", "")
	v.SetDefault("authority.signing_key_path", "signing.pem")
	v.SetDefault("authority.roles.source", "database")
	v.SetDefault("authority.roles.file", "")
	v.SetDefault("authority.interaction_ttl", 10*time.Minute)
	v.SetDefault("authority.code_ttl", 60*time.Second)
	v.SetDefault("authority.token_lifetime", time.Hour)
	v.SetDefault("authority.sweep_interval", ephemeral.DefaultSweepInterval)

	v.SetDefault("gateway.listen", ":9100")
	v.SetDefault("gateway.authority_url", "http://localhost:9000")
	v.SetDefault("gateway.callback_url", "http://localhost:9100/callback")
	v.SetDefault("gateway.redirect_mode", string(client.RedirectModeSession))
	v.SetDefault("gateway.default_client", "")
	v.SetDefault("gateway.correlation_ttl", client.DefaultCorrelationTTL)
	v.SetDefault("gateway.session_ttl", client.DefaultSessionTTL)
	v.SetDefault("gateway.exchange_timeout", client.DefaultExchangeTimeout)
	v.SetDefault("gateway.sweep_interval", ephemeral.DefaultSweepInterval)

	v.SetDefault("resource.listen", ":8080")
	v.SetDefault("resource.issuer", "http://localhost:9000")
	v.SetDefault("resource.audience", "demo-client")
	v.SetDefault("resource.gateway_url", "http://localhost:9100")
	v.SetDefault("resource.replay_policy", resource.ReplayPolicyTokenReuse.String())
	v.SetDefault("resource.key_fetch_timeout", resource.DefaultKeyFetchTimeout)
	v.SetDefault("resource.key_refresh_interval", resource.DefaultMinRefreshInterval)
	v.SetDefault("resource.sweep_interval", ephemeral.DefaultSweepInterval)
}

// Load reads path, when given, then applies ROLEPASS_ environment overrides
// such as ROLEPASS_AUTHORITY_LISTEN. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read %s: %v", ErrInvalid, path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalid, c.Log.Format)
	}

	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("%w: store.redis.addr is required for the redis backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: store.backend must be memory or redis, got %q", ErrInvalid, c.Store.Backend)
	}

	if err := requireURL("authority.issuer", c.Authority.Issuer); err != nil {
		return err
	}
	switch c.Authority.Roles.Source {
	case "database":
	case "file":
		if c.Authority.Roles.File == "" {
			return fmt.Errorf("%w: authority.roles.file is required when roles come from a file", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: authority.roles.source must be database or file, got %q", ErrInvalid, c.Authority.Roles.Source)
	}

	if err := requireURL("gateway.authority_url", c.Gateway.AuthorityURL); err != nil {
		return err
	}
	if err := requireURL("gateway.callback_url", c.Gateway.CallbackURL); err != nil {
		return err
	}
	if _, err := client.ParseRedirectMode(c.Gateway.RedirectMode); err != nil {
		return fmt.Errorf("%w: gateway.redirect_mode: %v", ErrInvalid, err)
	}
	for id, app := range c.Gateway.Applications {
		if err := requireURL("gateway.applications."+id+".post_login_target", app.PostLoginTarget); err != nil {
			return err
		}
	}
	if c.Gateway.DefaultClient != "" {
		if _, ok := c.Gateway.Applications[c.Gateway.DefaultClient]; !ok {
			return fmt.Errorf("%w: gateway.default_client %q is not an application", ErrInvalid, c.Gateway.DefaultClient)
		}
	}

	if err := requireURL("resource.issuer", c.Resource.Issuer); err != nil {
		return err
	}
	if c.Resource.Audience == "" {
		return fmt.Errorf("%w: resource.audience is required", ErrInvalid)
	}
	if _, err := resource.ParseReplayPolicy(c.Resource.ReplayPolicy); err != nil {
		return fmt.Errorf("%w: resource.replay_policy: %v", ErrInvalid, err)
	}

	for name, d := range map[string]time.Duration{
		"authority.interaction_ttl":     c.Authority.InteractionTTL,
		"authority.code_ttl":            c.Authority.CodeTTL,
		"authority.token_lifetime":      c.Authority.TokenLifetime,
		"authority.sweep_interval":      c.Authority.SweepInterval,
		"gateway.correlation_ttl":       c.Gateway.CorrelationTTL,
		"gateway.session_ttl":           c.Gateway.SessionTTL,
		"gateway.exchange_timeout":      c.Gateway.ExchangeTimeout,
		"gateway.sweep_interval":        c.Gateway.SweepInterval,
		"resource.key_fetch_timeout":    c.Resource.KeyFetchTimeout,
		"resource.key_refresh_interval": c.Resource.KeyRefreshMin,
		"resource.sweep_interval":       c.Resource.SweepInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, name)
		}
	}
	return nil
}

// GatewayApplications lists the configured applications in the form the
// gateway takes. The default client comes first.
func (c *Config) GatewayApplications() []client.Application {
	apps := make([]client.Application, 0, len(c.Gateway.Applications))
	for id, app := range c.Gateway.Applications {
		entry := client.Application{
			ClientID:        id,
			PostLoginTarget: app.PostLoginTarget,
			Scopes:          app.Scopes,
		}
		if id == c.Gateway.DefaultClient {
			apps = append([]client.Application{entry}, apps...)
			continue
		}
		apps = append(apps, entry)
	}
	return apps
}

// ApplyLogging configures the global logrus logger.
func (c LogConfig) ApplyLogging() {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	if c.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

// RedisClient connects to the configured redis, or returns nil for the
// memory backend.
func (s StoreConfig) RedisClient() redis.UniversalClient {
	if s.Backend != "redis" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     s.Redis.Addr,
		Password: s.Redis.Password,
		DB:       s.Redis.DB,
	})
}

// OpenStore returns the named store on the configured backend. Redis keys
// take the form <prefix>:<name>:<key>.
func OpenStore[V any](
	s StoreConfig,
	rdb redis.UniversalClient,
	name string,
) ephemeral.Store[V] {
	if rdb == nil {
		return ephemeral.NewMemoryStore[V](name)
	}
	return ephemeral.NewRedisStore[V](rdb, s.Redis.Prefix+":"+name)
}

func requireURL(key string, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %s must be an absolute url, got %q", ErrInvalid, key, raw)
	}
	return nil
}
