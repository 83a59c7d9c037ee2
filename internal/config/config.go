// Package config loads the respcache service configuration from the
// environment, an optional .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/respcache/pkg/cache"
	"github.com/Sternrassler/respcache/pkg/logging"
	"github.com/Sternrassler/respcache/pkg/redisconn"
	"github.com/Sternrassler/respcache/pkg/version"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the service configuration.
type Config struct {
	AppPort     string `mapstructure:"APP_PORT"`
	UpstreamURL string `mapstructure:"UPSTREAM_URL"`

	// --- Redis ---
	RedisAddr            string `mapstructure:"REDIS_ADDR"`
	RedisPassword        string `mapstructure:"REDIS_PASSWORD"`
	RedisDB              int    `mapstructure:"REDIS_DB"`
	RedisConnectAttempts int    `mapstructure:"REDIS_CONNECT_ATTEMPTS"`

	// --- Cache ---
	CacheTTL         time.Duration `mapstructure:"CACHE_TTL"`
	CacheListTTL     time.Duration `mapstructure:"CACHE_LIST_TTL"`
	CacheMemoTTL     time.Duration `mapstructure:"CACHE_MEMO_TTL"`
	CacheLockTimeout time.Duration `mapstructure:"CACHE_LOCK_TIMEOUT"`
	CacheStaleWindow time.Duration `mapstructure:"CACHE_STALE_WINDOW"`
	CacheSWR         bool          `mapstructure:"CACHE_SWR"`
	CacheWorkers     int           `mapstructure:"CACHE_WORKERS"`

	// --- Logging ---
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`
}

var defaults = map[string]any{
	"APP_PORT":               "8080",
	"UPSTREAM_URL":           "http://localhost:8000",
	"REDIS_ADDR":             "localhost:6379",
	"REDIS_PASSWORD":         "",
	"REDIS_DB":               0,
	"REDIS_CONNECT_ATTEMPTS": 5,
	"CACHE_TTL":              "300s",
	"CACHE_LIST_TTL":         "86400s",
	"CACHE_MEMO_TTL":         "250ms",
	"CACHE_LOCK_TIMEOUT":     "30s",
	"CACHE_STALE_WINDOW":     "60s",
	"CACHE_SWR":              false,
	"CACHE_WORKERS":          64,
	"LOG_LEVEL":              "info",
	"LOG_PRETTY":             false,
}

// Load reads the configuration. A .env file in the working directory is loaded
// first when present; real environment variables take precedence over it.
// path names an optional config file (yaml, json, toml, env) whose values sit
// between the defaults and the environment.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and formats.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.AppPort != "", "APP_PORT is required")
	check(c.RedisAddr != "", "REDIS_ADDR is required")
	check(c.RedisDB >= 0, "REDIS_DB must be >= 0 (got %d)", c.RedisDB)
	check(c.RedisConnectAttempts >= 1, "REDIS_CONNECT_ATTEMPTS must be >= 1 (got %d)", c.RedisConnectAttempts)
	check(c.CacheTTL > 0, "CACHE_TTL must be positive (got %v)", c.CacheTTL)
	check(c.CacheListTTL > 0, "CACHE_LIST_TTL must be positive (got %v)", c.CacheListTTL)
	check(c.CacheMemoTTL > 0 && c.CacheMemoTTL <= version.MaxMemoTTL,
		"CACHE_MEMO_TTL must be in (0, %v] (got %v)", version.MaxMemoTTL, c.CacheMemoTTL)
	check(c.CacheLockTimeout > 0, "CACHE_LOCK_TIMEOUT must be positive (got %v)", c.CacheLockTimeout)
	check(c.CacheStaleWindow >= 0, "CACHE_STALE_WINDOW must be >= 0 (got %v)", c.CacheStaleWindow)
	check(c.CacheWorkers >= 1, "CACHE_WORKERS must be >= 1 (got %d)", c.CacheWorkers)

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, "LOG_LEVEL: "+err.Error())
	}

	if u, err := url.Parse(c.UpstreamURL); err != nil {
		problems = append(problems, "UPSTREAM_URL: "+err.Error())
	} else {
		check((u.Scheme == "http" || u.Scheme == "https") && u.Host != "",
			"UPSTREAM_URL must be an absolute http(s) URL (got %q)", c.UpstreamURL)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	if strings.Contains(c.AppPort, ":") {
		return c.AppPort
	}
	return ":" + c.AppPort
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level, _ = logging.ParseLevel(c.LogLevel)
	cfg.Pretty = c.LogPretty
	return cfg
}

// Redis returns the Redis connection configuration.
func (c *Config) Redis() redisconn.Config {
	cfg := redisconn.DefaultConfig()
	cfg.Addr = c.RedisAddr
	cfg.Password = c.RedisPassword
	cfg.DB = c.RedisDB
	cfg.MaxAttempts = c.RedisConnectAttempts
	return cfg
}

// Engine returns the cache engine configuration bound to client.
func (c *Config) Engine(client *redis.Client) cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Redis = client
	cfg.TTL = c.CacheTTL
	cfg.MemoTTL = c.CacheMemoTTL
	cfg.LockTimeout = c.CacheLockTimeout
	cfg.StaleWindow = c.CacheStaleWindow
	cfg.BackgroundWorkers = c.CacheWorkers
	return cfg
}

// String implements fmt.Stringer with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  AppPort: %s\n", c.AppPort)
	fmt.Fprintf(&sb, "  UpstreamURL: %s\n", c.UpstreamURL)
	fmt.Fprintf(&sb, "  RedisAddr: %s\n", c.RedisAddr)
	fmt.Fprintf(&sb, "  RedisDB: %d\n", c.RedisDB)

	// password is masked
	if c.RedisPassword != "" {
		sb.WriteString("  RedisPassword: ********\n")
	} else {
		sb.WriteString("  RedisPassword: (empty)\n")
	}

	fmt.Fprintf(&sb, "  CacheTTL: %v\n", c.CacheTTL)
	fmt.Fprintf(&sb, "  CacheListTTL: %v\n", c.CacheListTTL)
	fmt.Fprintf(&sb, "  CacheMemoTTL: %v\n", c.CacheMemoTTL)
	fmt.Fprintf(&sb, "  CacheLockTimeout: %v\n", c.CacheLockTimeout)
	fmt.Fprintf(&sb, "  CacheStaleWindow: %v\n", c.CacheStaleWindow)
	fmt.Fprintf(&sb, "  CacheSWR: %v\n", c.CacheSWR)
	fmt.Fprintf(&sb, "  CacheWorkers: %d\n", c.CacheWorkers)
	fmt.Fprintf(&sb, "  LogLevel: %s\n", c.LogLevel)

	return sb.String()
}
