// Package config loads runtime settings from .env files and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/unkn0wn-root/kvstate"
	"github.com/unkn0wn-root/kvstate/client"
	"github.com/unkn0wn-root/kvstate/store"
)

// Store backends accepted in STORE.
const (
	StoreNone      = "none"
	StoreMemory    = "memory"
	StoreCookie    = "cookie"
	StoreRedis     = "redis"
	StoreBigCache  = "bigcache"
	StoreRistretto = "ristretto"
	StoreSQLite    = "sqlite"
)

var stores = []string{StoreNone, StoreMemory, StoreCookie, StoreRedis, StoreBigCache, StoreRistretto, StoreSQLite}

type Config struct {
	RootURL        string        `envconfig:"ROOT_URL" default:"http://localhost:3000"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	FetchTimeout   time.Duration `envconfig:"FETCH_TIMEOUT" default:"5s"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`

	Store         string        `envconfig:"STORE" default:"memory"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string        `envconfig:"REDIS_PREFIX" default:"kvstate:"`
	SQLitePath    string        `envconfig:"SQLITE_PATH" default:"kvstate.db"`
	CookieDays    int           `envconfig:"COOKIE_DAYS" default:"0"`

	ResetPolicy string `envconfig:"RESET_POLICY" default:"remove"`

	LoginPath         string        `envconfig:"LOGIN_PATH" default:"/login"`
	UnauthorizedDelay time.Duration `envconfig:"UNAUTHORIZED_DELAY" default:"1s"`

	RetryMode       string        `envconfig:"RETRY_MODE" default:"exponential"`
	RetryInitial    time.Duration `envconfig:"RETRY_INITIAL" default:"200ms"`
	RetryMax        time.Duration `envconfig:"RETRY_MAX" default:"5s"`
	RetryMaxRetries int           `envconfig:"RETRY_MAX_RETRIES" default:"0"`

	// Consumed by the external OAuth provider, carried here so one .env
	// configures both.
	AuthSecret       string `envconfig:"AUTH_SECRET" default:"secret"`
	AuthGoogleID     string `envconfig:"AUTH_GOOGLE_ID"`
	AuthGoogleSecret string `envconfig:"AUTH_GOOGLE_SECRET"`
	AuthGithubID     string `envconfig:"AUTH_GITHUB_ID"`
	AuthGithubSecret string `envconfig:"AUTH_GITHUB_SECRET"`
}

// Load reads the given .env files (default ".env"; missing files are
// skipped), then processes the environment. Variables already set in the
// environment win over .env entries.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	c := &Config{}
	if err := envconfig.Process("", c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.RootURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: ROOT_URL %q is not an absolute URL", c.RootURL)
	}
	if !slices.Contains(stores, c.Store) {
		return fmt.Errorf("config: STORE %q, want one of %s", c.Store, strings.Join(stores, ", "))
	}
	if c.Store == StoreSQLite && c.SQLitePath == "" {
		return fmt.Errorf("config: SQLITE_PATH is required for the sqlite store")
	}
	if c.CookieDays < 0 {
		return fmt.Errorf("config: COOKIE_DAYS cannot be negative")
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("config: LOGIN_PATH %q must start with /", c.LoginPath)
	}
	if _, err := kvstate.ParseResetPolicy(c.ResetPolicy); err != nil {
		return fmt.Errorf("config: RESET_POLICY: %w", err)
	}
	if c.RetryMaxRetries > 0 {
		if err := c.Retry().Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// Reset returns the parsed RESET_POLICY.
func (c *Config) Reset() kvstate.ResetPolicy {
	p, _ := kvstate.ParseResetPolicy(c.ResetPolicy)
	return p
}

// CookieTTL converts COOKIE_DAYS to a TTL; 0 means a session cookie.
func (c *Config) CookieTTL() time.Duration { return store.Days(c.CookieDays) }

// Retry returns the retry policy, or nil when RETRY_MAX_RETRIES is 0.
func (c *Config) Retry() *client.RetryPolicy {
	if c.RetryMaxRetries <= 0 {
		return nil
	}
	p := client.NewRetryPolicy(c.RetryMode, c.RetryInitial, c.RetryMax, c.RetryMaxRetries)
	if c.RetryMode != "" && c.RetryMode != p.Mode {
		// NewRetryPolicy silently falls back; keep the bad value visible to Validate
		p.Mode = c.RetryMode
	}
	return &p
}

// Client builds the HTTP client configuration for ROOT_URL.
func (c *Config) Client(log kvstate.Logger, hooks kvstate.Hooks) client.Config {
	return client.Config{
		BaseURL:           c.RootURL,
		Timeout:           c.RequestTimeout,
		Retry:             c.Retry(),
		Logger:            log,
		Hooks:             hooks,
		LoginPath:         c.LoginPath,
		UnauthorizedDelay: c.UnauthorizedDelay,
	}
}
