// Package config loads application settings.
//
// Values are layered: built-in defaults, then the YAML file, then .env
// files, then FIELDSYNC_* environment variables. A variable that is already
// set in the process environment wins over the same key in a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	syncErrors "github.com/c0deZ3R0/fieldsync/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FIELDSYNC_"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Config struct {
	API          API          `yaml:"api"`
	Store        Store        `yaml:"store"`
	Sync         Sync         `yaml:"sync"`
	Connectivity Connectivity `yaml:"connectivity"`
	Auth         Auth         `yaml:"auth"`
	Reporter     Reporter     `yaml:"reporter"`
	Cache        Cache        `yaml:"cache"`
	Log          Log          `yaml:"log"`
	Metrics      Metrics      `yaml:"metrics"`
}

type API struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Gzip    bool          `yaml:"gzip"`
}

type Store struct {
	Driver string `yaml:"driver"`
	// DSN is a directory for the file driver, a data source name for
	// sqlite, a connection string for postgres and a URL for redis.
	DSN string `yaml:"dsn"`
	Key string `yaml:"key"`
}

type Sync struct {
	Interval       time.Duration `yaml:"interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

type Connectivity struct {
	// ProbeURL is polled to detect connectivity. Empty assumes online.
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

type Auth struct {
	Token     string        `yaml:"token"`
	TokenFile string        `yaml:"token_file"`
	// JWT parses the token and withholds it once exp is within JWTLeeway.
	JWT       bool          `yaml:"jwt"`
	JWTLeeway time.Duration `yaml:"jwt_leeway"`
}

type Reporter struct {
	// Endpoint receives rejected writes as JSON. Empty logs them only.
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Cache struct {
	TTL time.Duration `yaml:"ttl"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Metrics struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		API:   API{BaseURL: "http://localhost:8080", Timeout: 30 * time.Second},
		Store: Store{Driver: DriverSQLite, DSN: "file:fieldsync.db", Key: "queue"},
		Sync: Sync{
			Interval:       30 * time.Second,
			RequestTimeout: 30 * time.Second,
			BackoffInitial: time.Second,
			BackoffMax:     2 * time.Minute,
		},
		Connectivity: Connectivity{ProbeInterval: 15 * time.Second, ProbeTimeout: 5 * time.Second},
		Auth:         Auth{JWTLeeway: 30 * time.Second},
		Reporter:     Reporter{Timeout: 10 * time.Second},
		Cache:        Cache{TTL: 5 * time.Minute},
		Log:          Log{Level: "info", Format: "text"},
	}
}

// Load reads path, which may be empty, and applies .env files and the
// environment. With no envFiles given, ".env" in the working directory is
// tried. Missing .env files are skipped.
func Load(path string, envFiles ...string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, configError(fmt.Errorf("read %s: %w", path, err))
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, configError(fmt.Errorf("parse %s: %w", path, err))
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, configError(fmt.Errorf("load %s: %w", f, err))
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, configError(err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL))
	}
	if c.API.Timeout < 0 {
		errs = append(errs, errors.New("api.timeout must not be negative"))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile, DriverSQLite, DriverPostgres, DriverRedis:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of memory, file, sqlite, postgres, redis", c.Store.Driver))
	}
	if c.Store.Key == "" {
		errs = append(errs, errors.New("store.key is required"))
	}

	if c.Sync.RequestTimeout < 0 {
		errs = append(errs, errors.New("sync.request_timeout must not be negative"))
	}
	if c.Sync.BackoffInitial < 0 || c.Sync.BackoffMax < 0 {
		errs = append(errs, errors.New("sync backoff must not be negative"))
	}
	if c.Sync.BackoffMax > 0 && c.Sync.BackoffInitial > c.Sync.BackoffMax {
		errs = append(errs, errors.New("sync.backoff_initial exceeds sync.backoff_max"))
	}
	if c.Connectivity.ProbeURL != "" && c.Connectivity.ProbeInterval <= 0 {
		errs = append(errs, errors.New("connectivity.probe_interval must be positive"))
	}
	if c.Auth.Token != "" && c.Auth.TokenFile != "" {
		errs = append(errs, errors.New("auth.token and auth.token_file are mutually exclusive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return configError(errors.Join(errs...))
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = d
	}
	boolean := func(key string, dst *bool) {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = b
	}

	str("API_BASE_URL", &c.API.BaseURL)
	dur("API_TIMEOUT", &c.API.Timeout)
	boolean("API_GZIP", &c.API.Gzip)

	str("STORE_DRIVER", &c.Store.Driver)
	str("STORE_DSN", &c.Store.DSN)
	str("STORE_KEY", &c.Store.Key)

	dur("SYNC_INTERVAL", &c.Sync.Interval)
	dur("SYNC_REQUEST_TIMEOUT", &c.Sync.RequestTimeout)
	dur("SYNC_BACKOFF_INITIAL", &c.Sync.BackoffInitial)
	dur("SYNC_BACKOFF_MAX", &c.Sync.BackoffMax)

	str("PROBE_URL", &c.Connectivity.ProbeURL)
	dur("PROBE_INTERVAL", &c.Connectivity.ProbeInterval)
	dur("PROBE_TIMEOUT", &c.Connectivity.ProbeTimeout)

	str("AUTH_TOKEN", &c.Auth.Token)
	str("AUTH_TOKEN_FILE", &c.Auth.TokenFile)
	boolean("AUTH_JWT", &c.Auth.JWT)
	dur("AUTH_JWT_LEEWAY", &c.Auth.JWTLeeway)

	str("REPORTER_ENDPOINT", &c.Reporter.Endpoint)
	dur("REPORTER_TIMEOUT", &c.Reporter.Timeout)

	dur("CACHE_TTL", &c.Cache.TTL)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	str("METRICS_ADDR", &c.Metrics.Addr)

	return errors.Join(errs...)
}

func configError(err error) error {
	return syncErrors.E(
		syncErrors.Op("config.Load"),
		syncErrors.Component("config"),
		syncErrors.KindInvalid,
		err,
	)
}
