package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/fieldsync/auth"
	"github.com/c0deZ3R0/fieldsync/config"
	"github.com/c0deZ3R0/fieldsync/connectivity"
	"github.com/c0deZ3R0/fieldsync/logging"
	"github.com/c0deZ3R0/fieldsync/metrics/prom"
	"github.com/c0deZ3R0/fieldsync/queue"
	"github.com/c0deZ3R0/fieldsync/reporter"
	"github.com/c0deZ3R0/fieldsync/snapshot"
	"github.com/c0deZ3R0/fieldsync/storage"
	"github.com/c0deZ3R0/fieldsync/storage/file"
	"github.com/c0deZ3R0/fieldsync/storage/postgres"
	redisstore "github.com/c0deZ3R0/fieldsync/storage/redis"
	"github.com/c0deZ3R0/fieldsync/storage/sqlite"
	"github.com/c0deZ3R0/fieldsync/synckit"
	"github.com/c0deZ3R0/fieldsync/transport/httptransport"
)

// app is the stack one command runs against. Commands that only touch the
// queue stop after openQueue; the rest call buildEngine.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	level  *logging.DynamicLevelVar

	store storage.Store
	queue *queue.Queue

	remote   *httptransport.Client
	creds    auth.Provider
	monitor  connectivity.Monitor
	prober   *connectivity.Prober
	registry *prometheus.Registry
	metrics  *prom.Collector
	engine   *synckit.Engine
	client   *synckit.Client
	cache    *snapshot.Cache

	unbind func()
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	return cfg, nil
}

// newLogger writes to the command's stderr at a level that run can
// change while the engine is up.
func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, *logging.DynamicLevelVar) {
	l, level := logging.NewLoggerWithDynamicLevel(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	return l.Logger, level
}

// openQueue loads the config and opens the configured store and the queue
// persisted in it.
func openQueue(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	a := &app{cfg: cfg}
	a.logger, a.level = newLogger(cmd, cfg)

	store, err := openStore(cmd.Context(), cfg.Store, a.logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	a.store = store
	a.queue = queue.New(cmd.Context(), store,
		queue.WithKey(cfg.Store.Key),
		queue.WithLogger(a.logger))
	return a, nil
}

// buildEngine wires transport, credentials, connectivity, reporting and
// metrics around the queue. The engine is built but not started.
func (a *app) buildEngine(ctx context.Context) error {
	cfg := a.cfg
	limits := httptransport.DefaultLimits()
	limits.EnableGzip = cfg.API.Gzip
	a.remote = httptransport.New(cfg.API.BaseURL,
		httptransport.WithTimeout(cfg.API.Timeout),
		httptransport.WithLimits(limits),
		httptransport.WithLogger(a.logger))

	a.creds = newCredentials(cfg.Auth)
	a.monitor = connectivity.Always(true)
	if cfg.Connectivity.ProbeURL != "" {
		a.prober = connectivity.NewProber(cfg.Connectivity.ProbeURL,
			connectivity.WithProbeInterval(cfg.Connectivity.ProbeInterval),
			connectivity.WithProbeTimeout(cfg.Connectivity.ProbeTimeout),
			connectivity.WithProbeLogger(a.logger))
		a.prober.Probe(ctx)
		a.monitor = a.prober
	}

	a.registry = prometheus.NewRegistry()
	m, err := prom.NewCollector(a.registry)
	if err != nil {
		return WrapExitError(ExitCommandError, "register metrics", err)
	}
	a.metrics = m

	engine, err := synckit.NewEngineBuilder().
		WithQueue(a.queue).
		WithRemote(a.remote).
		WithCredentials(a.creds).
		WithMonitor(a.monitor).
		WithReporter(newReporter(cfg, a.logger)).
		WithMetrics(a.metrics).
		WithLogger(a.logger).
		WithInterval(cfg.Sync.Interval).
		WithRequestTimeout(cfg.Sync.RequestTimeout).
		WithBackoff(synckit.ExponentialBackoff{
			InitialDelay: cfg.Sync.BackoffInitial,
			MaxDelay:     cfg.Sync.BackoffMax,
			Multiplier:   2,
		}).
		Build()
	if err != nil {
		return WrapExitError(ExitCommandError, "build engine", err)
	}
	a.engine = engine

	a.cache = snapshot.New(a.remote,
		snapshot.WithTTL(cfg.Cache.TTL),
		snapshot.WithCredentials(a.creds),
		snapshot.WithMonitor(a.monitor),
		snapshot.WithLogger(a.logger))
	a.unbind = a.cache.BindEngine(engine)
	a.client = synckit.NewClient(engine,
		synckit.WithInvalidator(a.cache),
		synckit.WithClientLogger(a.logger))
	return nil
}

// Close stops everything that was opened, flushing the queue last.
func (a *app) Close() error {
	var errs []error
	if a.unbind != nil {
		a.unbind()
	}
	if a.engine != nil {
		errs = append(errs, a.engine.Close())
	}
	if a.prober != nil {
		a.prober.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.queue != nil {
		errs = append(errs, a.queue.Close(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, c config.Store, logger *slog.Logger) (storage.Store, error) {
	switch c.Driver {
	case config.DriverMemory:
		return storage.NewMemory(), nil
	case config.DriverFile:
		s, err := file.New(c.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		sc := sqlite.DefaultConfig(c.DSN)
		sc.Logger = logger
		s, err := sqlite.New(sc)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		pc := postgres.DefaultConfig(c.DSN)
		pc.Logger = logger
		s, err := postgres.New(pc)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverRedis:
		s, err := redisstore.New(ctx, redisstore.Config{URL: c.DSN, Logger: logger})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", c.Driver)
}

func newCredentials(c config.Auth) auth.Provider {
	var p auth.Provider
	switch {
	case c.Token != "":
		p = auth.Static(c.Token)
	case c.TokenFile != "":
		p = auth.File{Path: c.TokenFile}
	default:
		p = auth.ProviderFunc(func(context.Context) (string, error) {
			return "", auth.ErrNoCredential
		})
	}
	if c.JWT {
		return auth.NewJWT(p, c.JWTLeeway)
	}
	return p
}

func newReporter(cfg *config.Config, logger *slog.Logger) synckit.ErrorReporter {
	logged := reporter.Log{Logger: logger}
	if cfg.Reporter.Endpoint == "" {
		return logged
	}
	opts := []reporter.HTTPOption{reporter.WithHTTPClient(&http.Client{Timeout: cfg.Reporter.Timeout})}
	if cfg.Auth.Token != "" {
		opts = append(opts, reporter.WithToken(cfg.Auth.Token))
	}
	return reporter.Multi{logged, reporter.NewHTTP(cfg.Reporter.Endpoint, opts...)}
}
