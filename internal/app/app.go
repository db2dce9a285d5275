// Package app assembles the dispatch components from configuration. Both
// binaries build the same graph; only the server exposes it over HTTP.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/auth"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/cache"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/clock"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/config"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/events"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/jobs"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/ledger"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/matcher"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/payments"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/payout"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/ratelimit"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage/memory"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/storage/sqlstore"
)

// Options select the optional parts of the graph.
type Options struct {
	// Hub enables live event delivery over WebSockets.
	Hub bool
}

type App struct {
	Config     config.ServerConfig
	Store      storage.Store
	Cache      cache.Cache
	Hub        *events.Hub
	Events     events.Publisher
	Limiter    *ratelimit.Limiter
	Auth       *auth.Authenticator
	Issuer     *auth.Issuer
	Calculator *payout.Calculator
	Matcher    *matcher.Service
	Ledger     *ledger.Service
	Jobs       *jobs.Service
	Logger     *slog.Logger

	closers []func() error
}

// Build opens the store and wires every service. The caller owns the
// result and must Close it.
func Build(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	clk := clock.System{}
	if cfg.RedisAddr != "" {
		rc := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, "dispatch:")
		if err := rc.Ping(ctx); err != nil {
			// eligibility reads still work uncached
			logger.Warn("redis unavailable, using in-process cache", "addr", cfg.RedisAddr, "error", err)
			_ = rc.Close()
			a.Cache = cache.NewMemory(clk)
		} else {
			a.Cache = rc
			a.closers = append(a.closers, rc.Close)
		}
	} else {
		a.Cache = cache.NewMemory(clk)
	}

	pubs := events.Multi{events.Log{Logger: logger}}
	if opts.Hub {
		a.Hub = events.NewHub(logger)
		pubs = append(pubs, a.Hub)
		a.closers = append(a.closers, a.Hub.Close)
	}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		pubs = append(pubs, kp)
		a.closers = append(a.closers, kp.Close)
	}
	a.Events = pubs

	a.Calculator = payout.NewCalculator(payout.Config{
		TierMultipliers: cfg.PayoutTiers,
		DefaultSplit:    payout.SplitPolicy(cfg.PayoutSplitPolicy),
	})
	a.Limiter = ratelimit.New(ratelimit.Config{
		Window:        cfg.RateLimit.Window,
		TokenMax:      cfg.RateLimit.TokenMax,
		AddrMax:       cfg.RateLimit.AddrMax,
		SweepInterval: cfg.RateLimit.Sweep,
	}, clk, logger)
	a.Auth = auth.NewAuthenticator(store,
		auth.WithClock(clk),
		auth.WithLogger(logger),
		auth.WithMinTokenLength(cfg.SessionMinTokenLen),
	)
	a.Issuer = &auth.Issuer{Store: store, Clock: clk, Lifetime: cfg.SessionLifetime, Logger: logger}

	a.Matcher = &matcher.Service{
		Store:         store,
		Cache:         a.Cache,
		CacheTTL:      cfg.CacheTTL,
		DefaultRadius: cfg.DefaultServiceRadius,
		Logger:        logger,
	}
	a.Ledger = &ledger.Service{
		Store:      store,
		Calculator: a.Calculator,
		Events:     a.Events,
		Currency:   cfg.PayoutCurrency,
		Clock:      clk,
		Logger:     logger,
	}
	if cfg.StripeAPIKey != "" {
		a.Ledger.Payments = payments.NewStripeClient(cfg.StripeAPIKey, cfg.PayoutCurrency)
	}
	a.Jobs = &jobs.Service{
		Store:      store,
		Matcher:    a.Matcher,
		Ledger:     a.Ledger,
		Calculator: a.Calculator,
		Events:     a.Events,
		Clock:      clk,
		Logger:     logger,
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	var dsn string
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory record store; data is lost on exit")
		return memory.New(), nil
	case config.DriverPostgres:
		dsn = cfg.PGDSN
	case config.DriverSQLite:
		dsn = cfg.SQLitePath
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	s, err := sqlstore.Open(ctx, cfg.StoreDriver, dsn)
	if err != nil {
		return nil, err
	}
	if cfg.RunMigrations {
		if err := s.Migrate(); err != nil {
			_ = s.Close()
			return nil, err
		}
		logger.Info("migrations applied", "driver", cfg.StoreDriver)
	}
	return s, nil
}

// Close waits for background session writes and releases resources in
// reverse order of acquisition.
func (a *App) Close() error {
	if a.Auth != nil {
		a.Auth.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
