package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
	"github.com/redis/go-redis/v9"
	"golang.org/x/text/language"

	"storefront/internal/carrier"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/history"
	"storefront/internal/lock"
	"storefront/internal/logging"
	"storefront/internal/notify"
	"storefront/internal/payment"
	"storefront/internal/ratelimit"
	"storefront/internal/reconcile"
	"storefront/internal/shipping"
	"storefront/internal/store"
)

// loadConfig reads the config file and builds the process logger.
func loadConfig(opts *RootOptions, w io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	logger, err := logging.New(w, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store.Store, error) {
	logger.Info("opening order store", "driver", cfg.Database.Driver)
	s, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL, store.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, WrapExitError(ExitCommandError, "failed to migrate database", err)
	}
	return s, nil
}

// app is the wired service graph shared by serve and replay.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	store      *store.Store
	journal    history.Journal
	reconciler *reconcile.Reconciler
	shipping   *shipping.Service
	checkout   *checkout.Service
	limiter    ratelimit.Limiter
	// memLimiter is set when no Redis is configured and needs sweeping.
	memLimiter *ratelimit.Memory

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	lang, err := language.Parse(cfg.Language)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid language", err)
	}

	s, err := openStore(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)

	var locker lock.Locker
	if cfg.Redis.Addr != "" {
		a.logger.Info("connecting to redis", "addr", cfg.Redis.Addr)
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		locker = lock.NewRedis(rdb, lock.DefaultRetry)
		a.limiter = ratelimit.NewRedis(rdb, "rl:webhook", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	} else {
		a.logger.Warn("redis not configured, using in-process locks and rate limits")
		locker = lock.NewMemory(lock.DefaultRetry)
		a.memLimiter = ratelimit.NewMemory(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		a.limiter = a.memLimiter
	}

	a.journal = s
	if len(cfg.Cassandra.Hosts) > 0 {
		session, err := history.Connect(ctx, cfg.Cassandra.Hosts, cfg.Cassandra.ConnectTimeout)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to connect to cassandra", err)
		}
		a.closers = append(a.closers, closeSession(session))
		cass, err := history.NewCassandra(session, cfg.Cassandra.Keyspace)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid cassandra keyspace", err)
		}
		if err := cass.InitSchema(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to initialize cassandra schema", err)
		}
		a.journal = history.Fanout{s, cass}
	}

	var mailer notify.Mailer = notify.Noop{Logger: a.logger}
	if cfg.Resend.APIKey != "" {
		resend, err := notify.NewResend(notify.ResendConfig{
			BaseURL: cfg.Resend.BaseURL,
			APIKey:  cfg.Resend.APIKey,
			From:    cfg.Resend.From,
		}, nil)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid resend config", err)
		}
		mailer = resend
	}

	var barion *payment.Barion
	if cfg.Barion.POSKey != "" {
		barion, err = payment.NewBarion(payment.BarionConfig{
			BaseURL: cfg.Barion.BaseURL,
			POSKey:  cfg.Barion.POSKey,
			Payee:   cfg.Barion.Payee,
			Locale:  cfg.Barion.Locale,
			Timeout: cfg.Barion.Timeout,
		}, nil)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid barion config", err)
		}
		a.reconciler = reconcile.New(s, barion, locker, reconcile.Options{
			Journal:  a.journal,
			Mailer:   mailer,
			Logger:   a.logger,
			LockTTL:  cfg.Webhook.LockTTL,
			Language: lang,
		})
	} else {
		a.logger.Warn("barion POS key not configured, payment webhook disabled")
	}

	carriers, err := a.carriers()
	if err != nil {
		return err
	}
	a.shipping = shipping.New(s, carriers, a.journal, a.logger)

	vat, err := cfg.VATRate()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid vat rate", err)
	}
	fees, err := cfg.ShippingFees()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid shipping fees", err)
	}
	var starter payment.Starter
	if barion != nil {
		starter = barion
	}
	a.checkout, err = checkout.New(checkout.Config{
		Mode:         cfg.Checkout.PaymentMode,
		Currency:     cfg.Checkout.Currency,
		VATRate:      vat,
		ShippingFees: fees,
		RedirectURL:  cfg.Checkout.RedirectURL,
		CallbackURL:  cfg.Checkout.CallbackURL,
	}, s, starter, checkout.Options{
		Journal:  a.journal,
		Mailer:   mailer,
		Logger:   a.logger,
		Language: lang,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid checkout config", err)
	}
	return nil
}

// carriers registers every carrier that has credentials.
func (a *app) carriers() (*carrier.Registry, error) {
	cfg := a.cfg
	var list []carrier.Carrier
	if cfg.Packeta.APIPassword != "" {
		p, err := carrier.NewPacketa(carrier.PacketaConfig{
			APIURL:      cfg.Packeta.APIURL,
			FeedURL:     cfg.Packeta.FeedURL,
			APIKey:      cfg.Packeta.APIKey,
			APIPassword: cfg.Packeta.APIPassword,
			Eshop:       cfg.Packeta.Eshop,
			Timeout:     cfg.Packeta.Timeout,
		}, nil)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid packeta config", err)
		}
		list = append(list, p)
	}
	if cfg.Foxpost.Username != "" {
		f, err := carrier.NewFoxpost(carrier.FoxpostConfig{
			APIURL:   cfg.Foxpost.APIURL,
			FeedURL:  cfg.Foxpost.FeedURL,
			Username: cfg.Foxpost.Username,
			Password: cfg.Foxpost.Password,
			APIKey:   cfg.Foxpost.APIKey,
			Timeout:  cfg.Foxpost.Timeout,
		}, nil)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid foxpost config", err)
		}
		list = append(list, f)
	}
	registry := carrier.NewRegistry(list...)
	a.logger.Info("carriers configured", "carriers", registry.Names())
	return registry, nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func closeSession(s *gocql.Session) func() error {
	return func() error {
		s.Close()
		return nil
	}
}
