package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roach88/castplan/internal/config"
	"github.com/roach88/castplan/internal/engine"
	"github.com/roach88/castplan/internal/lock"
	"github.com/roach88/castplan/internal/logging"
	"github.com/roach88/castplan/internal/metrics"
	"github.com/roach88/castplan/internal/model"
	"github.com/roach88/castplan/internal/store"
	"github.com/roach88/castplan/internal/store/gormstore"
)

// recordStore is what the commands need from a record store. Both the
// SQLite store and the gorm store implement it.
type recordStore interface {
	engine.Store
	store.Seeder
	ListAudit(ctx context.Context, groupID string, limit int) ([]model.AuditEntry, error)
	Close() error
}

// app is the wiring shared by the commands: configuration, logger, store,
// and metrics. It is built per command invocation.
type app struct {
	out      *OutputFormatter
	cfg      config.Config
	log      *logrus.Logger
	store    recordStore
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	closers  []func() error
}

// openApp loads the configuration and opens the configured store. Failures
// are reported through out as command errors.
func openApp(opts *RootOptions, cmd *cobra.Command, out *OutputFormatter) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Store.DSN = opts.Database
	}

	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	log, err := logging.New(logging.Options{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeConfig, "failed to configure logging", err)
	}

	a := &app{out: out, cfg: cfg, log: log}
	a.registry, a.metrics = metrics.NewRegistry()

	log.WithFields(logrus.Fields{"driver": cfg.Store.Driver}).Debug("opening store")
	st, err := openStore(cfg.Store, log)
	if err != nil {
		return nil, out.Fail(ExitCommandError, ErrCodeStore, "failed to open store", err)
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	return a, nil
}

func openStore(cfg config.Store, log logrus.FieldLogger) (recordStore, error) {
	switch cfg.Driver {
	case "mysql":
		st, err := gormstore.OpenMySQL(cfg.DSN, log)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "", "sqlite":
		st, err := store.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// newEngine builds the engine with the configured lock backend.
func (a *app) newEngine(ctx context.Context, opts ...engine.Option) (*engine.Engine, error) {
	locker, err := a.newLocker(ctx)
	if err != nil {
		return nil, err
	}
	opts = append([]engine.Option{
		engine.WithLocker(locker),
		engine.WithMetrics(a.metrics),
		engine.WithLogger(a.log),
	}, opts...)
	return engine.New(a.store, a.cfg, opts...), nil
}

func (a *app) newLocker(ctx context.Context) (lock.Locker, error) {
	c := a.cfg.Lock
	switch c.Backend {
	case "redis":
		locker, client, err := lock.DialRedis(ctx, c.RedisAddr, c.TTL, c.Wait)
		if err != nil {
			return nil, a.out.Fail(ExitCommandError, ErrCodeLock, "failed to connect lock backend", err)
		}
		a.closers = append(a.closers, client.Close)
		return locker, nil
	case "local":
		return lock.NewLocal(c.Wait), nil
	default:
		return lock.Nop{}, nil
	}
}

// Close writes the metrics textfile, if configured, and releases every
// connection. It returns the first error.
func (a *app) Close() error {
	var errs []error
	if path := a.cfg.Metrics.Textfile; path != "" {
		errs = append(errs, metrics.WriteTextfile(path, a.registry))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.WithError(err).Error("error closing resources")
		return err
	}
	return nil
}
