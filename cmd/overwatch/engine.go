package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"

	"github.com/sznuper/overwatch/internal/check"
	"github.com/sznuper/overwatch/internal/config"
	"github.com/sznuper/overwatch/internal/events"
	"github.com/sznuper/overwatch/internal/handler"
	"github.com/sznuper/overwatch/internal/lock"
	"github.com/sznuper/overwatch/internal/notify"
	"github.com/sznuper/overwatch/internal/runner"
	"github.com/sznuper/overwatch/internal/scheduler"
	"github.com/sznuper/overwatch/internal/store"
	"github.com/sznuper/overwatch/internal/transport"
)

// engine is the wired set of components every command works with.
type engine struct {
	cfg      *config.Config
	store    store.Store
	pipeline *handler.Pipeline
	runner   *runner.Runner
	bus      *events.Bus
	sched    *scheduler.Scheduler
	logger   *slog.Logger
}

func loadConfig() (*config.Config, error) {
	return config.Resolve(viper.GetString("config"), optionOverrides()...)
}

func openStore(logger *slog.Logger) (store.Store, error) {
	driver := viper.GetString("db-driver")
	if driver == "memory" {
		return store.NewMemory(), nil
	}
	return store.OpenSQL(store.SQLConfig{Driver: driver, DSN: viper.GetString("db-dsn")}, logger)
}

// newEngine loads the configuration and wires store, handlers, transports
// and the runner.
func newEngine(logger *slog.Logger) (*engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	reg, err := cfg.Registry(cfg.Deps(notify.Shoutrrr{}))
	if err != nil {
		return nil, err
	}
	st, err := openStore(logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	e := &engine{
		cfg:      cfg,
		store:    st,
		pipeline: handler.NewPipeline(reg, st, logger, cfg.HandlerTimeout()),
		bus:      events.NewBus(logger),
		logger:   logger,
	}
	opts := runner.Options{
		Store:     st,
		Pipeline:  e.pipeline,
		Local:     transport.NewLocal(cfg.Options.ScriptsDir, logger),
		Publisher: e.bus,
		Locks:     lock.NewNamed(),
		Logger:    logger,
	}
	if len(cfg.Inventory) > 0 {
		opts.Remote = transport.NewSSH(cfg.Inventory, cfg.SSH, logger)
	}
	e.runner = runner.New(opts, cfg.Checks())
	return e, nil
}

// reload applies a changed configuration. Handlers, checks and schedules
// follow the file; state of checks that disappeared is pruned. Inventory
// and SSH settings need a restart.
func (e *engine) reload(cfg *config.Config) {
	reg, err := cfg.Registry(cfg.Deps(notify.Shoutrrr{}))
	if err != nil {
		e.logger.Error("reloaded config has invalid handlers, keeping the previous one", "error", err)
		return
	}
	e.pipeline.SetRegistry(reg)
	e.runner.SetChecks(cfg.Checks())
	if e.sched != nil {
		if err := e.sched.Reload(cfg.Checks()); err != nil {
			e.logger.Error("rescheduling checks", "error", err)
		}
	}

	names := make([]string, 0, len(cfg.Checks()))
	for _, c := range cfg.Checks() {
		names = append(names, c.Name)
	}
	n, err := e.store.Prune(context.Background(), names, nil)
	if err != nil {
		e.logger.Error("pruning state of removed checks", "error", err)
	} else if n > 0 {
		e.logger.Info("pruned state of removed checks", "results", n)
	}
}

func (e *engine) Close() error {
	e.bus.Close()
	return e.store.Close()
}

// ListAlerts and Resolve make the engine a tui.Source.
func (e *engine) ListAlerts(ctx context.Context) ([]check.Alert, error) {
	return e.store.ListAlerts(ctx)
}

func (e *engine) Resolve(ctx context.Context, keys []check.Key, user string) ([]*check.Result, error) {
	return e.runner.Resolve(ctx, keys, user)
}

// knownCheck fails for names the configuration does not define.
func (e *engine) knownCheck(name string) error {
	if _, ok := e.runner.Check(name); !ok {
		return fmt.Errorf("check %q: %w", name, runner.ErrUnknownCheck)
	}
	return nil
}

func isTransportError(err error) bool {
	var terr *runner.TransportError
	return errors.As(err, &terr)
}
