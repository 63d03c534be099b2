package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/pario-ai/dixie/pkg/budget"
	"github.com/pario-ai/dixie/pkg/config"
	"github.com/pario-ai/dixie/pkg/content"
	"github.com/pario-ai/dixie/pkg/executor"
	"github.com/pario-ai/dixie/pkg/ledger"
	"github.com/pario-ai/dixie/pkg/llm"
	"github.com/pario-ai/dixie/pkg/logger"
	"github.com/pario-ai/dixie/pkg/notify"
	"github.com/pario-ai/dixie/pkg/tasks"
	"github.com/pario-ai/dixie/pkg/tasks/builtin"
)

// app holds the wired components shared by subcommands.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	ledger   *ledger.SQLLedger
	store    *content.SQLiteStore
	gateway  notify.Gateway
	alloc    *budget.Allocator
	registry *tasks.Registry
	exec     *executor.Executor

	redis *redis.Client
}

// openApp loads config and wires every component. Output written by
// notifications goes to out.
func openApp(configPath string, out io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	a.ledger, err = ledger.Open(cfg.Ledger.Driver, cfg.Ledger.DSN, ledger.WithLocations(cfg.Locations()))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.store, err = content.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}

	switch cfg.Notify.Gateway {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Notify.Redis.Addr,
			Password: cfg.Notify.Redis.Password,
			DB:       cfg.Notify.Redis.DB,
		})
		a.gateway = notify.NewRedisGateway(a.redis, cfg.Notify.Redis.Channel, cfg.Notify.Redis.ApprovalPrefix, log)
	case "terminal":
		a.gateway = notify.NewTerminalGateway(out)
	default:
		a.gateway = notify.NewLogGateway(log)
	}

	a.alloc = budget.New(a.ledger, budget.Options{
		Services:        cfg.Services,
		Pressure:        cfg.Pressure,
		Gateway:         a.gateway,
		ApprovalTimeout: cfg.Executor.ApprovalTimeout,
		Logger:          log,
	})

	a.registry = tasks.NewRegistry()
	deps := builtin.Deps{
		Store: a.store,
		LLM:   llm.NewOpenAI(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model),
	}
	if err := builtin.Register(a.registry, deps, cfg.Tasks); err != nil {
		return nil, err
	}

	a.exec = executor.New(a.registry, a.ledger, a.alloc, executor.Options{
		Enabled:         cfg.Executor.Enabled,
		Service:         cfg.Executor.Service,
		MaxSafety:       cfg.MaxSafety(),
		MaxAutonomous:   cfg.Executor.MaxAutonomousPromptsPerDay,
		Style:           cfg.Executor.Notifications.Style,
		ApprovalTimeout: cfg.Executor.ApprovalTimeout,
		Gateway:         a.gateway,
		Logger:          log,
	})

	ok = true
	return a, nil
}

// Close releases resources in reverse dependency order.
func (a *app) Close() error {
	var errs []error
	if a.alloc != nil {
		errs = append(errs, a.alloc.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return errors.Join(errs...)
}

// withApp opens the app, runs fn and closes it.
func withApp(configPath string, fn func(a *app) error) error {
	a, err := openApp(configPath, os.Stdout)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}
