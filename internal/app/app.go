// Package app wires configuration into providers, the router, the stores
// and the memory service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/raphaelgruber/memu-go/internal/apperr"
	"github.com/raphaelgruber/memu-go/internal/config"
	"github.com/raphaelgruber/memu-go/internal/db"
	"github.com/raphaelgruber/memu-go/internal/llm"
	"github.com/raphaelgruber/memu-go/internal/metrics"
	"github.com/raphaelgruber/memu-go/internal/router"
	"github.com/raphaelgruber/memu-go/internal/server"
	"github.com/raphaelgruber/memu-go/internal/service"
	"github.com/raphaelgruber/memu-go/internal/store"
	"github.com/raphaelgruber/memu-go/internal/vectorstore"
)

// Version is set at build time.
var Version = "0.1.0"

// App holds the wired components of a running service.
type App struct {
	Config  config.Config
	Router  *router.Router
	Memory  *service.MemoryService
	Metrics *metrics.Collector

	logger  *slog.Logger
	closers []func(context.Context) error
}

// New validates cfg and builds every component it names. On error nothing
// is left open.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrConfiguration, err)
	}
	a := &App{Config: cfg, Metrics: metrics.NewCollector(), logger: logger}

	providers, err := llm.NewProviders(cfg, logger)
	if err != nil {
		return nil, err
	}
	bindings := make(map[router.Operation]router.Binding, len(router.Operations))
	for _, op := range router.Operations {
		b := cfg.Bindings[string(op)]
		bindings[op] = router.Binding{Provider: providers[b.Profile], Model: cfg.BindingModel(string(op))}
	}
	a.Router, err = router.New(bindings, router.Options{
		Retries:           cfg.ProviderRetries,
		SummarizeFallback: cfg.SummarizeFallback,
		Metrics:           a.Metrics,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	st, err := a.openStore()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	backend, err := a.openBackend(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Memory = service.NewMemoryService(st, a.Router, backend, service.Options{
		RetrieveLimit: cfg.RetrieveLimit,
		Metrics:       a.Metrics,
		Logger:        logger,
	})
	a.logBanner()
	return a, nil
}

func (a *App) openStore() (store.Store, error) {
	switch a.Config.ConversationStore {
	case "sqlite":
		s, err := store.NewSQLiteStore(a.Config.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return s, nil
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return store.NewFileStore(a.Config.StorageDir), nil
	}
}

func (a *App) openBackend(ctx context.Context) (service.Backend, error) {
	if a.Config.RetrievalBackend == "surrealdb" {
		client, err := db.NewClientFromConfig(ctx, a.Config, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		if err := client.InitSchema(ctx, a.Config.EmbedDimension); err != nil {
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		return client, nil
	}
	vs, err := vectorstore.New(a.Config.VectorDir, a.logger)
	if err != nil {
		return nil, err
	}
	return vs, nil
}

// logBanner logs where each operation is routed.
func (a *App) logBanner() {
	bindings := a.Router.Bindings()
	ops := make([]string, 0, len(bindings))
	for op := range bindings {
		ops = append(ops, string(op))
	}
	sort.Strings(ops)

	a.logger.Info("memu starting", "version", Version, "store", a.Config.ConversationStore, "backend", a.Config.RetrievalBackend)
	for _, op := range ops {
		b := bindings[router.Operation(op)]
		prof := a.Config.Profiles[b.Provider.Name()]
		a.logger.Info("operation routed",
			"operation", op,
			"profile", b.Provider.Name(),
			"kind", prof.Kind,
			"model", b.Model,
			"base_url", prof.BaseURL,
			"read_timeout", b.Provider.Timeouts().Read,
		)
	}
}

// Server returns an HTTP server for the memory service.
func (a *App) Server() *server.Server {
	return server.New(a.Memory, server.Options{
		Addr:      fmt.Sprintf(":%d", a.Config.Port),
		RateLimit: a.Config.RateLimit,
		RateBurst: a.Config.RateBurst,
		Metrics:   a.Metrics,
		Logger:    a.logger,
	})
}

// Serve builds the service from cfg and serves HTTP until ctx is canceled.
func Serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	flush := InitSentry(cfg, logger)
	defer flush()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := New(startCtx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("failed to close app", "error", err)
		}
	}()
	return a.Server().Run(ctx)
}

// Close releases stores and backend connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

// InitSentry enables error reporting when a DSN is configured. The returned
// func flushes pending events.
func InitSentry(cfg config.Config, logger *slog.Logger) func() {
	if cfg.SentryDSN == "" {
		return func() {}
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Release:          Version,
		AttachStacktrace: true,
	})
	if err != nil {
		logger.Warn("sentry initialization failed", "error", err)
		return func() {}
	}
	logger.Info("sentry initialized", "release", Version)
	return func() { sentry.Flush(2 * time.Second) }
}
