package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gillohner/pubky-nexus/internal/clock"
	"github.com/gillohner/pubky-nexus/internal/config"
	"github.com/gillohner/pubky-nexus/internal/content"
	"github.com/gillohner/pubky-nexus/internal/deps"
	"github.com/gillohner/pubky-nexus/internal/engine"
	"github.com/gillohner/pubky-nexus/internal/graph"
	"github.com/gillohner/pubky-nexus/internal/homeserver"
	"github.com/gillohner/pubky-nexus/internal/index"
	"github.com/gillohner/pubky-nexus/internal/indexer"
	"github.com/gillohner/pubky-nexus/internal/retry"
	"github.com/gillohner/pubky-nexus/internal/view"
)

// runtime owns every long-lived resource of one command invocation.
type runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	store     graph.Store
	cache     index.Cache
	ledger    *retry.Ledger
	records   *index.Registry
	refresher *index.Refresher
	resolver  *deps.Resolver
	indexer   *indexer.Indexer
	composer  *view.Composer
}

// loadConfig reads --config, or returns defaults when it is unset.
func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.Config == "" {
		return config.Default(), nil
	}
	return config.Load(opts.Config)
}

// openRuntime connects the configured backends and wires the components.
// A nil flows uses UUIDv7 tokens.
func openRuntime(ctx context.Context, opts *RootOptions, flows indexer.FlowGenerator) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	rt := &runtime{cfg: cfg, logger: newLogger(opts)}

	if rt.store, err = openGraph(ctx, cfg.Graph); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open graph store", err)
	}
	if rt.cache, err = openCache(ctx, cfg.Cache); err != nil {
		rt.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open cache", err)
	}
	if rt.ledger, err = retry.Open(cfg.Retry.Path, retry.Options{MaxAttempts: cfg.Retry.MaxAttempts}); err != nil {
		rt.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open retry ledger", err)
	}

	normalizer, err := content.NewNormalizer(clock.Real())
	if err != nil {
		rt.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build normalizer", err)
	}

	rt.records = index.NewRegistry(rt.cache, rt.store, rt.logger)
	rt.refresher = index.NewRefresher(rt.records, rt.logger)

	depsOpts := deps.Options{
		Store:           rt.store,
		BackfillTimeout: cfg.Indexer.BackfillTimeout.Std(),
		Logger:          rt.logger,
	}
	if cfg.Homeserver.Backfill {
		depsOpts.Fetcher = homeserver.NewClient(homeserver.ClientOptions{
			BaseURL:   cfg.Homeserver.BaseURL,
			ID:        cfg.Homeserver.ID,
			UserAgent: cfg.Homeserver.UserAgent,
		})
	}
	rt.resolver = deps.NewResolver(depsOpts)

	rt.indexer = indexer.New(indexer.Options{
		Engine:       engine.New(rt.store, rt.logger),
		Normalizer:   normalizer,
		Records:      rt.records,
		Refresher:    rt.refresher,
		Resolver:     rt.resolver,
		Ledger:       rt.ledger,
		Flows:        flows,
		EventTimeout: cfg.Indexer.EventTimeout.Std(),
		AsyncRefresh: cfg.Indexer.AsyncRefresh,
		Logger:       rt.logger,
	})
	rt.composer = view.NewComposer(rt.records, rt.store, rt.logger)
	return rt, nil
}

func openGraph(ctx context.Context, cfg config.Graph) (graph.Store, error) {
	switch cfg.Backend {
	case config.GraphNeo4j:
		return graph.OpenNeo4j(ctx, graph.Neo4jConfig{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
	case config.GraphSQLite:
		return graph.OpenSQLite(cfg.Path)
	}
	return nil, fmt.Errorf("unknown graph backend %q", cfg.Backend)
}

func openCache(ctx context.Context, cfg config.Cache) (index.Cache, error) {
	switch cfg.Backend {
	case config.CacheRedis:
		return index.OpenRedis(ctx, index.RedisOptions{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
			Prefix:   cfg.Prefix,
		})
	case config.CacheMemory:
		return index.NewMemoryCache(), nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}

// Close waits for backfills and releases every backend.
func (rt *runtime) Close() error {
	if rt.resolver != nil {
		rt.resolver.Wait()
	}
	var errs []error
	if rt.ledger != nil {
		errs = append(errs, rt.ledger.Close())
	}
	if rt.cache != nil {
		errs = append(errs, rt.cache.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		rt.logger.Error("error closing backends", "error", err)
		return err
	}
	return nil
}
