package main

import (
	"admin_service/internal/config"
	"admin_service/internal/directory"
	"admin_service/internal/permissions"
	"admin_service/internal/repository"
	"admin_service/internal/repository/cached"
	"admin_service/internal/repository/memory"
	"admin_service/internal/repository/postgres"
	"admin_service/internal/repository/sqlite"
	"context"
	"fmt"

	"go.uber.org/zap"
)

// buildDirectory creates the in-memory directory from the seed file and
// resolves the well-known roots. Entry ids depend only on the seed, so
// tokens issued against one build stay valid for the next.
func buildDirectory(ctx context.Context, cfg config.Config) (*directory.Graph, permissions.Roots, error) {
	graph := directory.NewGraph()
	roots, err := permissions.LoadOrCreateRoots(ctx, graph, graph.Root())
	if err != nil {
		return nil, roots, fmt.Errorf("failed to create root directories: %w", err)
	}
	if cfg.DirectoryPath != "" {
		seed, err := directory.LoadSeedFile(cfg.DirectoryPath)
		if err != nil {
			return nil, roots, err
		}
		if err := graph.Apply(ctx, seed); err != nil {
			return nil, roots, fmt.Errorf("failed to apply directory seed: %w", err)
		}
	}
	return graph, roots, nil
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// openStore opens the configured durable store without any cache.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (repository.DataStore, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewDataStore(), nil
	case "sqlite":
		return sqlite.Open(sqlite.Config{
			Path:     cfg.SQLitePath,
			PoolSize: cfg.SQLitePoolSize,
			Logger:   logger.Named("sqlite"),
		})
	case "postgres":
		return postgres.Connect(ctx, postgres.Config{
			DSN:    cfg.PostgresDSN,
			Logger: logger.Named("postgres"),
		})
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// setupStore opens the store, applies its schema and wraps it in the
// write-through cache when configured.
func setupStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (repository.DataStore, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if m, ok := store.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	if !cfg.Cache {
		return store, nil
	}
	cache, err := cached.New(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load store cache: %w", err)
	}
	logger.Info("Store cache loaded", zap.String("driver", cfg.Driver))
	return cache, nil
}
