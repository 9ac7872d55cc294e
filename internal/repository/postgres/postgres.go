// Package postgres is the production repository.DataStore on PostgreSQL.
package postgres

import (
	"admin_service/internal/repository"
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	_ repository.DataStore = (*DataStore)(nil)
	_ repository.DataStore = (*txStore)(nil)
)

type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	Logger          *zap.Logger
}

// DataStore runs each call on the pool. Calls that write more than one
// row open their own transaction; WithTransaction hands out a view bound
// to one pgx.Tx whose nested transactions are savepoints.
type DataStore struct {
	*queries
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func Connect(ctx context.Context, cfg Config) (*DataStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	logger.Info("postgres store connected",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
		zap.Int32("max_conns", poolConfig.MaxConns))
	return &DataStore{
		queries: &queries{db: pool},
		pool:    pool,
		logger:  logger,
	}, nil
}

// Migrate creates any missing tables and indexes.
func (d *DataStore) Migrate(ctx context.Context) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		for _, statement := range schema {
			if _, err := tx.Exec(ctx, statement); err != nil {
				return fmt.Errorf("postgres store: migrate: %w", err)
			}
		}
		return nil
	})
}

func (d *DataStore) WithTransaction(ctx context.Context, fn func(tx repository.DataStore) error) error {
	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		return fn(&txStore{queries: &queries{db: tx}, tx: tx})
	})
}

func (d *DataStore) Close() error {
	d.pool.Close()
	d.logger.Info("postgres store closed")
	return nil
}

type txStore struct {
	*queries
	tx pgx.Tx
}

func (t *txStore) WithTransaction(ctx context.Context, fn func(tx repository.DataStore) error) error {
	return pgx.BeginFunc(ctx, t.tx, func(savepoint pgx.Tx) error {
		return fn(&txStore{queries: &queries{db: savepoint}, tx: savepoint})
	})
}

func (t *txStore) Close() error {
	return nil
}
