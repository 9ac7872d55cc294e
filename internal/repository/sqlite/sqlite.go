// Package sqlite is the embedded durable repository.DataStore.
package sqlite

import (
	"admin_service/internal/domain"
	"admin_service/internal/repository"
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

var (
	_ repository.DataStore = (*DataStore)(nil)
	_ repository.DataStore = (*txStore)(nil)
)

type Config struct {
	// Path is the database file. It is created if it does not exist.
	Path     string
	PoolSize int
	Logger   *zap.Logger
}

// DataStore is a repository.DataStore over a pool of SQLite connections.
// Every transaction is IMMEDIATE, so writers are serialized by the
// database lock and a read-check-append sequence cannot interleave with
// another writer.
type DataStore struct {
	pool   *sqlitex.Pool
	path   string
	logger *zap.Logger
}

func Open(cfg Config) (*DataStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening %s: %w", cfg.Path, err)
	}
	store := &DataStore{pool: pool, path: cfg.Path, logger: logger}
	if err := store.Migrate(context.Background()); err != nil {
		_ = pool.Close()
		return nil, err
	}
	logger.Info("sqlite store opened", zap.String("path", cfg.Path), zap.Int("pool_size", poolSize))
	return store, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite store: %s: %w", pragma, err)
		}
	}
	return nil
}

// Migrate creates any missing tables and indexes.
func (d *DataStore) Migrate(ctx context.Context) error {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: migrate: %w", err)
	}
	defer d.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return nil
}

func (d *DataStore) Close() error {
	if err := d.pool.Close(); err != nil {
		d.logger.Error("sqlite store close error", zap.String("path", d.path), zap.Error(err))
		return fmt.Errorf("sqlite store: closing %s: %w", d.path, err)
	}
	d.logger.Info("sqlite store closed", zap.String("path", d.path))
	return nil
}

func (d *DataStore) read(ctx context.Context, fn func(q *queries) error) error {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: take connection: %w", err)
	}
	defer d.pool.Put(conn)
	return fn(&queries{conn: conn})
}

func (d *DataStore) WithTransaction(ctx context.Context, fn func(tx repository.DataStore) error) (err error) {
	conn, err := d.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite store: take connection: %w", err)
	}
	defer d.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	return fn(&txStore{queries: &queries{conn: conn}})
}

func (d *DataStore) write(ctx context.Context, fn func(q *queries) error) error {
	return d.WithTransaction(ctx, func(tx repository.DataStore) error {
		return fn(tx.(*txStore).queries)
	})
}

func (d *DataStore) LoadAllAccountIdentities(ctx context.Context) (result []domain.IndexedAccountIdentity, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadAllAccountIdentities(ctx)
		return err
	})
	return result, err
}

func (d *DataStore) LoadAccountIdentity(ctx context.Context, account domain.DirectoryEntry) (result domain.AccountIdentity, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadAccountIdentity(ctx, account)
		return err
	})
	return result, err
}

func (d *DataStore) StoreAccountIdentity(ctx context.Context, account domain.DirectoryEntry, identity domain.AccountIdentity) error {
	return d.write(ctx, func(q *queries) error { return q.StoreAccountIdentity(ctx, account, identity) })
}

func (d *DataStore) LoadAllRiskParameters(ctx context.Context) (result []domain.IndexedRiskParameters, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadAllRiskParameters(ctx)
		return err
	})
	return result, err
}

func (d *DataStore) LoadRiskParameters(ctx context.Context, account domain.DirectoryEntry) (result domain.RiskParameters, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadRiskParameters(ctx, account)
		return err
	})
	return result, err
}

func (d *DataStore) StoreRiskParameters(ctx context.Context, account domain.DirectoryEntry, parameters domain.RiskParameters) error {
	return d.write(ctx, func(q *queries) error { return q.StoreRiskParameters(ctx, account, parameters) })
}

func (d *DataStore) LoadAllRiskStates(ctx context.Context) (result []domain.IndexedRiskState, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadAllRiskStates(ctx)
		return err
	})
	return result, err
}

func (d *DataStore) LoadRiskState(ctx context.Context, account domain.DirectoryEntry) (result domain.RiskState, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadRiskState(ctx, account)
		return err
	})
	return result, err
}

func (d *DataStore) StoreRiskState(ctx context.Context, account domain.DirectoryEntry, state domain.RiskState) error {
	return d.write(ctx, func(q *queries) error { return q.StoreRiskState(ctx, account, state) })
}

func (d *DataStore) LoadAccountModificationRequest(ctx context.Context, id int64) (result domain.AccountModificationRequest, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadAccountModificationRequest(ctx, id)
		return err
	})
	return result, err
}

func (d *DataStore) LoadAccountModificationRequestIds(ctx context.Context, account domain.DirectoryEntry, startId int64, maxCount int) (result []int64, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadAccountModificationRequestIds(ctx, account, startId, maxCount)
		return err
	})
	return result, err
}

func (d *DataStore) LoadAccountModificationRequestIdsForAccounts(ctx context.Context, accounts []domain.DirectoryEntry, startId int64, maxCount int) (result []int64, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadAccountModificationRequestIdsForAccounts(ctx, accounts, startId, maxCount)
		return err
	})
	return result, err
}

func (d *DataStore) LoadSubmittedAccountModificationRequestIds(ctx context.Context, submitter domain.DirectoryEntry, startId int64, maxCount int) (result []int64, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadSubmittedAccountModificationRequestIds(ctx, submitter, startId, maxCount)
		return err
	})
	return result, err
}

func (d *DataStore) LoadAllAccountModificationRequestIds(ctx context.Context, startId int64, maxCount int) (result []int64, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadAllAccountModificationRequestIds(ctx, startId, maxCount)
		return err
	})
	return result, err
}

func (d *DataStore) LoadLastAccountModificationRequestId(ctx context.Context) (result int64, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadLastAccountModificationRequestId(ctx)
		return err
	})
	return result, err
}

func (d *DataStore) StoreAccountModificationRequest(ctx context.Context, request domain.AccountModificationRequest) error {
	return d.write(ctx, func(q *queries) error { return q.StoreAccountModificationRequest(ctx, request) })
}

func (d *DataStore) LoadEntitlementModification(ctx context.Context, id int64) (result domain.EntitlementModification, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadEntitlementModification(ctx, id)
		return err
	})
	return result, err
}

func (d *DataStore) StoreEntitlementModification(ctx context.Context, id int64, modification domain.EntitlementModification) error {
	return d.write(ctx, func(q *queries) error { return q.StoreEntitlementModification(ctx, id, modification) })
}

func (d *DataStore) LoadRiskModification(ctx context.Context, id int64) (result domain.RiskModification, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadRiskModification(ctx, id)
		return err
	})
	return result, err
}

func (d *DataStore) StoreRiskModification(ctx context.Context, id int64, modification domain.RiskModification) error {
	return d.write(ctx, func(q *queries) error { return q.StoreRiskModification(ctx, id, modification) })
}

func (d *DataStore) LoadAccountModificationRequestStatus(ctx context.Context, id int64) (result domain.RequestUpdate, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadAccountModificationRequestStatus(ctx, id)
		return err
	})
	return result, err
}

func (d *DataStore) LoadAccountModificationRequestUpdates(ctx context.Context, id int64) (result []domain.RequestUpdate, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadAccountModificationRequestUpdates(ctx, id)
		return err
	})
	return result, err
}

func (d *DataStore) StoreAccountModificationRequestUpdate(ctx context.Context, id int64, update domain.RequestUpdate) error {
	return d.write(ctx, func(q *queries) error { return q.StoreAccountModificationRequestUpdate(ctx, id, update) })
}

func (d *DataStore) LoadLastMessageId(ctx context.Context) (result int64, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadLastMessageId(ctx)
		return err
	})
	return result, err
}

func (d *DataStore) LoadMessage(ctx context.Context, id int64) (result domain.Message, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadMessage(ctx, id)
		return err
	})
	return result, err
}

func (d *DataStore) LoadMessageIds(ctx context.Context, requestId int64) (result []int64, err error) {
	err = d.read(ctx, func(q *queries) error {
		result, err = q.LoadMessageIds(ctx, requestId)
		return err
	})
	return result, err
}

func (d *DataStore) StoreMessage(ctx context.Context, message domain.Message) error {
	return d.write(ctx, func(q *queries) error { return q.StoreMessage(ctx, message) })
}

func (d *DataStore) StoreAccountModificationRequestMessage(ctx context.Context, id int64, message domain.Message) error {
	return d.write(ctx, func(q *queries) error { return q.StoreAccountModificationRequestMessage(ctx, id, message) })
}

// txStore runs on the connection that holds the open transaction. Nested
// transactions are savepoints.
type txStore struct {
	*queries
}

func (t *txStore) WithTransaction(ctx context.Context, fn func(tx repository.DataStore) error) (err error) {
	defer sqlitex.Save(t.conn)(&err)
	return fn(t)
}

func (t *txStore) Close() error {
	return nil
}
