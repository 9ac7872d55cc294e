package memory

import (
	"admin_service/internal/domain"
	"admin_service/internal/repository"
	"context"
	"sync"
)

var (
	_ repository.DataStore = (*DataStore)(nil)
	_ repository.DataStore = (*txStore)(nil)
)

// DataStore keeps every record in memory. Transactions run against a
// copy-on-write clone of the current state which replaces it on commit, so
// writers are serialized and readers never block on them.
type DataStore struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	state   *state
	closed  bool
}

func NewDataStore() *DataStore {
	return &DataStore{state: newState()}
}

func (d *DataStore) snapshot() *state {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *DataStore) update(fn func(*state) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()
	if closed {
		return repository.ErrClosed
	}

	next := d.snapshot().clone()
	if err := fn(next); err != nil {
		return err
	}

	d.mu.Lock()
	d.state = next
	d.mu.Unlock()
	return nil
}

func (d *DataStore) WithTransaction(ctx context.Context, fn func(tx repository.DataStore) error) error {
	return d.update(func(s *state) error {
		return fn(&txStore{state: s})
	})
}

func (d *DataStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *DataStore) LoadAllAccountIdentities(ctx context.Context) ([]domain.IndexedAccountIdentity, error) {
	return d.snapshot().LoadAllAccountIdentities(ctx)
}

func (d *DataStore) LoadAccountIdentity(ctx context.Context, account domain.DirectoryEntry) (domain.AccountIdentity, error) {
	return d.snapshot().LoadAccountIdentity(ctx, account)
}

func (d *DataStore) StoreAccountIdentity(ctx context.Context, account domain.DirectoryEntry, identity domain.AccountIdentity) error {
	return d.update(func(s *state) error { return s.StoreAccountIdentity(ctx, account, identity) })
}

func (d *DataStore) LoadAllRiskParameters(ctx context.Context) ([]domain.IndexedRiskParameters, error) {
	return d.snapshot().LoadAllRiskParameters(ctx)
}

func (d *DataStore) LoadRiskParameters(ctx context.Context, account domain.DirectoryEntry) (domain.RiskParameters, error) {
	return d.snapshot().LoadRiskParameters(ctx, account)
}

func (d *DataStore) StoreRiskParameters(ctx context.Context, account domain.DirectoryEntry, parameters domain.RiskParameters) error {
	return d.update(func(s *state) error { return s.StoreRiskParameters(ctx, account, parameters) })
}

func (d *DataStore) LoadAllRiskStates(ctx context.Context) ([]domain.IndexedRiskState, error) {
	return d.snapshot().LoadAllRiskStates(ctx)
}

func (d *DataStore) LoadRiskState(ctx context.Context, account domain.DirectoryEntry) (domain.RiskState, error) {
	return d.snapshot().LoadRiskState(ctx, account)
}

func (d *DataStore) StoreRiskState(ctx context.Context, account domain.DirectoryEntry, riskState domain.RiskState) error {
	return d.update(func(s *state) error { return s.StoreRiskState(ctx, account, riskState) })
}

func (d *DataStore) LoadAccountModificationRequest(ctx context.Context, id int64) (domain.AccountModificationRequest, error) {
	return d.snapshot().LoadAccountModificationRequest(ctx, id)
}

func (d *DataStore) LoadAccountModificationRequestIds(ctx context.Context, account domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	return d.snapshot().LoadAccountModificationRequestIds(ctx, account, startId, maxCount)
}

func (d *DataStore) LoadAccountModificationRequestIdsForAccounts(ctx context.Context, accounts []domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	return d.snapshot().LoadAccountModificationRequestIdsForAccounts(ctx, accounts, startId, maxCount)
}

func (d *DataStore) LoadSubmittedAccountModificationRequestIds(ctx context.Context, submitter domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	return d.snapshot().LoadSubmittedAccountModificationRequestIds(ctx, submitter, startId, maxCount)
}

func (d *DataStore) LoadAllAccountModificationRequestIds(ctx context.Context, startId int64, maxCount int) ([]int64, error) {
	return d.snapshot().LoadAllAccountModificationRequestIds(ctx, startId, maxCount)
}

func (d *DataStore) LoadLastAccountModificationRequestId(ctx context.Context) (int64, error) {
	return d.snapshot().LoadLastAccountModificationRequestId(ctx)
}

func (d *DataStore) StoreAccountModificationRequest(ctx context.Context, request domain.AccountModificationRequest) error {
	return d.update(func(s *state) error { return s.StoreAccountModificationRequest(ctx, request) })
}

func (d *DataStore) LoadEntitlementModification(ctx context.Context, id int64) (domain.EntitlementModification, error) {
	return d.snapshot().LoadEntitlementModification(ctx, id)
}

func (d *DataStore) StoreEntitlementModification(ctx context.Context, id int64, modification domain.EntitlementModification) error {
	return d.update(func(s *state) error { return s.StoreEntitlementModification(ctx, id, modification) })
}

func (d *DataStore) LoadRiskModification(ctx context.Context, id int64) (domain.RiskModification, error) {
	return d.snapshot().LoadRiskModification(ctx, id)
}

func (d *DataStore) StoreRiskModification(ctx context.Context, id int64, modification domain.RiskModification) error {
	return d.update(func(s *state) error { return s.StoreRiskModification(ctx, id, modification) })
}

func (d *DataStore) LoadAccountModificationRequestStatus(ctx context.Context, id int64) (domain.RequestUpdate, error) {
	return d.snapshot().LoadAccountModificationRequestStatus(ctx, id)
}

func (d *DataStore) LoadAccountModificationRequestUpdates(ctx context.Context, id int64) ([]domain.RequestUpdate, error) {
	return d.snapshot().LoadAccountModificationRequestUpdates(ctx, id)
}

func (d *DataStore) StoreAccountModificationRequestUpdate(ctx context.Context, id int64, update domain.RequestUpdate) error {
	return d.update(func(s *state) error { return s.StoreAccountModificationRequestUpdate(ctx, id, update) })
}

func (d *DataStore) LoadLastMessageId(ctx context.Context) (int64, error) {
	return d.snapshot().LoadLastMessageId(ctx)
}

func (d *DataStore) LoadMessage(ctx context.Context, id int64) (domain.Message, error) {
	return d.snapshot().LoadMessage(ctx, id)
}

func (d *DataStore) LoadMessageIds(ctx context.Context, requestId int64) ([]int64, error) {
	return d.snapshot().LoadMessageIds(ctx, requestId)
}

func (d *DataStore) StoreMessage(ctx context.Context, message domain.Message) error {
	return d.update(func(s *state) error { return s.StoreMessage(ctx, message) })
}

func (d *DataStore) StoreAccountModificationRequestMessage(ctx context.Context, id int64, message domain.Message) error {
	return d.update(func(s *state) error { return s.StoreAccountModificationRequestMessage(ctx, id, message) })
}

// txStore is the view handed to a transaction callback. It writes straight
// into the uncommitted state; nested transactions work on a further copy
// that replaces it only on success.
type txStore struct {
	*state
}

func (t *txStore) WithTransaction(ctx context.Context, fn func(tx repository.DataStore) error) error {
	nested := t.state.clone()
	if err := fn(&txStore{state: nested}); err != nil {
		return err
	}
	*t.state = *nested
	return nil
}

func (t *txStore) Close() error {
	return nil
}
