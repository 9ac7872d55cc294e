// Package cached provides a write-through cache over another
// repository.DataStore for the per-account records.
package cached

import (
	"admin_service/internal/domain"
	"admin_service/internal/repository"
	"context"
	"fmt"
	"sort"
	"sync"
)

var (
	_ repository.DataStore = (*DataStore)(nil)
	_ repository.DataStore = (*txView)(nil)
)

type records struct {
	identities     map[uint32]domain.IndexedAccountIdentity
	riskParameters map[uint32]domain.IndexedRiskParameters
	riskStates     map[uint32]domain.IndexedRiskState
}

func newRecords() records {
	return records{
		identities:     make(map[uint32]domain.IndexedAccountIdentity),
		riskParameters: make(map[uint32]domain.IndexedRiskParameters),
		riskStates:     make(map[uint32]domain.IndexedRiskState),
	}
}

func (r records) merge(other records) {
	for k, v := range other.identities {
		r.identities[k] = v
	}
	for k, v := range other.riskParameters {
		r.riskParameters[k] = v
	}
	for k, v := range other.riskStates {
		r.riskStates[k] = v
	}
}

func (r records) clone() records {
	cloned := newRecords()
	cloned.merge(r)
	return cloned
}

// DataStore serves identities, risk parameters and risk states from
// memory and forwards every other call to the backing store. The mirror is
// only updated after the backing write succeeds.
type DataStore struct {
	repository.DataStore

	// writeMu serializes writers, including whole transactions, with the
	// backing writes they shadow.
	writeMu sync.Mutex
	mu      sync.RWMutex
	cache   records
}

// New loads every cached record kind from backing.
func New(ctx context.Context, backing repository.DataStore) (*DataStore, error) {
	cache := newRecords()
	identities, err := backing.LoadAllAccountIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("cached store: preload identities: %w", err)
	}
	for _, identity := range identities {
		cache.identities[identity.Account.ID] = identity
	}
	parameters, err := backing.LoadAllRiskParameters(ctx)
	if err != nil {
		return nil, fmt.Errorf("cached store: preload risk parameters: %w", err)
	}
	for _, p := range parameters {
		cache.riskParameters[p.Account.ID] = p
	}
	states, err := backing.LoadAllRiskStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("cached store: preload risk states: %w", err)
	}
	for _, s := range states {
		cache.riskStates[s.Account.ID] = s
	}
	return &DataStore{DataStore: backing, cache: cache}, nil
}

func (d *DataStore) snapshot() records {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cache.clone()
}

func (d *DataStore) apply(pending records) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.merge(pending)
}

func sortedValues[V any](m map[uint32]V) []V {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	result := make([]V, 0, len(keys))
	for _, k := range keys {
		result = append(result, m[k])
	}
	return result
}

func (d *DataStore) LoadAllAccountIdentities(ctx context.Context) ([]domain.IndexedAccountIdentity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedValues(d.cache.identities), nil
}

func (d *DataStore) LoadAccountIdentity(ctx context.Context, account domain.DirectoryEntry) (domain.AccountIdentity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cache.identities[account.ID].Identity, nil
}

func (d *DataStore) StoreAccountIdentity(ctx context.Context, account domain.DirectoryEntry, identity domain.AccountIdentity) error {
	return d.WithTransaction(ctx, func(tx repository.DataStore) error {
		return tx.StoreAccountIdentity(ctx, account, identity)
	})
}

func (d *DataStore) LoadAllRiskParameters(ctx context.Context) ([]domain.IndexedRiskParameters, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedValues(d.cache.riskParameters), nil
}

func (d *DataStore) LoadRiskParameters(ctx context.Context, account domain.DirectoryEntry) (domain.RiskParameters, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cache.riskParameters[account.ID].Parameters, nil
}

func (d *DataStore) StoreRiskParameters(ctx context.Context, account domain.DirectoryEntry, parameters domain.RiskParameters) error {
	return d.WithTransaction(ctx, func(tx repository.DataStore) error {
		return tx.StoreRiskParameters(ctx, account, parameters)
	})
}

func (d *DataStore) LoadAllRiskStates(ctx context.Context) ([]domain.IndexedRiskState, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sortedValues(d.cache.riskStates), nil
}

func (d *DataStore) LoadRiskState(ctx context.Context, account domain.DirectoryEntry) (domain.RiskState, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cache.riskStates[account.ID].State, nil
}

func (d *DataStore) StoreRiskState(ctx context.Context, account domain.DirectoryEntry, state domain.RiskState) error {
	return d.WithTransaction(ctx, func(tx repository.DataStore) error {
		return tx.StoreRiskState(ctx, account, state)
	})
}

// WithTransaction runs fn inside a backing transaction. Cached writes made
// through the view are held aside and reach the mirror only once the
// backing transaction has committed.
func (d *DataStore) WithTransaction(ctx context.Context, fn func(tx repository.DataStore) error) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	var committed records
	err := d.DataStore.WithTransaction(ctx, func(backingTx repository.DataStore) error {
		view := &txView{DataStore: backingTx, root: d, pending: newRecords()}
		if err := fn(view); err != nil {
			return err
		}
		committed = view.pending
		return nil
	})
	if err != nil {
		return err
	}
	d.apply(committed)
	return nil
}

func (d *DataStore) Close() error {
	return d.DataStore.Close()
}

// txView layers uncommitted cached writes over its parent view, or over
// the root mirror for the outermost transaction.
type txView struct {
	repository.DataStore

	root    *DataStore
	parent  *txView
	pending records
}

func (v *txView) chain() []*txView {
	var views []*txView
	for current := v; current != nil; current = current.parent {
		views = append([]*txView{current}, views...)
	}
	return views
}

// view returns the cached records as this transaction sees them.
func (v *txView) view() records {
	result := v.root.snapshot()
	for _, layer := range v.chain() {
		result.merge(layer.pending)
	}
	return result
}

func (v *txView) LoadAllAccountIdentities(ctx context.Context) ([]domain.IndexedAccountIdentity, error) {
	return sortedValues(v.view().identities), nil
}

func (v *txView) LoadAccountIdentity(ctx context.Context, account domain.DirectoryEntry) (domain.AccountIdentity, error) {
	for current := v; current != nil; current = current.parent {
		if record, ok := current.pending.identities[account.ID]; ok {
			return record.Identity, nil
		}
	}
	return v.root.LoadAccountIdentity(ctx, account)
}

func (v *txView) StoreAccountIdentity(ctx context.Context, account domain.DirectoryEntry, identity domain.AccountIdentity) error {
	if err := v.DataStore.StoreAccountIdentity(ctx, account, identity); err != nil {
		return err
	}
	v.pending.identities[account.ID] = domain.IndexedAccountIdentity{Account: account, Identity: identity.Stored()}
	return nil
}

func (v *txView) LoadAllRiskParameters(ctx context.Context) ([]domain.IndexedRiskParameters, error) {
	return sortedValues(v.view().riskParameters), nil
}

func (v *txView) LoadRiskParameters(ctx context.Context, account domain.DirectoryEntry) (domain.RiskParameters, error) {
	for current := v; current != nil; current = current.parent {
		if record, ok := current.pending.riskParameters[account.ID]; ok {
			return record.Parameters, nil
		}
	}
	return v.root.LoadRiskParameters(ctx, account)
}

func (v *txView) StoreRiskParameters(ctx context.Context, account domain.DirectoryEntry, parameters domain.RiskParameters) error {
	if err := v.DataStore.StoreRiskParameters(ctx, account, parameters); err != nil {
		return err
	}
	v.pending.riskParameters[account.ID] = domain.IndexedRiskParameters{Account: account, Parameters: parameters}
	return nil
}

func (v *txView) LoadAllRiskStates(ctx context.Context) ([]domain.IndexedRiskState, error) {
	return sortedValues(v.view().riskStates), nil
}

func (v *txView) LoadRiskState(ctx context.Context, account domain.DirectoryEntry) (domain.RiskState, error) {
	for current := v; current != nil; current = current.parent {
		if record, ok := current.pending.riskStates[account.ID]; ok {
			return record.State, nil
		}
	}
	return v.root.LoadRiskState(ctx, account)
}

func (v *txView) StoreRiskState(ctx context.Context, account domain.DirectoryEntry, state domain.RiskState) error {
	if err := v.DataStore.StoreRiskState(ctx, account, state); err != nil {
		return err
	}
	v.pending.riskStates[account.ID] = domain.IndexedRiskState{Account: account, State: state}
	return nil
}

func (v *txView) WithTransaction(ctx context.Context, fn func(tx repository.DataStore) error) error {
	var committed records
	err := v.DataStore.WithTransaction(ctx, func(backingTx repository.DataStore) error {
		nested := &txView{DataStore: backingTx, root: v.root, parent: v, pending: newRecords()}
		if err := fn(nested); err != nil {
			return err
		}
		committed = nested.pending
		return nil
	})
	if err != nil {
		return err
	}
	v.pending.merge(committed)
	return nil
}

func (v *txView) Close() error {
	return nil
}
