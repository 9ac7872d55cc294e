// Package subscription fans out per-account value changes to the
// connections monitoring them.
package subscription

import (
	"admin_service/internal/domain"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Subscriber is one monitoring connection. Subscribers with the same ID are
// the same subscriber.
type Subscriber[V any] interface {
	ID() string
	Send(ctx context.Context, account domain.DirectoryEntry, value V) error
}

type (
	LoadFunc[V any]  func(ctx context.Context, account domain.DirectoryEntry) (V, error)
	StoreFunc[V any] func(ctx context.Context, account domain.DirectoryEntry, value V) error
)

// closer is implemented by subscribers bound to a connection. A subscriber
// whose Done channel is closed is never registered.
type closer interface {
	Done() <-chan struct{}
}

func isClosed(subscriber any) bool {
	c, ok := subscriber.(closer)
	if !ok {
		return false
	}
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Metrics receives registry events. It may be nil.
type Metrics interface {
	SubscribersChanged(registry string, delta int)
	BroadcastFailed(registry string)
}

type entry[V any] struct {
	mu          sync.Mutex
	account     uint32
	subscribers []Subscriber[V]
	pruned      bool
}

// Registry tracks subscribers per account. All changes to one account,
// including its durable write and the broadcast that follows, run under
// that account's lock, so subscribers see values in commit order.
type Registry[V any] struct {
	name    string
	load    LoadFunc[V]
	store   StoreFunc[V]
	metrics Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[uint32]*entry[V]
}

func NewRegistry[V any](name string, load LoadFunc[V], store StoreFunc[V], metrics Metrics, logger *zap.Logger) *Registry[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry[V]{
		name:    name,
		load:    load,
		store:   store,
		metrics: metrics,
		logger:  logger.With(zap.String("registry", name)),
		entries: make(map[uint32]*entry[V]),
	}
}

// lock returns the locked entry of account, creating it if needed.
func (r *Registry[V]) lock(account domain.DirectoryEntry) *entry[V] {
	for {
		r.mu.Lock()
		e, ok := r.entries[account.ID]
		if !ok {
			e = &entry[V]{account: account.ID}
			r.entries[account.ID] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		if !e.pruned {
			return e
		}
		e.mu.Unlock()
	}
}

// prune drops e once it has no subscribers. e.mu must be held.
func (r *Registry[V]) prune(e *entry[V]) {
	if len(e.subscribers) > 0 {
		return
	}
	r.mu.Lock()
	if r.entries[e.account] == e {
		delete(r.entries, e.account)
	}
	r.mu.Unlock()
	e.pruned = true
}

// Monitor registers subscriber against account and returns the current
// value. Registering the same subscriber again only reloads the value.
func (r *Registry[V]) Monitor(ctx context.Context, account domain.DirectoryEntry, subscriber Subscriber[V]) (V, error) {
	e := r.lock(account)
	defer e.mu.Unlock()
	defer r.prune(e)

	value, err := r.load(ctx, account)
	if err != nil {
		var zero V
		return zero, fmt.Errorf("%s: load %s: %w", r.name, account, err)
	}
	for _, existing := range e.subscribers {
		if existing.ID() == subscriber.ID() {
			return value, nil
		}
	}
	if isClosed(subscriber) {
		r.logger.Debug("Skipping closed subscriber",
			zap.String("subscriber", subscriber.ID()),
			zap.Uint32("account", account.ID))
		return value, nil
	}
	e.subscribers = append(e.subscribers, subscriber)
	if r.metrics != nil {
		r.metrics.SubscribersChanged(r.name, 1)
	}
	return value, nil
}

// Update stores value for account and broadcasts it.
func (r *Registry[V]) Update(ctx context.Context, account domain.DirectoryEntry, value V) error {
	return r.Apply(ctx, account, value, func(ctx context.Context) error {
		return r.store(ctx, account, value)
	})
}

// Apply runs commit under the account's lock and broadcasts value once it
// returns nil. commit must make value durable.
func (r *Registry[V]) Apply(ctx context.Context, account domain.DirectoryEntry, value V, commit func(ctx context.Context) error) error {
	e := r.lock(account)
	defer e.mu.Unlock()
	defer r.prune(e)

	if err := commit(ctx); err != nil {
		return err
	}

	kept := e.subscribers[:0]
	for _, subscriber := range e.subscribers {
		if err := subscriber.Send(ctx, account, value); err != nil {
			r.logger.Warn("Dropping subscriber after failed send",
				zap.String("subscriber", subscriber.ID()),
				zap.Uint32("account", account.ID),
				zap.Error(err))
			if r.metrics != nil {
				r.metrics.BroadcastFailed(r.name)
				r.metrics.SubscribersChanged(r.name, -1)
			}
			continue
		}
		kept = append(kept, subscriber)
	}
	clear(e.subscribers[len(kept):])
	e.subscribers = kept
	return nil
}

// Remove unregisters the subscriber with the given id from every account.
func (r *Registry[V]) Remove(id string) {
	r.mu.Lock()
	entries := make([]*entry[V], 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	removed := 0
	for _, e := range entries {
		e.mu.Lock()
		kept := e.subscribers[:0]
		for _, subscriber := range e.subscribers {
			if subscriber.ID() == id {
				removed++
				continue
			}
			kept = append(kept, subscriber)
		}
		clear(e.subscribers[len(kept):])
		e.subscribers = kept
		if !e.pruned {
			r.prune(e)
		}
		e.mu.Unlock()
	}
	if removed > 0 && r.metrics != nil {
		r.metrics.SubscribersChanged(r.name, -removed)
	}
}

// Count returns the number of subscribers registered against account.
func (r *Registry[V]) Count(account domain.DirectoryEntry) int {
	r.mu.Lock()
	e, ok := r.entries[account.ID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers)
}

// Accounts returns the number of accounts with at least one subscriber.
func (r *Registry[V]) Accounts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
