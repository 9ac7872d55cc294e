package subscription

import (
	"admin_service/internal/domain"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	id   string
	fail bool

	mu       sync.Mutex
	received []int
}

func (r *recorder) ID() string {
	return r.id
}

func (r *recorder) Send(ctx context.Context, account domain.DirectoryEntry, value int) error {
	if r.fail {
		return errors.New("connection closed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, value)
	return nil
}

func (r *recorder) values() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.received...)
}

type countingMetrics struct {
	mu          sync.Mutex
	subscribers int
	failures    int
}

func (m *countingMetrics) SubscribersChanged(registry string, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers += delta
}

func (m *countingMetrics) BroadcastFailed(registry string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

type valueStore struct {
	mu     sync.Mutex
	values map[uint32]int
}

func newValueStore() *valueStore {
	return &valueStore{values: make(map[uint32]int)}
}

func (s *valueStore) load(ctx context.Context, account domain.DirectoryEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[account.ID], nil
}

func (s *valueStore) store(ctx context.Context, account domain.DirectoryEntry, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[account.ID] = value
	return nil
}

func newTestRegistry(t *testing.T, metrics Metrics) (*Registry[int], *valueStore) {
	values := newValueStore()
	return NewRegistry[int]("test", values.load, values.store, metrics, zaptest.NewLogger(t)), values
}

func TestRegistry_MonitorReturnsCurrentValue(t *testing.T) {
	ctx := context.Background()
	registry, values := newTestRegistry(t, nil)
	account := domain.MakeAccount(1, "")
	values.values[account.ID] = 42

	value, err := registry.Monitor(ctx, account, &recorder{id: "a"})
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestRegistry_MonitorIsIdempotent(t *testing.T) {
	ctx := context.Background()
	metrics := &countingMetrics{}
	registry, _ := newTestRegistry(t, metrics)
	account := domain.MakeAccount(1, "")
	subscriber := &recorder{id: "a"}

	_, err := registry.Monitor(ctx, account, subscriber)
	require.NoError(t, err)
	_, err = registry.Monitor(ctx, account, subscriber)
	require.NoError(t, err)

	require.NoError(t, registry.Update(ctx, account, 7))
	assert.Equal(t, []int{7}, subscriber.values())
	assert.Equal(t, 1, registry.Count(account))
	assert.Equal(t, 1, metrics.subscribers)
}

func TestRegistry_UpdateStoresBeforeBroadcast(t *testing.T) {
	ctx := context.Background()
	registry, values := newTestRegistry(t, nil)
	account := domain.MakeAccount(2, "")
	other := domain.MakeAccount(3, "")
	subscriber := &recorder{id: "a"}
	bystander := &recorder{id: "b"}

	_, err := registry.Monitor(ctx, account, subscriber)
	require.NoError(t, err)
	_, err = registry.Monitor(ctx, other, bystander)
	require.NoError(t, err)

	require.NoError(t, registry.Update(ctx, account, 5))
	require.NoError(t, registry.Update(ctx, account, 6))

	stored, _ := values.load(ctx, account)
	assert.Equal(t, 6, stored)
	assert.Equal(t, []int{5, 6}, subscriber.values())
	assert.Empty(t, bystander.values())
}

func TestRegistry_FailedCommitDoesNotBroadcast(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t, nil)
	account := domain.MakeAccount(2, "")
	subscriber := &recorder{id: "a"}
	_, err := registry.Monitor(ctx, account, subscriber)
	require.NoError(t, err)

	failure := errors.New("rolled back")
	err = registry.Apply(ctx, account, 9, func(ctx context.Context) error { return failure })

	assert.ErrorIs(t, err, failure)
	assert.Empty(t, subscriber.values())
}

func TestRegistry_FailedSendDropsOnlyThatSubscriber(t *testing.T) {
	ctx := context.Background()
	metrics := &countingMetrics{}
	registry, _ := newTestRegistry(t, metrics)
	account := domain.MakeAccount(4, "")
	broken := &recorder{id: "broken", fail: true}
	healthy := &recorder{id: "healthy"}

	_, err := registry.Monitor(ctx, account, broken)
	require.NoError(t, err)
	_, err = registry.Monitor(ctx, account, healthy)
	require.NoError(t, err)

	require.NoError(t, registry.Update(ctx, account, 1))
	require.NoError(t, registry.Update(ctx, account, 2))

	assert.Equal(t, []int{1, 2}, healthy.values())
	assert.Equal(t, 1, registry.Count(account))
	assert.Equal(t, 1, metrics.failures)
	assert.Equal(t, 1, metrics.subscribers)
}

func TestRegistry_RemoveSweepsEveryAccount(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t, nil)
	subscriber := &recorder{id: "session-1"}
	other := &recorder{id: "session-2"}
	accounts := []domain.DirectoryEntry{domain.MakeAccount(1, ""), domain.MakeAccount(2, ""), domain.MakeAccount(3, "")}

	for _, account := range accounts {
		_, err := registry.Monitor(ctx, account, subscriber)
		require.NoError(t, err)
	}
	_, err := registry.Monitor(ctx, accounts[0], other)
	require.NoError(t, err)

	registry.Remove("session-1")

	for _, account := range accounts {
		require.NoError(t, registry.Update(ctx, account, 3))
	}
	assert.Empty(t, subscriber.values())
	assert.Equal(t, []int{3}, other.values())
}

func TestRegistry_ConcurrentUpdatesKeepCommitOrder(t *testing.T) {
	ctx := context.Background()
	registry, values := newTestRegistry(t, nil)
	account := domain.MakeAccount(5, "")
	subscriber := &recorder{id: "a"}
	_, err := registry.Monitor(ctx, account, subscriber)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(value int) {
			defer wg.Done()
			_ = registry.Update(ctx, account, value)
		}(i)
	}
	wg.Wait()

	received := subscriber.values()
	require.Len(t, received, 50)
	stored, _ := values.load(ctx, account)
	assert.Equal(t, stored, received[len(received)-1])
}

type closingRecorder struct {
	recorder
	done chan struct{}
}

func (r *closingRecorder) Done() <-chan struct{} {
	return r.done
}

func TestRegistry_RemovePrunesEmptyAccounts(t *testing.T) {
	ctx := context.Background()
	registry, _ := newTestRegistry(t, nil)
	subscriber := &recorder{id: "session-1"}
	other := &recorder{id: "session-2"}
	first := domain.MakeAccount(1, "")
	second := domain.MakeAccount(2, "")

	_, err := registry.Monitor(ctx, first, subscriber)
	require.NoError(t, err)
	_, err = registry.Monitor(ctx, second, subscriber)
	require.NoError(t, err)
	_, err = registry.Monitor(ctx, second, other)
	require.NoError(t, err)
	assert.Equal(t, 2, registry.Accounts())

	registry.Remove("session-1")
	assert.Equal(t, 1, registry.Accounts())
	assert.Equal(t, 0, registry.Count(first))

	registry.Remove("session-2")
	assert.Equal(t, 0, registry.Accounts())

	require.NoError(t, registry.Update(ctx, first, 4))
	assert.Equal(t, 0, registry.Accounts())

	_, err = registry.Monitor(ctx, first, other)
	require.NoError(t, err)
	require.NoError(t, registry.Update(ctx, first, 5))
	assert.Equal(t, []int{5}, other.values())
}

func TestRegistry_MonitorSkipsClosedSubscriber(t *testing.T) {
	ctx := context.Background()
	metrics := &countingMetrics{}
	registry, values := newTestRegistry(t, metrics)
	account := domain.MakeAccount(1, "")
	values.values[account.ID] = 8
	closed := &closingRecorder{recorder: recorder{id: "gone"}, done: make(chan struct{})}
	close(closed.done)

	value, err := registry.Monitor(ctx, account, closed)

	require.NoError(t, err)
	assert.Equal(t, 8, value)
	assert.Equal(t, 0, registry.Count(account))
	assert.Equal(t, 0, registry.Accounts())
	assert.Equal(t, 0, metrics.subscribers)
}
