package directory

import (
	"admin_service/internal/domain"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_AssociateAndDetach(t *testing.T) {
	ctx := context.Background()
	graph := NewGraph()

	group, err := graph.LoadOrCreateDirectory(ctx, "desk", graph.Root())
	require.NoError(t, err)
	account, err := graph.CreateAccount("alice", graph.Root())
	require.NoError(t, err)

	require.NoError(t, graph.Associate(ctx, account, group))
	require.NoError(t, graph.Associate(ctx, account, group))

	parents, err := graph.LoadParents(ctx, account)
	require.NoError(t, err)
	assert.Len(t, parents, 2)
	assert.True(t, domain.ContainsEntry(parents, group))

	children, err := graph.LoadChildren(ctx, group)
	require.NoError(t, err)
	assert.Equal(t, []domain.DirectoryEntry{account}, children)

	require.NoError(t, graph.Detach(ctx, account, group))
	children, err = graph.LoadChildren(ctx, group)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestGraph_LoadOrCreateDirectoryIsStable(t *testing.T) {
	ctx := context.Background()
	graph := NewGraph()

	first, err := graph.LoadOrCreateDirectory(ctx, "administrators", graph.Root())
	require.NoError(t, err)
	second, err := graph.LoadOrCreateDirectory(ctx, "administrators", graph.Root())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestGraph_LoadChildrenOfAccountFails(t *testing.T) {
	graph := NewGraph()
	account, err := graph.CreateAccount("bob", graph.Root())
	require.NoError(t, err)

	_, err = graph.LoadChildren(context.Background(), account)
	if !errors.Is(err, ErrNotDirectory) {
		t.Errorf("expected ErrNotDirectory, got %v", err)
	}

	_, err = graph.LoadParents(context.Background(), domain.MakeAccount(999, ""))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGraph_RecordLogin(t *testing.T) {
	ctx := context.Background()
	graph := NewGraph()
	account, err := graph.CreateAccount("carol", graph.Root())
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, graph.RecordLogin(ctx, account, at))

	login, err := graph.LoadLastLoginTime(ctx, account)
	require.NoError(t, err)
	assert.True(t, at.Equal(login))

	registered, err := graph.LoadRegistrationTime(ctx, account)
	require.NoError(t, err)
	assert.False(t, registered.IsZero())
}

func TestGraph_ApplySeed(t *testing.T) {
	ctx := context.Background()
	seed, err := ParseSeed(strings.NewReader(`
directories:
  - trading_groups/desk_a/managers
accounts:
  - name: root_admin
    parents: [administrators]
  - name: trader_1
    parents: [trading_groups/desk_a/traders]
`))
	require.NoError(t, err)

	graph := NewGraph()
	require.NoError(t, graph.Apply(ctx, seed))

	trader, err := graph.FindAccount("trader_1")
	require.NoError(t, err)
	traders, err := graph.LoadOrCreatePath(ctx, "trading_groups/desk_a/traders")
	require.NoError(t, err)

	parents, err := graph.LoadParents(ctx, trader)
	require.NoError(t, err)
	assert.True(t, domain.ContainsEntry(parents, traders))
}
