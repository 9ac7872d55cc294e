package main

import (
	"admin_service/internal/config"
	"admin_service/internal/repository/cached"
	"admin_service/internal/repository/sqlite"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const seedYAML = `
directories:
  - trading_groups/desk_a/managers
  - trading_groups/desk_a/traders
accounts:
  - name: root_admin
    parents: [administrators]
  - name: alice
    parents: [trading_groups/desk_a/traders]
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))
	cfg := config.Default()
	cfg.SessionSecret = "0123456789abcdef"
	cfg.MetricsAddr = ""
	cfg.DirectoryPath = path
	return cfg
}

func TestBuildDirectory_IsDeterministic(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, roots, err := buildDirectory(ctx, cfg)
	require.NoError(t, err)
	second, _, err := buildDirectory(ctx, cfg)
	require.NoError(t, err)

	a, err := first.FindAccount("alice")
	require.NoError(t, err)
	b, err := second.FindAccount("alice")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	parents, err := first.LoadParents(ctx, mustFind(t, first.FindAccount, "root_admin"))
	require.NoError(t, err)
	assert.Contains(t, parents, roots.Administrators)
}

func mustFind[T any](t *testing.T, find func(string) (T, error), name string) T {
	t.Helper()
	value, err := find(name)
	require.NoError(t, err)
	return value
}

func TestSetupStore(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	store, err := setupStore(ctx, config.StoreConfig{
		Driver:         "sqlite",
		SQLitePath:     filepath.Join(t.TempDir(), "admin.db"),
		SQLitePoolSize: 2,
	}, logger)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.DataStore{}, store)
	require.NoError(t, store.Close())

	store, err = setupStore(ctx, config.StoreConfig{Driver: "memory", Cache: true}, logger)
	require.NoError(t, err)
	assert.IsType(t, &cached.DataStore{}, store)
	require.NoError(t, store.Close())

	_, err = setupStore(ctx, config.StoreConfig{Driver: "mysql"}, logger)
	assert.Error(t, err)
}

func TestRoutes(t *testing.T) {
	ctx := context.Background()
	app, err := newApplication(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		app.rpcServer.Close()
		_ = app.auditService.Shutdown(ctx)
		_ = app.store.Close()
	})
	server := httptest.NewServer(app.httpServer.Handler)
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])

	metricsResp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)

	rpcResp, err := http.Get(server.URL + "/rpc")
	require.NoError(t, err)
	rpcResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, rpcResp.StatusCode)
}
