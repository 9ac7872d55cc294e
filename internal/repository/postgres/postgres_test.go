package postgres

import (
	"admin_service/internal/repository"
	"admin_service/internal/repository/storetest"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const tables = "account_modification_request_messages, message_bodies, messages, " +
	"account_modification_request_updates, risk_modifications, entitlement_modifications, " +
	"account_modification_requests, risk_states, risk_parameters, account_identities"

// TestDataStore_Conformance needs a scratch database; every table it
// creates is truncated before each case.
func TestDataStore_Conformance(t *testing.T) {
	dsn := os.Getenv("ADMIN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ADMIN_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) repository.DataStore {
		ctx := context.Background()
		store, err := Connect(ctx, Config{DSN: dsn, MaxConns: 4, Logger: zaptest.NewLogger(t)})
		require.NoError(t, err)
		require.NoError(t, store.Migrate(ctx))
		_, err = store.pool.Exec(ctx, "TRUNCATE "+tables)
		require.NoError(t, err)
		return store
	})
}
