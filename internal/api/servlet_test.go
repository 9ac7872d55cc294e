package api

import (
	"admin_service/internal/directory"
	"admin_service/internal/domain"
	"admin_service/internal/permissions"
	"admin_service/internal/processor"
	"admin_service/internal/repository"
	"admin_service/internal/repository/memory"
	"admin_service/internal/subscription"
	"admin_service/pkg/crypto"
	"admin_service/pkg/rpc"
	"admin_service/pkg/validator"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type stubSubscriber struct {
	id string
}

func (s stubSubscriber) ID() string { return s.id }

func (s stubSubscriber) Send(ctx context.Context, account domain.DirectoryEntry, value domain.RiskParameters) error {
	return nil
}

type fixture struct {
	servlet        *Servlet
	graph          *directory.Graph
	store          *memory.DataStore
	riskParameters *subscription.Registry[domain.RiskParameters]

	admin       domain.DirectoryEntry
	manager     domain.DirectoryEntry
	trader      domain.DirectoryEntry
	otherTrader domain.DirectoryEntry
	outsider    domain.DirectoryEntry
	deskA       domain.DirectoryEntry
	deskB       domain.DirectoryEntry
	nasdaq      domain.DirectoryEntry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	graph := directory.NewGraph()
	roots, err := permissions.LoadOrCreateRoots(ctx, graph, graph.Root())
	require.NoError(t, err)

	mustPath := func(path string) domain.DirectoryEntry {
		entry, err := graph.LoadOrCreatePath(ctx, path)
		require.NoError(t, err)
		return entry
	}
	mustAccount := func(name string, parents ...string) domain.DirectoryEntry {
		account, err := graph.CreateAccount(name, graph.Root())
		require.NoError(t, err)
		for _, path := range parents {
			require.NoError(t, graph.Associate(ctx, account, mustPath(path)))
		}
		return account
	}

	f := &fixture{graph: graph, store: memory.NewDataStore()}
	f.admin = mustAccount("admin", "administrators")
	f.manager = mustAccount("manager", "trading_groups/desk_a/managers")
	f.trader = mustAccount("trader", "trading_groups/desk_a/traders")
	f.otherTrader = mustAccount("other_trader", "trading_groups/desk_b/traders")
	f.outsider = mustAccount("outsider")
	f.deskA = mustPath("trading_groups/desk_a")
	f.deskB = mustPath("trading_groups/desk_b")
	f.nasdaq = mustPath("entitlements/nasdaq")

	resolver := permissions.NewResolver(graph, roots)
	database := domain.EntitlementDatabase{Entries: []domain.EntitlementEntry{
		{Name: "NASDAQ", Price: decimal.NewFromInt(10), Currency: "USD", GroupEntry: f.nasdaq},
	}}
	entitlements := processor.NewEntitlementManager(database, graph, nil, logger)
	f.riskParameters = subscription.NewRegistry[domain.RiskParameters]("risk_parameters",
		f.store.LoadRiskParameters, f.store.StoreRiskParameters, nil, logger)
	riskStates := subscription.NewRegistry[domain.RiskState]("risk_state",
		f.store.LoadRiskState, f.store.StoreRiskState, nil, logger)
	workflow, err := processor.NewWorkflow(ctx, processor.Dependencies{
		Store:          f.store,
		Resolver:       resolver,
		Entitlements:   entitlements,
		RiskParameters: f.riskParameters,
		RiskStates:     riskStates,
		Logger:         logger,
	})
	require.NoError(t, err)

	f.servlet = NewServlet(Config{
		Directory:      graph,
		Resolver:       resolver,
		Store:          f.store,
		Workflow:       workflow,
		Entitlements:   entitlements,
		RiskParameters: f.riskParameters,
		RiskStates:     riskStates,
		Logger:         logger,
	})
	return f
}

func note(text string) domain.Message {
	return domain.Message{Bodies: []domain.MessageBody{domain.PlainTextBody(text)}}
}

func TestServlet_LoadAccountIdentityMergesDirectoryTimes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	login := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, f.graph.RecordLogin(ctx, f.trader, login))
	require.NoError(t, f.servlet.StoreAccountIdentity(ctx, f.trader, f.trader,
		domain.AccountIdentity{FirstName: "Ada", LastName: "Lovelace"}))

	identity, err := f.servlet.LoadAccountIdentity(ctx, f.manager, f.trader)

	require.NoError(t, err)
	assert.Equal(t, "Ada", identity.FirstName)
	assert.True(t, identity.LastLoginTime.Equal(login))
	assert.False(t, identity.RegistrationTime.IsZero())

	_, err = f.servlet.LoadAccountIdentity(ctx, f.outsider, f.trader)
	assert.ErrorIs(t, err, processor.ErrPermissionDenied)
}

func TestServlet_StoreAccountIdentityPermissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	identity := domain.AccountIdentity{FirstName: "Grace"}

	err := f.servlet.StoreAccountIdentity(ctx, f.manager, f.trader, identity)
	assert.ErrorIs(t, err, processor.ErrPermissionDenied)

	require.NoError(t, f.servlet.StoreAccountIdentity(ctx, f.admin, f.trader, identity))

	err = f.servlet.StoreAccountIdentity(ctx, f.trader, f.trader, domain.AccountIdentity{EmailAddress: "not-an-email"})
	assert.ErrorIs(t, err, processor.ErrInvalidArgument)
	assert.ErrorIs(t, err, validator.ErrInvalidIdentity)
}

func TestServlet_LoadTradingGroup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	group, err := f.servlet.LoadTradingGroup(ctx, f.manager, f.deskA)
	require.NoError(t, err)
	assert.True(t, domain.ContainsEntry(group.Traders, f.trader))
	assert.True(t, domain.ContainsEntry(group.Managers, f.manager))

	_, err = f.servlet.LoadTradingGroup(ctx, f.manager, f.deskB)
	assert.ErrorIs(t, err, processor.ErrPermissionDenied)
	_, err = f.servlet.LoadTradingGroup(ctx, f.trader, f.deskA)
	assert.ErrorIs(t, err, processor.ErrPermissionDenied)

	group, err = f.servlet.LoadTradingGroup(ctx, f.admin, f.deskB)
	require.NoError(t, err)
	assert.True(t, domain.ContainsEntry(group.Traders, f.otherTrader))
}

func TestServlet_LoadAccountsByRolesRequiresAdministratorOrService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.servlet.LoadAccountsByRoles(ctx, f.trader, domain.MakeRoles(domain.RoleTrader))
	assert.ErrorIs(t, err, processor.ErrPermissionDenied)

	traders, err := f.servlet.LoadAccountsByRoles(ctx, f.admin, domain.MakeRoles(domain.RoleTrader))
	require.NoError(t, err)
	assert.True(t, domain.ContainsEntry(traders, f.trader))
	assert.True(t, domain.ContainsEntry(traders, f.otherTrader))
}

func TestServlet_RequestVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	request, err := f.servlet.SubmitEntitlementModificationRequest(ctx, f.trader, f.trader,
		domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{f.nasdaq}}, note("please"))
	require.NoError(t, err)

	loaded, err := f.servlet.LoadAccountModificationRequest(ctx, f.manager, request.ID)
	require.NoError(t, err)
	assert.Equal(t, request.ID, loaded.ID)

	_, err = f.servlet.LoadAccountModificationRequest(ctx, f.otherTrader, request.ID)
	assert.ErrorIs(t, err, processor.ErrPermissionDenied)
	_, err = f.servlet.LoadEntitlementModification(ctx, f.otherTrader, request.ID)
	assert.ErrorIs(t, err, processor.ErrPermissionDenied)

	modification, err := f.servlet.LoadEntitlementModification(ctx, f.trader, request.ID)
	require.NoError(t, err)
	assert.Equal(t, []domain.DirectoryEntry{f.nasdaq}, modification.Entitlements)

	_, err = f.servlet.LoadAccountModificationRequest(ctx, f.admin, 99)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	submitted, err := f.servlet.LoadSubmittedAccountModificationRequestIds(ctx, f.trader, f.trader, -1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{request.ID}, submitted)

	managed, err := f.servlet.LoadManagedAccountModificationRequestIds(ctx, f.manager, f.manager, -1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{request.ID}, managed)

	managed, err = f.servlet.LoadManagedAccountModificationRequestIds(ctx, f.otherTrader, f.otherTrader, -1, 10)
	require.NoError(t, err)
	assert.Empty(t, managed)

	all, err := f.servlet.LoadManagedAccountModificationRequestIds(ctx, f.admin, f.admin, -1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{request.ID}, all)

	_, err = f.servlet.LoadManagedAccountModificationRequestIds(ctx, f.trader, f.manager, -1, 10)
	assert.ErrorIs(t, err, processor.ErrPermissionDenied)
}

func TestServlet_LoadMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	request, err := f.servlet.SubmitEntitlementModificationRequest(ctx, f.trader, f.trader,
		domain.EntitlementModification{}, note("hello"))
	require.NoError(t, err)

	ids, err := f.servlet.LoadMessageIds(ctx, f.manager, request.ID)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	message, err := f.servlet.LoadMessage(ctx, f.manager, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "hello", message.Body().Message)
	assert.True(t, message.Account.Equal(f.trader))

	_, err = f.servlet.LoadMessage(ctx, f.otherTrader, ids[0])
	assert.ErrorIs(t, err, processor.ErrPermissionDenied)

	missing, err := f.servlet.LoadMessage(ctx, f.outsider, 1234)
	require.NoError(t, err)
	assert.Zero(t, missing.ID)
}

func TestServlet_MonitorRiskParameters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.servlet.MonitorRiskParameters(ctx, f.outsider, f.trader, stubSubscriber{id: "outsider"})
	assert.ErrorIs(t, err, processor.ErrPermissionDenied)

	_, err = f.servlet.MonitorRiskParameters(ctx, f.manager, f.trader, stubSubscriber{id: "session-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.riskParameters.Count(f.trader))

	f.servlet.Unsubscribe("session-1")
	assert.Equal(t, 0, f.riskParameters.Count(f.trader))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err  error
		code rpc.Code
	}{
		{fmt.Errorf("wrap: %w", processor.ErrPermissionDenied), rpc.CodePermissionDenied},
		{processor.ErrInvalidEntitlement, rpc.CodePermissionDenied},
		{processor.ErrInvalidState, rpc.CodeInvalidState},
		{repository.ErrTerminalStatus, rpc.CodeInvalidState},
		{repository.ErrNotFound, rpc.CodeNotFound},
		{directory.ErrNotFound, rpc.CodeNotFound},
		{processor.ErrInvalidArgument, rpc.CodeInvalidArgument},
		{validator.ErrInvalidRiskParameters, rpc.CodeInvalidArgument},
		{repository.ErrClosed, rpc.CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			mapped := MapError(tt.err)
			require.NotNil(t, mapped)
			assert.Equal(t, tt.code, mapped.Code)
		})
	}
	assert.Nil(t, MapError(fmt.Errorf("disk on fire")))
}

func TestTokenAuthenticator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	signer := crypto.NewSigner("secret", zaptest.NewLogger(t))
	authenticator := NewTokenAuthenticator(signer, f.graph, zaptest.NewLogger(t))

	token, err := signer.IssueToken(f.trader.ID, time.Hour)
	require.NoError(t, err)
	account, err := authenticator.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.True(t, account.Equal(f.trader))

	lastLogin, err := f.graph.LoadLastLoginTime(ctx, f.trader)
	require.NoError(t, err)
	assert.False(t, lastLogin.IsZero())

	groupToken, err := signer.IssueToken(f.deskA.ID, time.Hour)
	require.NoError(t, err)
	_, err = authenticator.Authenticate(ctx, groupToken)
	assert.ErrorIs(t, err, directory.ErrNotAccount)

	_, err = authenticator.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, crypto.ErrMalformedToken)
}
