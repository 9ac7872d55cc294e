package internal_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"admin_service/internal/api"
	"admin_service/internal/config"
	"admin_service/internal/directory"
	"admin_service/internal/domain"
	"admin_service/internal/permissions"
	"admin_service/internal/processor"
	"admin_service/internal/repository/cached"
	"admin_service/internal/repository/memory"
	"admin_service/internal/service"
	"admin_service/internal/subscription"
	"admin_service/pkg/adminclient"
	"admin_service/pkg/crypto"
	"admin_service/pkg/metrics"
	"admin_service/pkg/rpc"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const directorySeed = `
accounts:
  - name: admin
    parents: [administrators]
  - name: manager
    parents: [trading_groups/desk_a/managers]
  - name: trader
    parents: [trading_groups/desk_a/traders]
  - name: other_trader
    parents: [trading_groups/desk_b/traders]
`

const entitlementsFile = `
entitlements:
  - name: NASDAQ
    price: "10"
    currency: USD
    group: nasdaq
    applicability:
      XNAS: [TIME_AND_SALE, BBO_QUOTE]
`

type testEnv struct {
	graph    *directory.Graph
	signer   *crypto.Signer
	sink     *service.RecordingSink
	url      string
	database domain.EntitlementDatabase

	admin       domain.DirectoryEntry
	manager     domain.DirectoryEntry
	trader      domain.DirectoryEntry
	otherTrader domain.DirectoryEntry
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	graph := directory.NewGraph()
	roots, err := permissions.LoadOrCreateRoots(ctx, graph, graph.Root())
	require.NoError(t, err)
	seed, err := directory.ParseSeed(strings.NewReader(directorySeed))
	require.NoError(t, err)
	require.NoError(t, graph.Apply(ctx, seed))

	entitlements, err := config.ParseEntitlements(strings.NewReader(entitlementsFile))
	require.NoError(t, err)
	database, err := config.BuildEntitlementDatabase(ctx, entitlements, graph, roots.Entitlements)
	require.NoError(t, err)

	store, err := cached.New(ctx, memory.NewDataStore())
	require.NoError(t, err)
	collector := metrics.NewMetricsCollector(logger)
	sink := &service.RecordingSink{}
	auditService := service.NewAuditService(sink, 2, 64, logger)

	resolver := permissions.NewResolver(graph, roots)
	manager := processor.NewEntitlementManager(database, graph, auditService, logger)
	riskParameters := subscription.NewRegistry[domain.RiskParameters]("risk_parameters",
		store.LoadRiskParameters, store.StoreRiskParameters, collector, logger)
	riskStates := subscription.NewRegistry[domain.RiskState]("risk_state",
		store.LoadRiskState, store.StoreRiskState, collector, logger)
	workflow, err := processor.NewWorkflow(ctx, processor.Dependencies{
		Store:          store,
		Resolver:       resolver,
		Entitlements:   manager,
		RiskParameters: riskParameters,
		RiskStates:     riskStates,
		Audit:          auditService,
		Metrics:        collector,
		Logger:         logger,
	})
	require.NoError(t, err)

	servlet := api.NewServlet(api.Config{
		Directory:      graph,
		Resolver:       resolver,
		Store:          store,
		Workflow:       workflow,
		Entitlements:   manager,
		RiskParameters: riskParameters,
		RiskStates:     riskStates,
		Logger:         logger,
	})
	signer := crypto.NewSigner("integration-secret", logger)
	rpcServer := rpc.NewServer(rpc.ServerConfig{
		Authenticator: api.NewTokenAuthenticator(signer, graph, logger),
		MapError:      api.MapError,
		Metrics:       collector,
		Logger:        logger,
	})
	servlet.Bind(rpcServer)
	server := httptest.NewServer(rpcServer)
	t.Cleanup(func() {
		rpcServer.Close()
		server.Close()
		_ = auditService.Shutdown(context.Background())
		_ = store.Close()
	})

	env := &testEnv{
		graph:    graph,
		signer:   signer,
		sink:     sink,
		url:      "ws" + strings.TrimPrefix(server.URL, "http"),
		database: database,
	}
	find := func(name string) domain.DirectoryEntry {
		account, err := graph.FindAccount(name)
		require.NoError(t, err)
		return account
	}
	env.admin = find("admin")
	env.manager = find("manager")
	env.trader = find("trader")
	env.otherTrader = find("other_trader")
	return env
}

func (env *testEnv) connect(t *testing.T, account domain.DirectoryEntry) *adminclient.Client {
	t.Helper()
	token, err := env.signer.IssueToken(account.ID, time.Hour)
	require.NoError(t, err)
	conn, err := rpc.Dial(context.Background(), rpc.ClientConfig{
		URL:        env.url,
		Token:      token,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	client := adminclient.New(conn, adminclient.Config{Logger: zaptest.NewLogger(t)})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func comment(text string) domain.Message {
	return domain.Message{Bodies: []domain.MessageBody{domain.PlainTextBody(text)}}
}

func TestIntegration_EntitlementRequestLifecycle(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	trader := env.connect(t, env.trader)
	manager := env.connect(t, env.manager)
	admin := env.connect(t, env.admin)

	database, err := trader.LoadEntitlements(ctx)
	require.NoError(t, err)
	require.Len(t, database.Entries, 1)
	nasdaq := database.Entries[0].GroupEntry

	request, err := trader.SubmitEntitlementModificationRequest(ctx, env.trader,
		domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{nasdaq}}, comment("need level 1"))
	require.NoError(t, err)

	status, err := trader.LoadAccountModificationRequestStatus(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, status.Status)

	managed, err := manager.LoadManagedAccountModificationRequestIds(ctx, env.manager, -1, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{request.ID}, managed)

	reviewed, err := manager.ApproveAccountModificationRequest(ctx, request.ID, comment("looks fine"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReviewed, reviewed.Status)
	assert.Equal(t, 2, reviewed.SequenceNumber)

	granted, err := admin.ApproveAccountModificationRequest(ctx, request.ID, domain.Message{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGranted, granted.Status)
	assert.Equal(t, 3, granted.SequenceNumber)

	held, err := trader.LoadAccountEntitlements(ctx, env.trader)
	require.NoError(t, err)
	assert.Equal(t, []domain.DirectoryEntry{nasdaq}, held)

	updates, err := trader.LoadAccountModificationRequestUpdates(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, domain.StatusGranted, updates[2].Status)

	messageIds, err := trader.LoadMessageIds(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, messageIds, 2)
	first, err := trader.LoadMessage(ctx, messageIds[0])
	require.NoError(t, err)
	assert.Equal(t, "need level 1", first.Body().Message)

	_, err = admin.RejectAccountModificationRequest(ctx, request.ID, domain.Message{})
	assert.ErrorIs(t, err, rpc.ErrInvalidState)

	assert.Eventually(t, func() bool {
		for _, event := range env.sink.Events() {
			if event.Action == domain.AuditGrantEntitlement && event.Target.Equal(env.trader) {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestIntegration_RiskGrantReachesMonitors(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	trader := env.connect(t, env.trader)
	manager := env.connect(t, env.manager)
	admin := env.connect(t, env.admin)

	publisher, err := manager.MonitorRiskParameters(ctx, env.trader)
	require.NoError(t, err)
	values, cancel := publisher.Subscribe()
	defer cancel()
	initial := <-values
	assert.True(t, initial.BuyingPower.IsZero())

	parameters := domain.RiskParameters{
		Currency:     "USD",
		BuyingPower:  decimal.NewFromInt(50000),
		NetLoss:      decimal.NewFromInt(2500),
		AllowedState: domain.RiskState{Type: domain.RiskStateActive},
	}
	request, err := trader.SubmitRiskModificationRequest(ctx, env.trader,
		domain.RiskModification{Parameters: parameters}, domain.Message{})
	require.NoError(t, err)

	_, err = admin.ApproveAccountModificationRequest(ctx, request.ID, domain.Message{})
	require.NoError(t, err)

	select {
	case value := <-values:
		assert.True(t, value.Equal(parameters))
	case <-time.After(5 * time.Second):
		t.Fatal("risk parameters were not pushed")
	}

	modification, err := trader.LoadRiskModification(ctx, request.ID)
	require.NoError(t, err)
	assert.True(t, modification.Parameters.Equal(parameters))
}

func TestIntegration_ErrorsCrossTheWire(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	trader := env.connect(t, env.trader)
	otherTrader := env.connect(t, env.otherTrader)

	_, err := otherTrader.LoadAccountIdentity(ctx, env.trader)
	assert.ErrorIs(t, err, rpc.ErrPermissionDenied)

	_, err = trader.LoadAccountModificationRequest(ctx, 404)
	assert.ErrorIs(t, err, rpc.ErrNotFound)

	_, err = trader.ApproveAccountModificationRequest(ctx, 404, domain.Message{})
	assert.ErrorIs(t, err, rpc.ErrNotFound)

	err = trader.StoreRiskState(ctx, env.trader, domain.RiskState{Type: domain.RiskStateDisabled})
	assert.ErrorIs(t, err, rpc.ErrPermissionDenied)

	unknown := domain.MakeDirectory(9999, "unknown")
	_, err = trader.SubmitEntitlementModificationRequest(ctx, env.trader,
		domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{unknown}}, domain.Message{})
	assert.ErrorIs(t, err, rpc.ErrPermissionDenied)
}

func TestIntegration_IdentityRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	trader := env.connect(t, env.trader)
	admin := env.connect(t, env.admin)

	identity := domain.AccountIdentity{FirstName: "Ada", LastName: "Lovelace", Country: "GB", EmailAddress: "ada@example.com"}
	require.NoError(t, trader.StoreAccountIdentity(ctx, env.trader, identity))

	loaded, err := admin.LoadAccountIdentity(ctx, env.trader)
	require.NoError(t, err)
	assert.True(t, loaded.Equal(identity))
	assert.False(t, loaded.LastLoginTime.IsZero())

	roles, err := admin.LoadAccountRoles(ctx, env.trader)
	require.NoError(t, err)
	assert.True(t, roles.Test(domain.RoleTrader))

	isAdministrator, err := trader.CheckAdministrator(ctx, env.admin)
	require.NoError(t, err)
	assert.True(t, isAdministrator)
}

func TestIntegration_ConcurrentApprovals(t *testing.T) {
	ctx := context.Background()
	env := setup(t)
	trader := env.connect(t, env.trader)

	request, err := trader.SubmitEntitlementModificationRequest(ctx, env.trader,
		domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{env.database.Entries[0].GroupEntry}}, domain.Message{})
	require.NoError(t, err)

	const reviewers = 4
	clients := make([]*adminclient.Client, reviewers)
	for i := range clients {
		clients[i] = env.connect(t, env.admin)
	}

	var granted atomic.Int32
	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(client *adminclient.Client) {
			defer wg.Done()
			if _, err := client.ApproveAccountModificationRequest(ctx, request.ID, domain.Message{}); err == nil {
				granted.Add(1)
			} else {
				assert.ErrorIs(t, err, rpc.ErrInvalidState)
			}
		}(client)
	}
	wg.Wait()

	assert.Equal(t, int32(1), granted.Load())
	updates, err := trader.LoadAccountModificationRequestUpdates(ctx, request.ID)
	require.NoError(t, err)
	assert.Len(t, updates, 2)
}
