package processor

import (
	"admin_service/internal/directory"
	"admin_service/internal/domain"
	"admin_service/internal/permissions"
	"admin_service/internal/repository"
	"admin_service/internal/repository/memory"
	"admin_service/internal/subscription"
	"admin_service/pkg/validator"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (a *recordingAudit) Record(ctx context.Context, event domain.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordingAudit) actions(action domain.AuditAction) []domain.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var matched []domain.AuditEvent
	for _, event := range a.events {
		if event.Action == action {
			matched = append(matched, event)
		}
	}
	return matched
}

type recordingSubscriber struct {
	id     string
	mu     sync.Mutex
	values []domain.RiskParameters
}

func (s *recordingSubscriber) ID() string { return s.id }

func (s *recordingSubscriber) Send(ctx context.Context, account domain.DirectoryEntry, value domain.RiskParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, value)
	return nil
}

func (s *recordingSubscriber) received() []domain.RiskParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RiskParameters(nil), s.values...)
}

type fixture struct {
	workflow       *Workflow
	store          *memory.DataStore
	entitlements   *EntitlementManager
	riskParameters *subscription.Registry[domain.RiskParameters]
	audit          *recordingAudit

	admin       domain.DirectoryEntry
	manager     domain.DirectoryEntry
	trader      domain.DirectoryEntry
	otherTrader domain.DirectoryEntry
	outsider    domain.DirectoryEntry
	nasdaq      domain.DirectoryEntry
	nyse        domain.DirectoryEntry
	unlisted    domain.DirectoryEntry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithDirectory(t, nil)
}

// failingDirectory fails every association with failOn.
type failingDirectory struct {
	*directory.Graph
	failOn domain.DirectoryEntry
}

func (d *failingDirectory) Associate(ctx context.Context, entry, parent domain.DirectoryEntry) error {
	if parent.Equal(d.failOn) {
		return errors.New("directory unavailable")
	}
	return d.Graph.Associate(ctx, entry, parent)
}

// newFixtureWithDirectory builds a fixture whose entitlement writes go
// through wrap(graph) when wrap is not nil.
func newFixtureWithDirectory(t *testing.T, wrap func(f *fixture, graph *directory.Graph) directory.Directory) *fixture {
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

	f := &fixture{
		store: memory.NewDataStore(),
		audit: &recordingAudit{},
	}
	f.admin = mustAccount("admin", "administrators")
	f.manager = mustAccount("manager", "trading_groups/desk_a/managers")
	f.trader = mustAccount("trader", "trading_groups/desk_a/traders")
	f.otherTrader = mustAccount("other_trader", "trading_groups/desk_b/traders")
	f.outsider = mustAccount("outsider")
	f.nasdaq = mustPath("entitlements/nasdaq")
	f.nyse = mustPath("entitlements/nyse")
	f.unlisted = mustPath("entitlements/unlisted")

	database := domain.EntitlementDatabase{Entries: []domain.EntitlementEntry{
		{Name: "NASDAQ", Price: decimal.NewFromInt(10), Currency: "USD", GroupEntry: f.nasdaq},
		{Name: "NYSE", Price: decimal.NewFromInt(12), Currency: "USD", GroupEntry: f.nyse},
	}}
	var entitlementDirectory directory.Directory = graph
	if wrap != nil {
		entitlementDirectory = wrap(f, graph)
	}
	f.entitlements = NewEntitlementManager(database, entitlementDirectory, f.audit, logger)
	f.riskParameters = subscription.NewRegistry[domain.RiskParameters]("risk_parameters",
		f.store.LoadRiskParameters, f.store.StoreRiskParameters, nil, logger)
	riskStates := subscription.NewRegistry[domain.RiskState]("risk_state",
		f.store.LoadRiskState, f.store.StoreRiskState, nil, logger)

	f.workflow, err = NewWorkflow(ctx, Dependencies{
		Store:          f.store,
		Resolver:       permissions.NewResolver(graph, roots),
		Entitlements:   f.entitlements,
		RiskParameters: f.riskParameters,
		RiskStates:     riskStates,
		Audit:          f.audit,
		Logger:         logger,
	})
	require.NoError(t, err)
	return f
}

func comment(text string) domain.Message {
	return domain.Message{Bodies: []domain.MessageBody{domain.PlainTextBody(text)}}
}

func sampleParameters() domain.RiskParameters {
	return domain.RiskParameters{
		Currency:    "USD",
		BuyingPower: decimal.NewFromInt(250000),
		NetLoss:     decimal.NewFromInt(10000),
		AllowedState: domain.RiskState{
			Type: domain.RiskStateActive,
		},
	}
}

func TestWorkflow_SubmitAsTraderIsPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	request, err := f.workflow.SubmitEntitlementModificationRequest(ctx, f.trader, f.trader,
		domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{f.nasdaq}}, domain.Message{})

	require.NoError(t, err)
	assert.Equal(t, int64(1), request.ID)
	assert.True(t, request.Account.Equal(f.trader))
	assert.True(t, request.Submission.Equal(f.trader))

	status, err := f.store.LoadAccountModificationRequestStatus(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, status.Status)
	assert.Equal(t, 1, status.SequenceNumber)

	entitlements, err := f.entitlements.LoadAccountEntitlements(ctx, f.trader)
	require.NoError(t, err)
	assert.Empty(t, entitlements)

	messageIds, err := f.store.LoadMessageIds(ctx, request.ID)
	require.NoError(t, err)
	assert.Empty(t, messageIds)
}

func TestWorkflow_SubmitAsAdministratorIsGranted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	request, err := f.workflow.SubmitEntitlementModificationRequest(ctx, f.admin, f.trader,
		domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{f.nasdaq, f.nyse}}, comment("welcome aboard"))
	require.NoError(t, err)

	status, err := f.store.LoadAccountModificationRequestStatus(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGranted, status.Status)

	entitlements, err := f.entitlements.LoadAccountEntitlements(ctx, f.trader)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.DirectoryEntry{f.nasdaq, f.nyse}, entitlements)
	assert.Len(t, f.audit.actions(domain.AuditGrantEntitlement), 2)

	messageIds, err := f.store.LoadMessageIds(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, messageIds, 1)
	message, err := f.store.LoadMessage(ctx, messageIds[0])
	require.NoError(t, err)
	assert.True(t, message.Account.Equal(f.admin))
	assert.Equal(t, "welcome aboard", message.Body().Message)
}

func TestWorkflow_SubmitAsManagerIsReviewed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	request, err := f.workflow.SubmitRiskModificationRequest(ctx, f.manager, f.trader,
		domain.RiskModification{Parameters: sampleParameters()}, domain.Message{})
	require.NoError(t, err)

	status, err := f.store.LoadAccountModificationRequestStatus(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReviewed, status.Status)

	parameters, err := f.store.LoadRiskParameters(ctx, f.trader)
	require.NoError(t, err)
	assert.True(t, parameters.Equal(domain.RiskParameters{}))
}

func TestWorkflow_SubmitRejectsUnknownEntitlement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := []struct {
		name  string
		entry domain.DirectoryEntry
	}{
		{"directory outside the database", f.unlisted},
		{"account entry", f.otherTrader},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.workflow.SubmitEntitlementModificationRequest(ctx, f.admin, f.trader,
				domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{tc.entry}}, domain.Message{})
			assert.ErrorIs(t, err, ErrInvalidEntitlement)
		})
	}

	lastId, err := f.store.LoadLastAccountModificationRequestId(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), lastId)
}

func TestWorkflow_SubmitRequiresPermission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.workflow.SubmitRiskModificationRequest(ctx, f.otherTrader, f.trader,
		domain.RiskModification{Parameters: sampleParameters()}, domain.Message{})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.workflow.SubmitRiskModificationRequest(ctx, f.outsider, f.outsider,
		domain.RiskModification{Parameters: sampleParameters()}, domain.Message{})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	invalid := sampleParameters()
	invalid.BuyingPower = decimal.NewFromInt(-5)
	_, err = f.workflow.SubmitRiskModificationRequest(ctx, f.trader, f.trader,
		domain.RiskModification{Parameters: invalid}, domain.Message{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWorkflow_ApproveThroughReviewToGranted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	subscriber := &recordingSubscriber{id: "desk"}
	_, err := f.riskParameters.Monitor(ctx, f.trader, subscriber)
	require.NoError(t, err)

	request, err := f.workflow.SubmitRiskModificationRequest(ctx, f.trader, f.trader,
		domain.RiskModification{Parameters: sampleParameters()}, comment("need more buying power"))
	require.NoError(t, err)

	reviewed, err := f.workflow.ApproveAccountModificationRequest(ctx, f.manager, request.ID, domain.Message{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReviewed, reviewed.Status)
	assert.Equal(t, 2, reviewed.SequenceNumber)
	assert.Empty(t, subscriber.received())

	granted, err := f.workflow.ApproveAccountModificationRequest(ctx, f.admin, request.ID, comment("approved"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGranted, granted.Status)
	assert.Equal(t, 3, granted.SequenceNumber)

	parameters, err := f.store.LoadRiskParameters(ctx, f.trader)
	require.NoError(t, err)
	assert.True(t, parameters.Equal(sampleParameters()))
	received := subscriber.received()
	require.Len(t, received, 1)
	assert.True(t, received[0].Equal(sampleParameters()))

	_, err = f.workflow.ApproveAccountModificationRequest(ctx, f.admin, request.ID, domain.Message{})
	assert.ErrorIs(t, err, ErrInvalidState)

	updates, err := f.store.LoadAccountModificationRequestUpdates(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, updates, 3)
	for i, update := range updates {
		assert.Equal(t, i+1, update.SequenceNumber)
	}
	assert.Len(t, f.audit.actions(domain.AuditStatusTransition), 3)

	messageIds, err := f.store.LoadMessageIds(ctx, request.ID)
	require.NoError(t, err)
	assert.Len(t, messageIds, 2)
}

func TestWorkflow_Reject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	request, err := f.workflow.SubmitEntitlementModificationRequest(ctx, f.trader, f.trader,
		domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{f.nyse}}, domain.Message{})
	require.NoError(t, err)

	_, err = f.workflow.RejectAccountModificationRequest(ctx, f.trader, request.ID, domain.Message{})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	rejected, err := f.workflow.RejectAccountModificationRequest(ctx, f.manager, request.ID, comment("not this quarter"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	assert.Equal(t, 2, rejected.SequenceNumber)

	_, err = f.workflow.ApproveAccountModificationRequest(ctx, f.admin, request.ID, domain.Message{})
	assert.ErrorIs(t, err, ErrInvalidState)

	entitlements, err := f.entitlements.LoadAccountEntitlements(ctx, f.trader)
	require.NoError(t, err)
	assert.Empty(t, entitlements)
}

func TestWorkflow_ApproveMissingRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.workflow.ApproveAccountModificationRequest(context.Background(), f.admin, 42, domain.Message{})

	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWorkflow_ConcurrentApprove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	request, err := f.workflow.SubmitEntitlementModificationRequest(ctx, f.trader, f.trader,
		domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{f.nasdaq}}, domain.Message{})
	require.NoError(t, err)

	const approvers = 8
	var wg sync.WaitGroup
	results := make(chan error, approvers)
	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.workflow.ApproveAccountModificationRequest(ctx, f.admin, request.ID, domain.Message{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidState)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.audit.actions(domain.AuditGrantEntitlement), 1)
}

func TestWorkflow_SendMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	request, err := f.workflow.SubmitRiskModificationRequest(ctx, f.trader, f.trader,
		domain.RiskModification{Parameters: sampleParameters()}, domain.Message{})
	require.NoError(t, err)

	message, err := f.workflow.SendAccountModificationRequestMessage(ctx, f.manager, request.ID, domain.Message{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), message.ID)
	assert.True(t, message.Account.Equal(f.manager))
	require.Len(t, message.Bodies, 1)
	assert.Equal(t, domain.PlainTextContentType, message.Bodies[0].ContentType)

	_, err = f.workflow.SendAccountModificationRequestMessage(ctx, f.otherTrader, request.ID, comment("hi"))
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.workflow.SendAccountModificationRequestMessage(ctx, f.manager, 99, comment("hi"))
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWorkflow_ResumesIds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.workflow.SubmitRiskModificationRequest(ctx, f.trader, f.trader,
		domain.RiskModification{Parameters: sampleParameters()}, comment("first"))
	require.NoError(t, err)

	resumed, err := NewWorkflow(ctx, Dependencies{
		Store:          f.store,
		Resolver:       f.workflow.resolver,
		Entitlements:   f.entitlements,
		RiskParameters: f.riskParameters,
		RiskStates:     f.workflow.riskStates,
	})
	require.NoError(t, err)

	request, err := resumed.SubmitRiskModificationRequest(ctx, f.trader, f.trader,
		domain.RiskModification{Parameters: sampleParameters()}, comment("second"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), request.ID)

	messageIds, err := f.store.LoadMessageIds(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, messageIds)
}

func TestWorkflow_DirectStoresRequireAdministrator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	subscriber := &recordingSubscriber{id: "risk"}
	_, err := f.riskParameters.Monitor(ctx, f.trader, subscriber)
	require.NoError(t, err)

	err = f.workflow.StoreRiskParameters(ctx, f.manager, f.trader, sampleParameters())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	err = f.workflow.StoreEntitlements(ctx, f.manager, f.trader, []domain.DirectoryEntry{f.nasdaq})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	err = f.workflow.StoreRiskState(ctx, f.trader, f.trader, domain.RiskState{Type: domain.RiskStateDisabled})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	require.NoError(t, f.workflow.StoreRiskParameters(ctx, f.admin, f.trader, sampleParameters()))
	assert.Len(t, subscriber.received(), 1)

	require.NoError(t, f.workflow.StoreRiskState(ctx, f.admin, f.trader, domain.RiskState{Type: domain.RiskStateCloseOrders}))
	state, err := f.store.LoadRiskState(ctx, f.trader)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskStateCloseOrders, state.Type)

	require.NoError(t, f.workflow.StoreEntitlements(ctx, f.admin, f.trader, []domain.DirectoryEntry{f.nasdaq}))
	require.NoError(t, f.workflow.StoreEntitlements(ctx, f.admin, f.trader, []domain.DirectoryEntry{f.nyse}))
	entitlements, err := f.entitlements.LoadAccountEntitlements(ctx, f.trader)
	require.NoError(t, err)
	assert.Equal(t, []domain.DirectoryEntry{f.nyse}, entitlements)
	assert.Len(t, f.audit.actions(domain.AuditRevokeEntitlement), 1)
}

func TestDiffEntitlements(t *testing.T) {
	a := domain.MakeDirectory(1, "a")
	b := domain.MakeDirectory(2, "b")
	c := domain.MakeDirectory(3, "c")

	granted, revoked := DiffEntitlements([]domain.DirectoryEntry{a, b}, []domain.DirectoryEntry{b, c, c})

	assert.Equal(t, []domain.DirectoryEntry{c}, granted)
	assert.Equal(t, []domain.DirectoryEntry{a}, revoked)

	granted, revoked = DiffEntitlements(nil, nil)
	assert.Empty(t, granted)
	assert.Empty(t, revoked)
}

func TestWorkflow_AdministratorSubmitForUnknownAccountPersistsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ghost := domain.MakeAccount(9999, "ghost")

	_, err := f.workflow.SubmitEntitlementModificationRequest(ctx, f.admin, ghost,
		domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{f.nasdaq}}, comment("grant"))

	require.Error(t, err)
	assert.ErrorIs(t, err, directory.ErrNotFound)
	_, err = f.store.LoadAccountModificationRequest(ctx, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	ids, err := f.store.LoadAccountModificationRequestIds(ctx, ghost, -1, 100)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, f.audit.actions(domain.AuditGrantEntitlement))
}

func TestWorkflow_FailedEntitlementWriteLeavesNoGrantedRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithDirectory(t, func(f *fixture, graph *directory.Graph) directory.Directory {
		return &failingDirectory{Graph: graph, failOn: f.nyse}
	})

	_, err := f.workflow.SubmitEntitlementModificationRequest(ctx, f.admin, f.trader,
		domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{f.nasdaq, f.nyse}}, domain.Message{})
	require.Error(t, err)

	_, err = f.store.LoadAccountModificationRequest(ctx, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	entitlements, err := f.entitlements.LoadAccountEntitlements(ctx, f.trader)
	require.NoError(t, err)
	assert.Empty(t, entitlements)
	assert.Empty(t, f.audit.actions(domain.AuditGrantEntitlement))
}

func TestWorkflow_FailedEntitlementWriteKeepsRequestPending(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithDirectory(t, func(f *fixture, graph *directory.Graph) directory.Directory {
		return &failingDirectory{Graph: graph, failOn: f.nyse}
	})
	request, err := f.workflow.SubmitEntitlementModificationRequest(ctx, f.trader, f.trader,
		domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{f.nasdaq, f.nyse}}, domain.Message{})
	require.NoError(t, err)

	_, err = f.workflow.ApproveAccountModificationRequest(ctx, f.admin, request.ID, comment("approved"))
	require.Error(t, err)

	status, err := f.store.LoadAccountModificationRequestStatus(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, status.Status)
	assert.Equal(t, 1, status.SequenceNumber)
	messageIds, err := f.store.LoadMessageIds(ctx, request.ID)
	require.NoError(t, err)
	assert.Empty(t, messageIds)
	entitlements, err := f.entitlements.LoadAccountEntitlements(ctx, f.trader)
	require.NoError(t, err)
	assert.Empty(t, entitlements)
}

func TestWorkflow_InvalidRiskParametersKeepValidatorError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	parameters := sampleParameters()
	parameters.BuyingPower = decimal.NewFromInt(-1)

	_, err := f.workflow.SubmitRiskModificationRequest(ctx, f.admin, f.trader,
		domain.RiskModification{Parameters: parameters}, domain.Message{})

	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, validator.ErrInvalidRiskParameters)
	err = f.workflow.StoreRiskParameters(ctx, f.admin, f.trader, parameters)
	assert.ErrorIs(t, err, validator.ErrInvalidRiskParameters)
}
