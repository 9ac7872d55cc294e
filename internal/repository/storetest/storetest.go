// Package storetest holds the behaviour every repository.DataStore must
// share. Each implementation's tests call Run with a constructor.
package storetest

import (
	"admin_service/internal/domain"
	"admin_service/internal/repository"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. The store is closed by the suite.
type Factory func(t *testing.T) repository.DataStore

var (
	accountA  = domain.MakeAccount(101, "alice")
	accountB  = domain.MakeAccount(102, "bob")
	submitter = domain.MakeAccount(103, "manager")
	baseTime  = time.Date(2024, 5, 6, 14, 0, 0, 0, time.UTC)
)

func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store repository.DataStore)
	}{
		{"AccountIdentityRoundTrip", testAccountIdentityRoundTrip},
		{"RiskRecordsRoundTrip", testRiskRecordsRoundTrip},
		{"NanosecondTimestampsRoundTrip", testNanosecondTimestampsRoundTrip},
		{"MissingRecordsReturnZeroValues", testMissingRecords},
		{"RequestIdQueries", testRequestIdQueries},
		{"RequestPayloads", testRequestPayloads},
		{"TerminalStatusGuard", testTerminalStatusGuard},
		{"SequenceGuard", testSequenceGuard},
		{"Messages", testMessages},
		{"TransactionRollback", testTransactionRollback},
		{"NestedTransaction", testNestedTransaction},
		{"ConcurrentApprove", testConcurrentApprove},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := factory(t)
			t.Cleanup(func() { _ = store.Close() })
			tc.fn(t, store)
		})
	}
}

func sampleIdentity() domain.AccountIdentity {
	return domain.AccountIdentity{
		FirstName:      "Alice",
		LastName:       "Ng",
		EmailAddress:   "alice@example.com",
		AddressLineOne: "1 Bay St",
		City:           "Toronto",
		Province:       "ON",
		Country:        "CA",
		PhotoID:        []byte{0x89, 0x50, 0x4e, 0x47},
		UserNotes:      "desk lead",
	}
}

func sampleRiskParameters() domain.RiskParameters {
	return domain.RiskParameters{
		Currency:       "USD",
		BuyingPower:    decimal.RequireFromString("100000.50"),
		AllowedState:   domain.RiskState{Type: domain.RiskStateActive},
		NetLoss:        decimal.RequireFromString("2500"),
		TransitionTime: 5 * time.Minute,
	}
}

func storeRequest(t *testing.T, store repository.DataStore, id int64, account domain.DirectoryEntry) domain.AccountModificationRequest {
	t.Helper()
	request := domain.AccountModificationRequest{
		ID:         id,
		Type:       domain.RequestTypeEntitlements,
		Account:    account,
		Submission: submitter,
		Timestamp:  baseTime.Add(time.Duration(id) * time.Second),
	}
	err := store.WithTransaction(context.Background(), func(tx repository.DataStore) error {
		return tx.StoreAccountModificationRequest(context.Background(), request)
	})
	require.NoError(t, err)
	return request
}

func update(status domain.RequestStatus, sequence int) domain.RequestUpdate {
	return domain.RequestUpdate{
		Status:         status,
		Account:        submitter,
		SequenceNumber: sequence,
		Timestamp:      baseTime.Add(time.Duration(sequence) * time.Minute),
	}
}

func testAccountIdentityRoundTrip(t *testing.T, store repository.DataStore) {
	ctx := context.Background()
	identity := sampleIdentity()

	require.NoError(t, store.StoreAccountIdentity(ctx, accountA, identity))
	loaded, err := store.LoadAccountIdentity(ctx, accountA)
	require.NoError(t, err)
	assert.True(t, identity.Equal(loaded), "expected %+v, got %+v", identity, loaded)

	identity.City = "Montreal"
	require.NoError(t, store.StoreAccountIdentity(ctx, accountA, identity))
	all, err := store.LoadAllAccountIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Account.Equal(accountA))
	assert.Equal(t, "Montreal", all[0].Identity.City)
}

func testRiskRecordsRoundTrip(t *testing.T, store repository.DataStore) {
	ctx := context.Background()
	parameters := sampleRiskParameters()
	riskState := domain.RiskState{Type: domain.RiskStateCloseOrders, Expiry: baseTime.Add(time.Hour)}

	require.NoError(t, store.StoreRiskParameters(ctx, accountA, parameters))
	require.NoError(t, store.StoreRiskState(ctx, accountB, riskState))

	loadedParameters, err := store.LoadRiskParameters(ctx, accountA)
	require.NoError(t, err)
	assert.True(t, parameters.Equal(loadedParameters), "expected %+v, got %+v", parameters, loadedParameters)

	loadedState, err := store.LoadRiskState(ctx, accountB)
	require.NoError(t, err)
	assert.True(t, riskState.Equal(loadedState), "expected %+v, got %+v", riskState, loadedState)

	allParameters, err := store.LoadAllRiskParameters(ctx)
	require.NoError(t, err)
	require.Len(t, allParameters, 1)
	assert.True(t, allParameters[0].Account.Equal(accountA))

	allStates, err := store.LoadAllRiskStates(ctx)
	require.NoError(t, err)
	require.Len(t, allStates, 1)
	assert.True(t, allStates[0].Account.Equal(accountB))
}

func testNanosecondTimestampsRoundTrip(t *testing.T, store repository.DataStore) {
	ctx := context.Background()
	precise := baseTime.Add(123456789 * time.Nanosecond)
	riskState := domain.RiskState{Type: domain.RiskStateDisabled, Expiry: precise}
	parameters := sampleRiskParameters()
	parameters.AllowedState.Expiry = precise.Add(time.Nanosecond)

	require.NoError(t, store.StoreRiskState(ctx, accountA, riskState))
	require.NoError(t, store.StoreRiskParameters(ctx, accountA, parameters))
	loadedState, err := store.LoadRiskState(ctx, accountA)
	require.NoError(t, err)
	assert.True(t, riskState.Equal(loadedState), "expected %+v, got %+v", riskState, loadedState)
	loadedParameters, err := store.LoadRiskParameters(ctx, accountA)
	require.NoError(t, err)
	assert.True(t, parameters.Equal(loadedParameters), "expected %+v, got %+v", parameters, loadedParameters)

	request := domain.AccountModificationRequest{
		ID:         3,
		Type:       domain.RequestTypeRisk,
		Account:    accountA,
		Submission: submitter,
		Timestamp:  precise,
	}
	status := domain.RequestUpdate{Status: domain.StatusPending, Account: submitter, SequenceNumber: 1, Timestamp: precise}
	message := domain.Message{ID: 9, Account: submitter, Timestamp: precise}
	require.NoError(t, store.WithTransaction(ctx, func(tx repository.DataStore) error {
		if err := tx.StoreAccountModificationRequest(ctx, request); err != nil {
			return err
		}
		if err := tx.StoreAccountModificationRequestUpdate(ctx, request.ID, status); err != nil {
			return err
		}
		return tx.StoreAccountModificationRequestMessage(ctx, request.ID, message)
	}))

	loadedRequest, err := store.LoadAccountModificationRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.True(t, loadedRequest.Timestamp.Equal(precise), "expected %v, got %v", precise, loadedRequest.Timestamp)
	loadedStatus, err := store.LoadAccountModificationRequestStatus(ctx, request.ID)
	require.NoError(t, err)
	assert.True(t, loadedStatus.Timestamp.Equal(precise), "expected %v, got %v", precise, loadedStatus.Timestamp)
	loadedMessage, err := store.LoadMessage(ctx, message.ID)
	require.NoError(t, err)
	assert.True(t, loadedMessage.Timestamp.Equal(precise), "expected %v, got %v", precise, loadedMessage.Timestamp)
}

func testMissingRecords(t *testing.T, store repository.DataStore) {
	ctx := context.Background()

	identity, err := store.LoadAccountIdentity(ctx, accountB)
	require.NoError(t, err)
	assert.True(t, identity.Equal(domain.AccountIdentity{}))

	parameters, err := store.LoadRiskParameters(ctx, accountB)
	require.NoError(t, err)
	assert.True(t, parameters.Equal(domain.RiskParameters{}))

	riskState, err := store.LoadRiskState(ctx, accountB)
	require.NoError(t, err)
	assert.True(t, riskState.Equal(domain.RiskState{}))

	message, err := store.LoadMessage(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, int64(0), message.ID)

	status, err := store.LoadAccountModificationRequestStatus(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNone, status.Status)

	_, err = store.LoadAccountModificationRequest(ctx, 99)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	lastRequest, err := store.LoadLastAccountModificationRequestId(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), lastRequest)
	lastMessage, err := store.LoadLastMessageId(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), lastMessage)
}

func testRequestIdQueries(t *testing.T, store repository.DataStore) {
	ctx := context.Background()
	for _, id := range []int64{10, 20, 30, 40} {
		storeRequest(t, store, id, accountA)
	}
	storeRequest(t, store, 25, accountB)

	ids, err := store.LoadAccountModificationRequestIds(ctx, accountA, -1, 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 30, 40}, ids)

	ids, err = store.LoadAccountModificationRequestIds(ctx, accountA, 20, 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 40}, ids)

	ids, err = store.LoadAccountModificationRequestIds(ctx, accountA, -1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20}, ids)

	ids, err = store.LoadAccountModificationRequestIdsForAccounts(ctx, []domain.DirectoryEntry{accountA, accountB}, 15, 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 25, 30, 40}, ids)

	ids, err = store.LoadSubmittedAccountModificationRequestIds(ctx, submitter, 30, 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{40}, ids)

	ids, err = store.LoadAllAccountModificationRequestIds(ctx, -1, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 20, 25}, ids)

	ids, err = store.LoadAccountModificationRequestIdsForAccounts(ctx, nil, -1, 100)
	require.NoError(t, err)
	assert.Empty(t, ids)

	last, err := store.LoadLastAccountModificationRequestId(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40), last)

	request, err := store.LoadAccountModificationRequest(ctx, 30)
	require.NoError(t, err)
	assert.True(t, request.Account.Equal(accountA))
	assert.True(t, request.Submission.Equal(submitter))
	assert.True(t, request.Timestamp.Equal(baseTime.Add(30*time.Second)))

	err = store.StoreAccountModificationRequest(ctx, request)
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func testRequestPayloads(t *testing.T, store repository.DataStore) {
	ctx := context.Background()
	storeRequest(t, store, 1, accountA)
	storeRequest(t, store, 2, accountA)

	entitlements := domain.EntitlementModification{Entitlements: []domain.DirectoryEntry{
		domain.MakeDirectory(9, "nasdaq"),
		domain.MakeDirectory(4, "nyse"),
	}}
	require.NoError(t, store.StoreEntitlementModification(ctx, 1, entitlements))
	loadedEntitlements, err := store.LoadEntitlementModification(ctx, 1)
	require.NoError(t, err)
	require.Len(t, loadedEntitlements.Entitlements, 2)
	assert.True(t, loadedEntitlements.Entitlements[0].Equal(entitlements.Entitlements[0]))
	assert.True(t, loadedEntitlements.Entitlements[1].Equal(entitlements.Entitlements[1]))

	risk := domain.RiskModification{Parameters: sampleRiskParameters()}
	require.NoError(t, store.StoreRiskModification(ctx, 2, risk))
	loadedRisk, err := store.LoadRiskModification(ctx, 2)
	require.NoError(t, err)
	assert.True(t, risk.Parameters.Equal(loadedRisk.Parameters))
}

func testTerminalStatusGuard(t *testing.T, store repository.DataStore) {
	ctx := context.Background()
	for _, terminal := range []domain.RequestStatus{domain.StatusGranted, domain.StatusRejected} {
		id := int64(terminal)
		storeRequest(t, store, id, accountA)
		require.NoError(t, store.StoreAccountModificationRequestUpdate(ctx, id, update(domain.StatusPending, 0)))
		require.NoError(t, store.StoreAccountModificationRequestUpdate(ctx, id, update(terminal, 1)))

		err := store.StoreAccountModificationRequestUpdate(ctx, id, update(domain.StatusReviewed, 2))
		if !errors.Is(err, repository.ErrTerminalStatus) {
			t.Errorf("expected ErrTerminalStatus after %s, got %v", terminal, err)
		}

		status, err := store.LoadAccountModificationRequestStatus(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, terminal, status.Status)
		assert.Equal(t, 1, status.SequenceNumber)
	}
}

func testSequenceGuard(t *testing.T, store repository.DataStore) {
	ctx := context.Background()
	storeRequest(t, store, 7, accountA)
	require.NoError(t, store.StoreAccountModificationRequestUpdate(ctx, 7, update(domain.StatusPending, 0)))
	require.NoError(t, store.StoreAccountModificationRequestUpdate(ctx, 7, update(domain.StatusReviewed, 1)))

	err := store.StoreAccountModificationRequestUpdate(ctx, 7, update(domain.StatusGranted, 1))
	if !errors.Is(err, repository.ErrSequenceConflict) {
		t.Errorf("expected ErrSequenceConflict, got %v", err)
	}

	updates, err := store.LoadAccountModificationRequestUpdates(ctx, 7)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, domain.StatusPending, updates[0].Status)
	assert.Equal(t, domain.StatusReviewed, updates[1].Status)
	assert.Less(t, updates[0].SequenceNumber, updates[1].SequenceNumber)
	assert.True(t, updates[1].Account.Equal(submitter))
	assert.True(t, updates[1].Timestamp.Equal(baseTime.Add(time.Minute)))
}

func testMessages(t *testing.T, store repository.DataStore) {
	ctx := context.Background()
	storeRequest(t, store, 5, accountA)

	first := domain.Message{ID: 1, Account: accountA, Timestamp: baseTime}
	second := domain.Message{
		ID:        2,
		Account:   submitter,
		Timestamp: baseTime.Add(time.Minute),
		Bodies:    []domain.MessageBody{domain.PlainTextBody("looks fine")},
	}
	require.NoError(t, store.StoreAccountModificationRequestMessage(ctx, 5, second))
	require.NoError(t, store.StoreAccountModificationRequestMessage(ctx, 5, first))
	require.NoError(t, store.StoreMessage(ctx, domain.Message{ID: 3, Account: accountB, Timestamp: baseTime}))

	ids, err := store.LoadMessageIds(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ids)

	loaded, err := store.LoadMessage(ctx, 1)
	require.NoError(t, err)
	require.Len(t, loaded.Bodies, 1)
	assert.Equal(t, domain.PlainTextBody(""), loaded.Bodies[0])
	assert.True(t, loaded.Account.Equal(accountA))

	loaded, err = store.LoadMessage(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, second.Bodies, loaded.Bodies)
	assert.True(t, loaded.Timestamp.Equal(second.Timestamp))

	last, err := store.LoadLastMessageId(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func testTransactionRollback(t *testing.T, store repository.DataStore) {
	ctx := context.Background()
	failure := errors.New("abort")

	err := store.WithTransaction(ctx, func(tx repository.DataStore) error {
		request := domain.AccountModificationRequest{ID: 11, Account: accountA, Submission: submitter, Timestamp: baseTime}
		if err := tx.StoreAccountModificationRequest(ctx, request); err != nil {
			return err
		}
		if err := tx.StoreRiskParameters(ctx, accountA, sampleRiskParameters()); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected transaction error, got %v", err)
	}

	_, err = store.LoadAccountModificationRequest(ctx, 11)
	assert.True(t, errors.Is(err, repository.ErrNotFound), "request must not survive rollback")
	parameters, err := store.LoadRiskParameters(ctx, accountA)
	require.NoError(t, err)
	assert.True(t, parameters.Equal(domain.RiskParameters{}))
}

func testNestedTransaction(t *testing.T, store repository.DataStore) {
	ctx := context.Background()
	failure := errors.New("inner abort")

	err := store.WithTransaction(ctx, func(tx repository.DataStore) error {
		if err := tx.StoreRiskState(ctx, accountA, domain.RiskState{Type: domain.RiskStateDisabled}); err != nil {
			return err
		}
		innerErr := tx.WithTransaction(ctx, func(inner repository.DataStore) error {
			if err := inner.StoreRiskState(ctx, accountB, domain.RiskState{Type: domain.RiskStateDisabled}); err != nil {
				return err
			}
			return failure
		})
		if !errors.Is(innerErr, failure) {
			return errors.New("inner transaction did not report its failure")
		}
		return tx.WithTransaction(ctx, func(inner repository.DataStore) error {
			return inner.StoreRiskState(ctx, accountB, domain.RiskState{Type: domain.RiskStateCloseOrders})
		})
	})
	require.NoError(t, err)

	stateA, err := store.LoadRiskState(ctx, accountA)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskStateDisabled, stateA.Type)
	stateB, err := store.LoadRiskState(ctx, accountB)
	require.NoError(t, err)
	assert.Equal(t, domain.RiskStateCloseOrders, stateB.Type)
}

// testConcurrentApprove races two read-check-append transactions on one
// request; exactly one may move it to GRANTED.
func testConcurrentApprove(t *testing.T, store repository.DataStore) {
	ctx := context.Background()
	storeRequest(t, store, 50, accountA)
	require.NoError(t, store.StoreAccountModificationRequestUpdate(ctx, 50, update(domain.StatusReviewed, 0)))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.WithTransaction(ctx, func(tx repository.DataStore) error {
				current, err := tx.LoadAccountModificationRequestStatus(ctx, 50)
				if err != nil {
					return err
				}
				if current.Status.IsTerminal() {
					return repository.ErrTerminalStatus
				}
				return tx.StoreAccountModificationRequestUpdate(ctx, 50, update(domain.StatusGranted, current.SequenceNumber+1))
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, repository.ErrTerminalStatus) || errors.Is(err, repository.ErrSequenceConflict),
			"unexpected error %v", err)
	}
	assert.Equal(t, 1, succeeded)

	updates, err := store.LoadAccountModificationRequestUpdates(ctx, 50)
	require.NoError(t, err)
	assert.Len(t, updates, 2)
}
