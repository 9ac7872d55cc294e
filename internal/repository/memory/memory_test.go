package memory

import (
	"admin_service/internal/domain"
	"admin_service/internal/repository"
	"admin_service/internal/repository/storetest"
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestDataStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.DataStore {
		return NewDataStore()
	})
}

func TestDataStore_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewDataStore()
	account := domain.MakeAccount(1, "alice")

	before := store.snapshot()
	if err := store.StoreRiskState(ctx, account, domain.RiskState{Type: domain.RiskStateDisabled}); err != nil {
		t.Fatalf("unexpected error on StoreRiskState: %v", err)
	}

	if _, exists := before.riskStates.m[account.ID]; exists {
		t.Errorf("published state was modified by a later write")
	}
	got, _ := store.LoadRiskState(ctx, account)
	if got.Type != domain.RiskStateDisabled {
		t.Errorf("expected %s, got %s", domain.RiskStateDisabled, got.Type)
	}
}

func TestDataStore_ClosedRejectsWrites(t *testing.T) {
	store := NewDataStore()
	_ = store.Close()

	err := store.StoreRiskState(context.Background(), domain.MakeAccount(1, ""), domain.RiskState{})
	if err != repository.ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestDataStore_WriteCopiesOnlyTouchedTables(t *testing.T) {
	ctx := context.Background()
	store := NewDataStore()
	account := domain.MakeAccount(1, "alice")
	if err := store.StoreAccountIdentity(ctx, account, domain.AccountIdentity{FirstName: "Alice"}); err != nil {
		t.Fatalf("unexpected error on StoreAccountIdentity: %v", err)
	}

	before := store.snapshot()
	if err := store.StoreRiskState(ctx, account, domain.RiskState{Type: domain.RiskStateDisabled}); err != nil {
		t.Fatalf("unexpected error on StoreRiskState: %v", err)
	}
	after := store.snapshot()

	if reflect.ValueOf(before.identities.m).Pointer() != reflect.ValueOf(after.identities.m).Pointer() {
		t.Error("expected untouched identities table to be shared")
	}
	if reflect.ValueOf(before.riskStates.m).Pointer() == reflect.ValueOf(after.riskStates.m).Pointer() {
		t.Error("expected written risk state table to be copied")
	}
}

func TestDataStore_RolledBackNestedWriteIsDiscarded(t *testing.T) {
	ctx := context.Background()
	store := NewDataStore()
	kept := domain.MakeAccount(1, "kept")
	dropped := domain.MakeAccount(2, "dropped")
	failure := errors.New("abort")

	err := store.WithTransaction(ctx, func(tx repository.DataStore) error {
		if err := tx.StoreRiskState(ctx, kept, domain.RiskState{Type: domain.RiskStateDisabled}); err != nil {
			return err
		}
		nestedErr := tx.WithTransaction(ctx, func(nested repository.DataStore) error {
			if err := nested.StoreRiskState(ctx, dropped, domain.RiskState{Type: domain.RiskStateDisabled}); err != nil {
				return err
			}
			return failure
		})
		if !errors.Is(nestedErr, failure) {
			t.Errorf("expected nested failure, got %v", nestedErr)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error on WithTransaction: %v", err)
	}

	states, _ := store.LoadAllRiskStates(ctx)
	if len(states) != 1 || !states[0].Account.Equal(kept) {
		t.Errorf("expected only the outer write to commit, got %+v", states)
	}
}
