package repository

import (
	"admin_service/internal/domain"
	"context"
	"errors"
)

// MaxIdQueryCount bounds the number of ids any single id query returns.
const MaxIdQueryCount = 1000

// AccountStore persists the per-account records: identities, risk
// parameters and risk states. Loading a record that was never stored
// returns its zero value.
type AccountStore interface {
	LoadAllAccountIdentities(ctx context.Context) ([]domain.IndexedAccountIdentity, error)
	LoadAccountIdentity(ctx context.Context, account domain.DirectoryEntry) (domain.AccountIdentity, error)
	StoreAccountIdentity(ctx context.Context, account domain.DirectoryEntry, identity domain.AccountIdentity) error

	LoadAllRiskParameters(ctx context.Context) ([]domain.IndexedRiskParameters, error)
	LoadRiskParameters(ctx context.Context, account domain.DirectoryEntry) (domain.RiskParameters, error)
	StoreRiskParameters(ctx context.Context, account domain.DirectoryEntry, parameters domain.RiskParameters) error

	LoadAllRiskStates(ctx context.Context) ([]domain.IndexedRiskState, error)
	LoadRiskState(ctx context.Context, account domain.DirectoryEntry) (domain.RiskState, error)
	StoreRiskState(ctx context.Context, account domain.DirectoryEntry, state domain.RiskState) error
}

// RequestStore persists modification requests, their payloads, their
// status history and their messages. Everything here is append-only.
type RequestStore interface {
	// LoadAccountModificationRequest fails with ErrNotFound for unknown ids.
	LoadAccountModificationRequest(ctx context.Context, id int64) (domain.AccountModificationRequest, error)

	// The id queries return ids greater than startId, or all ids when
	// startId is -1, in ascending order and capped at
	// min(maxCount, MaxIdQueryCount).
	LoadAccountModificationRequestIds(ctx context.Context, account domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error)
	LoadAccountModificationRequestIdsForAccounts(ctx context.Context, accounts []domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error)
	LoadSubmittedAccountModificationRequestIds(ctx context.Context, submitter domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error)
	LoadAllAccountModificationRequestIds(ctx context.Context, startId int64, maxCount int) ([]int64, error)

	LoadLastAccountModificationRequestId(ctx context.Context) (int64, error)
	StoreAccountModificationRequest(ctx context.Context, request domain.AccountModificationRequest) error

	LoadEntitlementModification(ctx context.Context, id int64) (domain.EntitlementModification, error)
	StoreEntitlementModification(ctx context.Context, id int64, modification domain.EntitlementModification) error
	LoadRiskModification(ctx context.Context, id int64) (domain.RiskModification, error)
	StoreRiskModification(ctx context.Context, id int64, modification domain.RiskModification) error

	// LoadAccountModificationRequestStatus returns the latest update, or a
	// zero update with StatusNone if the request has none.
	LoadAccountModificationRequestStatus(ctx context.Context, id int64) (domain.RequestUpdate, error)
	LoadAccountModificationRequestUpdates(ctx context.Context, id int64) ([]domain.RequestUpdate, error)

	// StoreAccountModificationRequestUpdate appends update to the history of
	// request id. It fails with ErrTerminalStatus once the request is
	// GRANTED or REJECTED and with ErrSequenceConflict unless the sequence
	// number is greater than every previous one.
	StoreAccountModificationRequestUpdate(ctx context.Context, id int64, update domain.RequestUpdate) error

	LoadLastMessageId(ctx context.Context) (int64, error)
	LoadMessage(ctx context.Context, id int64) (domain.Message, error)
	LoadMessageIds(ctx context.Context, requestId int64) ([]int64, error)
	StoreMessage(ctx context.Context, message domain.Message) error
	// StoreAccountModificationRequestMessage stores message and attaches it
	// to request id.
	StoreAccountModificationRequestMessage(ctx context.Context, id int64, message domain.Message) error
}

// DataStore is the full persistence contract of the administration
// service.
type DataStore interface {
	AccountStore
	RequestStore

	// WithTransaction runs fn against a transactional view of the store.
	// The view's writes become visible atomically when fn returns nil and
	// are discarded when it returns an error. Calling WithTransaction on
	// the view nests.
	WithTransaction(ctx context.Context, fn func(tx DataStore) error) error
	Close() error
}

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("duplicate entry")
	ErrTerminalStatus   = errors.New("request status is terminal")
	ErrSequenceConflict = errors.New("sequence number conflict")
	ErrClosed           = errors.New("data store closed")
)

// ClampCount limits a requested id count to [0, MaxIdQueryCount].
func ClampCount(maxCount int) int {
	if maxCount < 0 {
		return 0
	}
	if maxCount > MaxIdQueryCount {
		return MaxIdQueryCount
	}
	return maxCount
}

// CheckUpdate validates appending next to a history whose latest update
// is last. empty reports whether the history has no updates yet.
func CheckUpdate(last, next domain.RequestUpdate, empty bool) error {
	if empty {
		return nil
	}
	if last.Status.IsTerminal() {
		return ErrTerminalStatus
	}
	if next.SequenceNumber <= last.SequenceNumber {
		return ErrSequenceConflict
	}
	return nil
}
