package memory

import (
	"admin_service/internal/domain"
	"admin_service/internal/repository"
	"context"
	"fmt"
	"sort"
)

// table is one map of a state generation. A clone shares the map with its
// parent until the first write, which copies it.
type table[K comparable, V any] struct {
	m     map[K]V
	owned bool
}

func newTable[K comparable, V any]() table[K, V] {
	return table[K, V]{m: make(map[K]V), owned: true}
}

func (t table[K, V]) share() table[K, V] {
	return table[K, V]{m: t.m}
}

// write returns the map for mutation, copying it first if it is shared.
func (t *table[K, V]) write() map[K]V {
	if !t.owned {
		t.m = copyMap(t.m)
		t.owned = true
	}
	return t.m
}

// state is one immutable generation of the store. Writers mutate a clone
// and publish it; a published state is never modified again.
type state struct {
	identities      table[uint32, domain.IndexedAccountIdentity]
	riskParameters  table[uint32, domain.IndexedRiskParameters]
	riskStates      table[uint32, domain.IndexedRiskState]
	requests        table[int64, domain.AccountModificationRequest]
	entitlementMods table[int64, domain.EntitlementModification]
	riskMods        table[int64, domain.RiskModification]
	updates         table[int64, []domain.RequestUpdate]
	messages        table[int64, domain.Message]
	requestMessages table[int64, []int64]
	lastRequestID   int64
	lastMessageID   int64
}

func newState() *state {
	return &state{
		identities:      newTable[uint32, domain.IndexedAccountIdentity](),
		riskParameters:  newTable[uint32, domain.IndexedRiskParameters](),
		riskStates:      newTable[uint32, domain.IndexedRiskState](),
		requests:        newTable[int64, domain.AccountModificationRequest](),
		entitlementMods: newTable[int64, domain.EntitlementModification](),
		riskMods:        newTable[int64, domain.RiskModification](),
		updates:         newTable[int64, []domain.RequestUpdate](),
		messages:        newTable[int64, domain.Message](),
		requestMessages: newTable[int64, []int64](),
	}
}

// clone shares every map with s. Only the maps a transaction writes are
// copied, so a write costs the size of the tables it touches. Slices held
// in the maps are shared and must be replaced, not appended to in place.
func (s *state) clone() *state {
	return &state{
		identities:      s.identities.share(),
		riskParameters:  s.riskParameters.share(),
		riskStates:      s.riskStates.share(),
		requests:        s.requests.share(),
		entitlementMods: s.entitlementMods.share(),
		riskMods:        s.riskMods.share(),
		updates:         s.updates.share(),
		messages:        s.messages.share(),
		requestMessages: s.requestMessages.share(),
		lastRequestID:   s.lastRequestID,
		lastMessageID:   s.lastMessageID,
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	result := make(map[K]V, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

func appendCopy[T any](slice []T, value T) []T {
	result := make([]T, len(slice), len(slice)+1)
	copy(result, slice)
	return append(result, value)
}

func sortedValues[K int64 | uint32, V any](m map[K]V) []V {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	result := make([]V, 0, len(keys))
	for _, k := range keys {
		result = append(result, m[k])
	}
	return result
}

func (s *state) LoadAllAccountIdentities(ctx context.Context) ([]domain.IndexedAccountIdentity, error) {
	return sortedValues(s.identities.m), nil
}

func (s *state) LoadAccountIdentity(ctx context.Context, account domain.DirectoryEntry) (domain.AccountIdentity, error) {
	return s.identities.m[account.ID].Identity, nil
}

func (s *state) StoreAccountIdentity(ctx context.Context, account domain.DirectoryEntry, identity domain.AccountIdentity) error {
	s.identities.write()[account.ID] = domain.IndexedAccountIdentity{Account: account, Identity: identity.Stored()}
	return nil
}

func (s *state) LoadAllRiskParameters(ctx context.Context) ([]domain.IndexedRiskParameters, error) {
	return sortedValues(s.riskParameters.m), nil
}

func (s *state) LoadRiskParameters(ctx context.Context, account domain.DirectoryEntry) (domain.RiskParameters, error) {
	return s.riskParameters.m[account.ID].Parameters, nil
}

func (s *state) StoreRiskParameters(ctx context.Context, account domain.DirectoryEntry, parameters domain.RiskParameters) error {
	s.riskParameters.write()[account.ID] = domain.IndexedRiskParameters{Account: account, Parameters: parameters}
	return nil
}

func (s *state) LoadAllRiskStates(ctx context.Context) ([]domain.IndexedRiskState, error) {
	return sortedValues(s.riskStates.m), nil
}

func (s *state) LoadRiskState(ctx context.Context, account domain.DirectoryEntry) (domain.RiskState, error) {
	return s.riskStates.m[account.ID].State, nil
}

func (s *state) StoreRiskState(ctx context.Context, account domain.DirectoryEntry, riskState domain.RiskState) error {
	s.riskStates.write()[account.ID] = domain.IndexedRiskState{Account: account, State: riskState}
	return nil
}

func (s *state) LoadAccountModificationRequest(ctx context.Context, id int64) (domain.AccountModificationRequest, error) {
	request, exists := s.requests.m[id]
	if !exists {
		return domain.AccountModificationRequest{}, fmt.Errorf("%w: request %d", repository.ErrNotFound, id)
	}
	return request, nil
}

func (s *state) selectRequestIds(startId int64, maxCount int, match func(domain.AccountModificationRequest) bool) []int64 {
	limit := repository.ClampCount(maxCount)
	ids := make([]int64, 0)
	for id, request := range s.requests.m {
		if id > startId && match(request) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func (s *state) LoadAccountModificationRequestIds(ctx context.Context, account domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	return s.selectRequestIds(startId, maxCount, func(request domain.AccountModificationRequest) bool {
		return request.Account.Equal(account)
	}), nil
}

func (s *state) LoadAccountModificationRequestIdsForAccounts(ctx context.Context, accounts []domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	return s.selectRequestIds(startId, maxCount, func(request domain.AccountModificationRequest) bool {
		return domain.ContainsEntry(accounts, request.Account)
	}), nil
}

func (s *state) LoadSubmittedAccountModificationRequestIds(ctx context.Context, submitter domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	return s.selectRequestIds(startId, maxCount, func(request domain.AccountModificationRequest) bool {
		return request.Submission.Equal(submitter)
	}), nil
}

func (s *state) LoadAllAccountModificationRequestIds(ctx context.Context, startId int64, maxCount int) ([]int64, error) {
	return s.selectRequestIds(startId, maxCount, func(domain.AccountModificationRequest) bool {
		return true
	}), nil
}

func (s *state) LoadLastAccountModificationRequestId(ctx context.Context) (int64, error) {
	return s.lastRequestID, nil
}

func (s *state) StoreAccountModificationRequest(ctx context.Context, request domain.AccountModificationRequest) error {
	if _, exists := s.requests.m[request.ID]; exists {
		return fmt.Errorf("%w: request %d", repository.ErrDuplicate, request.ID)
	}
	s.requests.write()[request.ID] = request
	if request.ID > s.lastRequestID {
		s.lastRequestID = request.ID
	}
	return nil
}

func (s *state) LoadEntitlementModification(ctx context.Context, id int64) (domain.EntitlementModification, error) {
	return s.entitlementMods.m[id], nil
}

func (s *state) StoreEntitlementModification(ctx context.Context, id int64, modification domain.EntitlementModification) error {
	if _, exists := s.requests.m[id]; !exists {
		return fmt.Errorf("%w: request %d", repository.ErrNotFound, id)
	}
	modification.Entitlements = append([]domain.DirectoryEntry(nil), modification.Entitlements...)
	s.entitlementMods.write()[id] = modification
	return nil
}

func (s *state) LoadRiskModification(ctx context.Context, id int64) (domain.RiskModification, error) {
	return s.riskMods.m[id], nil
}

func (s *state) StoreRiskModification(ctx context.Context, id int64, modification domain.RiskModification) error {
	if _, exists := s.requests.m[id]; !exists {
		return fmt.Errorf("%w: request %d", repository.ErrNotFound, id)
	}
	s.riskMods.write()[id] = modification
	return nil
}

func (s *state) LoadAccountModificationRequestStatus(ctx context.Context, id int64) (domain.RequestUpdate, error) {
	updates := s.updates.m[id]
	if len(updates) == 0 {
		return domain.RequestUpdate{Status: domain.StatusNone}, nil
	}
	return updates[len(updates)-1], nil
}

func (s *state) LoadAccountModificationRequestUpdates(ctx context.Context, id int64) ([]domain.RequestUpdate, error) {
	return append([]domain.RequestUpdate{}, s.updates.m[id]...), nil
}

func (s *state) StoreAccountModificationRequestUpdate(ctx context.Context, id int64, update domain.RequestUpdate) error {
	if _, exists := s.requests.m[id]; !exists {
		return fmt.Errorf("%w: request %d", repository.ErrNotFound, id)
	}
	updates := s.updates.m[id]
	var last domain.RequestUpdate
	if len(updates) > 0 {
		last = updates[len(updates)-1]
	}
	if err := repository.CheckUpdate(last, update, len(updates) == 0); err != nil {
		return fmt.Errorf("%w: request %d", err, id)
	}
	s.updates.write()[id] = appendCopy(updates, update)
	return nil
}

func (s *state) LoadLastMessageId(ctx context.Context) (int64, error) {
	return s.lastMessageID, nil
}

func (s *state) LoadMessage(ctx context.Context, id int64) (domain.Message, error) {
	return s.messages.m[id], nil
}

func (s *state) LoadMessageIds(ctx context.Context, requestId int64) ([]int64, error) {
	return append([]int64{}, s.requestMessages.m[requestId]...), nil
}

func (s *state) StoreMessage(ctx context.Context, message domain.Message) error {
	if _, exists := s.messages.m[message.ID]; exists {
		return fmt.Errorf("%w: message %d", repository.ErrDuplicate, message.ID)
	}
	s.messages.write()[message.ID] = message.Normalize()
	if message.ID > s.lastMessageID {
		s.lastMessageID = message.ID
	}
	return nil
}

func (s *state) StoreAccountModificationRequestMessage(ctx context.Context, id int64, message domain.Message) error {
	if _, exists := s.requests.m[id]; !exists {
		return fmt.Errorf("%w: request %d", repository.ErrNotFound, id)
	}
	if err := s.StoreMessage(ctx, message); err != nil {
		return err
	}
	s.requestMessages.write()[id] = appendCopy(s.requestMessages.m[id], message.ID)
	return nil
}
