package api

import (
	"admin_service/internal/domain"
	"admin_service/internal/processor"
	"context"
	"fmt"
)

// loadRequest loads request id if session submitted it or may read its
// account.
func (s *Servlet) loadRequest(ctx context.Context, session domain.DirectoryEntry, id int64) (domain.AccountModificationRequest, error) {
	request, err := s.store.LoadAccountModificationRequest(ctx, id)
	if err != nil {
		return request, fmt.Errorf("failed to load request %d: %w", id, err)
	}
	if request.Submission.Equal(session) {
		return request, nil
	}
	if err := s.requireRead(ctx, session, request.Account); err != nil {
		return domain.AccountModificationRequest{}, err
	}
	return request, nil
}

func (s *Servlet) LoadAccountModificationRequest(ctx context.Context, session domain.DirectoryEntry, id int64) (domain.AccountModificationRequest, error) {
	return s.loadRequest(ctx, session, id)
}

func (s *Servlet) LoadAccountModificationRequestIds(ctx context.Context, session, account domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	if err := s.requireRead(ctx, session, account); err != nil {
		return nil, err
	}
	return s.store.LoadAccountModificationRequestIds(ctx, account, startId, maxCount)
}

// LoadManagedAccountModificationRequestIds returns requests targeting any
// account in the trading groups account manages, or every request for an
// administrator.
func (s *Servlet) LoadManagedAccountModificationRequestIds(ctx context.Context, session, account domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	if err := s.requireRead(ctx, session, account); err != nil {
		return nil, err
	}
	isAdministrator, err := s.resolver.IsAdministrator(ctx, account)
	if err != nil {
		return nil, err
	}
	if isAdministrator {
		return s.store.LoadAllAccountModificationRequestIds(ctx, startId, maxCount)
	}
	groups, err := s.resolver.ManagedTradingGroups(ctx, account)
	if err != nil {
		return nil, err
	}
	var accounts []domain.DirectoryEntry
	for _, groupEntry := range groups {
		group, err := s.resolver.LoadTradingGroup(ctx, groupEntry)
		if err != nil {
			return nil, err
		}
		for _, member := range append(group.Managers, group.Traders...) {
			if !domain.ContainsEntry(accounts, member) {
				accounts = append(accounts, member)
			}
		}
	}
	if len(accounts) == 0 {
		return []int64{}, nil
	}
	return s.store.LoadAccountModificationRequestIdsForAccounts(ctx, accounts, startId, maxCount)
}

func (s *Servlet) LoadSubmittedAccountModificationRequestIds(ctx context.Context, session, account domain.DirectoryEntry, startId int64, maxCount int) ([]int64, error) {
	if err := s.requireRead(ctx, session, account); err != nil {
		return nil, err
	}
	return s.store.LoadSubmittedAccountModificationRequestIds(ctx, account, startId, maxCount)
}

func (s *Servlet) LoadEntitlementModification(ctx context.Context, session domain.DirectoryEntry, id int64) (domain.EntitlementModification, error) {
	if _, err := s.loadRequest(ctx, session, id); err != nil {
		return domain.EntitlementModification{}, err
	}
	return s.store.LoadEntitlementModification(ctx, id)
}

func (s *Servlet) SubmitEntitlementModificationRequest(ctx context.Context, session, account domain.DirectoryEntry,
	modification domain.EntitlementModification, comment domain.Message) (domain.AccountModificationRequest, error) {
	return s.workflow.SubmitEntitlementModificationRequest(ctx, session, account, modification, comment)
}

func (s *Servlet) LoadRiskModification(ctx context.Context, session domain.DirectoryEntry, id int64) (domain.RiskModification, error) {
	if _, err := s.loadRequest(ctx, session, id); err != nil {
		return domain.RiskModification{}, err
	}
	return s.store.LoadRiskModification(ctx, id)
}

func (s *Servlet) SubmitRiskModificationRequest(ctx context.Context, session, account domain.DirectoryEntry,
	modification domain.RiskModification, comment domain.Message) (domain.AccountModificationRequest, error) {
	return s.workflow.SubmitRiskModificationRequest(ctx, session, account, modification, comment)
}

func (s *Servlet) LoadAccountModificationRequestStatus(ctx context.Context, session domain.DirectoryEntry, id int64) (domain.RequestUpdate, error) {
	if _, err := s.loadRequest(ctx, session, id); err != nil {
		return domain.RequestUpdate{}, err
	}
	return s.store.LoadAccountModificationRequestStatus(ctx, id)
}

func (s *Servlet) LoadAccountModificationRequestUpdates(ctx context.Context, session domain.DirectoryEntry, id int64) ([]domain.RequestUpdate, error) {
	if _, err := s.loadRequest(ctx, session, id); err != nil {
		return nil, err
	}
	return s.store.LoadAccountModificationRequestUpdates(ctx, id)
}

func (s *Servlet) ApproveAccountModificationRequest(ctx context.Context, session domain.DirectoryEntry, id int64, comment domain.Message) (domain.RequestUpdate, error) {
	return s.workflow.ApproveAccountModificationRequest(ctx, session, id, comment)
}

func (s *Servlet) RejectAccountModificationRequest(ctx context.Context, session domain.DirectoryEntry, id int64, comment domain.Message) (domain.RequestUpdate, error) {
	return s.workflow.RejectAccountModificationRequest(ctx, session, id, comment)
}

// LoadMessage returns the zero message for unknown ids. A message is
// visible to anyone who may read its sender.
func (s *Servlet) LoadMessage(ctx context.Context, session domain.DirectoryEntry, id int64) (domain.Message, error) {
	message, err := s.store.LoadMessage(ctx, id)
	if err != nil {
		return message, fmt.Errorf("failed to load message %d: %w", id, err)
	}
	if message.ID == 0 {
		return domain.Message{}, nil
	}
	allowed, err := s.resolver.ReadPermission(ctx, session, message.Account)
	if err != nil {
		return domain.Message{}, err
	}
	if !allowed {
		return domain.Message{}, fmt.Errorf("%w: %s cannot read message %d", processor.ErrPermissionDenied, session, id)
	}
	return message, nil
}

func (s *Servlet) LoadMessageIds(ctx context.Context, session domain.DirectoryEntry, requestId int64) ([]int64, error) {
	if _, err := s.loadRequest(ctx, session, requestId); err != nil {
		return nil, err
	}
	return s.store.LoadMessageIds(ctx, requestId)
}

func (s *Servlet) SendAccountModificationRequestMessage(ctx context.Context, session domain.DirectoryEntry, id int64, message domain.Message) (domain.Message, error) {
	return s.workflow.SendAccountModificationRequestMessage(ctx, session, id, message)
}
