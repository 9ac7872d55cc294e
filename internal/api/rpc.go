package api

import (
	"admin_service/internal/directory"
	"admin_service/internal/domain"
	"admin_service/internal/processor"
	"admin_service/internal/repository"
	"admin_service/pkg/adminclient"
	"admin_service/pkg/rpc"
	"admin_service/pkg/validator"
	"context"
	"errors"
)

// MapError translates servlet errors into wire errors. Errors it does not
// recognize are left to the transport, which reports them as internal.
func MapError(err error) *rpc.Error {
	switch {
	case errors.Is(err, processor.ErrPermissionDenied), errors.Is(err, processor.ErrInvalidEntitlement):
		return &rpc.Error{Code: rpc.CodePermissionDenied, Message: err.Error()}
	case errors.Is(err, processor.ErrInvalidState),
		errors.Is(err, repository.ErrTerminalStatus),
		errors.Is(err, repository.ErrSequenceConflict):
		return &rpc.Error{Code: rpc.CodeInvalidState, Message: err.Error()}
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, directory.ErrNotFound):
		return &rpc.Error{Code: rpc.CodeNotFound, Message: err.Error()}
	case errors.Is(err, processor.ErrInvalidArgument),
		errors.Is(err, directory.ErrNotAccount),
		errors.Is(err, directory.ErrNotDirectory),
		errors.Is(err, validator.ErrInvalidIdentity),
		errors.Is(err, validator.ErrInvalidRiskParameters),
		errors.Is(err, validator.ErrInvalidRiskState),
		errors.Is(err, validator.ErrInvalidMessage):
		return &rpc.Error{Code: rpc.CodeInvalidArgument, Message: err.Error()}
	case errors.Is(err, repository.ErrClosed):
		return &rpc.Error{Code: rpc.CodeUnavailable, Message: err.Error()}
	}
	return nil
}

// sessionSubscriber delivers registry broadcasts to an rpc session as
// pushes.
type sessionSubscriber[V any] struct {
	session *rpc.Session
	method  string
	payload func(account domain.DirectoryEntry, value V) any
}

func (s sessionSubscriber[V]) ID() string {
	return s.session.ID()
}

// Done lets the registry skip sessions that closed before their monitor
// call was handled.
func (s sessionSubscriber[V]) Done() <-chan struct{} {
	return s.session.Done()
}

func (s sessionSubscriber[V]) Send(ctx context.Context, account domain.DirectoryEntry, value V) error {
	return s.session.Push(s.method, s.payload(account, value))
}

func riskParametersSubscriber(session *rpc.Session) sessionSubscriber[domain.RiskParameters] {
	return sessionSubscriber[domain.RiskParameters]{
		session: session,
		method:  adminclient.PushRiskParameters,
		payload: func(account domain.DirectoryEntry, parameters domain.RiskParameters) any {
			return adminclient.RiskParametersPush{Account: account, Parameters: parameters}
		},
	}
}

func riskStateSubscriber(session *rpc.Session) sessionSubscriber[domain.RiskState] {
	return sessionSubscriber[domain.RiskState]{
		session: session,
		method:  adminclient.PushRiskState,
		payload: func(account domain.DirectoryEntry, state domain.RiskState) any {
			return adminclient.RiskStatePush{Account: account, State: state}
		},
	}
}

type empty = adminclient.Empty

// Bind registers every servlet operation on server and drops a session's
// subscriptions when it closes.
func (s *Servlet) Bind(server *rpc.Server) {
	server.OnSessionClosed(func(session *rpc.Session) {
		s.Unsubscribe(session.ID())
	})

	rpc.Register(server, adminclient.MethodLoadAccountsByRoles,
		func(ctx context.Context, session *rpc.Session, r adminclient.RolesRequest) ([]domain.DirectoryEntry, error) {
			return s.LoadAccountsByRoles(ctx, session.Account(), r.Roles)
		})
	rpc.Register(server, adminclient.MethodLoadAdministratorsRootEntry,
		func(ctx context.Context, session *rpc.Session, _ empty) (domain.DirectoryEntry, error) {
			return s.LoadAdministratorsRootEntry(), nil
		})
	rpc.Register(server, adminclient.MethodLoadServicesRootEntry,
		func(ctx context.Context, session *rpc.Session, _ empty) (domain.DirectoryEntry, error) {
			return s.LoadServicesRootEntry(), nil
		})
	rpc.Register(server, adminclient.MethodLoadTradingGroupsRootEntry,
		func(ctx context.Context, session *rpc.Session, _ empty) (domain.DirectoryEntry, error) {
			return s.LoadTradingGroupsRootEntry(), nil
		})
	rpc.Register(server, adminclient.MethodCheckAdministrator,
		func(ctx context.Context, session *rpc.Session, r adminclient.AccountRequest) (bool, error) {
			return s.CheckAdministrator(ctx, r.Account)
		})
	rpc.Register(server, adminclient.MethodLoadAccountRoles,
		func(ctx context.Context, session *rpc.Session, r adminclient.AccountRequest) (domain.AccountRoles, error) {
			return s.LoadAccountRoles(ctx, r.Account)
		})
	rpc.Register(server, adminclient.MethodLoadSupervisedAccountRoles,
		func(ctx context.Context, session *rpc.Session, r adminclient.SupervisedRolesRequest) (domain.AccountRoles, error) {
			return s.LoadSupervisedAccountRoles(ctx, r.Parent, r.Child)
		})
	rpc.Register(server, adminclient.MethodLoadParentTradingGroup,
		func(ctx context.Context, session *rpc.Session, r adminclient.AccountRequest) (domain.DirectoryEntry, error) {
			return s.LoadParentTradingGroup(ctx, session.Account(), r.Account)
		})
	rpc.Register(server, adminclient.MethodLoadAccountIdentity,
		func(ctx context.Context, session *rpc.Session, r adminclient.AccountRequest) (domain.AccountIdentity, error) {
			return s.LoadAccountIdentity(ctx, session.Account(), r.Account)
		})
	rpc.Register(server, adminclient.MethodStoreAccountIdentity,
		func(ctx context.Context, session *rpc.Session, r adminclient.StoreIdentityRequest) (empty, error) {
			return empty{}, s.StoreAccountIdentity(ctx, session.Account(), r.Account, r.Identity)
		})
	rpc.Register(server, adminclient.MethodLoadTradingGroup,
		func(ctx context.Context, session *rpc.Session, r adminclient.AccountRequest) (domain.TradingGroup, error) {
			return s.LoadTradingGroup(ctx, session.Account(), r.Account)
		})
	rpc.Register(server, adminclient.MethodLoadManagedTradingGroups,
		func(ctx context.Context, session *rpc.Session, r adminclient.AccountRequest) ([]domain.DirectoryEntry, error) {
			return s.LoadManagedTradingGroups(ctx, session.Account(), r.Account)
		})
	rpc.Register(server, adminclient.MethodLoadAdministrators,
		func(ctx context.Context, session *rpc.Session, _ empty) ([]domain.DirectoryEntry, error) {
			return s.LoadAdministrators(ctx)
		})
	rpc.Register(server, adminclient.MethodLoadServices,
		func(ctx context.Context, session *rpc.Session, _ empty) ([]domain.DirectoryEntry, error) {
			return s.LoadServices(ctx)
		})
	rpc.Register(server, adminclient.MethodLoadEntitlements,
		func(ctx context.Context, session *rpc.Session, _ empty) (domain.EntitlementDatabase, error) {
			return s.LoadEntitlements(), nil
		})
	rpc.Register(server, adminclient.MethodLoadAccountEntitlements,
		func(ctx context.Context, session *rpc.Session, r adminclient.AccountRequest) ([]domain.DirectoryEntry, error) {
			return s.LoadAccountEntitlements(ctx, session.Account(), r.Account)
		})
	rpc.Register(server, adminclient.MethodStoreEntitlements,
		func(ctx context.Context, session *rpc.Session, r adminclient.StoreEntitlementsRequest) (empty, error) {
			return empty{}, s.StoreEntitlements(ctx, session.Account(), r.Account, r.Entitlements)
		})
	rpc.Register(server, adminclient.MethodMonitorRiskParameters,
		func(ctx context.Context, session *rpc.Session, r adminclient.AccountRequest) (domain.RiskParameters, error) {
			return s.MonitorRiskParameters(ctx, session.Account(), r.Account, riskParametersSubscriber(session))
		})
	rpc.Register(server, adminclient.MethodStoreRiskParameters,
		func(ctx context.Context, session *rpc.Session, r adminclient.StoreRiskParametersRequest) (empty, error) {
			return empty{}, s.StoreRiskParameters(ctx, session.Account(), r.Account, r.Parameters)
		})
	rpc.Register(server, adminclient.MethodMonitorRiskState,
		func(ctx context.Context, session *rpc.Session, r adminclient.AccountRequest) (domain.RiskState, error) {
			return s.MonitorRiskState(ctx, session.Account(), r.Account, riskStateSubscriber(session))
		})
	rpc.Register(server, adminclient.MethodStoreRiskState,
		func(ctx context.Context, session *rpc.Session, r adminclient.StoreRiskStateRequest) (empty, error) {
			return empty{}, s.StoreRiskState(ctx, session.Account(), r.Account, r.State)
		})

	s.bindRequests(server)
}

func (s *Servlet) bindRequests(server *rpc.Server) {
	rpc.Register(server, adminclient.MethodLoadAccountModificationRequest,
		func(ctx context.Context, session *rpc.Session, r adminclient.IdRequest) (domain.AccountModificationRequest, error) {
			return s.LoadAccountModificationRequest(ctx, session.Account(), r.ID)
		})
	rpc.Register(server, adminclient.MethodLoadAccountModificationRequestIds,
		func(ctx context.Context, session *rpc.Session, r adminclient.RequestIdsRequest) ([]int64, error) {
			return s.LoadAccountModificationRequestIds(ctx, session.Account(), r.Account, r.StartID, r.MaxCount)
		})
	rpc.Register(server, adminclient.MethodLoadManagedAccountModificationRequestIds,
		func(ctx context.Context, session *rpc.Session, r adminclient.RequestIdsRequest) ([]int64, error) {
			return s.LoadManagedAccountModificationRequestIds(ctx, session.Account(), r.Account, r.StartID, r.MaxCount)
		})
	rpc.Register(server, adminclient.MethodLoadSubmittedAccountModificationRequestIds,
		func(ctx context.Context, session *rpc.Session, r adminclient.RequestIdsRequest) ([]int64, error) {
			return s.LoadSubmittedAccountModificationRequestIds(ctx, session.Account(), r.Account, r.StartID, r.MaxCount)
		})
	rpc.Register(server, adminclient.MethodLoadEntitlementModification,
		func(ctx context.Context, session *rpc.Session, r adminclient.IdRequest) (domain.EntitlementModification, error) {
			return s.LoadEntitlementModification(ctx, session.Account(), r.ID)
		})
	rpc.Register(server, adminclient.MethodSubmitEntitlementModificationRequest,
		func(ctx context.Context, session *rpc.Session, r adminclient.SubmitEntitlementModificationRequest) (domain.AccountModificationRequest, error) {
			return s.SubmitEntitlementModificationRequest(ctx, session.Account(), r.Account, r.Modification, r.Comment)
		})
	rpc.Register(server, adminclient.MethodLoadRiskModification,
		func(ctx context.Context, session *rpc.Session, r adminclient.IdRequest) (domain.RiskModification, error) {
			return s.LoadRiskModification(ctx, session.Account(), r.ID)
		})
	rpc.Register(server, adminclient.MethodSubmitRiskModificationRequest,
		func(ctx context.Context, session *rpc.Session, r adminclient.SubmitRiskModificationRequest) (domain.AccountModificationRequest, error) {
			return s.SubmitRiskModificationRequest(ctx, session.Account(), r.Account, r.Modification, r.Comment)
		})
	rpc.Register(server, adminclient.MethodLoadAccountModificationRequestStatus,
		func(ctx context.Context, session *rpc.Session, r adminclient.IdRequest) (domain.RequestUpdate, error) {
			return s.LoadAccountModificationRequestStatus(ctx, session.Account(), r.ID)
		})
	rpc.Register(server, adminclient.MethodLoadAccountModificationRequestUpdates,
		func(ctx context.Context, session *rpc.Session, r adminclient.IdRequest) ([]domain.RequestUpdate, error) {
			return s.LoadAccountModificationRequestUpdates(ctx, session.Account(), r.ID)
		})
	rpc.Register(server, adminclient.MethodApproveAccountModificationRequest,
		func(ctx context.Context, session *rpc.Session, r adminclient.ReviewRequest) (domain.RequestUpdate, error) {
			return s.ApproveAccountModificationRequest(ctx, session.Account(), r.ID, r.Comment)
		})
	rpc.Register(server, adminclient.MethodRejectAccountModificationRequest,
		func(ctx context.Context, session *rpc.Session, r adminclient.ReviewRequest) (domain.RequestUpdate, error) {
			return s.RejectAccountModificationRequest(ctx, session.Account(), r.ID, r.Comment)
		})
	rpc.Register(server, adminclient.MethodLoadMessage,
		func(ctx context.Context, session *rpc.Session, r adminclient.IdRequest) (domain.Message, error) {
			return s.LoadMessage(ctx, session.Account(), r.ID)
		})
	rpc.Register(server, adminclient.MethodLoadMessageIds,
		func(ctx context.Context, session *rpc.Session, r adminclient.IdRequest) ([]int64, error) {
			return s.LoadMessageIds(ctx, session.Account(), r.ID)
		})
	rpc.Register(server, adminclient.MethodSendAccountModificationRequestMessage,
		func(ctx context.Context, session *rpc.Session, r adminclient.SendMessageRequest) (domain.Message, error) {
			return s.SendAccountModificationRequestMessage(ctx, session.Account(), r.ID, r.Message)
		})
}
