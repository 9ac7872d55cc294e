package processor

import (
	"admin_service/internal/domain"
	"admin_service/internal/permissions"
	"admin_service/internal/repository"
	"admin_service/internal/subscription"
	"admin_service/pkg/validator"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics receives workflow events. It may be nil.
type Metrics interface {
	RequestSubmitted(requestType domain.RequestType, status domain.RequestStatus)
	RequestUpdated(status domain.RequestStatus)
}

type Dependencies struct {
	Store          repository.DataStore
	Resolver       *permissions.Resolver
	Entitlements   *EntitlementManager
	RiskParameters *subscription.Registry[domain.RiskParameters]
	RiskStates     *subscription.Registry[domain.RiskState]
	Validator      *validator.Validator
	Audit          AuditLog
	Metrics        Metrics
	Logger         *zap.Logger
}

// Workflow runs the account modification request state machine.
type Workflow struct {
	store          repository.DataStore
	resolver       *permissions.Resolver
	entitlements   *EntitlementManager
	riskParameters *subscription.Registry[domain.RiskParameters]
	riskStates     *subscription.Registry[domain.RiskState]
	validator      *validator.Validator
	audit          AuditLog
	metrics        Metrics
	logger         *zap.Logger
	now            func() time.Time

	requestIDs atomic.Int64
	messageIDs atomic.Int64
}

// effect is what a request changes once it is GRANTED.
type effect struct {
	entitlements []domain.DirectoryEntry
	risk         domain.RiskParameters
}

// NewWorkflow resumes id allocation after the last ids in the store.
func NewWorkflow(ctx context.Context, deps Dependencies) (*Workflow, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Audit == nil {
		deps.Audit = nopAudit{}
	}

	w := &Workflow{
		store:          deps.Store,
		resolver:       deps.Resolver,
		entitlements:   deps.Entitlements,
		riskParameters: deps.RiskParameters,
		riskStates:     deps.RiskStates,
		validator:      deps.Validator,
		audit:          deps.Audit,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		now:            func() time.Time { return time.Now().UTC() },
	}

	lastRequestID, err := deps.Store.LoadLastAccountModificationRequestId(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load last request id: %w", err)
	}
	lastMessageID, err := deps.Store.LoadLastMessageId(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load last message id: %w", err)
	}
	w.requestIDs.Store(lastRequestID)
	w.messageIDs.Store(lastMessageID)
	return w, nil
}

func (w *Workflow) SubmitEntitlementModificationRequest(ctx context.Context, session, account domain.DirectoryEntry,
	modification domain.EntitlementModification, comment domain.Message) (domain.AccountModificationRequest, error) {
	if err := w.entitlements.Validate(modification.Entitlements); err != nil {
		return domain.AccountModificationRequest{}, err
	}
	modification.Entitlements = append([]domain.DirectoryEntry(nil), modification.Entitlements...)
	return w.submit(ctx, session, account, domain.RequestTypeEntitlements, comment,
		effect{entitlements: modification.Entitlements},
		func(ctx context.Context, tx repository.DataStore, id int64) error {
			return tx.StoreEntitlementModification(ctx, id, modification)
		})
}

func (w *Workflow) SubmitRiskModificationRequest(ctx context.Context, session, account domain.DirectoryEntry,
	modification domain.RiskModification, comment domain.Message) (domain.AccountModificationRequest, error) {
	if err := w.validator.ValidateRiskParameters(modification.Parameters); err != nil {
		return domain.AccountModificationRequest{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return w.submit(ctx, session, account, domain.RequestTypeRisk, comment,
		effect{risk: modification.Parameters},
		func(ctx context.Context, tx repository.DataStore, id int64) error {
			return tx.StoreRiskModification(ctx, id, modification)
		})
}

func (w *Workflow) submit(ctx context.Context, session, account domain.DirectoryEntry, requestType domain.RequestType,
	comment domain.Message, fx effect, storePayload func(ctx context.Context, tx repository.DataStore, id int64) error) (domain.AccountModificationRequest, error) {
	if !account.IsAccount() {
		return domain.AccountModificationRequest{}, fmt.Errorf("%w: %s is not an account", ErrInvalidArgument, account)
	}
	roles, err := w.authorizeSubmission(ctx, session, account)
	if err != nil {
		return domain.AccountModificationRequest{}, err
	}
	message, hasMessage, err := w.prepareComment(session, comment)
	if err != nil {
		return domain.AccountModificationRequest{}, err
	}

	now := w.now()
	status := submissionStatus(roles)
	request := domain.AccountModificationRequest{
		ID:         w.requestIDs.Add(1),
		Type:       requestType,
		Account:    account,
		Submission: session,
		Timestamp:  now,
	}
	update := domain.RequestUpdate{
		Status:         status,
		Account:        session,
		SequenceNumber: 1,
		Timestamp:      now,
	}

	err = w.commit(ctx, session, request, status, fx, func(tx repository.DataStore) error {
		if err := tx.StoreAccountModificationRequest(ctx, request); err != nil {
			return fmt.Errorf("failed to store request %d: %w", request.ID, err)
		}
		if err := storePayload(ctx, tx, request.ID); err != nil {
			return fmt.Errorf("failed to store payload of request %d: %w", request.ID, err)
		}
		if err := tx.StoreAccountModificationRequestUpdate(ctx, request.ID, update); err != nil {
			return fmt.Errorf("failed to store status of request %d: %w", request.ID, err)
		}
		if hasMessage {
			if err := tx.StoreAccountModificationRequestMessage(ctx, request.ID, message); err != nil {
				return fmt.Errorf("failed to store comment on request %d: %w", request.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		w.logger.Error("Failed to submit modification request",
			zap.Int64("request_id", request.ID),
			zap.Uint32("account", account.ID),
			zap.Error(err))
		return domain.AccountModificationRequest{}, err
	}

	if w.metrics != nil {
		w.metrics.RequestSubmitted(requestType, status)
	}
	w.recordTransition(ctx, session, request, domain.StatusNone, status, now)
	w.logger.Info("Modification request submitted",
		zap.Int64("request_id", request.ID),
		zap.Stringer("type", requestType),
		zap.Uint32("account", account.ID),
		zap.Uint32("submission_account", session.ID),
		zap.Stringer("status", status))
	return request, nil
}

func (w *Workflow) authorizeSubmission(ctx context.Context, session, account domain.DirectoryEntry) (domain.AccountRoles, error) {
	allowed, err := w.resolver.ReadPermission(ctx, session, account)
	if err != nil {
		return 0, fmt.Errorf("failed to check read permission: %w", err)
	}
	if !allowed {
		return 0, fmt.Errorf("%w: %s has no access to %s", ErrPermissionDenied, session, account)
	}
	roles, err := w.resolver.RolesOver(ctx, session, account)
	if err != nil {
		return 0, fmt.Errorf("failed to load roles: %w", err)
	}
	if roles.IsEmpty() {
		return 0, fmt.Errorf("%w: %s has no role over %s", ErrPermissionDenied, session, account)
	}
	return roles, nil
}

func submissionStatus(roles domain.AccountRoles) domain.RequestStatus {
	switch {
	case roles.Test(domain.RoleAdministrator):
		return domain.StatusGranted
	case roles.Test(domain.RoleManager):
		return domain.StatusReviewed
	default:
		return domain.StatusPending
	}
}

func (w *Workflow) ApproveAccountModificationRequest(ctx context.Context, session domain.DirectoryEntry, id int64, comment domain.Message) (domain.RequestUpdate, error) {
	return w.review(ctx, session, id, comment, true)
}

func (w *Workflow) RejectAccountModificationRequest(ctx context.Context, session domain.DirectoryEntry, id int64, comment domain.Message) (domain.RequestUpdate, error) {
	return w.review(ctx, session, id, comment, false)
}

func (w *Workflow) review(ctx context.Context, session domain.DirectoryEntry, id int64, comment domain.Message, approve bool) (domain.RequestUpdate, error) {
	request, err := w.store.LoadAccountModificationRequest(ctx, id)
	if err != nil {
		return domain.RequestUpdate{}, fmt.Errorf("failed to load request %d: %w", id, err)
	}
	roles, err := w.resolver.RolesOver(ctx, session, request.Account)
	if err != nil {
		return domain.RequestUpdate{}, fmt.Errorf("failed to load roles: %w", err)
	}
	var status domain.RequestStatus
	switch {
	case !roles.Test(domain.RoleAdministrator) && !roles.Test(domain.RoleManager):
		return domain.RequestUpdate{}, fmt.Errorf("%w: %s cannot review request %d", ErrPermissionDenied, session, id)
	case !approve:
		status = domain.StatusRejected
	case roles.Test(domain.RoleAdministrator):
		status = domain.StatusGranted
	default:
		status = domain.StatusReviewed
	}
	message, hasMessage, err := w.prepareComment(session, comment)
	if err != nil {
		return domain.RequestUpdate{}, err
	}

	var fx effect
	if status == domain.StatusGranted {
		if fx, err = w.loadEffect(ctx, request); err != nil {
			return domain.RequestUpdate{}, err
		}
	}

	now := w.now()
	update := domain.RequestUpdate{Status: status, Account: session, Timestamp: now}
	var previous domain.RequestStatus
	err = w.commit(ctx, session, request, status, fx, func(tx repository.DataStore) error {
		current, err := tx.LoadAccountModificationRequestStatus(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load status of request %d: %w", id, err)
		}
		if current.Status.IsTerminal() {
			return fmt.Errorf("%w: request %d is %s", ErrInvalidState, id, current.Status)
		}
		previous = current.Status
		update.SequenceNumber = current.SequenceNumber + 1
		if err := tx.StoreAccountModificationRequestUpdate(ctx, id, update); err != nil {
			if errors.Is(err, repository.ErrTerminalStatus) || errors.Is(err, repository.ErrSequenceConflict) {
				return fmt.Errorf("%w: request %d: %v", ErrInvalidState, id, err)
			}
			return fmt.Errorf("failed to store status of request %d: %w", id, err)
		}
		if hasMessage {
			if err := tx.StoreAccountModificationRequestMessage(ctx, id, message); err != nil {
				return fmt.Errorf("failed to store comment on request %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			w.logger.Warn("Rejected update of terminal request",
				zap.Int64("request_id", id),
				zap.Uint32("account", session.ID))
		} else {
			w.logger.Error("Failed to update modification request",
				zap.Int64("request_id", id),
				zap.Error(err))
		}
		return domain.RequestUpdate{}, err
	}

	if w.metrics != nil {
		w.metrics.RequestUpdated(status)
	}
	w.recordTransition(ctx, session, request, previous, status, now)
	w.logger.Info("Modification request updated",
		zap.Int64("request_id", id),
		zap.Uint32("account", session.ID),
		zap.Stringer("status", status),
		zap.Int("sequence_number", update.SequenceNumber))
	return update, nil
}

func (w *Workflow) loadEffect(ctx context.Context, request domain.AccountModificationRequest) (effect, error) {
	switch request.Type {
	case domain.RequestTypeEntitlements:
		modification, err := w.store.LoadEntitlementModification(ctx, request.ID)
		if err != nil {
			return effect{}, fmt.Errorf("failed to load entitlement modification %d: %w", request.ID, err)
		}
		return effect{entitlements: modification.Entitlements}, nil
	case domain.RequestTypeRisk:
		modification, err := w.store.LoadRiskModification(ctx, request.ID)
		if err != nil {
			return effect{}, fmt.Errorf("failed to load risk modification %d: %w", request.ID, err)
		}
		return effect{risk: modification.Parameters}, nil
	default:
		return effect{}, fmt.Errorf("%w: request %d has unknown type %d", ErrInvalidState, request.ID, request.Type)
	}
}

// commit runs body in one transaction. A GRANTED status also applies the
// request's effect. Risk parameters are written in the same transaction
// and broadcast once it commits. Entitlements are planned before the
// transaction and written to the directory as its last step, then
// reverted if the commit fails.
func (w *Workflow) commit(ctx context.Context, actor domain.DirectoryEntry, request domain.AccountModificationRequest,
	status domain.RequestStatus, fx effect, body func(tx repository.DataStore) error) error {
	if status != domain.StatusGranted {
		return w.store.WithTransaction(ctx, body)
	}
	if request.Type == domain.RequestTypeRisk {
		err := w.riskParameters.Apply(ctx, request.Account, fx.risk, func(ctx context.Context) error {
			return w.store.WithTransaction(ctx, func(tx repository.DataStore) error {
				if err := body(tx); err != nil {
					return err
				}
				return tx.StoreRiskParameters(ctx, request.Account, fx.risk)
			})
		})
		if err != nil {
			return err
		}
		w.audit.Record(ctx, domain.AuditEvent{
			Actor:     actor,
			Action:    domain.AuditStoreRisk,
			Target:    request.Account,
			Subject:   fmt.Sprintf("request %d", request.ID),
			Timestamp: w.now(),
		})
		return nil
	}
	change, err := w.entitlements.Plan(ctx, request.Account, fx.entitlements)
	if err != nil {
		return fmt.Errorf("failed to plan entitlements of request %d: %w", request.ID, err)
	}
	applied := false
	err = w.store.WithTransaction(ctx, func(tx repository.DataStore) error {
		if err := body(tx); err != nil {
			return err
		}
		if err := w.entitlements.Apply(ctx, request.Account, change); err != nil {
			return fmt.Errorf("failed to apply granted request %d: %w", request.ID, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		if applied {
			w.entitlements.Revert(ctx, request.Account, change)
		}
		return err
	}
	w.entitlements.Audit(ctx, actor, request.Account, change)
	return nil
}

func (w *Workflow) prepareComment(session domain.DirectoryEntry, comment domain.Message) (domain.Message, bool, error) {
	if !comment.HasText() {
		return domain.Message{}, false, nil
	}
	message, err := w.newMessage(session, comment)
	if err != nil {
		return domain.Message{}, false, err
	}
	return message, true, nil
}

func (w *Workflow) newMessage(session domain.DirectoryEntry, message domain.Message) (domain.Message, error) {
	message = message.Normalize()
	if err := w.validator.ValidateMessage(message); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	message.ID = w.messageIDs.Add(1)
	message.Account = session
	message.Timestamp = w.now()
	return message, nil
}

// SendAccountModificationRequestMessage attaches message to request id on
// behalf of session and returns it with its assigned id.
func (w *Workflow) SendAccountModificationRequestMessage(ctx context.Context, session domain.DirectoryEntry, id int64, message domain.Message) (domain.Message, error) {
	request, err := w.store.LoadAccountModificationRequest(ctx, id)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to load request %d: %w", id, err)
	}
	if !request.Submission.Equal(session) {
		allowed, err := w.resolver.ReadPermission(ctx, session, request.Account)
		if err != nil {
			return domain.Message{}, fmt.Errorf("failed to check read permission: %w", err)
		}
		if !allowed {
			return domain.Message{}, fmt.Errorf("%w: %s has no access to request %d", ErrPermissionDenied, session, id)
		}
	}
	stored, err := w.newMessage(session, message)
	if err != nil {
		return domain.Message{}, err
	}
	if err := w.store.StoreAccountModificationRequestMessage(ctx, id, stored); err != nil {
		return domain.Message{}, fmt.Errorf("failed to store message on request %d: %w", id, err)
	}
	w.logger.Info("Message sent",
		zap.Int64("request_id", id),
		zap.Int64("message_id", stored.ID),
		zap.Uint32("account", session.ID))
	return stored, nil
}

// StoreEntitlements replaces the entitlement set of account directly.
func (w *Workflow) StoreEntitlements(ctx context.Context, session, account domain.DirectoryEntry, entitlements []domain.DirectoryEntry) error {
	if err := w.requireAdministrator(ctx, session); err != nil {
		return err
	}
	return w.entitlements.Grant(ctx, session, account, entitlements)
}

// StoreRiskParameters writes parameters for account and broadcasts them
// to its monitors.
func (w *Workflow) StoreRiskParameters(ctx context.Context, session, account domain.DirectoryEntry, parameters domain.RiskParameters) error {
	if err := w.requireAdministrator(ctx, session); err != nil {
		return err
	}
	if err := w.validator.ValidateRiskParameters(parameters); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err := w.riskParameters.Update(ctx, account, parameters); err != nil {
		return fmt.Errorf("failed to store risk parameters of %s: %w", account, err)
	}
	w.audit.Record(ctx, domain.AuditEvent{
		Actor:     session,
		Action:    domain.AuditStoreRisk,
		Target:    account,
		Subject:   "direct",
		Timestamp: w.now(),
	})
	return nil
}

// StoreRiskState writes state for account and broadcasts it to its
// monitors.
func (w *Workflow) StoreRiskState(ctx context.Context, session, account domain.DirectoryEntry, state domain.RiskState) error {
	if err := w.requireAdministrator(ctx, session); err != nil {
		return err
	}
	if err := w.validator.ValidateRiskState(state); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err := w.riskStates.Update(ctx, account, state); err != nil {
		return fmt.Errorf("failed to store risk state of %s: %w", account, err)
	}
	w.audit.Record(ctx, domain.AuditEvent{
		Actor:     session,
		Action:    domain.AuditStoreRiskState,
		Target:    account,
		Subject:   state.Type.String(),
		Timestamp: w.now(),
	})
	return nil
}

func (w *Workflow) requireAdministrator(ctx context.Context, session domain.DirectoryEntry) error {
	isAdministrator, err := w.resolver.IsAdministrator(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to check administrator: %w", err)
	}
	if !isAdministrator {
		return fmt.Errorf("%w: %s is not an administrator", ErrPermissionDenied, session)
	}
	return nil
}

func (w *Workflow) recordTransition(ctx context.Context, actor domain.DirectoryEntry, request domain.AccountModificationRequest,
	from, to domain.RequestStatus, at time.Time) {
	w.audit.Record(ctx, domain.AuditEvent{
		Actor:     actor,
		Action:    domain.AuditStatusTransition,
		Target:    request.Account,
		Subject:   fmt.Sprintf("request %d %s -> %s", request.ID, from, to),
		Timestamp: at,
	})
}
