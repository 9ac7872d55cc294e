package api

import (
	"admin_service/internal/directory"
	"admin_service/internal/domain"
	"admin_service/internal/permissions"
	"admin_service/internal/processor"
	"admin_service/internal/repository"
	"admin_service/internal/subscription"
	"admin_service/pkg/validator"
	"context"
	"fmt"

	"go.uber.org/zap"
)

type Config struct {
	Directory      directory.Directory
	Resolver       *permissions.Resolver
	Store          repository.DataStore
	Workflow       *processor.Workflow
	Entitlements   *processor.EntitlementManager
	RiskParameters *subscription.Registry[domain.RiskParameters]
	RiskStates     *subscription.Registry[domain.RiskState]
	Validator      *validator.Validator
	Logger         *zap.Logger
}

// Servlet carries out administration operations on behalf of an
// authenticated session account.
type Servlet struct {
	directory      directory.Directory
	resolver       *permissions.Resolver
	store          repository.DataStore
	workflow       *processor.Workflow
	entitlements   *processor.EntitlementManager
	riskParameters *subscription.Registry[domain.RiskParameters]
	riskStates     *subscription.Registry[domain.RiskState]
	validator      *validator.Validator
	logger         *zap.Logger
}

func NewServlet(cfg Config) *Servlet {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Validator == nil {
		cfg.Validator = validator.New()
	}
	return &Servlet{
		directory:      cfg.Directory,
		resolver:       cfg.Resolver,
		store:          cfg.Store,
		workflow:       cfg.Workflow,
		entitlements:   cfg.Entitlements,
		riskParameters: cfg.RiskParameters,
		riskStates:     cfg.RiskStates,
		validator:      cfg.Validator,
		logger:         cfg.Logger,
	}
}

func (s *Servlet) requireRead(ctx context.Context, session, account domain.DirectoryEntry) error {
	allowed, err := s.resolver.ReadPermission(ctx, session, account)
	if err != nil {
		return fmt.Errorf("failed to check read permission: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s has no access to %s", processor.ErrPermissionDenied, session, account)
	}
	return nil
}

func (s *Servlet) requireAdministrator(ctx context.Context, session domain.DirectoryEntry) error {
	isAdministrator, err := s.resolver.IsAdministrator(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to check administrator: %w", err)
	}
	if !isAdministrator {
		return fmt.Errorf("%w: %s is not an administrator", processor.ErrPermissionDenied, session)
	}
	return nil
}

// LoadAccountsByRoles is limited to administrators and services.
func (s *Servlet) LoadAccountsByRoles(ctx context.Context, session domain.DirectoryEntry, roles domain.AccountRoles) ([]domain.DirectoryEntry, error) {
	sessionRoles, err := s.resolver.RolesOf(ctx, session)
	if err != nil {
		return nil, err
	}
	if !sessionRoles.Test(domain.RoleAdministrator) && !sessionRoles.Test(domain.RoleService) {
		return nil, fmt.Errorf("%w: %s cannot list accounts", processor.ErrPermissionDenied, session)
	}
	return s.resolver.LoadAccountsByRoles(ctx, roles)
}

func (s *Servlet) LoadAdministratorsRootEntry() domain.DirectoryEntry {
	return s.resolver.Roots().Administrators
}

func (s *Servlet) LoadServicesRootEntry() domain.DirectoryEntry {
	return s.resolver.Roots().Services
}

func (s *Servlet) LoadTradingGroupsRootEntry() domain.DirectoryEntry {
	return s.resolver.Roots().TradingGroups
}

func (s *Servlet) CheckAdministrator(ctx context.Context, account domain.DirectoryEntry) (bool, error) {
	return s.resolver.IsAdministrator(ctx, account)
}

func (s *Servlet) LoadAccountRoles(ctx context.Context, account domain.DirectoryEntry) (domain.AccountRoles, error) {
	return s.resolver.RolesOf(ctx, account)
}

func (s *Servlet) LoadSupervisedAccountRoles(ctx context.Context, parent, child domain.DirectoryEntry) (domain.AccountRoles, error) {
	return s.resolver.RolesOver(ctx, parent, child)
}

func (s *Servlet) LoadParentTradingGroup(ctx context.Context, session, account domain.DirectoryEntry) (domain.DirectoryEntry, error) {
	if err := s.requireRead(ctx, session, account); err != nil {
		return domain.DirectoryEntry{}, err
	}
	return s.resolver.ParentTradingGroup(ctx, account)
}

// LoadAccountIdentity returns the stored identity with the directory's
// registration and last login times.
func (s *Servlet) LoadAccountIdentity(ctx context.Context, session, account domain.DirectoryEntry) (domain.AccountIdentity, error) {
	if err := s.requireRead(ctx, session, account); err != nil {
		return domain.AccountIdentity{}, err
	}
	identity, err := s.store.LoadAccountIdentity(ctx, account)
	if err != nil {
		return identity, fmt.Errorf("failed to load identity of %s: %w", account, err)
	}
	if identity.RegistrationTime, err = s.directory.LoadRegistrationTime(ctx, account); err != nil {
		return identity, fmt.Errorf("failed to load registration time of %s: %w", account, err)
	}
	if identity.LastLoginTime, err = s.directory.LoadLastLoginTime(ctx, account); err != nil {
		return identity, fmt.Errorf("failed to load last login time of %s: %w", account, err)
	}
	return identity, nil
}

// StoreAccountIdentity lets an account edit its own identity; any other
// account's identity needs an administrator.
func (s *Servlet) StoreAccountIdentity(ctx context.Context, session, account domain.DirectoryEntry, identity domain.AccountIdentity) error {
	if !session.Equal(account) {
		if err := s.requireAdministrator(ctx, session); err != nil {
			return err
		}
	}
	if err := s.validator.ValidateIdentity(identity); err != nil {
		return fmt.Errorf("%w: %w", processor.ErrInvalidArgument, err)
	}
	if err := s.store.StoreAccountIdentity(ctx, account, identity); err != nil {
		return fmt.Errorf("failed to store identity of %s: %w", account, err)
	}
	s.logger.Info("Account identity stored",
		zap.Uint32("account", account.ID),
		zap.Uint32("session_account", session.ID))
	return nil
}

func (s *Servlet) LoadTradingGroup(ctx context.Context, session, group domain.DirectoryEntry) (domain.TradingGroup, error) {
	managed, err := s.resolver.ManagedTradingGroups(ctx, session)
	if err != nil {
		return domain.TradingGroup{}, err
	}
	if !domain.ContainsEntry(managed, group) {
		return domain.TradingGroup{}, fmt.Errorf("%w: %s does not manage %s", processor.ErrPermissionDenied, session, group)
	}
	return s.resolver.LoadTradingGroup(ctx, group)
}

func (s *Servlet) LoadManagedTradingGroups(ctx context.Context, session, account domain.DirectoryEntry) ([]domain.DirectoryEntry, error) {
	if err := s.requireRead(ctx, session, account); err != nil {
		return nil, err
	}
	return s.resolver.ManagedTradingGroups(ctx, account)
}

func (s *Servlet) LoadAdministrators(ctx context.Context) ([]domain.DirectoryEntry, error) {
	return s.resolver.LoadAdministrators(ctx)
}

func (s *Servlet) LoadServices(ctx context.Context) ([]domain.DirectoryEntry, error) {
	return s.resolver.LoadServices(ctx)
}

func (s *Servlet) LoadEntitlements() domain.EntitlementDatabase {
	return s.entitlements.Database()
}

func (s *Servlet) LoadAccountEntitlements(ctx context.Context, session, account domain.DirectoryEntry) ([]domain.DirectoryEntry, error) {
	if err := s.requireRead(ctx, session, account); err != nil {
		return nil, err
	}
	return s.entitlements.LoadAccountEntitlements(ctx, account)
}

func (s *Servlet) StoreEntitlements(ctx context.Context, session, account domain.DirectoryEntry, entitlements []domain.DirectoryEntry) error {
	return s.workflow.StoreEntitlements(ctx, session, account, entitlements)
}

// MonitorRiskParameters registers subscriber for changes to account's risk
// parameters and returns the current ones.
func (s *Servlet) MonitorRiskParameters(ctx context.Context, session, account domain.DirectoryEntry,
	subscriber subscription.Subscriber[domain.RiskParameters]) (domain.RiskParameters, error) {
	if err := s.requireRead(ctx, session, account); err != nil {
		return domain.RiskParameters{}, err
	}
	return s.riskParameters.Monitor(ctx, account, subscriber)
}

func (s *Servlet) StoreRiskParameters(ctx context.Context, session, account domain.DirectoryEntry, parameters domain.RiskParameters) error {
	return s.workflow.StoreRiskParameters(ctx, session, account, parameters)
}

func (s *Servlet) MonitorRiskState(ctx context.Context, session, account domain.DirectoryEntry,
	subscriber subscription.Subscriber[domain.RiskState]) (domain.RiskState, error) {
	if err := s.requireRead(ctx, session, account); err != nil {
		return domain.RiskState{}, err
	}
	return s.riskStates.Monitor(ctx, account, subscriber)
}

func (s *Servlet) StoreRiskState(ctx context.Context, session, account domain.DirectoryEntry, state domain.RiskState) error {
	return s.workflow.StoreRiskState(ctx, session, account, state)
}

// Unsubscribe drops every subscription held by the subscriber with id.
func (s *Servlet) Unsubscribe(id string) {
	s.riskParameters.Remove(id)
	s.riskStates.Remove(id)
}
