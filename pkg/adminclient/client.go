// Package adminclient is the consumer side of the administration service.
package adminclient

import (
	"admin_service/internal/domain"
	"admin_service/pkg/rpc"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RecoveryMetrics receives the outcome of each re-monitor after a
// reconnect. It may be nil.
type RecoveryMetrics interface {
	RecoveryCompleted(success bool)
}

type Config struct {
	Metrics RecoveryMetrics
	Logger  *zap.Logger
	// RecoveryConcurrency bounds the re-monitor calls in flight after a
	// reconnect.
	RecoveryConcurrency int
	// OnRecovered runs after each recovery run completes.
	OnRecovered func()
}

type Client struct {
	conn                *rpc.Client
	metrics             RecoveryMetrics
	logger              *zap.Logger
	recoveryConcurrency int

	recoveryMu sync.Mutex
	recovered  func()

	mu             sync.Mutex
	riskParameters map[uint32]*Publisher[domain.RiskParameters]
	riskStates     map[uint32]*Publisher[domain.RiskState]
}

// New wraps conn. The client re-monitors every live subscription each
// time conn reconnects.
func New(conn *rpc.Client, cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RecoveryConcurrency <= 0 {
		cfg.RecoveryConcurrency = 16
	}
	c := &Client{
		conn:                conn,
		metrics:             cfg.Metrics,
		logger:              cfg.Logger,
		recoveryConcurrency: cfg.RecoveryConcurrency,
		recovered:           cfg.OnRecovered,
		riskParameters:      make(map[uint32]*Publisher[domain.RiskParameters]),
		riskStates:          make(map[uint32]*Publisher[domain.RiskState]),
	}
	conn.OnPush(PushRiskParameters, c.onRiskParameters)
	conn.OnPush(PushRiskState, c.onRiskState)
	conn.OnReconnect(c.recover)
	return c
}

// Close closes the connection and breaks every live subscription.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, publisher := range c.riskParameters {
		publisher.Break(rpc.ErrClientClosed)
		delete(c.riskParameters, id)
	}
	for id, publisher := range c.riskStates {
		publisher.Break(rpc.ErrClientClosed)
		delete(c.riskStates, id)
	}
	return err
}

func (c *Client) LoadAccountsByRoles(ctx context.Context, roles domain.AccountRoles) ([]domain.DirectoryEntry, error) {
	accounts, err := rpc.Invoke[[]domain.DirectoryEntry](ctx, c.conn, MethodLoadAccountsByRoles, RolesRequest{Roles: roles})
	if err != nil {
		return nil, fmt.Errorf("load accounts by roles %s: %w", roles, err)
	}
	return accounts, nil
}

func (c *Client) LoadAdministratorsRootEntry(ctx context.Context) (domain.DirectoryEntry, error) {
	entry, err := rpc.Invoke[domain.DirectoryEntry](ctx, c.conn, MethodLoadAdministratorsRootEntry, Empty{})
	if err != nil {
		return entry, fmt.Errorf("load administrators root entry: %w", err)
	}
	return entry, nil
}

func (c *Client) LoadServicesRootEntry(ctx context.Context) (domain.DirectoryEntry, error) {
	entry, err := rpc.Invoke[domain.DirectoryEntry](ctx, c.conn, MethodLoadServicesRootEntry, Empty{})
	if err != nil {
		return entry, fmt.Errorf("load services root entry: %w", err)
	}
	return entry, nil
}

func (c *Client) LoadTradingGroupsRootEntry(ctx context.Context) (domain.DirectoryEntry, error) {
	entry, err := rpc.Invoke[domain.DirectoryEntry](ctx, c.conn, MethodLoadTradingGroupsRootEntry, Empty{})
	if err != nil {
		return entry, fmt.Errorf("load trading groups root entry: %w", err)
	}
	return entry, nil
}

func (c *Client) CheckAdministrator(ctx context.Context, account domain.DirectoryEntry) (bool, error) {
	isAdministrator, err := rpc.Invoke[bool](ctx, c.conn, MethodCheckAdministrator, AccountRequest{Account: account})
	if err != nil {
		return false, fmt.Errorf("check administrator %d: %w", account.ID, err)
	}
	return isAdministrator, nil
}

func (c *Client) LoadAccountRoles(ctx context.Context, account domain.DirectoryEntry) (domain.AccountRoles, error) {
	roles, err := rpc.Invoke[domain.AccountRoles](ctx, c.conn, MethodLoadAccountRoles, AccountRequest{Account: account})
	if err != nil {
		return 0, fmt.Errorf("load account roles %d: %w", account.ID, err)
	}
	return roles, nil
}

// LoadSupervisedAccountRoles returns the roles parent holds over child.
func (c *Client) LoadSupervisedAccountRoles(ctx context.Context, parent, child domain.DirectoryEntry) (domain.AccountRoles, error) {
	roles, err := rpc.Invoke[domain.AccountRoles](ctx, c.conn, MethodLoadSupervisedAccountRoles,
		SupervisedRolesRequest{Parent: parent, Child: child})
	if err != nil {
		return 0, fmt.Errorf("load account roles %d over %d: %w", parent.ID, child.ID, err)
	}
	return roles, nil
}

func (c *Client) LoadParentTradingGroup(ctx context.Context, account domain.DirectoryEntry) (domain.DirectoryEntry, error) {
	group, err := rpc.Invoke[domain.DirectoryEntry](ctx, c.conn, MethodLoadParentTradingGroup, AccountRequest{Account: account})
	if err != nil {
		return group, fmt.Errorf("load parent trading group %d: %w", account.ID, err)
	}
	return group, nil
}

func (c *Client) LoadAccountIdentity(ctx context.Context, account domain.DirectoryEntry) (domain.AccountIdentity, error) {
	identity, err := rpc.Invoke[domain.AccountIdentity](ctx, c.conn, MethodLoadAccountIdentity, AccountRequest{Account: account})
	if err != nil {
		return identity, fmt.Errorf("load account identity %d: %w", account.ID, err)
	}
	return identity, nil
}

func (c *Client) StoreAccountIdentity(ctx context.Context, account domain.DirectoryEntry, identity domain.AccountIdentity) error {
	if err := c.conn.Call(ctx, MethodStoreAccountIdentity, StoreIdentityRequest{Account: account, Identity: identity}, nil); err != nil {
		return fmt.Errorf("store account identity %d: %w", account.ID, err)
	}
	return nil
}

func (c *Client) LoadTradingGroup(ctx context.Context, group domain.DirectoryEntry) (domain.TradingGroup, error) {
	tradingGroup, err := rpc.Invoke[domain.TradingGroup](ctx, c.conn, MethodLoadTradingGroup, AccountRequest{Account: group})
	if err != nil {
		return tradingGroup, fmt.Errorf("load trading group %d: %w", group.ID, err)
	}
	return tradingGroup, nil
}

func (c *Client) LoadManagedTradingGroups(ctx context.Context, account domain.DirectoryEntry) ([]domain.DirectoryEntry, error) {
	groups, err := rpc.Invoke[[]domain.DirectoryEntry](ctx, c.conn, MethodLoadManagedTradingGroups, AccountRequest{Account: account})
	if err != nil {
		return nil, fmt.Errorf("load managed trading groups %d: %w", account.ID, err)
	}
	return groups, nil
}

func (c *Client) LoadAdministrators(ctx context.Context) ([]domain.DirectoryEntry, error) {
	accounts, err := rpc.Invoke[[]domain.DirectoryEntry](ctx, c.conn, MethodLoadAdministrators, Empty{})
	if err != nil {
		return nil, fmt.Errorf("load administrators: %w", err)
	}
	return accounts, nil
}

func (c *Client) LoadServices(ctx context.Context) ([]domain.DirectoryEntry, error) {
	accounts, err := rpc.Invoke[[]domain.DirectoryEntry](ctx, c.conn, MethodLoadServices, Empty{})
	if err != nil {
		return nil, fmt.Errorf("load services: %w", err)
	}
	return accounts, nil
}

func (c *Client) LoadEntitlements(ctx context.Context) (domain.EntitlementDatabase, error) {
	database, err := rpc.Invoke[domain.EntitlementDatabase](ctx, c.conn, MethodLoadEntitlements, Empty{})
	if err != nil {
		return database, fmt.Errorf("load entitlements: %w", err)
	}
	return database, nil
}

func (c *Client) LoadAccountEntitlements(ctx context.Context, account domain.DirectoryEntry) ([]domain.DirectoryEntry, error) {
	entitlements, err := rpc.Invoke[[]domain.DirectoryEntry](ctx, c.conn, MethodLoadAccountEntitlements, AccountRequest{Account: account})
	if err != nil {
		return nil, fmt.Errorf("load account entitlements %d: %w", account.ID, err)
	}
	return entitlements, nil
}

func (c *Client) StoreEntitlements(ctx context.Context, account domain.DirectoryEntry, entitlements []domain.DirectoryEntry) error {
	request := StoreEntitlementsRequest{Account: account, Entitlements: entitlements}
	if err := c.conn.Call(ctx, MethodStoreEntitlements, request, nil); err != nil {
		return fmt.Errorf("store entitlements %d: %w", account.ID, err)
	}
	return nil
}

// MonitorRiskParameters returns the publisher of account's risk
// parameters, subscribing on first use.
func (c *Client) MonitorRiskParameters(ctx context.Context, account domain.DirectoryEntry) (*Publisher[domain.RiskParameters], error) {
	return monitor(ctx, c, c.riskParameters, account, MethodMonitorRiskParameters, domain.RiskParameters.Equal)
}

func (c *Client) StoreRiskParameters(ctx context.Context, account domain.DirectoryEntry, parameters domain.RiskParameters) error {
	request := StoreRiskParametersRequest{Account: account, Parameters: parameters}
	if err := c.conn.Call(ctx, MethodStoreRiskParameters, request, nil); err != nil {
		return fmt.Errorf("store risk parameters %d: %w", account.ID, err)
	}
	return nil
}

// MonitorRiskState returns the publisher of account's risk state,
// subscribing on first use.
func (c *Client) MonitorRiskState(ctx context.Context, account domain.DirectoryEntry) (*Publisher[domain.RiskState], error) {
	return monitor(ctx, c, c.riskStates, account, MethodMonitorRiskState, domain.RiskState.Equal)
}

func (c *Client) StoreRiskState(ctx context.Context, account domain.DirectoryEntry, state domain.RiskState) error {
	request := StoreRiskStateRequest{Account: account, State: state}
	if err := c.conn.Call(ctx, MethodStoreRiskState, request, nil); err != nil {
		return fmt.Errorf("store risk state %d: %w", account.ID, err)
	}
	return nil
}

func monitor[V any](ctx context.Context, c *Client, publishers map[uint32]*Publisher[V], account domain.DirectoryEntry,
	method string, equal func(a, b V) bool) (*Publisher[V], error) {
	c.mu.Lock()
	publisher, ok := publishers[account.ID]
	c.mu.Unlock()
	if ok {
		return publisher, nil
	}

	value, err := rpc.Invoke[V](ctx, c.conn, method, AccountRequest{Account: account})
	if err != nil {
		return nil, fmt.Errorf("%s %d: %w", method, account.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := publishers[account.ID]; ok {
		existing.Publish(value)
		return existing, nil
	}
	publisher = NewPublisher(value, equal)
	publishers[account.ID] = publisher
	return publisher, nil
}

func (c *Client) onRiskParameters(payload rpc.RawMessage) {
	var push RiskParametersPush
	if err := rpc.Unmarshal(payload, &push); err != nil {
		c.logger.Warn("Dropping undecodable risk parameters push", zap.Error(err))
		return
	}
	c.mu.Lock()
	publisher := c.riskParameters[push.Account.ID]
	c.mu.Unlock()
	if publisher != nil {
		publisher.Publish(push.Parameters)
	}
}

func (c *Client) onRiskState(payload rpc.RawMessage) {
	var push RiskStatePush
	if err := rpc.Unmarshal(payload, &push); err != nil {
		c.logger.Warn("Dropping undecodable risk state push", zap.Error(err))
		return
	}
	c.mu.Lock()
	publisher := c.riskStates[push.Account.ID]
	c.mu.Unlock()
	if publisher != nil {
		publisher.Publish(push.State)
	}
}

// recover re-monitors every live subscription on the new connection. Runs
// are serialized; a reconnect during a run waits for it to finish.
func (c *Client) recover() {
	c.recoveryMu.Lock()
	defer c.recoveryMu.Unlock()

	c.mu.Lock()
	riskParameters := make(map[uint32]*Publisher[domain.RiskParameters], len(c.riskParameters))
	for id, publisher := range c.riskParameters {
		riskParameters[id] = publisher
	}
	riskStates := make(map[uint32]*Publisher[domain.RiskState], len(c.riskStates))
	for id, publisher := range c.riskStates {
		riskStates[id] = publisher
	}
	c.mu.Unlock()

	var group errgroup.Group
	group.SetLimit(c.recoveryConcurrency)
	for id, publisher := range riskParameters {
		group.Go(func() error {
			remonitor(c, id, publisher, c.riskParameters, MethodMonitorRiskParameters)
			return nil
		})
	}
	for id, publisher := range riskStates {
		group.Go(func() error {
			remonitor(c, id, publisher, c.riskStates, MethodMonitorRiskState)
			return nil
		})
	}
	_ = group.Wait()

	c.logger.Info("Subscriptions recovered",
		zap.Int("risk_parameters", len(riskParameters)),
		zap.Int("risk_states", len(riskStates)))
	if c.recovered != nil {
		c.recovered()
	}
}

// remonitor publishes the freshly monitored value, which only
// notifies subscribers if it differs from the last known one. On failure
// the publisher breaks and is dropped.
func remonitor[V any](c *Client, id uint32, publisher *Publisher[V], publishers map[uint32]*Publisher[V], method string) {
	account := domain.DirectoryEntry{Type: domain.EntryTypeAccount, ID: id}
	value, err := rpc.Invoke[V](context.Background(), c.conn, method, AccountRequest{Account: account})
	if err != nil {
		c.logger.Warn("Failed to recover subscription",
			zap.String("method", method),
			zap.Uint32("account", id),
			zap.Error(err))
		publisher.Break(fmt.Errorf("recover %s %d: %w", method, id, err))
		c.mu.Lock()
		if publishers[id] == publisher {
			delete(publishers, id)
		}
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecoveryCompleted(false)
		}
		return
	}
	publisher.Publish(value)
	if c.metrics != nil {
		c.metrics.RecoveryCompleted(true)
	}
}
