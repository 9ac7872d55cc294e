package processor

import (
	"admin_service/internal/directory"
	"admin_service/internal/domain"
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// AuditLog receives the administrative audit trail.
type AuditLog interface {
	Record(ctx context.Context, event domain.AuditEvent)
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, domain.AuditEvent) {}

// EntitlementManager checks entitlement references against the
// entitlement database and applies entitlement sets to the directory.
type EntitlementManager struct {
	database  domain.EntitlementDatabase
	directory directory.Directory
	audit     AuditLog
	logger    *zap.Logger
	now       func() time.Time
}

func NewEntitlementManager(database domain.EntitlementDatabase, dir directory.Directory, audit AuditLog, logger *zap.Logger) *EntitlementManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if audit == nil {
		audit = nopAudit{}
	}
	return &EntitlementManager{
		database:  database,
		directory: dir,
		audit:     audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *EntitlementManager) Database() domain.EntitlementDatabase {
	return m.database
}

// Validate fails with ErrInvalidEntitlement unless every entry is a
// directory known to the entitlement database.
func (m *EntitlementManager) Validate(entitlements []domain.DirectoryEntry) error {
	for _, entry := range entitlements {
		if !entry.IsDirectory() {
			return fmt.Errorf("%w: %s is not a directory", ErrInvalidEntitlement, entry)
		}
		if !m.database.Contains(entry) {
			return fmt.Errorf("%w: %s is not in the entitlement database", ErrInvalidEntitlement, entry)
		}
	}
	return nil
}

// LoadAccountEntitlements returns the entitlement groups account belongs
// to, ordered by id.
func (m *EntitlementManager) LoadAccountEntitlements(ctx context.Context, account domain.DirectoryEntry) ([]domain.DirectoryEntry, error) {
	parents, err := m.directory.LoadParents(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to load parents of %s: %w", account, err)
	}
	entitlements := []domain.DirectoryEntry{}
	for _, parent := range parents {
		if entry, ok := m.database.Lookup(parent); ok {
			entitlements = append(entitlements, entry.GroupEntry)
		}
	}
	sort.Slice(entitlements, func(i, j int) bool { return entitlements[i].ID < entitlements[j].ID })
	return entitlements, nil
}

// DiffEntitlements splits the change from current to requested into the
// groups to associate and the groups to detach.
func DiffEntitlements(current, requested []domain.DirectoryEntry) (granted, revoked []domain.DirectoryEntry) {
	for _, entry := range requested {
		if !domain.ContainsEntry(current, entry) && !domain.ContainsEntry(granted, entry) {
			granted = append(granted, entry)
		}
	}
	for _, entry := range current {
		if !domain.ContainsEntry(requested, entry) {
			revoked = append(revoked, entry)
		}
	}
	return granted, revoked
}

// EntitlementChange is the set of directory edits that turns an
// account's current entitlements into a requested set.
type EntitlementChange struct {
	Granted []domain.DirectoryEntry
	Revoked []domain.DirectoryEntry
}

func (c EntitlementChange) IsEmpty() bool {
	return len(c.Granted) == 0 && len(c.Revoked) == 0
}

// Plan validates requested and diffs it against the current entitlements
// of account. It fails without touching the directory when account
// cannot be resolved.
func (m *EntitlementManager) Plan(ctx context.Context, account domain.DirectoryEntry, requested []domain.DirectoryEntry) (EntitlementChange, error) {
	if err := m.Validate(requested); err != nil {
		return EntitlementChange{}, err
	}
	current, err := m.LoadAccountEntitlements(ctx, account)
	if err != nil {
		return EntitlementChange{}, err
	}
	granted, revoked := DiffEntitlements(current, requested)
	return EntitlementChange{Granted: granted, Revoked: revoked}, nil
}

// Apply writes change to the directory. If any edit fails the edits
// already made are undone before the error is returned.
func (m *EntitlementManager) Apply(ctx context.Context, account domain.DirectoryEntry, change EntitlementChange) error {
	var done EntitlementChange
	for _, group := range change.Granted {
		if err := m.directory.Associate(ctx, account, group); err != nil {
			m.Revert(ctx, account, done)
			return fmt.Errorf("failed to grant entitlement %s to %s: %w", m.name(group), account, err)
		}
		done.Granted = append(done.Granted, group)
	}
	for _, group := range change.Revoked {
		if err := m.directory.Detach(ctx, account, group); err != nil {
			m.Revert(ctx, account, done)
			return fmt.Errorf("failed to revoke entitlement %s from %s: %w", m.name(group), account, err)
		}
		done.Revoked = append(done.Revoked, group)
	}
	return nil
}

// Revert undoes an applied change. Failures are logged, the remaining
// edits are still attempted.
func (m *EntitlementManager) Revert(ctx context.Context, account domain.DirectoryEntry, change EntitlementChange) {
	for _, group := range change.Granted {
		if err := m.directory.Detach(ctx, account, group); err != nil {
			m.logger.Error("Failed to revert entitlement grant",
				zap.Uint32("account", account.ID),
				zap.String("entitlement", m.name(group)),
				zap.Error(err))
		}
	}
	for _, group := range change.Revoked {
		if err := m.directory.Associate(ctx, account, group); err != nil {
			m.logger.Error("Failed to revert entitlement revocation",
				zap.Uint32("account", account.ID),
				zap.String("entitlement", m.name(group)),
				zap.Error(err))
		}
	}
}

// Audit writes one audit line per association or detachment in change.
func (m *EntitlementManager) Audit(ctx context.Context, actor, account domain.DirectoryEntry, change EntitlementChange) {
	for _, group := range change.Granted {
		m.record(ctx, actor, domain.AuditGrantEntitlement, account, group)
	}
	for _, group := range change.Revoked {
		m.record(ctx, actor, domain.AuditRevokeEntitlement, account, group)
	}
	if !change.IsEmpty() {
		m.logger.Info("Entitlements updated",
			zap.Uint32("account", account.ID),
			zap.Uint32("actor", actor.ID),
			zap.Int("granted", len(change.Granted)),
			zap.Int("revoked", len(change.Revoked)))
	}
}

// Grant makes requested the exact entitlement set of account.
func (m *EntitlementManager) Grant(ctx context.Context, actor, account domain.DirectoryEntry, requested []domain.DirectoryEntry) error {
	change, err := m.Plan(ctx, account, requested)
	if err != nil {
		return err
	}
	if err := m.Apply(ctx, account, change); err != nil {
		return err
	}
	m.Audit(ctx, actor, account, change)
	return nil
}

func (m *EntitlementManager) record(ctx context.Context, actor domain.DirectoryEntry, action domain.AuditAction, account, group domain.DirectoryEntry) {
	m.audit.Record(ctx, domain.AuditEvent{
		Actor:     actor,
		Action:    action,
		Target:    account,
		Subject:   m.name(group),
		Timestamp: m.now(),
	})
}

func (m *EntitlementManager) name(group domain.DirectoryEntry) string {
	if entry, ok := m.database.Lookup(group); ok && entry.Name != "" {
		return entry.Name
	}
	return group.Name
}
