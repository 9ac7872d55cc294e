// Package permissions derives account roles from the directory graph.
//
// Nothing here is cached: every answer is computed from the current graph,
// so a Resolver is safe for concurrent use without locking.
package permissions

import (
	"admin_service/internal/directory"
	"admin_service/internal/domain"
	"context"
	"fmt"
	"sort"
)

// Roots are the well-known directories the roles hang off.
type Roots struct {
	Administrators domain.DirectoryEntry
	Services       domain.DirectoryEntry
	TradingGroups  domain.DirectoryEntry
	Entitlements   domain.DirectoryEntry
}

// LoadOrCreateRoots resolves the well-known directories under root,
// creating any that are missing.
func LoadOrCreateRoots(ctx context.Context, dir directory.Directory, root domain.DirectoryEntry) (Roots, error) {
	var roots Roots
	targets := []struct {
		name  string
		entry *domain.DirectoryEntry
	}{
		{"administrators", &roots.Administrators},
		{"services", &roots.Services},
		{"trading_groups", &roots.TradingGroups},
		{"entitlements", &roots.Entitlements},
	}
	for _, target := range targets {
		entry, err := dir.LoadOrCreateDirectory(ctx, target.name, root)
		if err != nil {
			return roots, fmt.Errorf("load root directory %s: %w", target.name, err)
		}
		*target.entry = entry
	}
	return roots, nil
}

type Resolver struct {
	directory directory.Directory
	roots     Roots
}

func NewResolver(dir directory.Directory, roots Roots) *Resolver {
	return &Resolver{
		directory: dir,
		roots:     roots,
	}
}

func (r *Resolver) Roots() Roots {
	return r.roots
}

// RolesOf returns the roles account holds in its own right.
func (r *Resolver) RolesOf(ctx context.Context, account domain.DirectoryEntry) (domain.AccountRoles, error) {
	var roles domain.AccountRoles
	parents, err := r.directory.LoadParents(ctx, account)
	if err != nil {
		return roles, fmt.Errorf("load parents of %s: %w", account, err)
	}
	groups, err := r.tradingGroups(ctx)
	if err != nil {
		return roles, err
	}
	for _, parent := range parents {
		switch {
		case parent.Equal(r.roots.Administrators):
			roles.Set(domain.RoleAdministrator)
		case parent.Equal(r.roots.Services):
			roles.Set(domain.RoleService)
		case parent.Name == domain.TradersDirectoryName || parent.Name == domain.ManagersDirectoryName:
			group, err := r.groupOf(ctx, parent, groups)
			if err != nil {
				return roles, err
			}
			if group.IsZero() {
				continue
			}
			if parent.Name == domain.TradersDirectoryName {
				roles.Set(domain.RoleTrader)
			} else {
				roles.Set(domain.RoleManager)
			}
		}
	}
	return roles, nil
}

// RolesOver returns the roles parent holds over child.
func (r *Resolver) RolesOver(ctx context.Context, parent, child domain.DirectoryEntry) (domain.AccountRoles, error) {
	if parent.Equal(child) {
		return r.RolesOf(ctx, child)
	}
	var roles domain.AccountRoles
	isAdministrator, err := r.IsAdministrator(ctx, parent)
	if err != nil {
		return roles, err
	}
	if isAdministrator {
		roles.Set(domain.RoleAdministrator)
	}
	managed, err := r.ManagedTradingGroups(ctx, parent)
	if err != nil {
		return roles, err
	}
	for _, groupEntry := range managed {
		group, err := r.LoadTradingGroup(ctx, groupEntry)
		if err != nil {
			return roles, err
		}
		if domain.ContainsEntry(group.Managers, child) {
			roles.Set(domain.RoleManager)
		}
		// Trader membership of a managed group also yields MANAGER.
		if domain.ContainsEntry(group.Traders, child) {
			roles.Set(domain.RoleManager)
		}
	}
	return roles, nil
}

func (r *Resolver) IsAdministrator(ctx context.Context, account domain.DirectoryEntry) (bool, error) {
	parents, err := r.directory.LoadParents(ctx, account)
	if err != nil {
		return false, fmt.Errorf("load parents of %s: %w", account, err)
	}
	return domain.ContainsEntry(parents, r.roots.Administrators), nil
}

// ManagedTradingGroups lists the trading groups account manages.
// Administrators manage every trading group.
func (r *Resolver) ManagedTradingGroups(ctx context.Context, account domain.DirectoryEntry) ([]domain.DirectoryEntry, error) {
	groups, err := r.tradingGroups(ctx)
	if err != nil {
		return nil, err
	}
	isAdministrator, err := r.IsAdministrator(ctx, account)
	if err != nil {
		return nil, err
	}
	if isAdministrator {
		return groups, nil
	}
	parents, err := r.directory.LoadParents(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("load parents of %s: %w", account, err)
	}
	var managed []domain.DirectoryEntry
	for _, parent := range parents {
		if parent.Name != domain.ManagersDirectoryName {
			continue
		}
		group, err := r.groupOf(ctx, parent, groups)
		if err != nil {
			return nil, err
		}
		if !group.IsZero() && !domain.ContainsEntry(managed, group) {
			managed = append(managed, group)
		}
	}
	return managed, nil
}

// ReadPermission reports whether parent may read child's records.
func (r *Resolver) ReadPermission(ctx context.Context, parent, child domain.DirectoryEntry) (bool, error) {
	if parent.Equal(child) {
		return true, nil
	}
	isAdministrator, err := r.IsAdministrator(ctx, parent)
	if err != nil || isAdministrator {
		return isAdministrator, err
	}
	managed, err := r.ManagedTradingGroups(ctx, parent)
	if err != nil {
		return false, err
	}
	for _, groupEntry := range managed {
		group, err := r.LoadTradingGroup(ctx, groupEntry)
		if err != nil {
			return false, err
		}
		if domain.ContainsEntry(group.Managers, child) || domain.ContainsEntry(group.Traders, child) {
			return true, nil
		}
	}
	return false, nil
}

// ParentTradingGroup returns the trading group account trades or manages
// in, or the zero entry if there is none.
func (r *Resolver) ParentTradingGroup(ctx context.Context, account domain.DirectoryEntry) (domain.DirectoryEntry, error) {
	parents, err := r.directory.LoadParents(ctx, account)
	if err != nil {
		return domain.DirectoryEntry{}, fmt.Errorf("load parents of %s: %w", account, err)
	}
	groups, err := r.tradingGroups(ctx)
	if err != nil {
		return domain.DirectoryEntry{}, err
	}
	for _, name := range []string{domain.TradersDirectoryName, domain.ManagersDirectoryName} {
		for _, parent := range parents {
			if parent.Name != name {
				continue
			}
			group, err := r.groupOf(ctx, parent, groups)
			if err != nil {
				return domain.DirectoryEntry{}, err
			}
			if !group.IsZero() {
				return group, nil
			}
		}
	}
	return domain.DirectoryEntry{}, nil
}

func (r *Resolver) LoadTradingGroup(ctx context.Context, groupEntry domain.DirectoryEntry) (domain.TradingGroup, error) {
	group := domain.TradingGroup{Entry: groupEntry}
	children, err := r.directory.LoadChildren(ctx, groupEntry)
	if err != nil {
		return group, fmt.Errorf("load trading group %s: %w", groupEntry, err)
	}
	for _, child := range children {
		if !child.IsDirectory() {
			continue
		}
		switch child.Name {
		case domain.ManagersDirectoryName:
			group.ManagersDirectory = child
			if group.Managers, err = r.accountsIn(ctx, child); err != nil {
				return group, err
			}
		case domain.TradersDirectoryName:
			group.TradersDirectory = child
			if group.Traders, err = r.accountsIn(ctx, child); err != nil {
				return group, err
			}
		}
	}
	return group, nil
}

// LoadAccountsByRoles returns every account holding at least one of roles.
func (r *Resolver) LoadAccountsByRoles(ctx context.Context, roles domain.AccountRoles) ([]domain.DirectoryEntry, error) {
	var result []domain.DirectoryEntry
	add := func(entries []domain.DirectoryEntry) {
		for _, entry := range entries {
			if !domain.ContainsEntry(result, entry) {
				result = append(result, entry)
			}
		}
	}
	if roles.Test(domain.RoleAdministrator) {
		administrators, err := r.LoadAdministrators(ctx)
		if err != nil {
			return nil, err
		}
		add(administrators)
	}
	if roles.Test(domain.RoleService) {
		services, err := r.LoadServices(ctx)
		if err != nil {
			return nil, err
		}
		add(services)
	}
	if roles.Test(domain.RoleTrader) || roles.Test(domain.RoleManager) {
		groups, err := r.tradingGroups(ctx)
		if err != nil {
			return nil, err
		}
		for _, groupEntry := range groups {
			group, err := r.LoadTradingGroup(ctx, groupEntry)
			if err != nil {
				return nil, err
			}
			if roles.Test(domain.RoleTrader) {
				add(group.Traders)
			}
			if roles.Test(domain.RoleManager) {
				add(group.Managers)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *Resolver) LoadAdministrators(ctx context.Context) ([]domain.DirectoryEntry, error) {
	return r.accountsIn(ctx, r.roots.Administrators)
}

func (r *Resolver) LoadServices(ctx context.Context) ([]domain.DirectoryEntry, error) {
	return r.accountsIn(ctx, r.roots.Services)
}

func (r *Resolver) tradingGroups(ctx context.Context) ([]domain.DirectoryEntry, error) {
	children, err := r.directory.LoadChildren(ctx, r.roots.TradingGroups)
	if err != nil {
		return nil, fmt.Errorf("load trading groups: %w", err)
	}
	groups := children[:0:0]
	for _, child := range children {
		if child.IsDirectory() {
			groups = append(groups, child)
		}
	}
	return groups, nil
}

// groupOf returns the trading group subgroup belongs to, or the zero entry
// if its parent is not one of groups.
func (r *Resolver) groupOf(ctx context.Context, subgroup domain.DirectoryEntry, groups []domain.DirectoryEntry) (domain.DirectoryEntry, error) {
	grandparents, err := r.directory.LoadParents(ctx, subgroup)
	if err != nil {
		return domain.DirectoryEntry{}, fmt.Errorf("load parents of %s: %w", subgroup, err)
	}
	for _, grandparent := range grandparents {
		if domain.ContainsEntry(groups, grandparent) {
			return grandparent, nil
		}
	}
	return domain.DirectoryEntry{}, nil
}

func (r *Resolver) accountsIn(ctx context.Context, dir domain.DirectoryEntry) ([]domain.DirectoryEntry, error) {
	children, err := r.directory.LoadChildren(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("load children of %s: %w", dir, err)
	}
	accounts := children[:0:0]
	for _, child := range children {
		if child.IsAccount() {
			accounts = append(accounts, child)
		}
	}
	return accounts, nil
}
