package domain

import (
	"strings"
)

type AccountRole uint8

const (
	RoleTrader AccountRole = iota
	RoleManager
	RoleService
	RoleAdministrator
)

var roleNames = [...]string{"TRADER", "MANAGER", "SERVICE", "ADMINISTRATOR"}

func (r AccountRole) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return "UNKNOWN"
}

// AccountRoles is a set of AccountRole values. Roles are derived from the
// directory graph on every query and never stored.
type AccountRoles uint8

func MakeRoles(roles ...AccountRole) AccountRoles {
	var set AccountRoles
	for _, role := range roles {
		set = set.With(role)
	}
	return set
}

func (r AccountRoles) Test(role AccountRole) bool {
	return r&(1<<role) != 0
}

func (r AccountRoles) With(role AccountRole) AccountRoles {
	return r | (1 << role)
}

func (r *AccountRoles) Set(role AccountRole) {
	*r = r.With(role)
}

func (r AccountRoles) IsEmpty() bool {
	return r == 0
}

// List returns the roles in the set in ascending order.
func (r AccountRoles) List() []AccountRole {
	var roles []AccountRole
	for role := RoleTrader; role <= RoleAdministrator; role++ {
		if r.Test(role) {
			roles = append(roles, role)
		}
	}
	return roles
}

func (r AccountRoles) String() string {
	roles := r.List()
	if len(roles) == 0 {
		return "NONE"
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.String())
	}
	return strings.Join(names, "|")
}
