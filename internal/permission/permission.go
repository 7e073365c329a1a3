// Package permission holds the static role/menu/action table that decides
// which dashboard menus and controls a role may use.
//
// The table is built once at package initialisation and never mutated, so
// every query is safe for concurrent use without locking. It is a UI
// convenience and a server-side guard for this service only; the payments
// backend enforces its own authorization.
package permission

import "strings"

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleStaff      Role = "staff"
	RoleClient     Role = "client"
	RoleVisitor    Role = "visitor"
)

type Menu string

const (
	MenuBusiness Menu = "BUSINESS"
)

type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionBlock  Action = "block"
)

var (
	roles   = []Role{RoleSuperAdmin, RoleStaff, RoleClient, RoleVisitor}
	menus   = []Menu{MenuBusiness}
	actions = []Action{ActionView, ActionCreate, ActionEdit, ActionDelete, ActionBlock}
)

// table must have an entry for every declared role, even when empty.
var table = map[Role]map[Menu][]Action{
	RoleSuperAdmin: {
		MenuBusiness: {ActionView, ActionCreate, ActionEdit, ActionDelete, ActionBlock},
	},
	RoleStaff: {
		MenuBusiness: {ActionView, ActionCreate, ActionEdit, ActionBlock},
	},
	RoleClient: {
		MenuBusiness: {ActionView},
	},
	RoleVisitor: {},
}

// RoleFromFlags derives the role of an authenticated principal. The
// superuser flag wins over the staff flag.
func RoleFromFlags(isSuperuser, isStaff bool) Role {
	switch {
	case isSuperuser:
		return RoleSuperAdmin
	case isStaff:
		return RoleStaff
	default:
		return RoleClient
	}
}

// HasPermission reports whether role may perform action under menu.
// Unknown roles, menus and actions are denied.
func HasPermission(role Role, menu Menu, action Action) bool {
	for _, a := range table[role][menu] {
		if a == action {
			return true
		}
	}
	return false
}

// PermittedActions returns a copy of the actions role may perform under
// menu, in declaration order. It is empty when the role has no entry for
// the menu.
func PermittedActions(role Role, menu Menu) []Action {
	granted := table[role][menu]
	out := make([]Action, len(granted))
	copy(out, granted)
	return out
}

// CanAccessMenu reports whether at least one action under menu is granted.
func CanAccessMenu(role Role, menu Menu) bool {
	return len(PermittedActions(role, menu)) > 0
}

// Menus lists the menus visible to role, in declaration order.
func Menus(role Role) []Menu {
	out := make([]Menu, 0, len(menus))
	for _, m := range menus {
		if CanAccessMenu(role, m) {
			out = append(out, m)
		}
	}
	return out
}

func Roles() []Role {
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

func AllMenus() []Menu {
	out := make([]Menu, len(menus))
	copy(out, menus)
	return out
}

func AllActions() []Action {
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	_, ok := table[r]
	return r, ok
}

func ParseMenu(s string) (Menu, bool) {
	m := Menu(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range menus {
		if known == m {
			return m, true
		}
	}
	return m, false
}

func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range actions {
		if known == a {
			return a, true
		}
	}
	return a, false
}
