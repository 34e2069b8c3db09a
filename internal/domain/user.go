package domain

import (
	"fmt"
	"time"
)

// Role is the closed set of user roles. Access is decided through Capabilities,
// never by comparing role names at call sites.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleFinance  Role = "finance"
	RoleAdmin    Role = "admin"
	// RoleSystem marks audit entries written by background transitions.
	RoleSystem Role = "system"
)

// Capability is a single permission checked by the workflow services.
type Capability string

const (
	CapRequestTravel     Capability = "travel:request"
	CapApproveTravel     Capability = "travel:approve"
	CapViewAllTravel     Capability = "travel:view_all"
	CapSubmitExpense     Capability = "expense:submit"
	CapReviewExpense     Capability = "expense:review"
	CapCreateBooking     Capability = "booking:create"
	CapManagePolicy      Capability = "policy:manage"
	CapViewInventory     Capability = "inventory:view"
	CapReadNotifications Capability = "notification:read"
	CapManageKeys        Capability = "auth:manage_keys"
	CapManageUsers       Capability = "user:manage"
)

var baseCapabilities = []Capability{
	CapRequestTravel,
	CapSubmitExpense,
	CapCreateBooking,
	CapViewInventory,
	CapReadNotifications,
}

var roleCapabilities = map[Role][]Capability{
	RoleEmployee: baseCapabilities,
	RoleManager:  append(append([]Capability{}, baseCapabilities...), CapApproveTravel),
	RoleFinance:  append(append([]Capability{}, baseCapabilities...), CapReviewExpense, CapViewAllTravel),
	RoleAdmin: append(append([]Capability{}, baseCapabilities...),
		CapApproveTravel, CapViewAllTravel, CapReviewExpense, CapManagePolicy, CapManageKeys, CapManageUsers),
}

// Roles returns every assignable role.
func Roles() []Role {
	return []Role{RoleEmployee, RoleManager, RoleFinance, RoleAdmin}
}

func ParseRole(s string) (Role, error) {
	for _, r := range Roles() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Capabilities returns a copy of the role's capability set.
func (r Role) Capabilities() []Capability {
	return append([]Capability(nil), roleCapabilities[r]...)
}

// Can reports whether the role grants the capability.
func (r Role) Can(c Capability) bool {
	for _, granted := range roleCapabilities[r] {
		if granted == c {
			return true
		}
	}
	return false
}

// RolesWith lists the roles granting c, in declaration order.
func RolesWith(c Capability) []Role {
	var out []Role
	for _, r := range Roles() {
		if r.Can(c) {
			out = append(out, r)
		}
	}
	return out
}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// Actor is the authenticated caller of a workflow operation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

func (a Actor) Can(c Capability) bool {
	return a.Role.Can(c)
}

func ActorFromUser(u User) Actor {
	return Actor{ID: u.ID, Name: u.Name, Role: u.Role}
}
