package types

import (
	"fmt"
	"slices"
)

// Privilege is a named capability granted to a user.
type Privilege string

const (
	PrivilegeAdmin      Privilege = "admin"
	PrivilegeFinanzorga Privilege = "finanzorga"
	PrivilegeCashier    Privilege = "cashier"
)

var knownPrivileges = []Privilege{PrivilegeAdmin, PrivilegeFinanzorga, PrivilegeCashier}

// ParsePrivilege converts a stored or submitted value into a Privilege.
func ParsePrivilege(value string) (Privilege, error) {
	p := Privilege(value)
	if !slices.Contains(knownPrivileges, p) {
		return "", fmt.Errorf("unknown privilege %q", value)
	}
	return p, nil
}

// Privileges is an unordered set of privileges. Duplicates are dropped by
// Normalize before anything is persisted.
type Privileges []Privilege

// Has reports whether p is part of the set.
func (ps Privileges) Has(p Privilege) bool {
	return slices.Contains(ps, p)
}

// HasAny reports whether at least one of required is part of the set.
func (ps Privileges) HasAny(required ...Privilege) bool {
	for _, p := range required {
		if ps.Has(p) {
			return true
		}
	}
	return false
}

// Normalize returns a sorted copy without duplicates.
func (ps Privileges) Normalize() Privileges {
	out := slices.Clone(ps)
	slices.Sort(out)
	return slices.Compact(out)
}

// Equal compares two privilege sets ignoring order and duplicates.
func (ps Privileges) Equal(other Privileges) bool {
	return slices.Equal(ps.Normalize(), other.Normalize())
}

// UserWithoutID carries every mutable user field. It is the input of
// create and update, which replace all of these fields at once.
type UserWithoutID struct {
	// Name is the display name. Login resolves users by it.
	Name string `json:"name" validate:"required"`

	Description *string `json:"description,omitempty"`

	// UserTagID references the physical tag bound to this user.
	UserTagID *int64 `json:"user_tag_id,omitempty"`

	// TransportAccountID is set together with the finanzorga privilege.
	TransportAccountID *int64 `json:"transport_account_id,omitempty"`

	// CashierAccountID is set together with the cashier privilege.
	CashierAccountID *int64 `json:"cashier_account_id,omitempty"`

	Privileges Privileges `json:"privileges"`
}

// User is the hydrated view of a user row joined with its privileges.
type User struct {
	ID int64 `json:"id"`
	UserWithoutID
}

// WithoutID returns a copy of the mutable fields, privileges included.
func (u User) WithoutID() UserWithoutID {
	out := u.UserWithoutID
	out.Privileges = slices.Clone(u.Privileges)
	return out
}

// NewUser is what a terminal submits when a user is created from a tag scan.
type NewUser struct {
	Name    string `json:"name" validate:"required"`
	UserTag int64  `json:"user_tag" validate:"required"`
}

// UserCredentials pairs a user with its stored password digest.
// The digest is empty for tag-only users.
type UserCredentials struct {
	User           User
	HashedPassword string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}
