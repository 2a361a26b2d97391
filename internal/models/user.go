package models

import (
	"encoding/json"
	"fmt"

	"github.com/maruel/ksid"
)

// User is a club account. Exactly one of Admin and Member is set, selected
// by the account kind.
type User struct {
	ID       ksid.ID
	FullName string
	Account  Account
}

// Account holds the role specific credentials of a User.
type Account interface {
	Role() Role
	clone() Account
	validate() error
}

// AdminAccount logs in with email and password.
type AdminAccount struct {
	Email        string
	PasswordHash string
}

// Role implements Account.
func (*AdminAccount) Role() Role { return RoleAdmin }

func (a *AdminAccount) clone() Account {
	c := *a
	return &c
}

func (a *AdminAccount) validate() error {
	if a.Email == "" {
		return errEmailRequired
	}
	return nil
}

// MemberAccount logs in with NISN and an access token.
type MemberAccount struct {
	NISN  string
	Token string
	Field Field
}

// Role implements Account.
func (*MemberAccount) Role() Role { return RoleMember }

func (m *MemberAccount) clone() Account {
	c := *m
	return &c
}

func (m *MemberAccount) validate() error {
	if m.NISN == "" {
		return errNISNRequired
	}
	if m.Token == "" {
		return errTokenRequired
	}
	if !m.Field.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidField, m.Field)
	}
	return nil
}

// Role returns the account role, or an empty Role when no account is set.
func (u *User) Role() Role {
	if u.Account == nil {
		return ""
	}
	return u.Account.Role()
}

// Admin returns the admin credentials, or nil for members.
func (u *User) Admin() *AdminAccount {
	a, _ := u.Account.(*AdminAccount)
	return a
}

// Member returns the member credentials, or nil for admins.
func (u *User) Member() *MemberAccount {
	m, _ := u.Account.(*MemberAccount)
	return m
}

// IsAdmin reports whether u is an administrator.
func (u *User) IsAdmin() bool {
	return u.Admin() != nil
}

// Clone returns a deep copy of the user.
func (u *User) Clone() *User {
	c := *u
	if u.Account != nil {
		c.Account = u.Account.clone()
	}
	return &c
}

// GetID returns the user's ID.
func (u *User) GetID() ksid.ID {
	return u.ID
}

// SetID assigns the user's ID.
func (u *User) SetID(id ksid.ID) {
	u.ID = id
}

// Validate checks that the user is internally consistent.
func (u *User) Validate() error {
	if u.ID.IsZero() {
		return errIDRequired
	}
	if u.FullName == "" {
		return errNameRequired
	}
	if u.Account == nil {
		return errNoAccount
	}
	return u.Account.validate()
}

// Public returns a copy safe to hand to clients: the password hash is
// stripped.
func (u *User) Public() *User {
	c := u.Clone()
	if a := c.Admin(); a != nil {
		a.PasswordHash = ""
	}
	return c
}

// Column returns the string value of a named column, as used by equality
// filters. ok is false for columns a user does not have.
func (u *User) Column(name string) (string, bool) {
	switch name {
	case "id":
		return u.ID.String(), true
	case "full_name":
		return u.FullName, true
	case "role":
		return string(u.Role()), true
	case "email":
		if a := u.Admin(); a != nil {
			return a.Email, true
		}
		return "", true
	case "nisn":
		if m := u.Member(); m != nil {
			return m.NISN, true
		}
		return "", true
	case "token":
		if m := u.Member(); m != nil {
			return m.Token, true
		}
		return "", true
	case "field":
		if m := u.Member(); m != nil {
			return string(m.Field), true
		}
		return "", true
	}
	return "", false
}

// userWire is the flat persisted and wire form of a User.
type userWire struct {
	ID           ksid.ID `json:"id,omitzero"`
	FullName     string  `json:"full_name"`
	Role         Role    `json:"role"`
	Email        string  `json:"email,omitempty"`
	PasswordHash string  `json:"password_hash,omitempty"`
	NISN         string  `json:"nisn,omitempty"`
	Token        string  `json:"token,omitempty"`
	Field        Field   `json:"field,omitempty"`
}

// MarshalJSON flattens the account into the user object.
func (u *User) MarshalJSON() ([]byte, error) {
	w := userWire{ID: u.ID, FullName: u.FullName, Role: u.Role()}
	switch a := u.Account.(type) {
	case *AdminAccount:
		w.Email = a.Email
		w.PasswordHash = a.PasswordHash
	case *MemberAccount:
		w.NISN = a.NISN
		w.Token = a.Token
		w.Field = a.Field
	}
	return json.Marshal(&w)
}

// UnmarshalJSON rebuilds the account from the role column. A missing role
// means Member.
func (u *User) UnmarshalJSON(data []byte) error {
	var w userWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	u.ID = w.ID
	u.FullName = w.FullName
	switch w.Role {
	case RoleAdmin:
		u.Account = &AdminAccount{Email: w.Email, PasswordHash: w.PasswordHash}
	case RoleMember, "":
		u.Account = &MemberAccount{NISN: w.NISN, Token: w.Token, Field: w.Field}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, w.Role)
	}
	return nil
}

// UserPatch lists the user columns an update may change. Nil fields are left
// untouched.
type UserPatch struct {
	FullName *string `json:"full_name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Field    *Field  `json:"field,omitempty"`
}

// Apply merges the patch into u.
func (p *UserPatch) Apply(u *User) error {
	if p.Email != nil {
		a := u.Admin()
		if a == nil {
			return errAdminOnly
		}
		a.Email = *p.Email
	}
	if p.Field != nil {
		m := u.Member()
		if m == nil {
			return errMemberOnly
		}
		if !p.Field.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidField, *p.Field)
		}
		m.Field = *p.Field
	}
	if p.FullName != nil {
		u.FullName = *p.FullName
	}
	return nil
}

// Empty reports whether the patch changes nothing.
func (p *UserPatch) Empty() bool {
	return p.FullName == nil && p.Email == nil && p.Field == nil
}
