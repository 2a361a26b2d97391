package auth

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/maruel/ksid"
	"github.com/soc-club/presensi/internal/models"
	"github.com/soc-club/presensi/internal/query"
	"github.com/soc-club/presensi/internal/storage"
	"github.com/soc-club/presensi/internal/token"
	"golang.org/x/crypto/bcrypt"
)

// NewMember is the input to CreateUser.
type NewMember struct {
	FullName string
	NISN     string
	// Field defaults to models.DefaultField.
	Field models.Field
}

// CreateUser registers a member with a freshly generated token. The returned
// user carries the token so it can be handed to the member.
func (m *Manager) CreateUser(ctx context.Context, in NewMember) (*models.User, error) {
	u := &models.User{
		FullName: strings.TrimSpace(in.FullName),
		Account:  &models.MemberAccount{NISN: strings.TrimSpace(in.NISN), Field: in.Field},
	}
	added, err := m.store.Users.From().Insert(ctx, u)
	if errors.Is(err, storage.ErrDuplicateNISN) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, err
	}
	return added[0], nil
}

// CreateAdmin registers an administrator with a bcrypt hashed password.
func (m *Manager) CreateAdmin(ctx context.Context, fullName, email, password string) (*models.User, error) {
	if password == "" {
		return nil, errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	u := &models.User{
		FullName: strings.TrimSpace(fullName),
		Account:  &models.AdminAccount{Email: email, PasswordHash: string(hash)},
	}
	added, err := m.store.Users.From().Insert(ctx, u)
	if err != nil {
		return nil, err
	}
	return added[0].Public(), nil
}

// GetUser returns the user with the given id.
func (m *Manager) GetUser(ctx context.Context, id ksid.ID) (*models.User, error) {
	u, err := m.store.Users.From().Eq("id", id.String()).One(ctx)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u.Public(), nil
}

// ListUsers returns users sorted by name. A non-empty search keeps users whose
// name, email or NISN contains it, ignoring case.
func (m *Manager) ListUsers(ctx context.Context, search string) ([]*models.User, error) {
	rows, err := m.store.Users.From().Select("*").Order("full_name", true).Execute(ctx)
	if err != nil {
		return nil, err
	}
	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]*models.User, 0, len(rows))
	for _, u := range rows {
		if search != "" && !userMatches(u, search) {
			continue
		}
		out = append(out, u.Public())
	}
	slices.SortStableFunc(out, func(a, b *models.User) int {
		return cmp.Compare(strings.ToLower(a.FullName), strings.ToLower(b.FullName))
	})
	return out, nil
}

func userMatches(u *models.User, search string) bool {
	for _, col := range []string{"full_name", "email", "nisn"} {
		if v, _ := u.Column(col); strings.Contains(strings.ToLower(v), search) {
			return true
		}
	}
	return false
}

// UpdateUser applies p to the user with the given id.
func (m *Manager) UpdateUser(ctx context.Context, id ksid.ID, p *models.UserPatch) (*models.User, error) {
	if p.FullName != nil {
		name := strings.TrimSpace(*p.FullName)
		p.FullName = &name
	}
	if p.Email != nil {
		email := strings.TrimSpace(*p.Email)
		p.Email = &email
	}
	rows, err := m.store.Users.From().Eq("id", id.String()).Update(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrUserNotFound
	}
	return rows[0].Public(), nil
}

// DeleteUser removes the user with the given id. Attendance records keep
// their copy of the user's name.
func (m *Manager) DeleteUser(ctx context.Context, id ksid.ID) (query.DeleteResult, error) {
	return m.store.Users.From().Eq("id", id.String()).Delete(ctx)
}

// RegenerateToken replaces a member's token with a fresh one.
func (m *Manager) RegenerateToken(ctx context.Context, id ksid.ID) (*models.User, error) {
	t, err := token.GenerateUnique(m.store.TokenTaken)
	if err != nil {
		return nil, err
	}
	rows, err := m.store.Users.From().Eq("id", id.String()).Modify(ctx, func(u *models.User) error {
		mem := u.Member()
		if mem == nil {
			return ErrNotMember
		}
		mem.Token = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrUserNotFound
	}
	return rows[0], nil
}

// LookupToken returns the token of the member with the given NISN.
func (m *Manager) LookupToken(ctx context.Context, nisn string) (*models.User, error) {
	nisn = strings.TrimSpace(nisn)
	if nisn == "" {
		return nil, ErrTokenNotFound
	}
	u, err := m.store.Users.From().
		Select("full_name", "nisn", "token", "field").
		Eq("role", string(models.RoleMember)).
		Eq("nisn", nisn).
		One(ctx)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrTokenNotFound
	}
	return u, nil
}

// FieldCount is the number of members in one field.
type FieldCount struct {
	Field models.Field `json:"field"`
	Count int          `json:"count"`
}

// FieldSummary counts members per field, in models.Fields order, including
// empty fields.
func (m *Manager) FieldSummary(ctx context.Context) ([]FieldCount, error) {
	rows, err := m.store.Users.From().Eq("role", string(models.RoleMember)).Execute(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[models.Field]int{}
	for _, u := range rows {
		counts[u.Member().Field]++
	}
	out := make([]FieldCount, len(models.Fields))
	for i, f := range models.Fields {
		out[i] = FieldCount{Field: f, Count: counts[f]}
	}
	return out, nil
}
