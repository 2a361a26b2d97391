// Package auth verifies credentials, persists the login session and manages
// member accounts.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/soc-club/presensi/internal/kvstore"
	"github.com/soc-club/presensi/internal/models"
	"github.com/soc-club/presensi/internal/query"
	"github.com/soc-club/presensi/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

// User facing errors. Credential errors never tell which field was wrong.
var (
	ErrInvalidAdminCredentials  = errors.New("Invalid admin credentials") //nolint:staticcheck // shown verbatim
	ErrInvalidMemberCredentials = errors.New("NISN atau Token salah")     //nolint:staticcheck // shown verbatim
	ErrUserExists               = errors.New("User with this NISN already exists")
	ErrUserNotFound             = errors.New("user not found")
	ErrNotMember                = errors.New("user is not a member")
	ErrTokenNotFound            = errors.New("Data tidak ditemukan. Silakan hubungi admin SOC.") //nolint:staticcheck // shown verbatim
)

// dummyHash is compared against when no admin matches so that a missing
// account costs as much as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy"), bcrypt.MinCost)

// Manager authenticates users against the users collection and keeps the
// current session in the key-value store.
type Manager struct {
	store   *storage.Store
	latency time.Duration
	now     func() time.Time
}

// NewManager returns a Manager over s. latency is waited before every session
// read or write.
func NewManager(s *storage.Store, latency time.Duration) *Manager {
	return &Manager{store: s, latency: latency, now: time.Now}
}

// Session returns the current session, or nil when nobody is logged in.
//
// It never fails: an unreadable or corrupt session reads as no session.
func (m *Manager) Session(ctx context.Context) *models.Session {
	if err := query.Wait(ctx, m.latency); err != nil {
		return nil
	}
	s := kvstore.Get[*models.Session](ctx, m.store.KV, storage.SessionKey, nil)
	if s == nil || s.User == nil {
		return nil
	}
	return s
}

// CurrentUser returns the user of the current session, or nil.
func (m *Manager) CurrentUser(ctx context.Context) *models.User {
	if s := m.Session(ctx); s != nil {
		return s.User
	}
	return nil
}

// VerifyAdmin checks an admin email and password without touching the
// session.
func (m *Manager) VerifyAdmin(ctx context.Context, email, password string) (*models.User, error) {
	rows, err := m.store.Users.From().
		Eq("role", string(models.RoleAdmin)).
		Eq("email", email).
		Execute(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range rows {
		if bcrypt.CompareHashAndPassword([]byte(u.Admin().PasswordHash), []byte(password)) == nil {
			return u.Public(), nil
		}
	}
	if len(rows) == 0 {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
	}
	return nil, ErrInvalidAdminCredentials
}

// VerifyMember checks a member NISN and token without touching the session.
func (m *Manager) VerifyMember(ctx context.Context, nisn, tok string) (*models.User, error) {
	if nisn == "" || tok == "" {
		return nil, ErrInvalidMemberCredentials
	}
	u, err := m.store.Users.From().
		Eq("role", string(models.RoleMember)).
		Eq("nisn", nisn).
		Eq("token", tok).
		One(ctx)
	if errors.Is(err, query.ErrMultipleRows) {
		return nil, ErrInvalidMemberCredentials
	}
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrInvalidMemberCredentials
	}
	return u, nil
}

// LoginAdmin verifies admin credentials and starts a session.
func (m *Manager) LoginAdmin(ctx context.Context, email, password string) (*models.User, error) {
	u, err := m.VerifyAdmin(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return u, m.begin(ctx, u)
}

// LoginMember verifies member credentials and starts a session.
func (m *Manager) LoginMember(ctx context.Context, nisn, tok string) (*models.User, error) {
	u, err := m.VerifyMember(ctx, nisn, tok)
	if err != nil {
		return nil, err
	}
	return u, m.begin(ctx, u)
}

// Logout clears the session. It always succeeds; a failure to remove the
// stored session is logged.
func (m *Manager) Logout(ctx context.Context) {
	_ = query.Wait(ctx, m.latency)
	if err := m.store.KV.Remove(context.WithoutCancel(ctx), storage.SessionKey); err != nil {
		slog.WarnContext(ctx, "auth: failed to clear session", "err", err)
	}
}

func (m *Manager) begin(ctx context.Context, u *models.User) error {
	if err := query.Wait(ctx, m.latency); err != nil {
		return err
	}
	s := &models.Session{ID: uuid.NewString(), User: u, Created: m.now().UTC()}
	if err := m.store.KV.Set(ctx, storage.SessionKey, s); err != nil {
		return err
	}
	slog.InfoContext(ctx, "auth: session started", "user", u.ID, "role", u.Role())
	return nil
}
