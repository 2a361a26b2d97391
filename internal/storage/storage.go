// Package storage owns the users and attendance collections.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/soc-club/presensi/internal/kvstore"
	"github.com/soc-club/presensi/internal/models"
	"github.com/soc-club/presensi/internal/query"
	"github.com/soc-club/presensi/internal/table"
	"github.com/soc-club/presensi/internal/token"
)

// Keys in the key-value store.
const (
	UsersKey      = "soc_users"
	AttendanceKey = "soc_attendance"
	SessionKey    = "soc_session"
)

var (
	// ErrDuplicateNISN is returned when a member NISN is already registered.
	ErrDuplicateNISN = errors.New("nisn already exists")
	// ErrDuplicateEmail is returned when an admin email is already registered.
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrDuplicateToken is returned when a member token is already in use.
	ErrDuplicateToken = errors.New("token already in use")
	// ErrDuplicateAttendance is returned when a user already has a record for
	// the day.
	ErrDuplicateAttendance = errors.New("attendance already recorded for this day")
)

// Options configures Open.
type Options struct {
	// Seed initializes collections that hold no value yet. Nil means
	// DefaultSeed.
	Seed *Seed
	// Latency is waited before every query.
	Latency time.Duration
	// BcryptCost hashes seed passwords. Zero means bcrypt.DefaultCost.
	BcryptCost int
}

// Store holds the two collections and the key-value store they live in.
type Store struct {
	KV         *kvstore.Store
	Users      *query.Collection[*models.User]
	Attendance *query.Collection[*models.AttendanceRecord]
}

// Open loads both collections from kv, seeding them on first use.
//
// The seed is built only when the users collection is absent. Seed attendance
// refers to seed users, so it is skipped when users were loaded from kv.
func Open(ctx context.Context, kv *kvstore.Store, opts Options) (*Store, error) {
	seed := opts.Seed
	if seed == nil {
		seed = DefaultSeed()
	}
	var records []*models.AttendanceRecord
	ut, err := table.Open(ctx, kv, UsersKey, func() ([]*models.User, error) {
		users, r, err := seed.Build(opts.BcryptCost)
		records = r
		return users, err
	})
	if err != nil {
		return nil, err
	}
	at, err := table.Open(ctx, kv, AttendanceKey, func() ([]*models.AttendanceRecord, error) {
		if records == nil {
			slog.WarnContext(ctx, "storage: attendance missing, starting empty", "key", AttendanceKey)
		}
		return records, nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{
		KV: kv,
		Users: &query.Collection[*models.User]{
			Name:      "users",
			Noun:      "user",
			Columns:   []string{"id", "full_name", "role", "email", "nisn", "token", "field"},
			Latency:   opts.Latency,
			Prepare:   prepareUser,
			Check:     checkUser,
			Deletable: true,
			Table:     ut,
		},
		Attendance: &query.Collection[*models.AttendanceRecord]{
			Name:    "attendance",
			Noun:    "record",
			Columns: []string{"id", "user_id", "full_name", "role", "field", "date", "status", "time_in", "time_out"},
			Latency: opts.Latency,
			Prepare: prepareAttendance,
			Check:   prepareAttendance,
			Table:   at,
		},
	}, nil
}

// prepareUser defaults a new user to a Member with a fresh token and rejects
// credentials that collide with existing users.
func prepareUser(u *models.User, existing []*models.User) error {
	if u.Account == nil {
		u.Account = &models.MemberAccount{}
	}
	switch a := u.Account.(type) {
	case *models.MemberAccount:
		a.NISN = strings.TrimSpace(a.NISN)
		if a.Field == "" {
			a.Field = models.DefaultField
		}
		if a.Token == "" {
			t, err := token.GenerateUnique(func(s string) bool { return tokenTaken(existing, s) })
			if err != nil {
				return err
			}
			a.Token = t
		}
	case *models.AdminAccount:
		a.Email = strings.TrimSpace(a.Email)
	}
	return checkUser(u, existing)
}

// checkUser rejects a user whose email, NISN or token is used by another.
// Emails compare case-insensitively.
func checkUser(u *models.User, others []*models.User) error {
	switch a := u.Account.(type) {
	case *models.MemberAccount:
		for _, e := range others {
			if m := e.Member(); m != nil && m.NISN == a.NISN {
				return fmt.Errorf("%w: %s", ErrDuplicateNISN, a.NISN)
			}
		}
		if tokenTaken(others, a.Token) {
			return ErrDuplicateToken
		}
	case *models.AdminAccount:
		for _, e := range others {
			if adm := e.Admin(); adm != nil && strings.EqualFold(adm.Email, a.Email) {
				return fmt.Errorf("%w: %s", ErrDuplicateEmail, a.Email)
			}
		}
	}
	return nil
}

// prepareAttendance enforces one record per user per day.
func prepareAttendance(r *models.AttendanceRecord, existing []*models.AttendanceRecord) error {
	for _, e := range existing {
		if e.UserID == r.UserID && e.Date == r.Date {
			return fmt.Errorf("%w: %s", ErrDuplicateAttendance, r.Date)
		}
	}
	return nil
}

func tokenTaken(users []*models.User, t string) bool {
	for _, u := range users {
		if m := u.Member(); m != nil && m.Token == t {
			return true
		}
	}
	return false
}

// TokenTaken reports whether any member in the collection uses t.
func (s *Store) TokenTaken(t string) bool {
	return len(s.Users.Table.Select(func(u *models.User) bool {
		m := u.Member()
		return m != nil && m.Token == t
	})) != 0
}
