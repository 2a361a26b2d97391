package storage

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/maruel/ksid"
	"github.com/soc-club/presensi/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Seed is the initial content of a fresh store.
type Seed struct {
	Users      []SeedUser       `yaml:"users"`
	Attendance []SeedAttendance `yaml:"attendance"`
}

// SeedUser describes one seeded user. Admins set Email and Password, members
// set NISN and Token.
type SeedUser struct {
	FullName string      `yaml:"full_name"`
	Role     models.Role `yaml:"role"`
	Email    string      `yaml:"email,omitempty"`
	Password string      `yaml:"password,omitempty"`
	NISN     string      `yaml:"nisn,omitempty"`
	Token    string      `yaml:"token,omitempty"`
	Field    string      `yaml:"field,omitempty"`
}

// SeedAttendance describes one seeded record. User is the email or NISN of a
// seeded user.
type SeedAttendance struct {
	User    string        `yaml:"user"`
	Date    string        `yaml:"date"`
	TimeIn  *time.Time    `yaml:"time_in,omitempty"`
	TimeOut *time.Time    `yaml:"time_out,omitempty"`
	Status  models.Status `yaml:"status"`
}

// DefaultSeed returns the built-in demo data: one admin, three members and a
// few attendance records.
func DefaultSeed() *Seed {
	ts := func(s string) *time.Time {
		t, _ := time.Parse(time.RFC3339, s)
		return &t
	}
	return &Seed{
		Users: []SeedUser{
			{FullName: "SOC Coordinator", Role: models.RoleAdmin, Email: "admin@soc.com", Password: "password"},
			{FullName: "Ahmad Fadhil", Role: models.RoleMember, NISN: "1001", Token: "ABC12345", Field: "Fisika"},
			{FullName: "Budi Santoso", Role: models.RoleMember, NISN: "1002", Token: "BCD23456", Field: "Matematika"},
			{FullName: "Citra Lestari", Role: models.RoleMember, NISN: "1003", Token: "CDE34567", Field: "Kimia"},
		},
		Attendance: []SeedAttendance{
			{User: "1001", Date: "2023-10-26", TimeIn: ts("2023-10-26T09:05:12Z"), TimeOut: ts("2023-10-26T17:01:30Z"), Status: models.StatusCheckedOut},
			{User: "1002", Date: "2023-10-26", TimeIn: ts("2023-10-26T09:01:45Z"), Status: models.StatusPresent},
			{User: "1003", Date: "2023-10-25", Status: models.StatusAbsent},
		},
	}
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the -seed flag, not user input
	if err != nil {
		return nil, fmt.Errorf("failed to read seed: %w", err)
	}
	s := &Seed{}
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("failed to parse seed %s: %w", path, err)
	}
	return s, nil
}

// Build converts the seed to rows with fresh IDs, hashing admin passwords at
// the given bcrypt cost.
func (s *Seed) Build(cost int) ([]*models.User, []*models.AttendanceRecord, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	users := make([]*models.User, 0, len(s.Users))
	byKey := map[string]*models.User{}
	for i, su := range s.Users {
		u := &models.User{ID: ksid.NewID(), FullName: su.FullName}
		switch su.Role {
		case models.RoleAdmin:
			hash, err := bcrypt.GenerateFromPassword([]byte(su.Password), cost)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to hash password: %w", err)
			}
			u.Account = &models.AdminAccount{Email: su.Email, PasswordHash: string(hash)}
			byKey[strings.ToLower(su.Email)] = u
		case models.RoleMember, "":
			f := models.DefaultField
			if su.Field != "" {
				var err error
				if f, err = models.ParseField(su.Field); err != nil {
					return nil, nil, fmt.Errorf("seed user %d: %w", i, err)
				}
			}
			u.Account = &models.MemberAccount{NISN: su.NISN, Token: su.Token, Field: f}
			byKey[su.NISN] = u
		default:
			return nil, nil, fmt.Errorf("seed user %d: %w: %q", i, models.ErrInvalidRole, su.Role)
		}
		if err := u.Validate(); err != nil {
			return nil, nil, fmt.Errorf("seed user %d: %w", i, err)
		}
		users = append(users, u)
	}
	records := make([]*models.AttendanceRecord, 0, len(s.Attendance))
	for i, sa := range s.Attendance {
		u := byKey[sa.User]
		if u == nil {
			u = byKey[strings.ToLower(sa.User)]
		}
		if u == nil {
			return nil, nil, fmt.Errorf("seed attendance %d: unknown user %q", i, sa.User)
		}
		r := &models.AttendanceRecord{
			ID:       ksid.NewID(),
			UserID:   u.ID,
			FullName: u.FullName,
			Role:     u.Role(),
			Date:     models.Date(sa.Date),
			TimeIn:   sa.TimeIn,
			TimeOut:  sa.TimeOut,
			Status:   sa.Status,
		}
		if m := u.Member(); m != nil {
			r.Field = m.Field
		}
		if err := r.Validate(); err != nil {
			return nil, nil, fmt.Errorf("seed attendance %d: %w", i, err)
		}
		records = append(records, r)
	}
	return users, records, nil
}
