package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/soc-club/presensi/internal/kvstore"
	"github.com/soc-club/presensi/internal/models"
	"github.com/soc-club/presensi/internal/token"
	"golang.org/x/crypto/bcrypt"
)

func openStore(t *testing.T, kv *kvstore.Store) *Store {
	t.Helper()
	s, err := Open(t.Context(), kv, Options{BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestOpen(t *testing.T) {
	ctx := t.Context()
	b, err := kvstore.NewDirBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	kv := kvstore.New(b)
	s := openStore(t, kv)
	if n := s.Users.Table.Len(); n != 4 {
		t.Fatalf("users = %d, want 4", n)
	}
	if n := s.Attendance.Table.Len(); n != 3 {
		t.Fatalf("attendance = %d, want 3", n)
	}
	admin, err := s.Users.From().Eq("email", "admin@soc.com").One(ctx)
	if err != nil || admin == nil {
		t.Fatalf("admin = %v, %v", admin, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.Admin().PasswordHash), []byte("password")) != nil {
		t.Error("seed admin password should be hashed")
	}

	// A second open reuses the persisted rows rather than reseeding.
	again := openStore(t, kv)
	same, err := again.Users.From().Eq("id", admin.ID.String()).One(ctx)
	if err != nil || same == nil {
		t.Fatalf("reopened store lost seeded id: %v, %v", same, err)
	}
}

func TestInsertUser(t *testing.T) {
	ctx := t.Context()
	s := openStore(t, kvstore.New(kvstore.NewMemoryBackend()))

	t.Run("defaults", func(t *testing.T) {
		added, err := s.Users.From().Insert(ctx, &models.User{
			FullName: "Dewi",
			Account:  &models.MemberAccount{NISN: " 2001 "},
		})
		if err != nil {
			t.Fatal(err)
		}
		m := added[0].Member()
		if added[0].ID.IsZero() || m.NISN != "2001" || !token.Valid(m.Token) || m.Field != models.DefaultField {
			t.Errorf("got %+v %+v", added[0], m)
		}
	})
	t.Run("no account means member", func(t *testing.T) {
		added, err := s.Users.From().Insert(ctx, &models.User{FullName: "Eko", Account: nil})
		if err == nil {
			t.Fatalf("expected nisn required error, got %+v", added)
		}
	})
	t.Run("duplicate nisn", func(t *testing.T) {
		_, err := s.Users.From().Insert(ctx, &models.User{
			FullName: "Copy",
			Account:  &models.MemberAccount{NISN: "1001"},
		})
		if !errors.Is(err, ErrDuplicateNISN) {
			t.Errorf("got %v", err)
		}
	})
	t.Run("duplicate email", func(t *testing.T) {
		_, err := s.Users.From().Insert(ctx, &models.User{
			FullName: "Copy",
			Account:  &models.AdminAccount{Email: "ADMIN@soc.com"},
		})
		if !errors.Is(err, ErrDuplicateEmail) {
			t.Errorf("got %v", err)
		}
	})
	t.Run("TokenTaken", func(t *testing.T) {
		if !s.TokenTaken("ABC12345") || s.TokenTaken("ZZZZZZZZ") {
			t.Error("TokenTaken mismatch")
		}
	})
}

func TestInsertAttendance(t *testing.T) {
	ctx := t.Context()
	s := openStore(t, kvstore.New(kvstore.NewMemoryBackend()))
	u, err := s.Users.From().Eq("nisn", "1003").One(ctx)
	if err != nil || u == nil {
		t.Fatal(u, err)
	}
	_, err = s.Attendance.From().Insert(ctx, &models.AttendanceRecord{
		UserID: u.ID, FullName: u.FullName, Role: u.Role(), Date: "2023-10-25", Status: models.StatusPresent,
	})
	if !errors.Is(err, ErrDuplicateAttendance) {
		t.Errorf("got %v, want ErrDuplicateAttendance", err)
	}
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := `users:
  - full_name: Kepala Sekolah
    role: Admin
    email: kepsek@soc.com
    password: rahasia
  - full_name: Fajar
    nisn: "3001"
    token: FAJAR001
    field: informatika
attendance:
  - user: "3001"
    date: "2024-02-01"
    status: Izin
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatal(err)
	}
	users, records, err := seed.Build(bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || len(records) != 1 {
		t.Fatalf("got %d users, %d records", len(users), len(records))
	}
	if users[1].Member().Field != models.FieldInformatics {
		t.Errorf("field = %q", users[1].Member().Field)
	}
	if records[0].UserID != users[1].ID || records[0].Field != models.FieldInformatics {
		t.Errorf("record = %+v", records[0])
	}

	t.Run("unknown user", func(t *testing.T) {
		bad := &Seed{Attendance: []SeedAttendance{{User: "nobody", Date: "2024-01-01", Status: models.StatusAbsent}}}
		if _, _, err := bad.Build(bcrypt.MinCost); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadSeed(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error")
		}
	})
}

func TestOpenSeedsOnlyMissing(t *testing.T) {
	ctx := t.Context()
	b := kvstore.NewMemoryBackend()
	kv := kvstore.New(b)
	first := openStore(t, kv)

	t.Run("stored users skip the seed", func(t *testing.T) {
		bad := &Seed{Users: []SeedUser{{FullName: "X", Role: "Guest"}}}
		s, err := Open(ctx, kv, Options{Seed: bad, BcryptCost: bcrypt.MinCost})
		if err != nil {
			t.Fatalf("seed should not be built: %v", err)
		}
		if s.Users.Table.Len() != first.Users.Table.Len() {
			t.Errorf("users = %d", s.Users.Table.Len())
		}
	})

	t.Run("missing attendance starts empty", func(t *testing.T) {
		if err := b.Remove(ctx, AttendanceKey); err != nil {
			t.Fatal(err)
		}
		s := openStore(t, kv)
		if n := s.Attendance.Table.Len(); n != 0 {
			t.Errorf("attendance = %d, want 0", n)
		}
		ids := map[string]bool{}
		for u := range s.Users.Table.All() {
			ids[u.ID.String()] = true
		}
		for r := range first.Attendance.Table.All() {
			if !ids[r.UserID.String()] {
				t.Errorf("stored users lost %s", r.UserID)
			}
		}
	})
}

func TestUpdateUserConflicts(t *testing.T) {
	ctx := t.Context()
	s := openStore(t, kvstore.New(kvstore.NewMemoryBackend()))
	added, err := s.Users.From().Insert(ctx, &models.User{
		FullName: "Second",
		Account:  &models.AdminAccount{Email: "second@soc.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	email := "Admin@SOC.com"
	_, err = s.Users.From().Eq("id", added[0].ID.String()).Update(ctx, &models.UserPatch{Email: &email})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("email: got %v", err)
	}
	_, err = s.Users.From().Eq("nisn", "1002").Modify(ctx, func(u *models.User) error {
		u.Member().Token = "ABC12345"
		return nil
	})
	if !errors.Is(err, ErrDuplicateToken) {
		t.Errorf("token: got %v", err)
	}
}
