package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/soc-club/presensi/internal/attendance"
	"github.com/soc-club/presensi/internal/config"
	"github.com/soc-club/presensi/internal/kvstore"
	"github.com/soc-club/presensi/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

type cliEnv struct {
	t   *testing.T
	cfg *config.Config
	st  *storage.Store
	now time.Time
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	st, err := storage.Open(t.Context(), kvstore.New(kvstore.NewMemoryBackend()), storage.Options{BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Timezone = "UTC"
	return &cliEnv{t: t, cfg: &cfg, st: st, now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
}

// exec runs one command with a fresh app, like separate process invocations
// sharing the store.
func (e *cliEnv) exec(stdin, name string, args ...string) (string, error) {
	e.t.Helper()
	var out bytes.Buffer
	a := newApp(e.cfg, e.st, &out, strings.NewReader(stdin), attendance.WithClock(func() time.Time { return e.now }))
	err := a.run(e.t.Context(), name, args)
	return out.String(), err
}

func (e *cliEnv) mustExec(stdin, name string, args ...string) map[string]any {
	e.t.Helper()
	out, err := e.exec(stdin, name, args...)
	if err != nil {
		e.t.Fatalf("%s %v: %v", name, args, err)
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		e.t.Fatalf("%s: invalid JSON %q: %v", name, out, err)
	}
	return v
}

func TestCLIMemberFlow(t *testing.T) {
	e := newCLIEnv(t)
	if _, err := e.exec("", "whoami"); !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("whoami before login: got %v", err)
	}
	u := e.mustExec("", "login-member", "1001", "ABC12345")
	if u["full_name"] != "Ahmad Fadhil" {
		t.Errorf("login-member: got %v", u)
	}
	s := e.mustExec("", "whoami")
	if user, _ := s["user"].(map[string]any); user["nisn"] != "1001" {
		t.Errorf("whoami: got %v", s)
	}

	today := e.mustExec("", "today")
	if today["date"] != "2024-01-01" || today["record"] != nil {
		t.Errorf("today before check-in: got %v", today)
	}
	r := e.mustExec("", "check-in")
	if r["status"] != "Hadir" {
		t.Errorf("check-in: got %v", r)
	}
	if _, err := e.exec("", "check-in"); !errors.Is(err, attendance.ErrAlreadyCheckedIn) {
		t.Errorf("second check-in: got %v", err)
	}
	e.now = e.now.Add(8 * time.Hour)
	r = e.mustExec("", "check-out")
	if r["status"] != "Pulang" {
		t.Errorf("check-out: got %v", r)
	}
	if _, err := e.exec("", "import", "roster.csv"); !errors.Is(err, errAdminOnly) {
		t.Errorf("member import: got %v", err)
	}

	e.mustExec("", "logout")
	if _, err := e.exec("", "check-out"); !errors.Is(err, errNotLoggedIn) {
		t.Errorf("check-out after logout: got %v", err)
	}
}

func TestCLIAdmin(t *testing.T) {
	e := newCLIEnv(t)
	if _, err := e.exec("wrong\n", "login-admin", "admin@soc.com"); err == nil {
		t.Fatal("expected wrong password to fail")
	}
	e.mustExec("password\n", "login-admin", "admin@soc.com")
	if _, err := e.exec("", "check-in"); !errors.Is(err, errMemberOnly) {
		t.Errorf("admin check-in: got %v", err)
	}

	path := filepath.Join(t.TempDir(), "roster.csv")
	if err := os.WriteFile(path, []byte("Nama,NISN,Bidang\nDewi Anggraini,2001,Biologi\n,2002,Fisika\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	res := e.mustExec("", "import", path)
	if created, _ := res["created"].([]any); len(created) != 1 {
		t.Errorf("import created: got %v", res["created"])
	}
	if failed, _ := res["failed"].([]any); len(failed) != 1 {
		t.Errorf("import failed: got %v", res["failed"])
	}

	tok := e.mustExec("", "token", "2001")
	if tok["token"] == "" || tok["full_name"] != "Dewi Anggraini" {
		t.Errorf("token: got %v", tok)
	}
}

func TestCLIUsage(t *testing.T) {
	e := newCLIEnv(t)
	for _, tc := range []struct {
		name string
		args []string
	}{
		{"login-member", []string{"1001"}},
		{"token", nil},
		{"whoami", []string{"extra"}},
		{"bogus", nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.exec("", tc.name, tc.args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if isCommand("serve") {
		t.Error("serve is not a subcommand")
	}
}
