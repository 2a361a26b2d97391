package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/soc-club/presensi/internal/attendance"
	"github.com/soc-club/presensi/internal/auth"
	"github.com/soc-club/presensi/internal/config"
	"github.com/soc-club/presensi/internal/models"
	"github.com/soc-club/presensi/internal/roster"
	"github.com/soc-club/presensi/internal/storage"
)

var (
	errNotLoggedIn = errors.New("not logged in; run login-admin or login-member first")
	errAdminOnly   = errors.New("this command needs an admin session")
	errMemberOnly  = errors.New("this command needs a member session")
)

// command is a single-user subcommand acting on the persisted session.
type command struct {
	name  string
	args  string
	help  string
	nargs int
	run   func(a *app, ctx context.Context, args []string) (any, error)
}

var commands = []command{
	{"login-admin", "EMAIL", "log in as admin; the password is read from stdin", 1, (*app).loginAdmin},
	{"login-member", "NISN TOKEN", "log in as a member", 2, (*app).loginMember},
	{"logout", "", "clear the session", 0, (*app).logout},
	{"whoami", "", "print the session", 0, (*app).whoami},
	{"today", "", "print today's record of the member", 0, (*app).today},
	{"check-in", "", "check in the member", 0, (*app).checkIn},
	{"check-out", "", "check out the member", 0, (*app).checkOut},
	{"token", "NISN", "print the access token of a member", 1, (*app).token},
	{"import", "FILE", "import members from a .csv, .xlsx or .xls roster", 1, (*app).importRoster},
}

func isCommand(name string) bool {
	_, ok := findCommand(name)
	return ok
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// app runs subcommands against the store with the session kept in the
// key-value store.
type app struct {
	auth *auth.Manager
	att  *attendance.Service
	out  io.Writer
	in   io.Reader
}

func newApp(cfg *config.Config, st *storage.Store, out io.Writer, in io.Reader, opts ...attendance.Option) *app {
	opts = append([]attendance.Option{attendance.WithLocation(cfg.Location())}, opts...)
	return &app{
		auth: auth.NewManager(st, cfg.Latency.D()),
		att:  attendance.New(st, opts...),
		out:  out,
		in:   in,
	}
}

// run executes the named subcommand and prints its result as JSON.
func (a *app) run(ctx context.Context, name string, args []string) error {
	c, ok := findCommand(name)
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	if len(args) != c.nargs {
		return fmt.Errorf("usage: presensi %s %s", c.name, c.args)
	}
	v, err := c.run(a, ctx, args)
	if err != nil {
		return err
	}
	e := json.NewEncoder(a.out)
	e.SetIndent("", "  ")
	return e.Encode(v)
}

func (a *app) loginAdmin(ctx context.Context, args []string) (any, error) {
	password, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return a.auth.LoginAdmin(ctx, strings.TrimSpace(args[0]), strings.TrimRight(password, "\r\n"))
}

func (a *app) loginMember(ctx context.Context, args []string) (any, error) {
	return a.auth.LoginMember(ctx, strings.TrimSpace(args[0]), strings.TrimSpace(args[1]))
}

func (a *app) logout(ctx context.Context, _ []string) (any, error) {
	a.auth.Logout(ctx)
	return map[string]bool{"ok": true}, nil
}

func (a *app) whoami(ctx context.Context, _ []string) (any, error) {
	s := a.auth.Session(ctx)
	if s == nil {
		return nil, errNotLoggedIn
	}
	return s, nil
}

func (a *app) today(ctx context.Context, _ []string) (any, error) {
	u, err := a.current(ctx, models.RoleMember)
	if err != nil {
		return nil, err
	}
	r, err := a.att.TodayRecord(ctx, u)
	if err != nil {
		return nil, err
	}
	return struct {
		Date   models.Date              `json:"date"`
		Record *models.AttendanceRecord `json:"record"`
	}{a.att.Today(), r}, nil
}

func (a *app) checkIn(ctx context.Context, _ []string) (any, error) {
	u, err := a.current(ctx, models.RoleMember)
	if err != nil {
		return nil, err
	}
	return a.att.CheckIn(ctx, u)
}

func (a *app) checkOut(ctx context.Context, _ []string) (any, error) {
	u, err := a.current(ctx, models.RoleMember)
	if err != nil {
		return nil, err
	}
	return a.att.CheckOut(ctx, u)
}

func (a *app) token(ctx context.Context, args []string) (any, error) {
	return a.auth.LookupToken(ctx, args[0])
}

func (a *app) importRoster(ctx context.Context, args []string) (any, error) {
	if _, err := a.current(ctx, models.RoleAdmin); err != nil {
		return nil, err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return roster.ImportFile(ctx, a.auth, f, filepath.Base(args[0]))
}

// current returns the session user, reloaded from the users collection so
// that a deleted account no longer acts.
func (a *app) current(ctx context.Context, role models.Role) (*models.User, error) {
	u := a.auth.CurrentUser(ctx)
	if u == nil {
		return nil, errNotLoggedIn
	}
	u, err := a.auth.GetUser(ctx, u.ID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			a.auth.Logout(ctx)
			return nil, errNotLoggedIn
		}
		return nil, err
	}
	if u.Role() != role {
		if role == models.RoleAdmin {
			return nil, errAdminOnly
		}
		return nil, errMemberOnly
	}
	return u, nil
}
