// Package attendance implements the daily check-in and check-out flow and the
// admin views over attendance records.
package attendance

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/maruel/ksid"
	"github.com/soc-club/presensi/internal/models"
	"github.com/soc-club/presensi/internal/query"
	"github.com/soc-club/presensi/internal/storage"
)

// Errors returned by Service.
var (
	ErrAlreadyCheckedIn  = errors.New("already checked in today")
	ErrNotCheckedIn      = errors.New("not checked in today")
	ErrAlreadyCheckedOut = errors.New("already checked out today")
	ErrMultipleToday     = errors.New("Found multiple records for today. Please contact an admin.") //nolint:staticcheck // shown verbatim
	ErrNotMember         = errors.New("only members record attendance")
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidMark       = errors.New("only Izin or Alpha can be marked")
)

// Event types sent to a Notifier.
const (
	EventCheckIn  = "attendance:checkin"
	EventCheckOut = "attendance:checkout"
	EventMark     = "attendance:mark"
)

// Event describes a change to an attendance record.
type Event struct {
	Type   string                   `json:"type"`
	Record *models.AttendanceRecord `json:"record"`
}

// Notifier receives attendance events. Notify must not block.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Option configures a Service.
type Option func(*Service)

// WithLocation sets the time zone that decides which day "today" is.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier adds a receiver of attendance events.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, n) }
}

// Service records attendance.
//
// Check-in, check-out and marking for one user are serialized so that a read
// of today's record and the following write cannot interleave with another
// request for the same user.
type Service struct {
	store     *storage.Store
	loc       *time.Location
	now       func() time.Time
	notifiers []Notifier

	locks sync.Map // ksid.ID -> *sync.Mutex
}

// New returns a Service over s.
func New(s *storage.Store, opts ...Option) *Service {
	svc := &Service{store: s, loc: time.Local, now: time.Now}
	for _, o := range opts {
		o(svc)
	}
	return svc
}

// Today returns the current day in the service's time zone.
func (s *Service) Today() models.Date {
	return models.DateOf(s.now().In(s.loc))
}

// Location returns the time zone used for "today".
func (s *Service) Location() *time.Location {
	return s.loc
}

// TodayRecord returns u's record for today, or nil.
func (s *Service) TodayRecord(ctx context.Context, u *models.User) (*models.AttendanceRecord, error) {
	return s.record(ctx, u.ID, s.Today())
}

func (s *Service) record(ctx context.Context, userID ksid.ID, d models.Date) (*models.AttendanceRecord, error) {
	r, err := s.store.Attendance.From().
		Select("*").
		Eq("user_id", userID.String()).
		Eq("date", string(d)).
		One(ctx)
	if errors.Is(err, query.ErrMultipleRows) {
		slog.ErrorContext(ctx, "attendance: duplicate records", "user", userID, "date", d)
		return nil, ErrMultipleToday
	}
	return r, err
}

// CheckIn creates today's record for u with status Hadir.
func (s *Service) CheckIn(ctx context.Context, u *models.User) (*models.AttendanceRecord, error) {
	mem := u.Member()
	if mem == nil {
		return nil, ErrNotMember
	}
	unlock := s.lock(u.ID)
	defer unlock()
	existing, err := s.TodayRecord(ctx, u)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyCheckedIn
	}
	now := s.now().UTC()
	rows, err := s.store.Attendance.From().Insert(ctx, &models.AttendanceRecord{
		UserID:   u.ID,
		FullName: u.FullName,
		Role:     u.Role(),
		Field:    mem.Field,
		Date:     models.DateOf(now.In(s.loc)),
		TimeIn:   &now,
		Status:   models.StatusPresent,
	})
	if errors.Is(err, storage.ErrDuplicateAttendance) {
		return nil, ErrAlreadyCheckedIn
	}
	if err != nil {
		return nil, err
	}
	s.notify(ctx, EventCheckIn, rows[0])
	return rows[0], nil
}

// CheckOut closes today's record for u with status Pulang.
func (s *Service) CheckOut(ctx context.Context, u *models.User) (*models.AttendanceRecord, error) {
	if u.Member() == nil {
		return nil, ErrNotMember
	}
	unlock := s.lock(u.ID)
	defer unlock()
	existing, err := s.TodayRecord(ctx, u)
	if err != nil {
		return nil, err
	}
	switch {
	case existing == nil || existing.TimeIn == nil:
		return nil, ErrNotCheckedIn
	case existing.TimeOut != nil:
		return nil, ErrAlreadyCheckedOut
	}
	now := s.now().UTC()
	st := models.StatusCheckedOut
	rows, err := s.store.Attendance.From().
		Eq("id", existing.ID.String()).
		Update(ctx, &models.AttendancePatch{TimeOut: &now, Status: &st})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotCheckedIn
	}
	s.notify(ctx, EventCheckOut, rows[0])
	return rows[0], nil
}

// Mark records an Izin or Alpha status for a member on a day, replacing any
// record that day and clearing its times.
func (s *Service) Mark(ctx context.Context, userID ksid.ID, d models.Date, status models.Status) (*models.AttendanceRecord, error) {
	if status != models.StatusExcused && status != models.StatusAbsent {
		return nil, ErrInvalidMark
	}
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidDate, d)
	}
	u, err := s.store.Users.From().Eq("id", userID.String()).One(ctx)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	mem := u.Member()
	if mem == nil {
		return nil, ErrNotMember
	}
	unlock := s.lock(u.ID)
	defer unlock()
	existing, err := s.record(ctx, u.ID, d)
	if err != nil {
		return nil, err
	}
	var rows []*models.AttendanceRecord
	if existing != nil {
		rows, err = s.store.Attendance.From().Eq("id", existing.ID.String()).Modify(ctx, func(r *models.AttendanceRecord) error {
			r.Status = status
			r.TimeIn = nil
			r.TimeOut = nil
			return nil
		})
	} else {
		rows, err = s.store.Attendance.From().Insert(ctx, &models.AttendanceRecord{
			UserID:   u.ID,
			FullName: u.FullName,
			Role:     u.Role(),
			Field:    mem.Field,
			Date:     d,
			Status:   status,
		})
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrUserNotFound
	}
	s.notify(ctx, EventMark, rows[0])
	return rows[0], nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	// Search matches a case-insensitive substring of the name.
	Search string
	Date   models.Date
	Status models.Status
	UserID ksid.ID
}

// List returns the records matching f, newest day first and, within a day,
// latest check-in first.
func (s *Service) List(ctx context.Context, f Filter) ([]*models.AttendanceRecord, error) {
	q := s.store.Attendance.From().Select("*")
	if f.Date != "" {
		q.Eq("date", string(f.Date))
	}
	if f.Status != "" {
		q.Eq("status", string(f.Status))
	}
	if !f.UserID.IsZero() {
		q.Eq("user_id", f.UserID.String())
	}
	rows, err := q.Order("date", false).Execute(ctx)
	if err != nil {
		return nil, err
	}
	if search := strings.ToLower(strings.TrimSpace(f.Search)); search != "" {
		rows = slices.DeleteFunc(rows, func(r *models.AttendanceRecord) bool {
			return !strings.Contains(strings.ToLower(r.FullName), search)
		})
	}
	Sort(rows)
	return rows, nil
}

// Sort orders records by date descending, then check-in time descending.
// Records without a check-in time sort last within their day.
func Sort(rows []*models.AttendanceRecord) {
	slices.SortStableFunc(rows, func(a, b *models.AttendanceRecord) int {
		if c := cmp.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		switch {
		case a.TimeIn == nil && b.TimeIn == nil:
			return 0
		case a.TimeIn == nil:
			return 1
		case b.TimeIn == nil:
			return -1
		}
		return b.TimeIn.Compare(*a.TimeIn)
	})
}

// Summary counts records by outcome.
type Summary struct {
	Present int `json:"present"`
	Excused int `json:"excused"`
	Absent  int `json:"absent"`
	Total   int `json:"total"`
}

// Summarize counts the given records. Hadir and Pulang both count as present.
func Summarize(rows []*models.AttendanceRecord) Summary {
	var s Summary
	for _, r := range rows {
		switch {
		case r.Status.Attended():
			s.Present++
		case r.Status == models.StatusExcused:
			s.Excused++
		case r.Status == models.StatusAbsent:
			s.Absent++
		}
	}
	s.Total = len(rows)
	return s
}

// Summary counts the records matching f.
func (s *Service) Summary(ctx context.Context, f Filter) (Summary, error) {
	rows, err := s.List(ctx, f)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(rows), nil
}

func (s *Service) lock(id ksid.ID) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) notify(ctx context.Context, typ string, r *models.AttendanceRecord) {
	slog.InfoContext(ctx, "attendance", "event", typ, "user", r.UserID, "date", r.Date, "status", r.Status)
	for _, n := range s.notifiers {
		n.Notify(ctx, Event{Type: typ, Record: r.Clone()})
	}
}
