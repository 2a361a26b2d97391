package models

import (
	"fmt"
	"time"

	"github.com/maruel/ksid"
)

// Status is the state of a member for one day.
type Status string

const (
	// StatusPresent means checked in and not yet checked out.
	StatusPresent Status = "Hadir"
	// StatusExcused means absent with permission.
	StatusExcused Status = "Izin"
	// StatusAbsent means absent without notice.
	StatusAbsent Status = "Alpha"
	// StatusCheckedOut means checked in then checked out.
	StatusCheckedOut Status = "Pulang"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusExcused, StatusAbsent, StatusCheckedOut:
		return true
	}
	return false
}

// Attended reports whether the member showed up that day.
func (s Status) Attended() bool {
	return s == StatusPresent || s == StatusCheckedOut
}

// AttendanceRecord is one user's attendance on one day. Name, role and field
// are copied from the user at creation time.
type AttendanceRecord struct {
	ID       ksid.ID    `json:"id,omitzero"`
	UserID   ksid.ID    `json:"user_id"`
	FullName string     `json:"full_name"`
	Role     Role       `json:"role"`
	Field    Field      `json:"field,omitempty"`
	Date     Date       `json:"date"`
	TimeIn   *time.Time `json:"time_in"`
	TimeOut  *time.Time `json:"time_out"`
	Status   Status     `json:"status"`
}

// Clone returns a deep copy of the record.
func (r *AttendanceRecord) Clone() *AttendanceRecord {
	c := *r
	if r.TimeIn != nil {
		t := *r.TimeIn
		c.TimeIn = &t
	}
	if r.TimeOut != nil {
		t := *r.TimeOut
		c.TimeOut = &t
	}
	return &c
}

// GetID returns the record's ID.
func (r *AttendanceRecord) GetID() ksid.ID {
	return r.ID
}

// SetID assigns the record's ID.
func (r *AttendanceRecord) SetID(id ksid.ID) {
	r.ID = id
}

// Validate checks that the record is internally consistent.
func (r *AttendanceRecord) Validate() error {
	if r.ID.IsZero() {
		return errIDRequired
	}
	if r.UserID.IsZero() {
		return errUserIDRequired
	}
	if !r.Date.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidDate, r.Date)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, r.Status)
	}
	return nil
}

// Column returns the string value of a named column, as used by equality
// filters. ok is false for columns a record does not have.
func (r *AttendanceRecord) Column(name string) (string, bool) {
	switch name {
	case "id":
		return r.ID.String(), true
	case "user_id":
		return r.UserID.String(), true
	case "full_name":
		return r.FullName, true
	case "role":
		return string(r.Role), true
	case "field":
		return string(r.Field), true
	case "date":
		return string(r.Date), true
	case "status":
		return string(r.Status), true
	case "time_in":
		return formatTime(r.TimeIn), true
	case "time_out":
		return formatTime(r.TimeOut), true
	}
	return "", false
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// AttendancePatch lists the attendance columns an update may change. Nil
// fields are left untouched.
type AttendancePatch struct {
	TimeIn  *time.Time `json:"time_in,omitempty"`
	TimeOut *time.Time `json:"time_out,omitempty"`
	Status  *Status    `json:"status,omitempty"`
}

// Apply merges the patch into r.
func (p *AttendancePatch) Apply(r *AttendanceRecord) error {
	if p.Status != nil {
		if !p.Status.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidStatus, *p.Status)
		}
		r.Status = *p.Status
	}
	if p.TimeIn != nil {
		t := *p.TimeIn
		r.TimeIn = &t
	}
	if p.TimeOut != nil {
		t := *p.TimeOut
		r.TimeOut = &t
	}
	return nil
}

// Empty reports whether the patch changes nothing.
func (p *AttendancePatch) Empty() bool {
	return p.TimeIn == nil && p.TimeOut == nil && p.Status == nil
}
