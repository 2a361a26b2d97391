// Package models defines the core data structures used throughout the application.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Role tells admins and members apart.
type Role string

const (
	// RoleAdmin manages members and reads every attendance record.
	RoleAdmin Role = "Admin"
	// RoleMember checks in and out.
	RoleMember Role = "Member"
)

// Field is the competition subject a member trains for.
type Field string

// Olympiad fields.
const (
	FieldMathematics Field = "Matematika"
	FieldPhysics     Field = "Fisika"
	FieldChemistry   Field = "Kimia"
	FieldBiology     Field = "Biologi"
	FieldInformatics Field = "Informatika"
	FieldAstronomy   Field = "Astronomi"
	FieldEconomics   Field = "Ekonomi"
	FieldEarthSci    Field = "Kebumian"
	FieldGeography   Field = "Geografi"
)

// Fields lists every valid Field in display order. The first one is the default.
var Fields = []Field{
	FieldMathematics,
	FieldPhysics,
	FieldChemistry,
	FieldBiology,
	FieldInformatics,
	FieldAstronomy,
	FieldEconomics,
	FieldEarthSci,
	FieldGeography,
}

// DefaultField is assigned to members created without one.
const DefaultField = FieldMathematics

// Valid reports whether f is one of Fields.
func (f Field) Valid() bool {
	for _, v := range Fields {
		if v == f {
			return true
		}
	}
	return false
}

// ParseField matches s against Fields, ignoring case and surrounding space.
func ParseField(s string) (Field, error) {
	s = strings.TrimSpace(s)
	for _, v := range Fields {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidField, s)
}

// DateLayout is the wire format of a Date.
const DateLayout = time.DateOnly

// Date is a calendar day formatted as YYYY-MM-DD, with no time component.
type Date string

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(DateLayout))
}

// ParseDate validates s as a Date.
func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date(s), nil
}

// Valid reports whether d is a well formed day.
func (d Date) Valid() bool {
	_, err := time.Parse(DateLayout, string(d))
	return err == nil
}

// Validation errors.
var (
	ErrInvalidField   = &ValidationError{"invalid field"}
	ErrInvalidDate    = &ValidationError{"invalid date"}
	ErrInvalidStatus  = &ValidationError{"invalid status"}
	ErrInvalidRole    = &ValidationError{"invalid role"}
	errIDRequired     = &ValidationError{"id is required"}
	errNameRequired   = &ValidationError{"full_name is required"}
	errEmailRequired  = &ValidationError{"email is required"}
	errNISNRequired   = &ValidationError{"nisn is required"}
	errTokenRequired  = &ValidationError{"token is required"}
	errUserIDRequired = &ValidationError{"user_id is required"}
	errNoAccount      = &ValidationError{"user has no account"}
	errAdminOnly      = &ValidationError{"email applies to admins only"}
	errMemberOnly     = &ValidationError{"field applies to members only"}
)

// ValidationError is a row value rejected by Validate or a patch rejected by
// Apply. Match with errors.As to tell bad input from storage failures.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }
