package appointment

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // clinic timezones resolve without host zoneinfo

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusConfirmed        Status = "CONFIRMED"
	StatusCompleted        Status = "COMPLETED"
	StatusCompletedOffline Status = "COMPLETED_OFFLINE"
	StatusCancelled        Status = "CANCELLED"
	StatusNoShow           Status = "NO_SHOW"
)

// Active statuses hold their slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedOffline, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCompletedOffline, StatusCancelled, StatusNoShow:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, raw)
}

// Role is the kind of actor requesting a change.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch r {
	case RolePatient, RoleDoctor, RoleStaff, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: unknown actor role %q", ErrInvalidRequest, raw)
}

// Outcome tells a fresh booking apart from an idempotent replay.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeReplayed Outcome = "replayed"
)

// ClinicSettings is the booking policy of one clinic.
type ClinicSettings struct {
	SlotDuration       int    // minutes, used when a template day has none
	BookingAdvanceDays int    // furthest bookable day, counted from today
	CancelBeforeHours  int    // notice required for patient cancellation
	Timezone           string // IANA name; dates and times are wall-clock here
}

// Location resolves Timezone, falling back to UTC when unset or unknown.
func (s ClinicSettings) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Clinic struct {
	ID        uuid.UUID
	Name      string
	Settings  ClinicSettings
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contact is the address notifications go to: email first, then phone.
func (p Patient) Contact() string {
	if p.Email != nil && *p.Email != "" {
		return *p.Email
	}
	if p.Phone != nil {
		return *p.Phone
	}
	return ""
}

type Appointment struct {
	ID             uuid.UUID
	ClinicID       uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	SpecialistID   *uuid.UUID
	Date           time.Time // calendar date, midnight UTC
	StartTime      schedule.TimeOfDay
	EndTime        schedule.TimeOfDay
	Status         Status
	IdempotencyKey *string
	Notes          *string
	CancelledBy    *Role
	ConfirmedAt    *time.Time
	CancelledAt    *time.Time
	CompletedAt    *time.Time
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a Appointment) Interval() schedule.Interval {
	return schedule.Interval{Start: a.StartTime, End: a.EndTime}
}

// StartsAt combines the date and start time in loc.
func (a Appointment) StartsAt(loc *time.Location) time.Time {
	return a.StartTime.On(a.Date, loc)
}

// Holds reports whether the appointment currently occupies its slot.
func (a Appointment) Holds() bool {
	return a.DeletedAt == nil && a.Status.Active()
}

// BookingRequest is an inbound booking. Times stay raw so the validator
// owns their parsing.
type BookingRequest struct {
	ClinicID       uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	SpecialistID   *uuid.UUID
	Date           time.Time
	StartTime      string
	EndTime        string
	Notes          *string
	IdempotencyKey *string
}

type AvailabilityQuery struct {
	DoctorID uuid.UUID
	ClinicID uuid.UUID
	Date     time.Time
}

type TransitionRequest struct {
	AppointmentID uuid.UUID
	Status        Status
	Role          Role
}

const dateLayout = "2006-01-02"

// ParseDate reads an ISO calendar date.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidRequest)
	}
	return d, nil
}

// FormatDate is the inverse of ParseDate.
func FormatDate(d time.Time) string {
	return d.Format(dateLayout)
}

// civilDate drops the clock and zone of t, keeping its calendar day.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
