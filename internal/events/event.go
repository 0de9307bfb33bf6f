package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names an appointment lifecycle event.
type Type string

const (
	TypeCreated   Type = "CREATED"
	TypeConfirmed Type = "CONFIRMED"
	TypeCompleted Type = "COMPLETED"
	TypeCancelled Type = "CANCELLED"
)

// Event is the payload handed to notification and feedback consumers.
type Event struct {
	AppointmentID   uuid.UUID `json:"appointment_id"`
	EventType       Type      `json:"event_type"`
	ClinicID        uuid.UUID `json:"clinic_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	PatientName     string    `json:"patient_name"`
	PatientContact  string    `json:"patient_contact"`
	DoctorName      string    `json:"doctor_name"`
	ClinicName      string    `json:"clinic_name"`
	AppointmentDate string    `json:"appointment_date"`
	StartTime       string    `json:"start_time"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Entry is an outbox row.
type Entry struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Type          Type
	Payload       json.RawMessage
	Attempts      int // failed deliveries so far
	CreatedAt     time.Time
}

// Decode fails permanently: a payload that does not parse never will.
func (e Entry) Decode() (Event, error) {
	var ev Event
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		return Event{}, Permanent(fmt.Errorf("events: decode %s payload: %w", e.Type, err))
	}
	return ev, nil
}

// ErrPermanent marks a delivery error that retrying cannot fix. The deliverer
// dead-letters such entries on the first failure.
var ErrPermanent = errors.New("permanent delivery failure")

type permanentError struct{ err error }

func (p permanentError) Error() string   { return p.err.Error() }
func (p permanentError) Unwrap() []error { return []error{p.err, ErrPermanent} }

// Permanent wraps err so errors.Is(err, ErrPermanent) holds.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}
