package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/events"
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentByIdempotencyKey(ctx context.Context, doctorID uuid.UUID, key string) (*Appointment, error)

	// For overlap checks and availability; only rows holding their slot
	ListActiveAppointmentsForDoctor(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	// Every non-deleted row of the day, any status
	ListAppointmentsForDoctor(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)

	// CreateAppointment inserts appt and ev atomically. An existing row with the
	// same doctor and idempotency key is returned with OutcomeReplayed; a clash
	// with an active booking yields ErrSlotAlreadyBooked.
	CreateAppointment(ctx context.Context, appt Appointment, ev events.Event) (*Appointment, Outcome, error)

	// TransitionAppointment moves id from -> to if it is still in from. ev is
	// appended in the same transaction when non-nil.
	TransitionAppointment(ctx context.Context, id uuid.UUID, from, to Status, role Role, ev *events.Event) (*Appointment, error)
}
