package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

// Constraint names from the migrations. The slot index and the exclusion
// constraint both mean another active booking owns the time.
const (
	constraintActiveSlot  = "appointments_active_slot_uniq"
	constraintNoOverlap   = "appointments_active_no_overlap"
	constraintIdempotency = "appointments_doctor_idempotency_uniq"

	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

const appointmentColumns = `
	id, clinic_id, patient_id, doctor_id, specialist_id, appointment_date,
	to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	status, idempotency_key, notes, cancelled_by,
	confirmed_at, cancelled_at, completed_at, deleted_at, created_at, updated_at`

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool pgxPool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	if pool == nil {
		panic("appointment: pgx pool required")
	}
	return &PgRepository{pool: pool}
}

func newPgRepositoryWithPool(pool pgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Settings.SlotDuration,
		&c.Settings.BookingAdvanceDays,
		&c.Settings.CancelBeforeHours,
		&c.Settings.Timezone,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClinicNotFound
		}
		return nil, err
	}

	return &c, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var email *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&email,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Email = email
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email, phone *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&phone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	p.Phone = phone
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start, end, status string
	var cancelledBy *string

	err := row.Scan(
		&a.ID,
		&a.ClinicID,
		&a.PatientID,
		&a.DoctorID,
		&a.SpecialistID,
		&a.Date,
		&start,
		&end,
		&status,
		&a.IdempotencyKey,
		&a.Notes,
		&cancelledBy,
		&a.ConfirmedAt,
		&a.CancelledAt,
		&a.CompletedAt,
		&a.DeletedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.StartTime, err = schedule.ParseTimeOfDay(start); err != nil {
		return nil, fmt.Errorf("stored start_time: %w", err)
	}
	if a.EndTime, err = schedule.ParseTimeOfDay(end); err != nil {
		return nil, fmt.Errorf("stored end_time: %w", err)
	}
	a.Status = Status(status)
	if cancelledBy != nil {
		role := Role(*cancelledBy)
		a.CancelledBy = &role
	}
	a.Date = civilDate(a.Date)
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

type writeConflict int

const (
	noConflict writeConflict = iota
	slotConflict
	idempotencyConflict
)

// classifyWriteError recognises constraint violations raised by the insert.
func classifyWriteError(err error) writeConflict {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return noConflict
	}
	switch {
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraintIdempotency:
		return idempotencyConflict
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraintActiveSlot:
		return slotConflict
	case pgErr.Code == pgExclusionViolation && pgErr.ConstraintName == constraintNoOverlap:
		return slotConflict
	}
	return noConflict
}

// Interface methods

func (r *PgRepository) GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, slot_duration, booking_advance_days, cancel_before_hours, timezone, created_at, updated_at
		FROM clinics
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanClinic(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM doctors
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByIdempotencyKey(ctx context.Context, doctorID uuid.UUID, key string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, selectByIdempotencyKey, doctorID, key)
	return scanAppointment(row)
}

const selectByIdempotencyKey = `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE doctor_id = $1 AND idempotency_key = $2
	`

func (r *PgRepository) ListActiveAppointmentsForDoctor(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND status IN ('PENDING', 'CONFIRMED')
		  AND deleted_at IS NULL
		ORDER BY start_time
	`, doctorID, civilDate(date))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsForDoctor(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND deleted_at IS NULL
		ORDER BY start_time, created_at
	`, doctorID, civilDate(date))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// CreateAppointment is the only place a booking becomes real. The idempotency
// lookup, the insert and the outbox event share one transaction; the partial
// unique index and exclusion constraint decide races between concurrent callers.
func (r *PgRepository) CreateAppointment(ctx context.Context, appt Appointment, ev events.Event) (*Appointment, Outcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("begin create appointment: %w", err)
	}
	defer tx.Rollback(ctx)

	if appt.IdempotencyKey != nil {
		existing, err := scanAppointment(tx.QueryRow(ctx, selectByIdempotencyKey, appt.DoctorID, *appt.IdempotencyKey))
		if err == nil {
			return existing, OutcomeReplayed, nil
		}
		if !errors.Is(err, ErrAppointmentNotFound) {
			return nil, "", fmt.Errorf("check idempotency key: %w", err)
		}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (
			id, clinic_id, patient_id, doctor_id, specialist_id, appointment_date,
			start_time, end_time, status, idempotency_key, notes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::time, $8::text::time, $9, $10, $11, now(), now())
		RETURNING `+appointmentColumns,
		appt.ID, appt.ClinicID, appt.PatientID, appt.DoctorID, appt.SpecialistID, civilDate(appt.Date),
		appt.StartTime.String(), appt.EndTime.String(), string(appt.Status), appt.IdempotencyKey, appt.Notes,
	)
	created, err := scanAppointment(row)
	if err != nil {
		switch classifyWriteError(err) {
		case slotConflict:
			return nil, "", fmt.Errorf("%w: %s %s-%s", ErrSlotAlreadyBooked, FormatDate(appt.Date), appt.StartTime, appt.EndTime)
		case idempotencyConflict:
			// a concurrent request with the same key won; hand back its row
			_ = tx.Rollback(ctx)
			existing, err := r.GetAppointmentByIdempotencyKey(ctx, appt.DoctorID, *appt.IdempotencyKey)
			if err != nil {
				return nil, "", fmt.Errorf("load replayed appointment: %w", err)
			}
			return existing, OutcomeReplayed, nil
		}
		return nil, "", fmt.Errorf("insert appointment: %w", err)
	}

	if _, err := events.Append(ctx, tx, ev); err != nil {
		return nil, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		if classifyWriteError(err) == slotConflict {
			return nil, "", ErrSlotAlreadyBooked
		}
		return nil, "", fmt.Errorf("commit appointment: %w", err)
	}

	return created, OutcomeCreated, nil
}

// TransitionAppointment is a compare-and-set on status. Losing the race to
// another writer reports the status that is now stored.
func (r *PgRepository) TransitionAppointment(ctx context.Context, id uuid.UUID, from, to Status, role Role, ev *events.Event) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	var cancelledBy *string
	if to == StatusCancelled {
		by := string(role)
		cancelledBy = &by
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3::text,
		    cancelled_by = CASE WHEN $3::text = 'CANCELLED' THEN $4::text ELSE cancelled_by END,
		    confirmed_at = CASE WHEN $3::text = 'CONFIRMED' THEN now() ELSE confirmed_at END,
		    cancelled_at = CASE WHEN $3::text = 'CANCELLED' THEN now() ELSE cancelled_at END,
		    completed_at = CASE WHEN $3::text IN ('COMPLETED', 'COMPLETED_OFFLINE') THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		  AND deleted_at IS NULL
		RETURNING `+appointmentColumns,
		id, string(from), string(to), cancelledBy,
	)
	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			_ = tx.Rollback(ctx)
			current, getErr := r.GetAppointmentByID(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			return nil, &TransitionError{From: current.Status, To: to}
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	if ev != nil {
		if _, err := events.Append(ctx, tx, *ev); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}

	return updated, nil
}
