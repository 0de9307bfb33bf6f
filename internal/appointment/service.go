package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/metrics"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

// TemplateStore reads and writes doctor-clinic weekly templates.
type TemplateStore interface {
	Get(ctx context.Context, doctorID, clinicID uuid.UUID) (schedule.Template, error)
	Put(ctx context.Context, doctorID, clinicID uuid.UUID, tpl schedule.Template) error
}

type Service struct {
	repo          Repository
	templates     TemplateStore
	validator     *Validator
	clock         Clock
	initialStatus Status
	metrics       *metrics.BookingMetrics
	logger        *logging.Logger
}

func NewService(repo Repository, templates TemplateStore, cfg config.Config, m *metrics.BookingMetrics, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	initial := StatusPending
	if Status(cfg.InitialStatus) == StatusConfirmed {
		initial = StatusConfirmed
	}
	return &Service{
		repo:          repo,
		templates:     templates,
		validator:     NewValidator(SystemClock),
		clock:         SystemClock,
		initialStatus: initial,
		metrics:       m,
		logger:        logger,
	}
}

// WithClock replaces the time source used by policy checks.
func (s *Service) WithClock(clock Clock) *Service {
	if clock != nil {
		s.clock = clock
		s.validator = NewValidator(clock)
	}
	return s
}

// Book validates and persists a booking request. Replays of a known
// idempotency key return the stored appointment with OutcomeReplayed.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*Appointment, Outcome, error) {
	appt, outcome, err := s.book(ctx, req)
	if err != nil {
		s.metrics.ObserveBooking(string(KindOf(err)))
		if KindOf(err) == KindInternal {
			s.logger.Error("booking failed", "error", err, "doctor_id", req.DoctorID, "clinic_id", req.ClinicID)
		} else {
			s.logger.Info("booking rejected", "reason", KindOf(err), "doctor_id", req.DoctorID, "date", FormatDate(req.Date))
		}
		return nil, "", err
	}
	s.metrics.ObserveBooking(string(outcome))
	s.logger.Info("booking accepted", "appointment_id", appt.ID, "outcome", outcome, "doctor_id", appt.DoctorID)
	return appt, outcome, nil
}

func (s *Service) book(ctx context.Context, req BookingRequest) (*Appointment, Outcome, error) {
	if req.IdempotencyKey != nil {
		key := strings.TrimSpace(*req.IdempotencyKey)
		if key == "" {
			req.IdempotencyKey = nil
		} else {
			req.IdempotencyKey = &key
		}
	}

	clinic, doctor, patient, err := s.loadParties(ctx, req.ClinicID, req.DoctorID, req.PatientID)
	if err != nil {
		return nil, "", err
	}

	// A replay must not be judged against its own booking, so it is resolved
	// before the policy and overlap checks. The writer repeats this atomically.
	if existing, err := s.lookupReplay(ctx, req); err != nil || existing != nil {
		return existing, OutcomeReplayed, err
	}

	tpl, err := s.templates.Get(ctx, req.DoctorID, req.ClinicID)
	if err != nil {
		return nil, "", fmt.Errorf("load schedule: %w", err)
	}

	requested, err := s.validator.ValidateBooking(req, clinic.Settings, tpl)
	if err != nil {
		return nil, "", err
	}

	existing, err := s.repo.ListActiveAppointmentsForDoctor(ctx, req.DoctorID, req.Date)
	if err != nil {
		return nil, "", fmt.Errorf("load doctor appointments: %w", err)
	}
	if err := s.validator.CheckOverlap(requested, existing); err != nil {
		return s.slotTaken(ctx, req, err)
	}

	appt := Appointment{
		ID:             uuid.New(),
		ClinicID:       clinic.ID,
		PatientID:      patient.ID,
		DoctorID:       doctor.ID,
		SpecialistID:   req.SpecialistID,
		Date:           civilDate(req.Date),
		StartTime:      requested.Start,
		EndTime:        requested.End,
		Status:         s.initialStatus,
		IdempotencyKey: req.IdempotencyKey,
		Notes:          req.Notes,
	}
	ev := s.newEvent(events.TypeCreated, appt, clinic, doctor, patient)

	created, outcome, err := s.repo.CreateAppointment(ctx, appt, ev)
	if err != nil {
		if errors.Is(err, ErrSlotAlreadyBooked) {
			return s.slotTaken(ctx, req, err)
		}
		return nil, "", fmt.Errorf("create appointment: %w", err)
	}
	return created, outcome, nil
}

func (s *Service) lookupReplay(ctx context.Context, req BookingRequest) (*Appointment, error) {
	if req.IdempotencyKey == nil {
		return nil, nil
	}
	existing, err := s.repo.GetAppointmentByIdempotencyKey(ctx, req.DoctorID, *req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("check idempotency key: %w", err)
	}
	return existing, nil
}

// slotTaken turns a slot conflict into a replay when the slot was taken by a
// concurrent request carrying the same idempotency key.
func (s *Service) slotTaken(ctx context.Context, req BookingRequest, conflict error) (*Appointment, Outcome, error) {
	existing, err := s.lookupReplay(ctx, req)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		return existing, OutcomeReplayed, nil
	}
	return nil, "", conflict
}

func (s *Service) loadParties(ctx context.Context, clinicID, doctorID, patientID uuid.UUID) (*Clinic, *Doctor, *Patient, error) {
	clinic, err := s.repo.GetClinicByID(ctx, clinicID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load clinic: %w", err)
	}
	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load doctor: %w", err)
	}
	patient, err := s.repo.GetPatientByID(ctx, patientID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load patient: %w", err)
	}
	return clinic, doctor, patient, nil
}

// Availability expands the doctor's template for the date and marks slots
// taken by active appointments at any clinic.
func (s *Service) Availability(ctx context.Context, q AvailabilityQuery) ([]schedule.Slot, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveAvailability(time.Since(start).Seconds()) }()

	clinic, err := s.repo.GetClinicByID(ctx, q.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("load clinic: %w", err)
	}
	if _, err := s.repo.GetDoctorByID(ctx, q.DoctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	tpl, err := s.templates.Get(ctx, q.DoctorID, q.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	date := civilDate(q.Date)
	day := tpl.For(date.Weekday())
	if !day.Working {
		return []schedule.Slot{}, nil
	}

	existing, err := s.repo.ListActiveAppointmentsForDoctor(ctx, q.DoctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load doctor appointments: %w", err)
	}
	busy := make([]schedule.Interval, 0, len(existing))
	for _, a := range existing {
		if a.Holds() {
			busy = append(busy, a.Interval())
		}
	}

	return schedule.Slots(day, clinic.Settings.SlotDuration, busy), nil
}

// Transition applies a lifecycle change on behalf of role.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (*Appointment, error) {
	updated, err := s.transition(ctx, req)
	if err != nil {
		s.metrics.ObserveTransition(string(req.Status), string(KindOf(err)))
		return nil, err
	}
	s.metrics.ObserveTransition(string(req.Status), "ok")
	s.logger.Info("appointment status changed", "appointment_id", updated.ID, "status", updated.Status, "role", req.Role)
	return updated, nil
}

func (s *Service) transition(ctx context.Context, req TransitionRequest) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, req.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := CheckTransition(appt.Status, req.Status, req.Role); err != nil {
		return nil, err
	}

	clinic, doctor, patient, err := s.loadParties(ctx, appt.ClinicID, appt.DoctorID, appt.PatientID)
	if err != nil {
		return nil, err
	}

	if req.Status == StatusCancelled {
		if err := s.validator.CheckCancellation(*appt, clinic.Settings, req.Role); err != nil {
			return nil, err
		}
	}

	var ev *events.Event
	if eventType, ok := eventTypeFor(req.Status); ok {
		e := s.newEvent(eventType, *appt, clinic, doctor, patient)
		ev = &e
	}

	updated, err := s.repo.TransitionAppointment(ctx, appt.ID, appt.Status, req.Status, req.Role, ev)
	if err != nil {
		if errors.Is(err, ErrInvalidStatusTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("transition appointment: %w", err)
	}
	return updated, nil
}

func eventTypeFor(to Status) (events.Type, bool) {
	switch to {
	case StatusConfirmed:
		return events.TypeConfirmed, true
	case StatusCompleted:
		return events.TypeCompleted, true
	case StatusCancelled:
		return events.TypeCancelled, true
	}
	return "", false
}

func (s *Service) newEvent(t events.Type, appt Appointment, clinic *Clinic, doctor *Doctor, patient *Patient) events.Event {
	return events.Event{
		AppointmentID:   appt.ID,
		EventType:       t,
		ClinicID:        clinic.ID,
		PatientID:       patient.ID,
		PatientName:     patient.Name,
		PatientContact:  patient.Contact(),
		DoctorName:      doctor.Name,
		ClinicName:      clinic.Name,
		AppointmentDate: FormatDate(appt.Date),
		StartTime:       appt.StartTime.String(),
		OccurredAt:      s.clock.Now().UTC(),
	}
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// ListDoctorAppointments returns every non-deleted appointment of a doctor on date.
func (s *Service) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	appts, err := s.repo.ListAppointmentsForDoctor(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list doctor appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) GetSchedule(ctx context.Context, doctorID, clinicID uuid.UUID) (schedule.Template, error) {
	tpl, err := s.templates.Get(ctx, doctorID, clinicID)
	if err != nil {
		return schedule.Template{}, fmt.Errorf("get schedule: %w", err)
	}
	return tpl, nil
}

// PutSchedule replaces a template. Existing appointments are left alone even
// if they fall outside the new hours.
func (s *Service) PutSchedule(ctx context.Context, doctorID, clinicID uuid.UUID, tpl schedule.Template) error {
	if err := tpl.Validate(); err != nil {
		return err
	}
	if err := s.templates.Put(ctx, doctorID, clinicID, tpl); err != nil {
		return fmt.Errorf("put schedule: %w", err)
	}
	s.logger.Info("schedule template replaced", "doctor_id", doctorID, "clinic_id", clinicID)
	return nil
}
