package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

type CreateAppointmentRequest struct {
	ClinicID       string  `json:"clinic_id"`
	PatientID      string  `json:"patient_id"`
	DoctorID       string  `json:"doctor_id"`
	SpecialistID   *string `json:"specialist_id,omitempty"`
	Date           string  `json:"appointment_date"`
	StartTime      string  `json:"start_time"`
	EndTime        string  `json:"end_time"`
	Notes          *string `json:"notes,omitempty"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

type TransitionRequest struct {
	Status    string `json:"status"`
	ActorRole string `json:"actor_role"`
}

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	ClinicID       uuid.UUID  `json:"clinic_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	SpecialistID   *uuid.UUID `json:"specialist_id,omitempty"`
	Date           string     `json:"appointment_date"`
	StartTime      string     `json:"start_time"`
	EndTime        string     `json:"end_time"`
	Status         string     `json:"status"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	CancelledBy    *string    `json:"cancelled_by,omitempty"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type BookingResponse struct {
	AppointmentResponse
	Replayed bool `json:"replayed"`
}

type AvailabilityResponse struct {
	DoctorID uuid.UUID       `json:"doctor_id"`
	ClinicID uuid.UUID       `json:"clinic_id"`
	Date     string          `json:"date"`
	Slots    []schedule.Slot `json:"slots"`
}

type DoctorAppointmentsResponse struct {
	DoctorID     uuid.UUID             `json:"doctor_id"`
	Date         string                `json:"date"`
	Appointments []AppointmentResponse `json:"appointments"`
}

type ScheduleResponse struct {
	DoctorID uuid.UUID         `json:"doctor_id"`
	ClinicID uuid.UUID         `json:"clinic_id"`
	Schedule schedule.Template `json:"schedule"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:             a.ID,
		ClinicID:       a.ClinicID,
		PatientID:      a.PatientID,
		DoctorID:       a.DoctorID,
		SpecialistID:   a.SpecialistID,
		Date:           appointment.FormatDate(a.Date),
		StartTime:      a.StartTime.String(),
		EndTime:        a.EndTime.String(),
		Status:         string(a.Status),
		IdempotencyKey: a.IdempotencyKey,
		Notes:          a.Notes,
		ConfirmedAt:    a.ConfirmedAt,
		CancelledAt:    a.CancelledAt,
		CompletedAt:    a.CompletedAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
	if a.CancelledBy != nil {
		by := string(*a.CancelledBy)
		resp.CancelledBy = &by
	}
	return resp
}
