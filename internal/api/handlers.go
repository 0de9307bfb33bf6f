package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

const idempotencyHeader = "Idempotency-Key"

func createAppointmentHandler(svc BookingService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "could not parse JSON")
			return
		}

		booking, err := req.toBooking()
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		if booking.IdempotencyKey == nil {
			if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" {
				booking.IdempotencyKey = &key
			}
		}

		appt, outcome, err := svc.Book(r.Context(), booking)
		if err != nil {
			failed(w, r, logger, err)
			return
		}

		status := http.StatusCreated
		if outcome == appointment.OutcomeReplayed {
			status = http.StatusOK
		}
		writeJSON(w, status, BookingResponse{
			AppointmentResponse: toAppointmentResponse(appt),
			Replayed:            outcome == appointment.OutcomeReplayed,
		})
	}
}

func (req CreateAppointmentRequest) toBooking() (appointment.BookingRequest, error) {
	var out appointment.BookingRequest
	var err error

	if out.ClinicID, err = parseID("clinic_id", req.ClinicID); err != nil {
		return out, err
	}
	if out.PatientID, err = parseID("patient_id", req.PatientID); err != nil {
		return out, err
	}
	if out.DoctorID, err = parseID("doctor_id", req.DoctorID); err != nil {
		return out, err
	}
	if req.SpecialistID != nil && *req.SpecialistID != "" {
		id, err := parseID("specialist_id", *req.SpecialistID)
		if err != nil {
			return out, err
		}
		out.SpecialistID = &id
	}
	if out.Date, err = appointment.ParseDate(req.Date); err != nil {
		return out, err
	}
	out.StartTime = req.StartTime
	out.EndTime = req.EndTime
	out.Notes = req.Notes
	out.IdempotencyKey = req.IdempotencyKey
	return out, nil
}

func getAppointmentHandler(svc BookingService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID("id", chi.URLParam(r, "id"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			failed(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func transitionAppointmentHandler(svc BookingService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := parseID("id", chi.URLParam(r, "id"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "could not parse JSON")
			return
		}
		status, err := appointment.ParseStatus(req.Status)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		role, err := appointment.ParseRole(req.ActorRole)
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		appt, err := svc.Transition(r.Context(), appointment.TransitionRequest{
			AppointmentID: id,
			Status:        status,
			Role:          role,
		})
		if err != nil {
			failed(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func availabilityHandler(svc BookingService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := parseID("doctorID", chi.URLParam(r, "doctorID"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		clinicID, err := parseID("clinic_id", r.URL.Query().Get("clinic_id"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		date, err := appointment.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		slots, err := svc.Availability(r.Context(), appointment.AvailabilityQuery{
			DoctorID: doctorID,
			ClinicID: clinicID,
			Date:     date,
		})
		if err != nil {
			failed(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, AvailabilityResponse{
			DoctorID: doctorID,
			ClinicID: clinicID,
			Date:     appointment.FormatDate(date),
			Slots:    slots,
		})
	}
}

func listDoctorAppointmentsHandler(svc BookingService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := parseID("doctorID", chi.URLParam(r, "doctorID"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		date, err := appointment.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			badRequest(w, err.Error())
			return
		}

		appts, err := svc.ListDoctorAppointments(r.Context(), doctorID, date)
		if err != nil {
			failed(w, r, logger, err)
			return
		}

		resp := DoctorAppointmentsResponse{
			DoctorID:     doctorID,
			Date:         appointment.FormatDate(date),
			Appointments: make([]AppointmentResponse, 0, len(appts)),
		}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getScheduleHandler(svc BookingService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, doctorID, ok := assignmentParams(w, r)
		if !ok {
			return
		}

		tpl, err := svc.GetSchedule(r.Context(), doctorID, clinicID)
		if err != nil {
			failed(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ScheduleResponse{DoctorID: doctorID, ClinicID: clinicID, Schedule: tpl})
	}
}

func putScheduleHandler(svc BookingService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, doctorID, ok := assignmentParams(w, r)
		if !ok {
			return
		}

		var tpl schedule.Template
		if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
			if errors.Is(err, schedule.ErrMalformedTemplate) || errors.Is(err, schedule.ErrInvalidTimeOfDay) {
				badRequest(w, err.Error())
				return
			}
			badRequest(w, "could not parse JSON")
			return
		}

		if err := svc.PutSchedule(r.Context(), doctorID, clinicID, tpl); err != nil {
			failed(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ScheduleResponse{DoctorID: doctorID, ClinicID: clinicID, Schedule: tpl})
	}
}

func assignmentParams(w http.ResponseWriter, r *http.Request) (clinicID, doctorID uuid.UUID, ok bool) {
	clinicID, err := parseID("clinicID", chi.URLParam(r, "clinicID"))
	if err != nil {
		badRequest(w, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	doctorID, err = parseID("doctorID", chi.URLParam(r, "doctorID"))
	if err != nil {
		badRequest(w, err.Error())
		return uuid.Nil, uuid.Nil, false
	}
	return clinicID, doctorID, true
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, errors.New(field + " must be a valid UUID")
	}
	return id, nil
}

func failed(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	if appointment.KindOf(err) == appointment.KindInternal {
		logger.Error("request failed", "error", err, "path", r.URL.Path, "request_id", GetRequestID(r.Context()))
	}
	writeServiceError(w, err)
}
