package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

type fakeService struct {
	bookFn       func(appointment.BookingRequest) (*appointment.Appointment, appointment.Outcome, error)
	transitionFn func(appointment.TransitionRequest) (*appointment.Appointment, error)
	appts        map[uuid.UUID]*appointment.Appointment
	slots        []schedule.Slot
	template     schedule.Template
	putErr       error
	lastBooking  appointment.BookingRequest
	lastQuery    appointment.AvailabilityQuery
}

func (f *fakeService) Book(_ context.Context, req appointment.BookingRequest) (*appointment.Appointment, appointment.Outcome, error) {
	f.lastBooking = req
	return f.bookFn(req)
}

func (f *fakeService) GetAppointment(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	if a, ok := f.appts[id]; ok {
		return a, nil
	}
	return nil, appointment.ErrAppointmentNotFound
}

func (f *fakeService) Transition(_ context.Context, req appointment.TransitionRequest) (*appointment.Appointment, error) {
	return f.transitionFn(req)
}

func (f *fakeService) Availability(_ context.Context, q appointment.AvailabilityQuery) ([]schedule.Slot, error) {
	f.lastQuery = q
	return f.slots, nil
}

func (f *fakeService) ListDoctorAppointments(_ context.Context, doctorID uuid.UUID, _ time.Time) ([]appointment.Appointment, error) {
	var out []appointment.Appointment
	for _, a := range f.appts {
		if a.DoctorID == doctorID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeService) GetSchedule(_ context.Context, _, _ uuid.UUID) (schedule.Template, error) {
	return f.template, nil
}

func (f *fakeService) PutSchedule(_ context.Context, _, _ uuid.UUID, tpl schedule.Template) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.template = tpl
	return nil
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(svc BookingService) http.Handler {
	return NewRouter(RouterConfig{
		Service:  svc,
		Postgres: pingerFunc(func(context.Context) error { return nil }),
		Logger:   logging.NewWithWriter("error", io.Discard),
		Env:      "test",
		Version:  "dev",
	})
}

func sampleAppt() *appointment.Appointment {
	return &appointment.Appointment{
		ID:        uuid.New(),
		ClinicID:  uuid.New(),
		PatientID: uuid.New(),
		DoctorID:  uuid.New(),
		Date:      time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC),
		StartTime: schedule.MustParseTimeOfDay("10:00"),
		EndTime:   schedule.MustParseTimeOfDay("10:30"),
		Status:    appointment.StatusPending,
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func bookingBody(a *appointment.Appointment) CreateAppointmentRequest {
	return CreateAppointmentRequest{
		ClinicID:  a.ClinicID.String(),
		PatientID: a.PatientID.String(),
		DoctorID:  a.DoctorID.String(),
		Date:      "2026-11-03",
		StartTime: "10:00",
		EndTime:   "10:30",
	}
}

func TestCreateAppointmentCreated(t *testing.T) {
	appt := sampleAppt()
	svc := &fakeService{bookFn: func(req appointment.BookingRequest) (*appointment.Appointment, appointment.Outcome, error) {
		return appt, appointment.OutcomeCreated, nil
	}}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments", bookingBody(appt), "Idempotency-Key", "hdr-key")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, appt.ID, resp.ID)
	assert.Equal(t, "2026-11-03", resp.Date)
	assert.Equal(t, "PENDING", resp.Status)
	assert.False(t, resp.Replayed)

	require.NotNil(t, svc.lastBooking.IdempotencyKey)
	assert.Equal(t, "hdr-key", *svc.lastBooking.IdempotencyKey)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAppointmentReplayed(t *testing.T) {
	appt := sampleAppt()
	svc := &fakeService{bookFn: func(appointment.BookingRequest) (*appointment.Appointment, appointment.Outcome, error) {
		return appt, appointment.OutcomeReplayed, nil
	}}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments", bookingBody(appt))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Replayed)
}

func TestCreateAppointmentErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{appointment.ErrPastDate, http.StatusUnprocessableEntity, "PAST_DATE"},
		{appointment.ErrOutOfAdvanceWindow, http.StatusUnprocessableEntity, "OUT_OF_ADVANCE_WINDOW"},
		{appointment.ErrInvalidTimeRange, http.StatusBadRequest, "INVALID_TIME_RANGE"},
		{appointment.ErrOutsideWorkingHours, http.StatusUnprocessableEntity, "OUTSIDE_WORKING_HOURS"},
		{fmt.Errorf("create: %w", appointment.ErrSlotAlreadyBooked), http.StatusConflict, "SLOT_ALREADY_BOOKED"},
		{fmt.Errorf("load patient: %w", appointment.ErrPatientNotFound), http.StatusNotFound, "NOT_FOUND"},
		{schedule.ErrAssignmentNotFound, http.StatusNotFound, "NOT_FOUND"},
		{errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			appt := sampleAppt()
			svc := &fakeService{bookFn: func(appointment.BookingRequest) (*appointment.Appointment, appointment.Outcome, error) {
				return nil, "", tc.err
			}}
			rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments", bookingBody(appt))
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.kind, decodeError(t, rec).Error)
		})
	}
}

func TestCreateAppointmentInternalErrorHidesDetails(t *testing.T) {
	svc := &fakeService{bookFn: func(appointment.BookingRequest) (*appointment.Appointment, appointment.Outcome, error) {
		return nil, "", errors.New("pq: password authentication failed")
	}}
	rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments", bookingBody(sampleAppt()))
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestCreateAppointmentBadInput(t *testing.T) {
	svc := &fakeService{bookFn: func(appointment.BookingRequest) (*appointment.Appointment, appointment.Outcome, error) {
		t.Fatal("service must not be called")
		return nil, "", nil
	}}
	router := newTestRouter(svc)

	body := bookingBody(sampleAppt())
	body.DoctorID = "not-a-uuid"
	rec := do(t, router, http.MethodPost, "/appointments", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, rec).Error)

	body = bookingBody(sampleAppt())
	body.Date = "03/11/2026"
	rec = do(t, router, http.MethodPost, "/appointments", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAppointment(t *testing.T) {
	appt := sampleAppt()
	svc := &fakeService{appts: map[uuid.UUID]*appointment.Appointment{appt.ID: appt}}
	router := newTestRouter(svc)

	rec := do(t, router, http.MethodGet, "/appointments/"+appt.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/appointments/xyz", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransitionAppointment(t *testing.T) {
	appt := sampleAppt()
	var got appointment.TransitionRequest
	svc := &fakeService{transitionFn: func(req appointment.TransitionRequest) (*appointment.Appointment, error) {
		got = req
		updated := *appt
		updated.Status = req.Status
		return &updated, nil
	}}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments/"+appt.ID.String()+"/status",
		TransitionRequest{Status: "confirmed", ActorRole: "staff"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appointment.StatusConfirmed, got.Status)
	assert.Equal(t, appointment.RoleStaff, got.Role)
	assert.Equal(t, appt.ID, got.AppointmentID)
}

func TestTransitionAppointmentErrors(t *testing.T) {
	appt := sampleAppt()
	svc := &fakeService{transitionFn: func(req appointment.TransitionRequest) (*appointment.Appointment, error) {
		if req.Role == appointment.RolePatient {
			return nil, appointment.ErrCancellationWindowPassed
		}
		return nil, &appointment.TransitionError{From: appointment.StatusCancelled, To: req.Status}
	}}
	router := newTestRouter(svc)
	path := "/appointments/" + appt.ID.String() + "/status"

	rec := do(t, router, http.MethodPost, path, TransitionRequest{Status: "CANCELLED", ActorRole: "patient"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "CANCELLATION_WINDOW_PASSED", decodeError(t, rec).Error)

	rec = do(t, router, http.MethodPost, path, TransitionRequest{Status: "CONFIRMED", ActorRole: "staff"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE_TRANSITION", decodeError(t, rec).Error)

	rec = do(t, router, http.MethodPost, path, TransitionRequest{Status: "ARCHIVED", ActorRole: "staff"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, path, TransitionRequest{Status: "CONFIRMED", ActorRole: "robot"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAvailability(t *testing.T) {
	svc := &fakeService{slots: []schedule.Slot{
		{Start: schedule.MustParseTimeOfDay("09:00"), End: schedule.MustParseTimeOfDay("09:30"), Available: true},
		{Start: schedule.MustParseTimeOfDay("09:30"), End: schedule.MustParseTimeOfDay("10:00"), Available: false},
	}}
	doctorID, clinicID := uuid.New(), uuid.New()

	rec := do(t, newTestRouter(svc), http.MethodGet,
		"/doctors/"+doctorID.String()+"/availability?clinic_id="+clinicID.String()+"&date=2026-11-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"doctor_id": "`+doctorID.String()+`",
		"clinic_id": "`+clinicID.String()+`",
		"date": "2026-11-03",
		"slots": [
			{"start": "09:00", "end": "09:30", "available": true},
			{"start": "09:30", "end": "10:00", "available": false}
		]
	}`, rec.Body.String())
	assert.Equal(t, clinicID, svc.lastQuery.ClinicID)

	rec = do(t, newTestRouter(svc), http.MethodGet, "/doctors/"+doctorID.String()+"/availability?date=2026-11-03", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListDoctorAppointments(t *testing.T) {
	appt := sampleAppt()
	svc := &fakeService{appts: map[uuid.UUID]*appointment.Appointment{appt.ID: appt}}

	rec := do(t, newTestRouter(svc), http.MethodGet, "/doctors/"+appt.DoctorID.String()+"/appointments?date=2026-11-03", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DoctorAppointmentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Appointments, 1)
	assert.Equal(t, appt.ID, resp.Appointments[0].ID)
}

func TestScheduleRoundTrip(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)
	path := "/clinics/" + uuid.NewString() + "/doctors/" + uuid.NewString() + "/schedule"

	body := map[string]any{
		"monday":   map[string]any{"start_time": "09:00", "end_time": "13:00", "slot_duration": 30},
		"saturday": "off",
	}
	rec := do(t, router, http.MethodPut, path, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, svc.template.For(time.Monday).Working)
	assert.False(t, svc.template.For(time.Saturday).Working)

	rec = do(t, router, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"monday"`)

	rec = do(t, router, http.MethodPut, path, map[string]any{"funday": "off"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleUnknownAssignment(t *testing.T) {
	svc := &fakeService{putErr: fmt.Errorf("put schedule: %w", schedule.ErrAssignmentNotFound)}
	path := "/clinics/" + uuid.NewString() + "/doctors/" + uuid.NewString() + "/schedule"

	rec := do(t, newTestRouter(svc), http.MethodPut, path, map[string]any{"monday": "off"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	pgUp := pingerFunc(func(context.Context) error { return nil })
	pgDown := pingerFunc(func(context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	NewHealthHandler(pgUp, client, "test", "v1").Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	mr.SetError("LOADING redis is loading")
	rec = httptest.NewRecorder()
	NewHealthHandler(pgUp, client, "test", "v1").Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)

	rec = httptest.NewRecorder()
	NewHealthHandler(pgDown, nil, "test", "v1").Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveness(t *testing.T) {
	rec := do(t, newTestRouter(&fakeService{}), http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
