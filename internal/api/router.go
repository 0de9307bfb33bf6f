package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

// BookingService is what the HTTP layer needs from appointment.Service.
type BookingService interface {
	Book(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, appointment.Outcome, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Transition(ctx context.Context, req appointment.TransitionRequest) (*appointment.Appointment, error)
	Availability(ctx context.Context, q appointment.AvailabilityQuery) ([]schedule.Slot, error)
	ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]appointment.Appointment, error)
	GetSchedule(ctx context.Context, doctorID, clinicID uuid.UUID) (schedule.Template, error)
	PutSchedule(ctx context.Context, doctorID, clinicID uuid.UUID, tpl schedule.Template) error
}

type RouterConfig struct {
	Service        BookingService
	Postgres       Pinger
	Redis          RedisPinger
	MetricsHandler http.Handler // nil disables /metrics
	Logger         *logging.Logger
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(chimw.Recoverer)

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	svc := cfg.Service
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(svc, logger))
		r.Get("/{id}", getAppointmentHandler(svc, logger))
		r.Post("/{id}/status", transitionAppointmentHandler(svc, logger))
	})

	r.Get("/doctors/{doctorID}/availability", availabilityHandler(svc, logger))
	r.Get("/doctors/{doctorID}/appointments", listDoctorAppointmentsHandler(svc, logger))

	r.Get("/clinics/{clinicID}/doctors/{doctorID}/schedule", getScheduleHandler(svc, logger))
	r.Put("/clinics/{clinicID}/doctors/{doctorID}/schedule", putScheduleHandler(svc, logger))

	return r
}
