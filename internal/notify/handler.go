package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/logging"
)

// Publisher is the slice of the redis client used for dashboard fan-out.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Handler delivers outbox entries: a pub/sub message for live dashboards, an
// email to the patient, and a feedback link once a visit is completed.
type Handler struct {
	publisher   Publisher
	channel     string
	email       EmailSender
	feedback    FeedbackIssuer
	feedbackURL string
	logger      *logging.Logger
}

type HandlerConfig struct {
	Channel string
	// FeedbackURL is prefixed to the token, e.g. https://clinic.example/feedback/
	FeedbackURL string
}

func NewHandler(pub Publisher, email EmailSender, feedback FeedbackIssuer, cfg HandlerConfig, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if email == nil {
		email = NewLogSender(logger)
	}
	if cfg.Channel == "" {
		cfg.Channel = "clinic:appointments:events"
	}
	return &Handler{
		publisher:   pub,
		channel:     cfg.Channel,
		email:       email,
		feedback:    feedback,
		feedbackURL: cfg.FeedbackURL,
		logger:      logger,
	}
}

// Handle issues the feedback token and sends the email first, since those can
// fail and cause a retry. The dashboard message goes out last and only once the
// entry is otherwise delivered; a publish failure is logged, not retried.
func (h *Handler) Handle(ctx context.Context, entry events.Entry) error {
	ev, err := entry.Decode()
	if err != nil {
		return err
	}

	var feedbackLink string
	if ev.EventType == events.TypeCompleted && h.feedback != nil {
		token, err := h.feedback.Issue(ctx, ev.AppointmentID, ev.PatientID)
		if err != nil {
			return err
		}
		feedbackLink = h.feedbackURL + token
	}

	if strings.Contains(ev.PatientContact, "@") {
		if err := h.email.Send(ctx, composeEmail(ev, feedbackLink)); err != nil {
			return err
		}
	} else {
		h.logger.Debug("no email contact, skipping", "appointment_id", ev.AppointmentID, "type", ev.EventType)
	}

	if h.publisher != nil {
		if err := h.publisher.Publish(ctx, h.channel, []byte(entry.Payload)).Err(); err != nil {
			h.logger.Warn("dashboard publish failed", "error", err, "event_id", entry.ID, "type", ev.EventType)
		}
	}
	return nil
}

func composeEmail(ev events.Event, feedbackLink string) EmailMessage {
	when := fmt.Sprintf("%s at %s", ev.AppointmentDate, ev.StartTime)
	var subject, body string

	switch ev.EventType {
	case events.TypeCreated:
		subject = "Appointment request received"
		body = fmt.Sprintf("Hi %s,\n\nWe received your appointment with %s at %s on %s.", ev.PatientName, ev.DoctorName, ev.ClinicName, when)
	case events.TypeConfirmed:
		subject = "Appointment confirmed"
		body = fmt.Sprintf("Hi %s,\n\nYour appointment with %s at %s on %s is confirmed.", ev.PatientName, ev.DoctorName, ev.ClinicName, when)
	case events.TypeCancelled:
		subject = "Appointment cancelled"
		body = fmt.Sprintf("Hi %s,\n\nYour appointment with %s at %s on %s has been cancelled.", ev.PatientName, ev.DoctorName, ev.ClinicName, when)
	case events.TypeCompleted:
		subject = "How was your visit?"
		body = fmt.Sprintf("Hi %s,\n\nThanks for visiting %s at %s.", ev.PatientName, ev.DoctorName, ev.ClinicName)
		if feedbackLink != "" {
			body += "\nTell us how it went: " + feedbackLink
		}
	default:
		subject = "Appointment update"
		body = fmt.Sprintf("Hi %s,\n\nYour appointment on %s was updated.", ev.PatientName, when)
	}

	return EmailMessage{To: ev.PatientContact, ToName: ev.PatientName, Subject: subject, Body: body}
}
