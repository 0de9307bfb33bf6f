package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/logging"
)

type mockEmailSender struct {
	sent    []EmailMessage
	callErr error
}

func (m *mockEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if m.callErr != nil {
		return m.callErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockFeedback struct {
	issued []uuid.UUID
}

func (m *mockFeedback) Issue(_ context.Context, appointmentID, _ uuid.UUID) (string, error) {
	m.issued = append(m.issued, appointmentID)
	return "tok-" + appointmentID.String()[:8], nil
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter("error", io.Discard)
}

func entryFor(t *testing.T, ev events.Event) events.Entry {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	return events.Entry{ID: uuid.New(), AppointmentID: ev.AppointmentID, Type: ev.EventType, Payload: payload, CreatedAt: time.Now()}
}

func sampleEvent(t events.Type) events.Event {
	return events.Event{
		AppointmentID:   uuid.New(),
		EventType:       t,
		PatientID:       uuid.New(),
		PatientName:     "Ana",
		PatientContact:  "ana@example.com",
		DoctorName:      "Dr. Okafor",
		ClinicName:      "Northside",
		AppointmentDate: "2026-11-03",
		StartTime:       "10:00",
	}
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestHandlerPublishesAndEmails(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "test:events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	email := &mockEmailSender{}
	h := NewHandler(client, email, nil, HandlerConfig{Channel: "test:events"}, testLogger())

	ev := sampleEvent(events.TypeConfirmed)
	require.NoError(t, h.Handle(ctx, entryFor(t, ev)))

	select {
	case msg := <-sub.Channel():
		var got events.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, ev.AppointmentID, got.AppointmentID)
		assert.Equal(t, events.TypeConfirmed, got.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}

	require.Len(t, email.sent, 1)
	assert.Equal(t, "Appointment confirmed", email.sent[0].Subject)
	assert.Contains(t, email.sent[0].Body, "2026-11-03 at 10:00")
}

func TestHandlerCompletedIssuesFeedback(t *testing.T) {
	email := &mockEmailSender{}
	fb := &mockFeedback{}
	h := NewHandler(nil, email, fb, HandlerConfig{FeedbackURL: "https://clinic.example/feedback/"}, testLogger())

	ev := sampleEvent(events.TypeCompleted)
	require.NoError(t, h.Handle(context.Background(), entryFor(t, ev)))

	require.Equal(t, []uuid.UUID{ev.AppointmentID}, fb.issued)
	require.Len(t, email.sent, 1)
	assert.Contains(t, email.sent[0].Body, "https://clinic.example/feedback/tok-")
}

func TestHandlerSkipsEmailForPhoneContact(t *testing.T) {
	email := &mockEmailSender{}
	h := NewHandler(nil, email, nil, HandlerConfig{}, testLogger())

	ev := sampleEvent(events.TypeCancelled)
	ev.PatientContact = "+15551234567"
	require.NoError(t, h.Handle(context.Background(), entryFor(t, ev)))
	assert.Empty(t, email.sent)
}

func TestHandlerEmailFailureIsReturned(t *testing.T) {
	email := &mockEmailSender{callErr: errors.New("smtp down")}
	h := NewHandler(nil, email, nil, HandlerConfig{}, testLogger())

	err := h.Handle(context.Background(), entryFor(t, sampleEvent(events.TypeCreated)))
	assert.Error(t, err)
}

func TestHandlerRejectsBadPayload(t *testing.T) {
	h := NewHandler(nil, &mockEmailSender{}, nil, HandlerConfig{}, testLogger())
	err := h.Handle(context.Background(), events.Entry{ID: uuid.New(), Type: events.TypeCreated, Payload: []byte("{")})
	assert.ErrorIs(t, err, events.ErrPermanent)
}

func TestHandlerPublishesOnlyAfterEmailSucceeds(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "test:events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	email := &mockEmailSender{callErr: errors.New("smtp down")}
	h := NewHandler(client, email, nil, HandlerConfig{Channel: "test:events"}, testLogger())
	entry := entryFor(t, sampleEvent(events.TypeCreated))

	// each failed attempt leaves the dashboard untouched
	for i := 0; i < 3; i++ {
		require.Error(t, h.Handle(ctx, entry))
	}
	select {
	case msg := <-sub.Channel():
		t.Fatalf("unexpected publish before delivery: %s", msg.Payload)
	case <-time.After(200 * time.Millisecond):
	}

	email.callErr = nil
	require.NoError(t, h.Handle(ctx, entry))
	select {
	case <-sub.Channel():
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
	select {
	case msg := <-sub.Channel():
		t.Fatalf("published twice: %s", msg.Payload)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHandlerPublishFailureDoesNotFailDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.SetError("ERR dashboard unavailable")

	email := &mockEmailSender{}
	h := NewHandler(client, email, nil, HandlerConfig{}, testLogger())

	require.NoError(t, h.Handle(context.Background(), entryFor(t, sampleEvent(events.TypeConfirmed))))
	assert.Len(t, email.sent, 1)
}

func TestRejectedForGood(t *testing.T) {
	assert.True(t, rejectedForGood(400))
	assert.True(t, rejectedForGood(403))
	assert.False(t, rejectedForGood(429))
	assert.False(t, rejectedForGood(500))
	assert.False(t, rejectedForGood(202))
}

func TestPgFeedbackIssuer(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	issuer := newFeedbackIssuerWithExec(mock, time.Hour)
	fixed := time.Date(2026, 11, 3, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return fixed }

	apptID, patientID := uuid.New(), uuid.New()
	mock.ExpectQuery("INSERT INTO feedback_tokens").
		WithArgs(pgxmock.AnyArg(), apptID, patientID, fixed.Add(time.Hour)).
		WillReturnRows(pgxmock.NewRows([]string{"token"}).AddRow("existing-token"))

	token, err := issuer.Issue(context.Background(), apptID, patientID)
	require.NoError(t, err)
	assert.Equal(t, "existing-token", token)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewEmailSenderFallsBackToLog(t *testing.T) {
	sender := NewEmailSender(SendGridConfig{}, testLogger())
	_, ok := sender.(*LogSender)
	assert.True(t, ok)
	assert.NoError(t, sender.Send(context.Background(), EmailMessage{To: "a@b.c", Subject: "hi"}))

	sender = NewEmailSender(SendGridConfig{APIKey: "SG.test", FromEmail: "no-reply@clinic.local"}, testLogger())
	_, ok = sender.(*SendGridSender)
	assert.True(t, ok)
}
