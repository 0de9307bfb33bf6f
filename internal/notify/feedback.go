package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FeedbackIssuer hands out the token a patient uses to rate a completed visit.
type FeedbackIssuer interface {
	Issue(ctx context.Context, appointmentID, patientID uuid.UUID) (string, error)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgFeedbackIssuer stores one token per appointment; issuing again returns the
// existing token so redelivered events do not mint new links.
type PgFeedbackIssuer struct {
	db  rowQuerier
	ttl time.Duration
	now func() time.Time
}

func NewPgFeedbackIssuer(pool *pgxpool.Pool, ttl time.Duration) *PgFeedbackIssuer {
	if pool == nil {
		panic("notify: pgx pool required")
	}
	return newFeedbackIssuerWithExec(pool, ttl)
}

func newFeedbackIssuerWithExec(db rowQuerier, ttl time.Duration) *PgFeedbackIssuer {
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	return &PgFeedbackIssuer{db: db, ttl: ttl, now: time.Now}
}

func (f *PgFeedbackIssuer) Issue(ctx context.Context, appointmentID, patientID uuid.UUID) (string, error) {
	var token string
	err := f.db.QueryRow(ctx, `
		INSERT INTO feedback_tokens (token, appointment_id, patient_id, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (appointment_id) DO UPDATE SET appointment_id = EXCLUDED.appointment_id
		RETURNING token
	`, uuid.NewString(), appointmentID, patientID, f.now().Add(f.ttl).UTC()).Scan(&token)
	if err != nil {
		return "", fmt.Errorf("notify: issue feedback token: %w", err)
	}
	return token, nil
}
