package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAssignmentNotFound means the doctor does not practise at the clinic.
var ErrAssignmentNotFound = errors.New("doctor is not assigned to clinic")

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore keeps templates as JSONB on the doctor_clinics association row.
type PgStore struct {
	pool rowQuerier
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	if pool == nil {
		panic("schedule: pgx pool required")
	}
	return &PgStore{pool: pool}
}

func newPgStoreWithExec(exec rowQuerier) *PgStore {
	return &PgStore{pool: exec}
}

// Get loads the template. A NULL schedule column reads as an all-off week.
func (s *PgStore) Get(ctx context.Context, doctorID, clinicID uuid.UUID) (Template, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT schedule
		FROM doctor_clinics
		WHERE doctor_id = $1 AND clinic_id = $2
	`, doctorID, clinicID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Template{}, ErrAssignmentNotFound
		}
		return Template{}, fmt.Errorf("schedule: load template: %w", err)
	}

	var tpl Template
	if len(data) == 0 {
		return tpl, nil
	}
	if err := json.Unmarshal(data, &tpl); err != nil {
		return Template{}, fmt.Errorf("schedule: decode stored template: %w", err)
	}
	return tpl, nil
}

// Put replaces the template after validating it.
func (s *PgStore) Put(ctx context.Context, doctorID, clinicID uuid.UUID, tpl Template) error {
	if err := tpl.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("schedule: encode template: %w", err)
	}

	ct, err := s.pool.Exec(ctx, `
		UPDATE doctor_clinics
		SET schedule = $3,
		    updated_at = now()
		WHERE doctor_id = $1 AND clinic_id = $2
	`, doctorID, clinicID, data)
	if err != nil {
		return fmt.Errorf("schedule: store template: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}
