package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/logging"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type rowsQuerier interface {
	execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Append writes ev to the outbox through exec, normally the transaction that
// changed the appointment, so the event exists iff the change committed.
func Append(ctx context.Context, exec execer, ev Event) (uuid.UUID, error) {
	if exec == nil {
		return uuid.Nil, fmt.Errorf("events: exec required")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}

	id := uuid.New()
	if _, err := exec.Exec(ctx, `
		INSERT INTO appointment_events (id, appointment_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, id, ev.AppointmentID, string(ev.EventType), data); err != nil {
		return uuid.Nil, fmt.Errorf("events: insert outbox: %w", err)
	}
	return id, nil
}

// Store reads and acknowledges outbox rows.
type Store struct {
	pool rowsQuerier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithExec(exec rowsQuerier) *Store {
	return &Store{pool: exec}
}

// FetchPending returns undelivered, live entries. Entries that failed fewer
// times come first so a failing row cannot hold the head of the queue.
func (s *Store) FetchPending(ctx context.Context, limit int32) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, appointment_id, event_type, payload, attempts, created_at
		FROM appointment_events
		WHERE delivered_at IS NULL AND dead_at IS NULL
		ORDER BY attempts, created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry     Entry
			eventType string
			payload   []byte
		)
		if err := rows.Scan(&entry.ID, &entry.AppointmentID, &eventType, &payload, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Type = Type(eventType)
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE appointment_events
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkFailed records a failed delivery. Once attempts reaches maxAttempts, or
// immediately when permanent, the row is dead-lettered and no longer fetched.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, cause string, permanent bool, maxAttempts int) (bool, error) {
	var dead bool
	err := s.pool.QueryRow(ctx, `
		UPDATE appointment_events
		SET attempts = attempts + 1,
		    last_error = $2,
		    dead_at = CASE WHEN $3::boolean OR attempts + 1 >= $4 THEN now() END
		WHERE id = $1 AND delivered_at IS NULL
		RETURNING dead_at IS NOT NULL
	`, id, cause, permanent, maxAttempts).Scan(&dead)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: mark failed: %w", err)
	}
	return dead, nil
}

// Handler delivers one event to downstream collaborators.
type Handler interface {
	Handle(ctx context.Context, entry Entry) error
}

type pendingStore interface {
	FetchPending(ctx context.Context, limit int32) ([]Entry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, cause string, permanent bool, maxAttempts int) (bool, error)
}

const defaultMaxAttempts = 5

// Deliverer drains the outbox into a Handler. Failed entries are retried on
// later drains behind fresher ones and dead-lettered after maxAttempts.
type Deliverer struct {
	store       pendingStore
	handler     Handler
	logger      *logging.Logger
	batchSize   int32
	maxAttempts int
}

func NewDeliverer(store *Store, handler Handler, logger *logging.Logger) *Deliverer {
	return newDeliverer(store, handler, logger)
}

func newDeliverer(store pendingStore, handler Handler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:       store,
		handler:     handler,
		logger:      logger,
		batchSize:   25,
		maxAttempts: defaultMaxAttempts,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithMaxAttempts(n int) *Deliverer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

// Drain delivers one batch and reports how many entries were acknowledged.
func (d *Deliverer) Drain(ctx context.Context) (int, error) {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.fail(ctx, entry, err)
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
			continue
		}
		if ok {
			delivered++
			d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
		}
	}
	return delivered, nil
}

func (d *Deliverer) fail(ctx context.Context, entry Entry, cause error) {
	dead, err := d.store.MarkFailed(ctx, entry.ID, cause.Error(), errors.Is(cause, ErrPermanent), d.maxAttempts)
	if err != nil {
		d.logger.Error("failed to record outbox failure", "error", err, "event_id", entry.ID, "cause", cause)
		return
	}
	if dead {
		d.logger.Error("outbox entry dead-lettered", "error", cause, "event_id", entry.ID, "type", entry.Type, "attempts", entry.Attempts+1)
		return
	}
	d.logger.Warn("outbox delivery failed, will retry", "error", cause, "event_id", entry.ID, "type", entry.Type, "attempts", entry.Attempts+1)
}
