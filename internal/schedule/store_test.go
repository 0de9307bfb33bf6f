package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgStoreGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPgStoreWithExec(mock)
	doctorID, clinicID := uuid.New(), uuid.New()

	rows := pgxmock.NewRows([]string{"schedule"}).
		AddRow([]byte(`{"monday":{"start_time":"09:00","end_time":"12:00","slot_duration":15}}`))
	mock.ExpectQuery("SELECT schedule").WithArgs(doctorID, clinicID).WillReturnRows(rows)

	tpl, err := store.Get(context.Background(), doctorID, clinicID)
	require.NoError(t, err)
	assert.Equal(t, Working(tod("09:00"), tod("12:00"), 15), tpl.For(time.Monday))
	assert.False(t, tpl.For(time.Tuesday).Working)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreGetNullScheduleIsAllOff(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPgStoreWithExec(mock)
	doctorID, clinicID := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT schedule").WithArgs(doctorID, clinicID).
		WillReturnRows(pgxmock.NewRows([]string{"schedule"}).AddRow([]byte(nil)))

	tpl, err := store.Get(context.Background(), doctorID, clinicID)
	require.NoError(t, err)
	assert.Equal(t, Template{}, tpl)
}

func TestPgStoreGetMissingAssignment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPgStoreWithExec(mock)
	doctorID, clinicID := uuid.New(), uuid.New()

	mock.ExpectQuery("SELECT schedule").WithArgs(doctorID, clinicID).WillReturnError(pgx.ErrNoRows)

	_, err = store.Get(context.Background(), doctorID, clinicID)
	assert.ErrorIs(t, err, ErrAssignmentNotFound)
}

func TestPgStorePut(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newPgStoreWithExec(mock)
	doctorID, clinicID := uuid.New(), uuid.New()

	var tpl Template
	tpl.Set(time.Wednesday, Working(tod("13:00"), tod("17:00"), 30))

	mock.ExpectExec("UPDATE doctor_clinics").
		WithArgs(doctorID, clinicID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.Put(context.Background(), doctorID, clinicID, tpl))

	mock.ExpectExec("UPDATE doctor_clinics").
		WithArgs(doctorID, clinicID, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	assert.ErrorIs(t, store.Put(context.Background(), doctorID, clinicID, tpl), ErrAssignmentNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStorePutRejectsInvalidTemplate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var tpl Template
	tpl.Set(time.Monday, Working(tod("12:00"), tod("08:00"), 30))

	err = newPgStoreWithExec(mock).Put(context.Background(), uuid.New(), uuid.New(), tpl)
	assert.True(t, errors.Is(err, ErrMalformedTemplate))
	require.NoError(t, mock.ExpectationsWereMet())
}
