package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var timezones = []string{"UTC", "Europe/London", "America/New_York", "Asia/Kolkata"}

func main() {
	clinicCount := flag.Int("clinics", 5, "clinics to create")
	doctorCount := flag.Int("doctors", 40, "doctors to create")
	patientCount := flag.Int("patients", 5000, "patients to create")
	flag.Parse()

	logger := logging.New(os.Getenv("LOG_LEVEL")).With("service", "seed")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, db.PoolOptions{DSN: cfg.PostgresDSN, MaxConns: cfg.PostgresMaxConn, AppName: "seed"})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	faker := gofakeit.New(0)

	clinics, err := seedClinics(ctx, pool, faker, *clinicCount)
	if err != nil {
		logger.Error("seed clinics", "error", err)
		os.Exit(1)
	}
	logger.Info("clinics seeded", "count", len(clinics))

	assigned, err := seedDoctors(ctx, pool, faker, clinics, *doctorCount)
	if err != nil {
		logger.Error("seed doctors", "error", err)
		os.Exit(1)
	}
	logger.Info("doctors seeded", "count", *doctorCount, "assignments", assigned)

	if err := seedPatients(ctx, pool, faker, logger, *patientCount); err != nil {
		logger.Error("seed patients", "error", err)
		os.Exit(1)
	}

	logger.Info("seed complete")
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, slot_duration, booking_advance_days, cancel_before_hours, timezone, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		`, id, faker.City()+" Clinic", []int{15, 20, 30}[faker.Number(0, 2)], faker.Number(14, 60),
			faker.Number(2, 48), timezones[faker.Number(0, len(timezones)-1)])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// randomTemplate gives a doctor a morning or afternoon session on some weekdays.
func randomTemplate(faker *gofakeit.Faker) schedule.Template {
	var tpl schedule.Template
	morning := faker.Bool()
	for wd := time.Monday; wd <= time.Saturday; wd++ {
		if wd == time.Saturday && faker.Number(0, 3) > 0 {
			continue
		}
		if faker.Number(0, 4) == 0 {
			continue
		}
		start, end := schedule.MustParseTimeOfDay("09:00"), schedule.MustParseTimeOfDay("13:00")
		if !morning {
			start, end = schedule.MustParseTimeOfDay("14:00"), schedule.MustParseTimeOfDay("18:00")
		}
		// 0 keeps the clinic default
		tpl.Set(wd, schedule.Working(start, end, []int{0, 0, 20, 30}[faker.Number(0, 3)]))
	}
	return tpl
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, clinics []uuid.UUID, count int) (int, error) {
	if len(clinics) == 0 {
		return 0, errors.New("no clinics to assign doctors to")
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	assignments := 0
	batch := &pgx.Batch{}
	for i := 0; i < count; i++ {
		id := uuid.New()
		batch.Queue(`
			INSERT INTO doctors (id, name, email, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, "Dr. "+faker.LastName(), faker.Email(), specialties[faker.Number(0, len(specialties)-1)])

		// every doctor works at one clinic, some at two
		first := faker.Number(0, len(clinics)-1)
		picks := []uuid.UUID{clinics[first]}
		if len(clinics) > 1 && faker.Bool() {
			picks = append(picks, clinics[(first+1)%len(clinics)])
		}
		for _, clinicID := range picks {
			tpl, err := json.Marshal(randomTemplate(faker))
			if err != nil {
				return 0, err
			}
			batch.Queue(`
				INSERT INTO doctor_clinics (doctor_id, clinic_id, schedule, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, clinicID, tpl)
			assignments++
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return assignments, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, logger *logging.Logger, count int) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		rows := make([][]any, 0, end-offset)
		for i := offset; i < end; i++ {
			var email, phone *string
			if faker.Number(0, 9) > 0 {
				e := faker.Email()
				email = &e
			}
			p := faker.Phone()
			phone = &p
			rows = append(rows, []any{uuid.New(), faker.Name(), email, phone})
		}

		_, err := pool.CopyFrom(ctx,
			pgx.Identifier{"patients"},
			[]string{"id", "name", "email", "phone"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return err
		}

		logger.Info("patients seeded", "done", end, "total", count)
	}
	return nil
}
