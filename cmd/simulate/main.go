package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
)

type simOptions struct {
	baseURL     string
	duration    time.Duration
	workers     int
	stormSize   int     // concurrent requests fired at one slot before the mixed phase
	bookShare   float64 // rest of the mixed load splits between transitions and reads
	moveShare   float64
	replayShare float64 // bookings that resend an earlier request verbatim
	daysAhead   int
}

func parseOptions(httpPort string) (simOptions, error) {
	var o simOptions
	flag.StringVar(&o.baseURL, "url", "http://localhost:"+httpPort, "api base url")
	flag.DurationVar(&o.duration, "duration", 30*time.Second, "length of the mixed phase")
	flag.IntVar(&o.workers, "workers", 10, "concurrent clients in the mixed phase")
	flag.IntVar(&o.stormSize, "storm", 50, "concurrent bookings aimed at a single slot")
	flag.Float64Var(&o.bookShare, "book", 0.5, "share of bookings in the mixed phase")
	flag.Float64Var(&o.moveShare, "transition", 0.2, "share of status transitions in the mixed phase")
	flag.Float64Var(&o.replayShare, "replay", 0.1, "share of bookings that are replays")
	flag.IntVar(&o.daysAhead, "days", 7, "book up to this many days ahead")
	flag.Parse()

	switch {
	case o.workers <= 0:
		return o, errors.New("-workers must be > 0")
	case o.duration <= 0:
		return o, errors.New("-duration must be > 0")
	case o.daysAhead <= 0:
		return o, errors.New("-days must be > 0")
	case o.bookShare+o.moveShare > 1:
		return o, errors.New("-book plus -transition must not exceed 1")
	}
	return o, nil
}

type assignment struct {
	doctorID uuid.UUID
	clinicID uuid.UUID
}

type bookingBody struct {
	ClinicID       string `json:"clinic_id"`
	DoctorID       string `json:"doctor_id"`
	PatientID      string `json:"patient_id"`
	Date           string `json:"appointment_date"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	IdempotencyKey string `json:"idempotency_key"`
}

// fixtures are the rows the simulator books against plus the appointments it
// created along the way.
type fixtures struct {
	patients    []uuid.UUID
	assignments []assignment

	mu     sync.RWMutex
	booked []uuid.UUID
	bodies []bookingBody
}

func (f *fixtures) remember(id uuid.UUID, body bookingBody) {
	f.mu.Lock()
	f.booked = append(f.booked, id)
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()
}

func (f *fixtures) pick(rng *rand.Rand) (uuid.UUID, bookingBody, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.booked) == 0 {
		return uuid.Nil, bookingBody{}, false
	}
	i := rng.Intn(len(f.booked))
	return f.booked[i], f.bodies[i], true
}

func loadFixtures(ctx context.Context, pool *pgxpool.Pool) (*fixtures, error) {
	f := &fixtures{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients WHERE deleted_at IS NULL LIMIT 5000`)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		f.patients = append(f.patients, id)
	}
	rows.Close()

	rows, err = pool.Query(ctx, `SELECT doctor_id, clinic_id FROM doctor_clinics WHERE schedule IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	for rows.Next() {
		var a assignment
		if err := rows.Scan(&a.doctorID, &a.clinicID); err != nil {
			rows.Close()
			return nil, err
		}
		f.assignments = append(f.assignments, a)
	}
	rows.Close()

	if len(f.patients) == 0 || len(f.assignments) == 0 {
		return nil, errors.New("no patients or doctor assignments found, run cmd/seed first")
	}
	return f, nil
}

// tally counts results per outcome label and keeps latencies for percentiles.
type tally struct {
	mu        sync.Mutex
	outcomes  map[string]int
	latencies []time.Duration
}

func (t *tally) add(outcome string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outcomes == nil {
		t.outcomes = make(map[string]int)
	}
	t.outcomes[outcome]++
	t.latencies = append(t.latencies, d)
}

// percentile expects t.mu to be held.
func (t *tally) percentile(p int) time.Duration {
	if len(t.latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(t.latencies)
	slices.Sort(sorted)
	return sorted[min(len(sorted)*p/100, len(sorted)-1)]
}

// outcomeOf labels a response: 2xx by the given success label, 409/422 as a
// business rejection, anything else as an error.
func outcomeOf(status int, err error, success string) string {
	switch {
	case err != nil:
		return "error"
	case status >= 200 && status < 300:
		return success
	case status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return "rejected"
	}
	return fmt.Sprintf("http_%d", status)
}

type simulator struct {
	opts   simOptions
	fx     *fixtures
	client *http.Client
	logger *logging.Logger

	storm        tally
	booking      tally
	replay       tally
	transition   tally
	availability tally
	reads        tally
}

func main() {
	logger := logging.New(os.Getenv("LOG_LEVEL")).With("service", "simulate")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config load error", "error", err)
		os.Exit(1)
	}
	opts, err := parseOptions(cfg.HTTPPort)
	if err != nil {
		logger.Error("invalid options", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, db.PoolOptions{DSN: cfg.PostgresDSN, MaxConns: 4, AppName: "simulate"})
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	fx, err := loadFixtures(ctx, pool)
	if err != nil {
		logger.Error("load fixtures", "error", err)
		os.Exit(1)
	}
	logger.Info("fixtures loaded", "patients", len(fx.patients), "assignments", len(fx.assignments))

	sim := &simulator{
		opts:   opts,
		fx:     fx,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.runStorm(context.Background())
	sim.runMixed()
	sim.report()

	doubles, err := countDoubleBookings(context.Background(), pool)
	if err != nil {
		logger.Error("double booking check failed", "error", err)
		os.Exit(1)
	}
	if doubles > 0 {
		logger.Error("slots with more than one active appointment", "count", doubles)
		os.Exit(3)
	}
	if created := sim.storm.outcomes["created"]; created > 1 {
		logger.Error("storm produced more than one booking", "created", created)
		os.Exit(3)
	}
	fmt.Println("OK: no slot holds more than one active appointment")
}

// runStorm aims stormSize distinct requests at the first open slot of one
// doctor. At most one should come back 201.
func (s *simulator) runStorm(ctx context.Context) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	a := s.fx.assignments[rng.Intn(len(s.fx.assignments))]

	var date string
	var slot slotView
	found := false
	for d := 1; d <= s.opts.daysAhead && !found; d++ {
		date = time.Now().UTC().AddDate(0, 0, d).Format("2006-01-02")
		slots, err := s.availabilityOf(ctx, a, date)
		if err != nil {
			continue
		}
		for _, sl := range slots {
			if sl.Available {
				slot, found = sl, true
				break
			}
		}
	}
	if !found {
		s.logger.Warn("no open slot for the storm, skipping", "doctor_id", a.doctorID)
		return
	}

	s.logger.Info("storm starting", "doctor_id", a.doctorID, "date", date, "start", slot.Start, "requests", s.opts.stormSize)

	var wg sync.WaitGroup
	gate := make(chan struct{})
	for i := 0; i < s.opts.stormSize; i++ {
		body := bookingBody{
			ClinicID:       a.clinicID.String(),
			DoctorID:       a.doctorID.String(),
			PatientID:      s.fx.patients[i%len(s.fx.patients)].String(),
			Date:           date,
			StartTime:      slot.Start,
			EndTime:        slot.End,
			IdempotencyKey: uuid.NewString(),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			start := time.Now()
			status, id, err := s.book(ctx, body)
			s.storm.add(outcomeOf(status, err, "created"), time.Since(start))
			if err == nil && status == http.StatusCreated {
				s.fx.remember(id, body)
			}
		}()
	}
	close(gate)
	wg.Wait()
}

func (s *simulator) runMixed() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.duration)
	defer cancel()

	s.logger.Info("mixed load starting", "duration", s.opts.duration, "workers", s.opts.workers)

	var wg sync.WaitGroup
	for i := 0; i < s.opts.workers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for ctx.Err() == nil {
				switch r := rng.Float64(); {
				case r < s.opts.bookShare:
					if rng.Float64() < s.opts.replayShare {
						s.replayOne(ctx, rng)
					} else {
						s.bookOne(ctx, rng)
					}
				case r < s.opts.bookShare+s.opts.moveShare:
					s.transitionOne(ctx, rng)
				default:
					s.readOne(ctx, rng)
				}
			}
		}(time.Now().UnixNano() + int64(i))
	}
	wg.Wait()
}

type slotView struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Available bool   `json:"available"`
}

func (s *simulator) randomDate(rng *rand.Rand) string {
	return time.Now().UTC().AddDate(0, 0, 1+rng.Intn(s.opts.daysAhead)).Format("2006-01-02")
}

func (s *simulator) availabilityOf(ctx context.Context, a assignment, date string) ([]slotView, error) {
	var out struct {
		Slots []slotView `json:"slots"`
	}
	url := fmt.Sprintf("%s/doctors/%s/availability?clinic_id=%s&date=%s", s.opts.baseURL, a.doctorID, a.clinicID, date)
	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, url, nil, &out)
	s.availability.add(outcomeOf(status, err, "ok"), time.Since(start))
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("availability: status %d", status)
	}
	return out.Slots, nil
}

func (s *simulator) book(ctx context.Context, body bookingBody) (int, uuid.UUID, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, uuid.Nil, err
	}
	var out struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.call(ctx, http.MethodPost, s.opts.baseURL+"/appointments", payload, &out)
	return status, out.ID, err
}

// bookOne picks any slot of a random day, open or not, so workers keep
// colliding with each other.
func (s *simulator) bookOne(ctx context.Context, rng *rand.Rand) {
	a := s.fx.assignments[rng.Intn(len(s.fx.assignments))]
	date := s.randomDate(rng)
	slots, err := s.availabilityOf(ctx, a, date)
	if err != nil || len(slots) == 0 {
		return
	}
	slot := slots[rng.Intn(len(slots))]
	body := bookingBody{
		ClinicID:       a.clinicID.String(),
		DoctorID:       a.doctorID.String(),
		PatientID:      s.fx.patients[rng.Intn(len(s.fx.patients))].String(),
		Date:           date,
		StartTime:      slot.Start,
		EndTime:        slot.End,
		IdempotencyKey: uuid.NewString(),
	}

	start := time.Now()
	status, id, err := s.book(ctx, body)
	s.booking.add(outcomeOf(status, err, "created"), time.Since(start))
	if err == nil && status == http.StatusCreated {
		s.fx.remember(id, body)
	}
}

// replayOne resends an earlier booking. The answer must be 200 with the same id.
func (s *simulator) replayOne(ctx context.Context, rng *rand.Rand) {
	id, body, ok := s.fx.pick(rng)
	if !ok {
		return
	}
	start := time.Now()
	status, got, err := s.book(ctx, body)
	outcome := outcomeOf(status, err, "replayed")
	if outcome == "replayed" && (status != http.StatusOK || got != id) {
		outcome = "mismatch"
	}
	s.replay.add(outcome, time.Since(start))
}

var moves = []struct{ status, role string }{
	{"CONFIRMED", "staff"},
	{"CANCELLED", "patient"},
	{"CANCELLED", "staff"},
	{"COMPLETED", "doctor"},
	{"NO_SHOW", "staff"},
}

func (s *simulator) transitionOne(ctx context.Context, rng *rand.Rand) {
	id, _, ok := s.fx.pick(rng)
	if !ok {
		return
	}
	m := moves[rng.Intn(len(moves))]
	payload, _ := json.Marshal(map[string]string{"status": m.status, "actor_role": m.role})

	start := time.Now()
	status, err := s.call(ctx, http.MethodPost, fmt.Sprintf("%s/appointments/%s/status", s.opts.baseURL, id), payload, nil)
	s.transition.add(outcomeOf(status, err, "ok"), time.Since(start))
}

func (s *simulator) readOne(ctx context.Context, rng *rand.Rand) {
	var url string
	if id, _, ok := s.fx.pick(rng); ok && rng.Intn(2) == 0 {
		url = fmt.Sprintf("%s/appointments/%s", s.opts.baseURL, id)
	} else {
		a := s.fx.assignments[rng.Intn(len(s.fx.assignments))]
		url = fmt.Sprintf("%s/doctors/%s/appointments?date=%s", s.opts.baseURL, a.doctorID, s.randomDate(rng))
	}
	start := time.Now()
	status, err := s.call(ctx, http.MethodGet, url, nil, nil)
	s.reads.add(outcomeOf(status, err, "ok"), time.Since(start))
}

func (s *simulator) call(ctx context.Context, method, url string, body []byte, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, url, err)
		}
	}
	return resp.StatusCode, nil
}

// countDoubleBookings returns how many doctor/date/start groups hold more than
// one active appointment.
func countDoubleBookings(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT 1
			FROM appointments
			WHERE status IN ('PENDING', 'CONFIRMED') AND deleted_at IS NULL
			GROUP BY doctor_id, appointment_date, start_time
			HAVING count(*) > 1
		) dup
	`).Scan(&n)
	return n, err
}

func (s *simulator) report() {
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("booking simulation: %d workers for %s, storm of %d\n", s.opts.workers, s.opts.duration, s.opts.stormSize)
	fmt.Println(strings.Repeat("-", 72))

	for _, row := range []struct {
		name string
		t    *tally
	}{
		{"same-slot storm", &s.storm},
		{"availability", &s.availability},
		{"booking", &s.booking},
		{"replay", &s.replay},
		{"transition", &s.transition},
		{"reads", &s.reads},
	} {
		row.t.mu.Lock()
		if len(row.t.latencies) > 0 {
			labels := make([]string, 0, len(row.t.outcomes))
			for label, n := range row.t.outcomes {
				labels = append(labels, fmt.Sprintf("%s=%d", label, n))
			}
			slices.Sort(labels)
			fmt.Printf("%-16s n=%-6d %s\n", row.name, len(row.t.latencies), strings.Join(labels, " "))
			fmt.Printf("%-16s p50=%s p95=%s p99=%s\n", "",
				row.t.percentile(50).Round(time.Millisecond),
				row.t.percentile(95).Round(time.Millisecond),
				row.t.percentile(99).Round(time.Millisecond))
		}
		row.t.mu.Unlock()
	}
	fmt.Println()
}
