package appointment

import (
	"fmt"
	"time"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

// Clock supplies the current instant.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

var SystemClock Clock = ClockFunc(time.Now)

// Validator applies clinic policy to bookings and cancellations. It reads no
// storage; callers pass in the template and current appointments.
type Validator struct {
	clock Clock
}

func NewValidator(clock Clock) *Validator {
	if clock == nil {
		clock = SystemClock
	}
	return &Validator{clock: clock}
}

// today is the current calendar date at the clinic.
func (v *Validator) today(settings ClinicSettings) time.Time {
	return civilDate(v.clock.Now().In(settings.Location()))
}

// ValidateBooking runs the policy checks in order and returns the requested
// interval. The first failing check decides the error.
func (v *Validator) ValidateBooking(req BookingRequest, settings ClinicSettings, tpl schedule.Template) (schedule.Interval, error) {
	date := civilDate(req.Date)
	today := v.today(settings)

	if date.Before(today) {
		return schedule.Interval{}, fmt.Errorf("%w: %s is before %s", ErrPastDate, FormatDate(date), FormatDate(today))
	}

	last := today.AddDate(0, 0, settings.BookingAdvanceDays)
	if date.After(last) {
		return schedule.Interval{}, fmt.Errorf("%w: latest bookable date is %s", ErrOutOfAdvanceWindow, FormatDate(last))
	}

	requested, err := parseRange(req.StartTime, req.EndTime)
	if err != nil {
		return schedule.Interval{}, err
	}

	day := tpl.For(date.Weekday())
	if !day.Working {
		return schedule.Interval{}, fmt.Errorf("%w: doctor does not work on %s", ErrOutsideWorkingHours, date.Weekday())
	}
	bookable := schedule.BookableWindow(day, settings.SlotDuration)
	if !requested.Within(bookable) {
		return schedule.Interval{}, fmt.Errorf("%w: %s-%s is outside %s-%s",
			ErrOutsideWorkingHours, requested.Start, requested.End, bookable.Start, bookable.End)
	}

	return requested, nil
}

func parseRange(startRaw, endRaw string) (schedule.Interval, error) {
	start, err := schedule.ParseTimeOfDay(startRaw)
	if err != nil {
		return schedule.Interval{}, fmt.Errorf("%w: start_time: %v", ErrInvalidTimeRange, err)
	}
	end, err := schedule.ParseTimeOfDay(endRaw)
	if err != nil {
		return schedule.Interval{}, fmt.Errorf("%w: end_time: %v", ErrInvalidTimeRange, err)
	}
	if start >= end {
		return schedule.Interval{}, fmt.Errorf("%w: start %s must be before end %s", ErrInvalidTimeRange, start, end)
	}
	return schedule.Interval{Start: start, End: end}, nil
}

// CheckOverlap fails when any appointment still holding its slot intersects
// requested. This is a fast-fail; the writer enforces the real constraint.
func (v *Validator) CheckOverlap(requested schedule.Interval, existing []Appointment) error {
	for _, a := range existing {
		if !a.Holds() {
			continue
		}
		if a.Interval().Overlaps(requested) {
			return fmt.Errorf("%w: overlaps %s-%s", ErrSlotAlreadyBooked, a.StartTime, a.EndTime)
		}
	}
	return nil
}

// CheckCancellation enforces the notice period for patients. Staff and admins
// may always cancel.
func (v *Validator) CheckCancellation(appt Appointment, settings ClinicSettings, role Role) error {
	if role != RolePatient {
		return nil
	}
	startsAt := appt.StartsAt(settings.Location())
	cutoff := time.Duration(settings.CancelBeforeHours) * time.Hour
	if startsAt.Sub(v.clock.Now()) < cutoff {
		return fmt.Errorf("%w: patients must cancel at least %d hours before %s",
			ErrCancellationWindowPassed, settings.CancelBeforeHours, startsAt.Format(time.RFC3339))
	}
	return nil
}
