package appointment

import (
	"errors"
	"fmt"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

// Kind is the stable error code surfaced at the API boundary.
type Kind string

const (
	KindPastDate                 Kind = "PAST_DATE"
	KindOutOfAdvanceWindow       Kind = "OUT_OF_ADVANCE_WINDOW"
	KindInvalidTimeRange         Kind = "INVALID_TIME_RANGE"
	KindOutsideWorkingHours      Kind = "OUTSIDE_WORKING_HOURS"
	KindSlotAlreadyBooked        Kind = "SLOT_ALREADY_BOOKED"
	KindCancellationWindowPassed Kind = "CANCELLATION_WINDOW_PASSED"
	KindInvalidStateTransition   Kind = "INVALID_STATE_TRANSITION"
	KindNotFound                 Kind = "NOT_FOUND"
	KindInvalidRequest           Kind = "INVALID_REQUEST"
	KindInternal                 Kind = "INTERNAL"
)

var (
	ErrPastDate                 = errors.New("appointment date is in the past")
	ErrOutOfAdvanceWindow       = errors.New("appointment date is beyond the booking window")
	ErrInvalidTimeRange         = errors.New("invalid time range")
	ErrOutsideWorkingHours      = errors.New("requested time is outside the doctor's working hours")
	ErrSlotAlreadyBooked        = errors.New("slot is already booked")
	ErrCancellationWindowPassed = errors.New("too late to cancel this appointment")
	ErrInvalidStatusTransition  = errors.New("invalid status transition")
	ErrInvalidRequest           = errors.New("invalid request")

	ErrClinicNotFound      = errors.New("clinic not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrPastDate, KindPastDate},
	{ErrOutOfAdvanceWindow, KindOutOfAdvanceWindow},
	{ErrInvalidTimeRange, KindInvalidTimeRange},
	{ErrOutsideWorkingHours, KindOutsideWorkingHours},
	{ErrSlotAlreadyBooked, KindSlotAlreadyBooked},
	{ErrCancellationWindowPassed, KindCancellationWindowPassed},
	{ErrInvalidStatusTransition, KindInvalidStateTransition},
	{ErrClinicNotFound, KindNotFound},
	{ErrDoctorNotFound, KindNotFound},
	{ErrPatientNotFound, KindNotFound},
	{ErrAppointmentNotFound, KindNotFound},
	{schedule.ErrAssignmentNotFound, KindNotFound},
	{schedule.ErrMalformedTemplate, KindInvalidRequest},
	{ErrInvalidRequest, KindInvalidRequest},
}

// KindOf classifies err; anything unrecognised is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// TransitionError names the rejected move.
type TransitionError struct {
	From Status
	To   Status
	Role Role
}

func (e *TransitionError) Error() string {
	if e.Role != "" && allowedTarget(e.From, e.To) {
		return fmt.Sprintf("invalid status transition from %s to %s for role %s", e.From, e.To, e.Role)
	}
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}
