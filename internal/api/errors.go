package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

var errNotConfigured = errors.New("not configured")

var kindStatus = map[appointment.Kind]int{
	appointment.KindInvalidRequest:           http.StatusBadRequest,
	appointment.KindInvalidTimeRange:         http.StatusBadRequest,
	appointment.KindNotFound:                 http.StatusNotFound,
	appointment.KindSlotAlreadyBooked:        http.StatusConflict,
	appointment.KindInvalidStateTransition:   http.StatusConflict,
	appointment.KindPastDate:                 http.StatusUnprocessableEntity,
	appointment.KindOutOfAdvanceWindow:       http.StatusUnprocessableEntity,
	appointment.KindOutsideWorkingHours:      http.StatusUnprocessableEntity,
	appointment.KindCancellationWindowPassed: http.StatusUnprocessableEntity,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps a service error onto its kind and status. Internal
// errors are logged by the caller and never leak their message.
func writeServiceError(w http.ResponseWriter, err error) {
	kind := appointment.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		writeError(w, http.StatusInternalServerError, string(appointment.KindInternal), "internal error")
		return
	}
	writeError(w, status, string(kind), err.Error())
}

func badRequest(w http.ResponseWriter, details string) {
	writeError(w, http.StatusBadRequest, string(appointment.KindInvalidRequest), details)
}
