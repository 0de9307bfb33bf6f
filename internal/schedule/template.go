package schedule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrMalformedTemplate = errors.New("malformed schedule template")

// Day is one weekday of a template: either a working window or off.
// The zero value is off.
type Day struct {
	Working     bool
	Start       TimeOfDay
	End         TimeOfDay
	SlotMinutes int // 0 means use the clinic default
}

func Off() Day { return Day{} }

func Working(start, end TimeOfDay, slotMinutes int) Day {
	return Day{Working: true, Start: start, End: end, SlotMinutes: slotMinutes}
}

func (d Day) Validate() error {
	if !d.Working {
		return nil
	}
	if !d.Start.Valid() || !d.End.Valid() {
		return fmt.Errorf("%w: time outside of day", ErrMalformedTemplate)
	}
	if d.Start >= d.End {
		return fmt.Errorf("%w: start %s must be before end %s", ErrMalformedTemplate, d.Start, d.End)
	}
	if d.SlotMinutes < 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrMalformedTemplate)
	}
	return nil
}

// Template is the weekly availability of a doctor at a clinic, indexed by
// time.Weekday. A weekday that was never set is off.
type Template [7]Day

func (t Template) For(wd time.Weekday) Day {
	if wd < time.Sunday || wd > time.Saturday {
		return Off()
	}
	return t[wd]
}

func (t *Template) Set(wd time.Weekday, d Day) {
	t[wd] = d
}

func (t Template) Validate() error {
	for wd, d := range t {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%s: %w", weekdayKey(time.Weekday(wd)), err)
		}
	}
	return nil
}

var weekdayOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

func weekdayKey(wd time.Weekday) string {
	return strings.ToLower(wd.String())
}

func parseWeekday(key string) (time.Weekday, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, wd := range weekdayOrder {
		if weekdayKey(wd) == key {
			return wd, true
		}
	}
	return 0, false
}

type dayJSON struct {
	Off          bool       `json:"off,omitempty"`
	StartTime    *TimeOfDay `json:"start_time,omitempty"`
	EndTime      *TimeOfDay `json:"end_time,omitempty"`
	SlotDuration int        `json:"slot_duration,omitempty"`
}

// MarshalJSON writes all seven weekdays, off days as {"off":true}.
func (t Template) MarshalJSON() ([]byte, error) {
	out := make(map[string]dayJSON, len(weekdayOrder))
	for _, wd := range weekdayOrder {
		d := t[wd]
		if !d.Working {
			out[weekdayKey(wd)] = dayJSON{Off: true}
			continue
		}
		start, end := d.Start, d.End
		out[weekdayKey(wd)] = dayJSON{StartTime: &start, EndTime: &end, SlotDuration: d.SlotMinutes}
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts an object keyed by weekday name. Each value is null,
// "off", {"off":true} or {"start_time","end_time","slot_duration"}. Missing
// weekdays are off; unknown keys or fields are rejected, as is a weekday named
// twice in different case.
func (t *Template) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}

	var out Template
	var seen [7]bool
	for key, value := range raw {
		wd, ok := parseWeekday(key)
		if !ok {
			return fmt.Errorf("%w: unknown weekday %q", ErrMalformedTemplate, key)
		}
		if seen[wd] {
			return fmt.Errorf("%w: duplicate weekday %q", ErrMalformedTemplate, weekdayKey(wd))
		}
		seen[wd] = true
		d, err := decodeDay(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		out[wd] = d
	}

	if err := out.Validate(); err != nil {
		return err
	}
	*t = out
	return nil
}

func decodeDay(value json.RawMessage) (Day, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Off(), nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil || !strings.EqualFold(s, "off") {
			return Day{}, fmt.Errorf("%w: expected \"off\" or an object", ErrMalformedTemplate)
		}
		return Off(), nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	var dj dayJSON
	if err := dec.Decode(&dj); err != nil {
		return Day{}, fmt.Errorf("%w: %v", ErrMalformedTemplate, err)
	}

	if dj.Off {
		if dj.StartTime != nil || dj.EndTime != nil {
			return Day{}, fmt.Errorf("%w: off day cannot carry working hours", ErrMalformedTemplate)
		}
		return Off(), nil
	}
	if dj.StartTime == nil || dj.EndTime == nil {
		return Day{}, fmt.Errorf("%w: start_time and end_time are required", ErrMalformedTemplate)
	}
	if dj.SlotDuration < 0 {
		return Day{}, fmt.Errorf("%w: slot duration must be positive", ErrMalformedTemplate)
	}
	return Working(*dj.StartTime, *dj.EndTime, dj.SlotDuration), nil
}
