package schedule

// Interval is a half-open [Start, End) range within one day.
type Interval struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Overlaps uses strict comparison so back-to-back intervals do not collide.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && i.End > o.Start
}

// Within reports whether i lies entirely inside o.
func (i Interval) Within(o Interval) bool {
	return i.Start >= o.Start && i.End <= o.End
}

func (i Interval) Minutes() int {
	return int(i.End - i.Start)
}

// Slot is a bookable candidate interval.
type Slot struct {
	Start     TimeOfDay `json:"start"`
	End       TimeOfDay `json:"end"`
	Available bool      `json:"available"`
}

func (s Slot) Interval() Interval {
	return Interval{Start: s.Start, End: s.End}
}

// Generate cuts the working window of day into consecutive slots of the day's
// duration, or fallbackMinutes when the day has none. When the window does not
// divide evenly, the remainder is not emitted as a short slot and the last whole
// slot before it is dropped as well. Off days yield nil. All slots start available.
func Generate(day Day, fallbackMinutes int) []Slot {
	if !day.Working || day.Start >= day.End {
		return nil
	}
	step := day.SlotMinutes
	if step <= 0 {
		step = fallbackMinutes
	}
	if step <= 0 {
		return nil
	}

	window := int(day.End - day.Start)
	n := window / step
	if window%step != 0 && n > 0 {
		n--
	}

	slots := make([]Slot, 0, n)
	for i := 0; i < n; i++ {
		start := day.Start + TimeOfDay(i*step)
		slots = append(slots, Slot{Start: start, End: start + TimeOfDay(step), Available: true})
	}
	return slots
}

// BookableWindow is the span covered by Generate: from the first slot start to
// the last slot end. Bookings must lie inside it, so a request never lands in
// the tail that availability does not advertise. Empty when no slot fits.
func BookableWindow(day Day, fallbackMinutes int) Interval {
	slots := Generate(day, fallbackMinutes)
	if len(slots) == 0 {
		return Interval{}
	}
	return Interval{Start: slots[0].Start, End: slots[len(slots)-1].End}
}

// Annotate returns a copy of slots with Available cleared for every slot that
// intersects one of busy.
func Annotate(slots []Slot, busy []Interval) []Slot {
	out := make([]Slot, len(slots))
	for i, s := range slots {
		s.Available = true
		for _, b := range busy {
			if b.Overlaps(s.Interval()) {
				s.Available = false
				break
			}
		}
		out[i] = s
	}
	return out
}

// Slots is Generate followed by Annotate.
func Slots(day Day, fallbackMinutes int, busy []Interval) []Slot {
	return Annotate(Generate(day, fallbackMinutes), busy)
}
