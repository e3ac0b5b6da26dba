// Package timegrid computes the discretized slots of a merchant day.
// Everything here is pure: callers pass "now" and the schedule explicitly.
package timegrid

import (
	"time"

	"salonbook/internal/models"
)

const (
	DefaultInterval      = 10
	DefaultBufferMinutes = 40
	DefaultTimezone      = "Asia/Kolkata"
)

// Params describes one staff day for candidate computation.
type Params struct {
	Shop *models.DayHours
	// Staff restricts candidates to the stylist's working window when set.
	Staff           *models.DayHours
	Holiday         bool
	Date            string
	IntervalMinutes int
	DurationMinutes int
	BufferMinutes   int
	Now             time.Time
	Location        *time.Location
}

// ComputeCandidateSlots returns the start minutes at which a service of the
// given duration may begin. Times before open, after close minus duration,
// the whole of a holiday and, for today, anything before now plus buffer are
// excluded.
func ComputeCandidateSlots(p Params) []int {
	if p.Shop == nil || p.Holiday {
		return nil
	}
	interval := intervalOrDefault(p.IntervalMinutes)
	duration := p.DurationMinutes
	if duration <= 0 {
		duration = interval
	}

	open, closeAt := ShopWindow(*p.Shop)
	cutoff := Cutoff(p.Date, p.Now, p.Location, p.BufferMinutes, interval)

	var out []int
	for t := open; t+duration <= closeAt; t += interval {
		if t < cutoff {
			continue
		}
		if p.Staff != nil && !covers(*p.Staff, t, duration) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ShopWindow returns the open and close minute for a day, clamping a close at
// or past midnight to the end of the calendar day.
func ShopWindow(h models.DayHours) (int, int) {
	open, closeAt := h.OpenMinute, h.CloseMinute
	if closeAt <= open || closeAt > models.MinutesPerDay {
		closeAt = models.MinutesPerDay
	}
	return open, closeAt
}

// Cutoff is the earliest bookable minute of date. Future dates return 0, past
// dates return a value past the end of day. For today it is now plus buffer,
// rounded up to the grid.
func Cutoff(date string, now time.Time, loc *time.Location, bufferMinutes, interval int) int {
	if now.IsZero() {
		return 0
	}
	if loc == nil {
		loc = LoadLocation(DefaultTimezone)
	}
	interval = intervalOrDefault(interval)

	local := now.In(loc)
	today := local.Format(models.DateLayout)
	switch {
	case date > today:
		return 0
	case date < today:
		return models.MinutesPerDay + interval
	}

	secs := local.Hour()*3600 + local.Minute()*60 + local.Second() + bufferMinutes*60
	step := interval * 60
	return ((secs + step - 1) / step) * interval
}

// LoadLocation resolves a zone name, falling back to a fixed IST offset when
// the zone database is missing.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("IST", 5*3600+30*60)
	}
	return loc
}

func covers(h models.DayHours, start, duration int) bool {
	open, closeAt := ShopWindow(h)
	return open <= start && start+duration <= closeAt
}

func intervalOrDefault(v int) int {
	if v <= 0 {
		return DefaultInterval
	}
	return v
}
