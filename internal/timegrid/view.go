package timegrid

import (
	"time"

	"salonbook/internal/models"
)

// ViewParams controls how a day schedule is rendered.
type ViewParams struct {
	// StaffID narrows the view to one stylist. Empty aggregates all staff.
	StaffID         string
	IntervalMinutes int
	DurationMinutes int
	BufferMinutes   int
	Now             time.Time
	Location        *time.Location
}

// BuildDayView tags every grid point of the shop day with exactly one status.
// With several stylists a point is Available when any of them is free,
// otherwise it carries the most specific blocking reason.
func BuildDayView(day models.DaySchedule, p ViewParams) []models.SlotView {
	if day.Shop == nil {
		return []models.SlotView{}
	}
	interval := intervalOrDefault(p.IntervalMinutes)
	duration := p.DurationMinutes
	if duration <= 0 {
		duration = interval
	}

	open, closeAt := ShopWindow(*day.Shop)
	cutoff := Cutoff(day.Date, p.Now, p.Location, p.BufferMinutes, interval)

	staff := day.Staff
	if p.StaffID != "" {
		staff = nil
		for _, sd := range day.Staff {
			if sd.StaffID == p.StaffID {
				staff = append(staff, sd)
			}
		}
	}

	views := make([]models.SlotView, 0, (closeAt-open)/interval)
	for t := open; t < closeAt; t += interval {
		if t < cutoff {
			continue
		}
		status := models.SlotShopClosed
		if !day.Holiday {
			status = pointStatus(staff, day.Date, t, duration, closeAt)
		}
		views = append(views, models.SlotView{
			StaffID:         p.StaffID,
			Date:            day.Date,
			StartMinute:     t,
			StartTime:       models.FormatMinute(t),
			DurationMinutes: duration,
			Status:          status,
		})
	}
	return views
}

func pointStatus(staff []models.StaffDay, date string, start, duration, closeAt int) models.SlotStatus {
	if len(staff) == 0 {
		if start+duration > closeAt {
			return models.SlotShopClosed
		}
		return models.SlotStylistNotAvailable
	}

	best := models.SlotStatus("")
	for _, sd := range staff {
		st := staffStatus(sd, date, start, duration, closeAt)
		if st == models.SlotAvailable {
			return models.SlotAvailable
		}
		if st.Rank() > best.Rank() {
			best = st
		}
	}
	return best
}

// staffStatus checks the stylist's hours only up to the shop's close.
func staffStatus(sd models.StaffDay, date string, start, duration, closeAt int) models.SlotStatus {
	want := models.SlotRange{StaffID: sd.StaffID, Date: date, StartMinute: start, DurationMinutes: duration}
	for _, busy := range sd.Busy {
		busy.StaffID, busy.Date = sd.StaffID, date
		if want.Overlaps(busy) {
			return models.SlotBooked
		}
	}
	end := min(start+duration, closeAt)
	if sd.OnLeave || sd.Hours == nil || !covers(*sd.Hours, start, end-start) {
		return models.SlotStylistNotAvailable
	}
	if start+duration > closeAt {
		return models.SlotShopClosed
	}
	return models.SlotAvailable
}

// IsBookable reports whether start is Available in the view.
func IsBookable(views []models.SlotView, start int) bool {
	for _, v := range views {
		if v.StartMinute == start {
			return v.Status == models.SlotAvailable
		}
	}
	return false
}
