package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-day format used for dates across the service.
const DateLayout = "2006-01-02"

// SlotStatus tags a slot in an availability view.
type SlotStatus string

const (
	SlotAvailable           SlotStatus = "Available"
	SlotBooked              SlotStatus = "Booked"
	SlotStylistNotAvailable SlotStatus = "Stylist Not Available"
	SlotShopClosed          SlotStatus = "Shop Closed"
)

// Rank orders blocking reasons by specificity. Higher is more specific.
func (s SlotStatus) Rank() int {
	switch s {
	case SlotBooked:
		return 3
	case SlotStylistNotAvailable:
		return 2
	case SlotShopClosed:
		return 1
	default:
		return 0
	}
}

// SlotRange addresses a contiguous run of minutes on one staff member's day.
type SlotRange struct {
	MerchantID      string `json:"merchant_id"`
	StaffID         string `json:"staff_id"`
	Date            string `json:"date"`
	StartMinute     int    `json:"start_minute"`
	DurationMinutes int    `json:"duration_minutes"`
}

// EndMinute returns the exclusive end of the range.
func (r SlotRange) EndMinute() int {
	return r.StartMinute + r.DurationMinutes
}

// Overlaps reports whether two ranges share any minute on the same staff day.
func (r SlotRange) Overlaps(o SlotRange) bool {
	if r.StaffID != o.StaffID || r.Date != o.Date {
		return false
	}
	return r.StartMinute < o.EndMinute() && o.StartMinute < r.EndMinute()
}

// Units returns the grid-aligned minutes covered by the range.
func (r SlotRange) Units(interval int) []int {
	if interval <= 0 {
		interval = 10
	}
	n := (r.DurationMinutes + interval - 1) / interval
	units := make([]int, 0, n)
	for i := 0; i < n; i++ {
		units = append(units, r.StartMinute+i*interval)
	}
	return units
}

// Validate checks the fields every store operation relies on.
func (r SlotRange) Validate() error {
	if r.MerchantID == "" || r.StaffID == "" {
		return fmt.Errorf("%w: merchant and staff are required", ErrInvalidRequest)
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("%w: invalid date %q", ErrInvalidRequest, r.Date)
	}
	if r.StartMinute < 0 || r.StartMinute >= MinutesPerDay {
		return fmt.Errorf("%w: start minute %d out of range", ErrInvalidRequest, r.StartMinute)
	}
	if r.DurationMinutes <= 0 || r.EndMinute() > MinutesPerDay {
		return fmt.Errorf("%w: duration %d does not fit the day", ErrInvalidRequest, r.DurationMinutes)
	}
	return nil
}

func (r SlotRange) String() string {
	return fmt.Sprintf("%s/%s %s %s+%dm", r.MerchantID, r.StaffID, r.Date, FormatMinute(r.StartMinute), r.DurationMinutes)
}

// SlotView is one entry of an availability view.
type SlotView struct {
	StaffID         string     `json:"staff_id,omitempty"`
	Date            string     `json:"date"`
	StartMinute     int        `json:"start_minute"`
	StartTime       string     `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          SlotStatus `json:"status"`
}

// SlotLock is a short-lived exclusive claim on a slot range.
type SlotLock struct {
	SlotRange
	OwnerToken string    `json:"owner_token"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// LockGrant is the outcome of a lock attempt.
type LockGrant struct {
	Granted    bool      `json:"granted"`
	Reason     Reason    `json:"reason,omitempty"`
	OwnerToken string    `json:"owner_token,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// AvailabilityRequest asks for the view of one merchant day.
// An empty StaffID aggregates across all active staff.
type AvailabilityRequest struct {
	MerchantID      string `json:"merchant_id"`
	StaffID         string `json:"staff_id,omitempty"`
	Date            string `json:"date"`
	DurationMinutes int    `json:"duration_minutes"`
	// OwnerToken lets a caller see through its own lock.
	OwnerToken string `json:"-"`
}

// CacheKey identifies the cached view for the request.
func (r AvailabilityRequest) CacheKey() string {
	return fmt.Sprintf("%s%d", AvailabilityKeyPrefix(r.MerchantID, r.StaffID, r.Date), r.DurationMinutes)
}

// AvailabilityKeyPrefix is the cache key prefix for a merchant, staff and date.
// An empty staff id addresses the aggregate view.
func AvailabilityKeyPrefix(merchantID, staffID, date string) string {
	if staffID == "" {
		staffID = "any"
	}
	return fmt.Sprintf("availability:%s:%s:%s:", merchantID, staffID, date)
}

// MinutesPerDay bounds every minute-of-day value.
const MinutesPerDay = 24 * 60

// ParseClock converts "HH:MM" into a minute of day. "24:00" is accepted as end of day.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" {
		return MinutesPerDay, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid time %q, expected HH:MM", ErrInvalidRequest, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatMinute renders a minute of day as "HH:MM".
func FormatMinute(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
