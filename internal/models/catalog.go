package models

// Merchant is a salon.
type Merchant struct {
	ID       string
	Name     string
	Timezone string
}

// DayHours is an open interval on a weekday, in minutes of day.
// Weekday uses 1=Mon..7=Sun.
type DayHours struct {
	Weekday     int
	OpenMinute  int
	CloseMinute int
}

// Staff is a stylist working for a merchant.
type Staff struct {
	ID         string
	MerchantID string
	Name       string
	Active     bool
	Hours      []DayHours
	// Leaves are dates the stylist does not work.
	Leaves []string
}

// Service is a bookable treatment.
type Service struct {
	ID              string
	MerchantID      string
	Name            string
	DurationMinutes int
	PriceCents      int64
}

// Holiday closes a merchant for a whole date.
type Holiday struct {
	MerchantID string
	Date       string
	Name       string
}

// Member roles.
const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)

// Member links a user to a merchant it may manage.
type Member struct {
	MerchantID string
	UserID     string
	Role       string
}

// Contact maps a user to a Telegram chat.
type Contact struct {
	UserID string
	ChatID int64
}

// DaySchedule is everything TimeGrid needs for one merchant day.
type DaySchedule struct {
	MerchantID string
	Date       string
	Timezone   string
	Shop       *DayHours
	Holiday    bool
	Staff      []StaffDay
}

// StaffDay is one stylist's working window and occupancy on a date.
type StaffDay struct {
	StaffID string
	Hours   *DayHours
	OnLeave bool
	Busy    []SlotRange
}

// ISOWeekday converts Go's weekday (0=Sun) to 1=Mon..7=Sun.
func ISOWeekday(wd int) int {
	if wd == 0 {
		return 7
	}
	return wd
}
