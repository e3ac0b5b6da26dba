package models

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
)

// Occupies reports whether a booking in this status holds its slot range.
func (s BookingStatus) Occupies() bool {
	return s == StatusPending || s == StatusConfirmed
}

// PaymentStatus tracks the out-of-band payment of a booking.
type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// SystemActor is the actor recorded for transitions the service makes on its own.
const SystemActor = "system"

// Booking is the durable appointment record.
type Booking struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	MerchantID      string        `json:"merchant_id"`
	StaffID         string        `json:"staff_id"`
	ServiceIDs      []string      `json:"service_ids"`
	Date            string        `json:"date"`
	StartMinute     int           `json:"start_minute"`
	DurationMinutes int           `json:"duration_minutes"`
	Status          BookingStatus `json:"status"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	AmountCents     int64         `json:"amount_cents"`
	OwnerToken      string        `json:"-"`
	Version         int64         `json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Range returns the slot range the booking occupies.
func (b *Booking) Range() SlotRange {
	return SlotRange{
		MerchantID:      b.MerchantID,
		StaffID:         b.StaffID,
		Date:            b.Date,
		StartMinute:     b.StartMinute,
		DurationMinutes: b.DurationMinutes,
	}
}

// NewBooking carries the fields for an atomic pending-booking insert.
type NewBooking struct {
	SlotRange
	UserID      string
	ServiceIDs  []string
	AmountCents int64
	// OwnerToken is the lock held by the creator. Its rows do not count as contention.
	OwnerToken string
}

// StatusChange is a compare-and-set transition request.
type StatusChange struct {
	BookingID string
	From      BookingStatus
	To        BookingStatus
	Actor     string
	Version   int64
}

// ServiceQuote is the resolved duration and price of a set of services.
type ServiceQuote struct {
	DurationMinutes int
	AmountCents     int64
}

// PaymentIntent records how a booking is expected to be paid.
type PaymentIntent struct {
	ID          string    `json:"id"`
	BookingID   string    `json:"booking_id"`
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// PaymentMethodPayAtShop is the default out-of-band collection method.
const PaymentMethodPayAtShop = "pay_at_shop"

// Outcome is the plain result handed to consumers of the booking core.
type Outcome struct {
	Success   bool          `json:"success"`
	BookingID string        `json:"booking_id,omitempty"`
	Status    BookingStatus `json:"status,omitempty"`
	Reason    Reason        `json:"reason,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Failure builds an unsuccessful outcome from an error.
func Failure(err error) Outcome {
	return Outcome{Reason: ReasonOf(err), Message: UserMessage(err)}
}
