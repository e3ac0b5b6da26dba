// Package notify delivers booking notices to merchants and customers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salonbook/internal/models"
)

// Kind labels a notice for metrics and formatting.
type Kind string

const (
	KindMerchantNewBooking   Kind = "merchant_new_booking"
	KindCustomerConfirmation Kind = "customer_confirmation"
	KindStatusChanged        Kind = "status_changed"
)

// Message is one notice. It goes to UserID when set, otherwise to every
// member of MerchantID.
type Message struct {
	Kind       Kind
	UserID     string
	MerchantID string
	BookingID  string
	Text       string
}

func (m Message) recipient() string {
	if m.UserID != "" {
		return "user:" + m.UserID
	}
	return "merchant:" + m.MerchantID
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent checks if the error is a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// RetryAfterError asks the dispatcher to wait before the next attempt.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

func describeBooking(b models.Booking) string {
	end := b.StartMinute + b.DurationMinutes
	return fmt.Sprintf("%s, %s-%s with %s (%d min)",
		b.Date, models.FormatMinute(b.StartMinute), models.FormatMinute(end), b.StaffID, b.DurationMinutes)
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// MerchantNewBooking tells the merchant's members about a confirmed booking.
func MerchantNewBooking(b models.Booking) Message {
	return Message{
		Kind:       KindMerchantNewBooking,
		MerchantID: b.MerchantID,
		BookingID:  b.ID,
		Text: fmt.Sprintf("New booking %s\n%s\nAmount due: %s (pay at shop)",
			b.ID, describeBooking(b), formatAmount(b.AmountCents)),
	}
}

// CustomerConfirmation tells the customer the booking is confirmed.
func CustomerConfirmation(b models.Booking) Message {
	return Message{
		Kind:      KindCustomerConfirmation,
		UserID:    b.UserID,
		BookingID: b.ID,
		Text: fmt.Sprintf("Your booking is confirmed\n%s\nAmount: %s, payable at the shop\nBooking id: %s",
			describeBooking(b), formatAmount(b.AmountCents), b.ID),
	}
}

// StatusChanged tells the customer about a lifecycle change.
func StatusChanged(b models.Booking) Message {
	return Message{
		Kind:      KindStatusChanged,
		UserID:    b.UserID,
		BookingID: b.ID,
		Text:      fmt.Sprintf("Booking %s is now %s\n%s", b.ID, b.Status, describeBooking(b)),
	}
}
