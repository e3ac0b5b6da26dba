// Package booking creates bookings and drives them through their lifecycle.
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"salonbook/internal/metrics"
	"salonbook/internal/models"
)

var transitions = map[models.BookingStatus][]models.BookingStatus{
	models.StatusPending:   {models.StatusConfirmed, models.StatusCancelled},
	models.StatusConfirmed: {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted: {},
	models.StatusCancelled: {},
}

// CanTransition checks if a booking may move from one status to another.
func CanTransition(from, to models.BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the status.
func IsTerminal(s models.BookingStatus) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Store is the booking status surface of the system of record.
type Store interface {
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	ConfirmBooking(ctx context.Context, bookingID, userID string) error
	SetBookingStatus(ctx context.Context, change models.StatusChange) error
}

// Authorizer tells merchant members apart from customers.
type Authorizer interface {
	CanManage(ctx context.Context, merchantID, userID string) (bool, error)
}

// StatusMachine is the only component that changes booking status.
type StatusMachine struct {
	store    Store
	auth     Authorizer
	notifier Notifier
	logger   zerolog.Logger
}

func NewStatusMachine(store Store, auth Authorizer, logger zerolog.Logger) *StatusMachine {
	return &StatusMachine{
		store:    store,
		auth:     auth,
		notifier: NopNotifier{},
		logger:   logger.With().Str("component", "status_machine").Logger(),
	}
}

// SetNotifier routes status change notices. A nil notifier disables them.
func (m *StatusMachine) SetNotifier(n Notifier) {
	if n == nil {
		n = NopNotifier{}
	}
	m.notifier = n
}

// SetStatus moves a booking to a new status on behalf of actor.
func (m *StatusMachine) SetStatus(ctx context.Context, bookingID string, to models.BookingStatus, actor string) models.Outcome {
	b, err := m.store.GetBooking(ctx, bookingID)
	if err != nil {
		return m.fail(bookingID, to, err)
	}
	if !CanTransition(b.Status, to) {
		return m.fail(bookingID, to, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, b.Status, to))
	}
	if err := m.authorize(ctx, b, to, actor); err != nil {
		return m.fail(bookingID, to, err)
	}

	err = m.store.SetBookingStatus(ctx, models.StatusChange{
		BookingID: b.ID,
		From:      b.Status,
		To:        to,
		Actor:     actor,
		Version:   b.Version,
	})
	if err != nil {
		return m.fail(bookingID, to, err)
	}

	metrics.IncTransition(string(to), "ok")
	m.logger.Info().Str("booking_id", b.ID).Str("from", string(b.Status)).Str("to", string(to)).
		Str("actor", actor).Msg("Booking status changed")

	b.Status = to
	b.Version++
	m.notifier.BookingStatusChanged(ctx, *b, actor)

	return models.Outcome{Success: true, BookingID: b.ID, Status: to}
}

// Confirm moves a freshly created booking to confirmed. The store drops the
// creator's lock rows in the same transaction.
func (m *StatusMachine) Confirm(ctx context.Context, bookingID, userID string) error {
	if err := m.store.ConfirmBooking(ctx, bookingID, userID); err != nil {
		metrics.IncTransition(string(models.StatusConfirmed), string(models.ReasonOf(err)))
		return fmt.Errorf("confirm booking %s: %w", bookingID, err)
	}
	metrics.IncTransition(string(models.StatusConfirmed), "ok")
	return nil
}

const compensateTimeout = 5 * time.Second

// Compensate cancels a booking as the system actor after a later step failed.
// It accepts pending and confirmed bookings; anything else is left alone.
func (m *StatusMachine) Compensate(ctx context.Context, bookingID string) error {
	// Compensation runs after the caller may have given up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	b, err := m.store.GetBooking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("compensate booking %s: %w", bookingID, err)
	}
	if !b.Status.Occupies() {
		return nil
	}

	err = m.store.SetBookingStatus(ctx, models.StatusChange{
		BookingID: b.ID,
		From:      b.Status,
		To:        models.StatusCancelled,
		Actor:     models.SystemActor,
		Version:   b.Version,
	})
	if err != nil {
		metrics.IncTransition(string(models.StatusCancelled), string(models.ReasonOf(err)))
		return fmt.Errorf("compensate booking %s: %w", bookingID, err)
	}
	metrics.IncTransition(string(models.StatusCancelled), "ok")
	m.logger.Warn().Str("booking_id", b.ID).Msg("Booking cancelled by compensation")
	return nil
}

func (m *StatusMachine) authorize(ctx context.Context, b *models.Booking, to models.BookingStatus, actor string) error {
	if actor == "" {
		return fmt.Errorf("%w: actor is required", models.ErrInvalidRequest)
	}
	if to != models.StatusCompleted && actor == b.UserID {
		return nil
	}

	member, err := m.auth.CanManage(ctx, b.MerchantID, actor)
	if err != nil {
		return err
	}
	if !member {
		if to == models.StatusCompleted {
			return fmt.Errorf("%w: only the merchant can complete a booking", models.ErrForbidden)
		}
		return fmt.Errorf("%w: %s is neither the customer nor a merchant member", models.ErrForbidden, actor)
	}
	return nil
}

func (m *StatusMachine) fail(bookingID string, to models.BookingStatus, err error) models.Outcome {
	reason := models.ReasonOf(err)
	metrics.IncTransition(string(to), string(reason))

	ev := m.logger.Info()
	if models.IsTransient(err) {
		ev = m.logger.Error()
	}
	ev.Err(err).Str("booking_id", bookingID).Str("to", string(to)).Msg("Booking status change rejected")

	out := models.Failure(err)
	out.BookingID = bookingID
	return out
}
