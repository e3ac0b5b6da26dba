package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"salonbook/internal/metrics"
	"salonbook/internal/models"
)

// CreateBookingRequest is a customer's request for a service appointment.
type CreateBookingRequest struct {
	UserID     string   `json:"user_id" validate:"required"`
	MerchantID string   `json:"merchant_id" validate:"required"`
	ServiceIDs []string `json:"service_ids" validate:"required,min=1,dive,required"`
	StaffID    string   `json:"staff_id" validate:"required"`
	Date       string   `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime  string   `json:"start_time" validate:"required"`
	// OwnerToken is the caller's held selection lock, if any. It is renewed
	// over the full range instead of taking a fresh lock.
	OwnerToken string `json:"owner_token,omitempty"`
}

// Catalog prices a set of services.
type Catalog interface {
	QuoteServices(ctx context.Context, merchantID string, serviceIDs []string) (models.ServiceQuote, error)
}

// Locker claims slot ranges.
type Locker interface {
	Acquire(ctx context.Context, r models.SlotRange) (models.LockGrant, error)
	Renew(ctx context.Context, r models.SlotRange, ownerToken string) (models.LockGrant, error)
	Release(ctx context.Context, r models.SlotRange, ownerToken string) error
}

// Writer inserts pending bookings.
type Writer interface {
	CreateBookingAtomic(ctx context.Context, nb models.NewBooking) (string, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
}

// PaymentRecorder stores how a booking will be paid.
type PaymentRecorder interface {
	RecordPaymentIntent(ctx context.Context, intent models.PaymentIntent) (string, error)
}

// Notifier receives booking notices. Implementations must not block.
type Notifier interface {
	BookingConfirmed(ctx context.Context, b models.Booking)
	BookingStatusChanged(ctx context.Context, b models.Booking, actor string)
}

// NopNotifier drops every notice.
type NopNotifier struct{}

func (NopNotifier) BookingConfirmed(context.Context, models.Booking)             {}
func (NopNotifier) BookingStatusChanged(context.Context, models.Booking, string) {}

// Coordinator runs the booking sequence: quote, lock, create, confirm,
// payment intent and notifications. A failed step undoes the earlier ones.
type Coordinator struct {
	catalog  Catalog
	locks    Locker
	writer   Writer
	machine  *StatusMachine
	payments PaymentRecorder
	notifier Notifier
	logger   zerolog.Logger

	callTimeout time.Duration
}

// DefaultCallTimeout bounds each store call the coordinator makes.
const DefaultCallTimeout = 5 * time.Second

func NewCoordinator(
	catalog Catalog,
	locks Locker,
	writer Writer,
	machine *StatusMachine,
	payments PaymentRecorder,
	notifier Notifier,
	logger zerolog.Logger,
) *Coordinator {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Coordinator{
		catalog:  catalog,
		locks:    locks,
		writer:   writer,
		machine:  machine,
		payments: payments,
		notifier: notifier,
		logger:   logger.With().Str("component", "coordinator").Logger(),

		callTimeout: DefaultCallTimeout,
	}
}

// SetCallTimeout changes the per-call bound. Non-positive values are ignored.
func (c *Coordinator) SetCallTimeout(d time.Duration) {
	if d > 0 {
		c.callTimeout = d
	}
}

func (c *Coordinator) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// CreateBooking books the requested slot. It never returns raw store errors;
// failures are reported through the outcome's reason.
func (c *Coordinator) CreateBooking(ctx context.Context, req CreateBookingRequest) models.Outcome {
	out := c.createBooking(ctx, req)
	if out.Success {
		metrics.IncBooking("ok")
	} else {
		metrics.IncBooking(string(out.Reason))
	}
	return out
}

func (c *Coordinator) createBooking(ctx context.Context, req CreateBookingRequest) models.Outcome {
	log := c.logger.With().Str("merchant_id", req.MerchantID).Str("staff_id", req.StaffID).
		Str("date", req.Date).Str("start", req.StartTime).Str("user_id", req.UserID).Logger()

	if req.UserID == "" {
		return models.Failure(fmt.Errorf("%w: user id is required", models.ErrInvalidRequest))
	}
	start, err := models.ParseClock(req.StartTime)
	if err != nil {
		return models.Failure(err)
	}

	callCtx, cancel := c.bounded(ctx)
	quote, err := c.catalog.QuoteServices(callCtx, req.MerchantID, req.ServiceIDs)
	cancel()
	if err != nil {
		log.Info().Err(err).Msg("Service quote failed")
		return models.Failure(err)
	}

	r := models.SlotRange{
		MerchantID:      req.MerchantID,
		StaffID:         req.StaffID,
		Date:            req.Date,
		StartMinute:     start,
		DurationMinutes: quote.DurationMinutes,
	}
	if err := r.Validate(); err != nil {
		return models.Failure(err)
	}

	var grant models.LockGrant
	if req.OwnerToken != "" {
		grant, err = c.locks.Renew(ctx, r, req.OwnerToken)
	} else {
		grant, err = c.locks.Acquire(ctx, r)
	}
	if err != nil {
		log.Warn().Err(err).Msg("Lock acquisition failed")
		return models.Failure(err)
	}
	if !grant.Granted {
		out := models.Failure(models.ErrSlotUnavailable)
		out.Message = fmt.Sprintf("%s (%s)", out.Message, grant.Reason)
		return out
	}

	callCtx, cancel = c.bounded(ctx)
	bookingID, err := c.writer.CreateBookingAtomic(callCtx, models.NewBooking{
		SlotRange:   r,
		UserID:      req.UserID,
		ServiceIDs:  req.ServiceIDs,
		AmountCents: quote.AmountCents,
		OwnerToken:  grant.OwnerToken,
	})
	cancel()
	if err != nil {
		log.Info().Err(err).Msg("Booking insert rejected, releasing lock")
		c.releaseLock(ctx, r, grant.OwnerToken, "create")
		if models.IsContention(err) {
			err = fmt.Errorf("%w: %v", models.ErrSlotUnavailable, err)
		}
		return models.Failure(err)
	}
	log = log.With().Str("booking_id", bookingID).Logger()

	callCtx, cancel = c.bounded(ctx)
	err = c.machine.Confirm(callCtx, bookingID, req.UserID)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("Confirmation failed, compensating")
		if cErr := c.machine.Compensate(ctx, bookingID); cErr != nil {
			log.Error().Err(cErr).Msg("Compensation failed")
		}
		c.releaseLock(ctx, r, grant.OwnerToken, "confirm")
		out := models.Failure(err)
		out.BookingID = bookingID
		return out
	}

	c.recordPayment(ctx, bookingID, quote.AmountCents, log)

	b := models.Booking{
		ID:              bookingID,
		UserID:          req.UserID,
		MerchantID:      req.MerchantID,
		StaffID:         req.StaffID,
		ServiceIDs:      req.ServiceIDs,
		Date:            req.Date,
		StartMinute:     start,
		DurationMinutes: quote.DurationMinutes,
		Status:          models.StatusConfirmed,
		AmountCents:     quote.AmountCents,
	}
	callCtx, cancel = c.bounded(ctx)
	if stored, err := c.writer.GetBooking(callCtx, bookingID); err == nil {
		b = *stored
	}
	cancel()
	c.notifier.BookingConfirmed(ctx, b)

	log.Info().Int("duration", quote.DurationMinutes).Int64("amount_cents", quote.AmountCents).Msg("Booking confirmed")
	return models.Outcome{Success: true, BookingID: bookingID, Status: models.StatusConfirmed}
}

func (c *Coordinator) releaseLock(ctx context.Context, r models.SlotRange, token, step string) {
	metrics.IncCompensation(step)
	if err := c.locks.Release(ctx, r, token); err != nil {
		c.logger.Error().Err(err).Str("range", r.String()).Msg("Lock release failed, lock will expire")
	}
}

func (c *Coordinator) recordPayment(ctx context.Context, bookingID string, amount int64, log zerolog.Logger) {
	if c.payments == nil {
		return
	}
	ctx, cancel := c.bounded(context.WithoutCancel(ctx))
	defer cancel()

	_, err := c.payments.RecordPaymentIntent(ctx, models.PaymentIntent{
		ID:          uuid.NewString(),
		BookingID:   bookingID,
		AmountCents: amount,
		Method:      models.PaymentMethodPayAtShop,
		Status:      string(models.PaymentPending),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Payment intent not recorded")
	}
}
