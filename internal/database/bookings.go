package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"salonbook/internal/models"
	"salonbook/internal/timegrid"
)

const bookingColumns = `id, user_id, merchant_id, staff_id, service_ids, date, start_minute, duration_minutes,
	status, payment_status, amount_cents, owner_token, version, created_at, updated_at`

// CreateBookingAtomic inserts a pending booking after re-validating the range
// against the schedule, active bookings and other owners' locks in the same
// transaction.
func (db *DB) CreateBookingAtomic(ctx context.Context, nb models.NewBooking) (string, error) {
	if err := nb.Validate(); err != nil {
		return "", err
	}
	if nb.UserID == "" {
		return "", fmt.Errorf("%w: user is required", models.ErrInvalidRequest)
	}
	serviceIDs, err := json.Marshal(nb.ServiceIDs)
	if err != nil {
		return "", fmt.Errorf("encode service ids: %w", err)
	}

	id := uuid.NewString()
	err = db.withTx(ctx, func(tx *sql.Tx, emit func(models.ChangeEvent)) error {
		now := db.now()

		day, err := db.loadDaySchedule(ctx, tx, nb.MerchantID, nb.Date, nb.StaffID, nb.OwnerToken)
		if err != nil {
			return err
		}
		staffDay := day.Staff[0]
		candidates := timegrid.ComputeCandidateSlots(timegrid.Params{
			Shop:            day.Shop,
			Staff:           staffDay.Hours,
			Holiday:         day.Holiday || staffDay.OnLeave,
			Date:            nb.Date,
			IntervalMinutes: db.interval,
			DurationMinutes: nb.DurationMinutes,
			BufferMinutes:   db.buffer,
			Now:             now,
			Location:        timegrid.LoadLocation(day.Timezone),
		})
		if !contains(candidates, nb.StartMinute) {
			return fmt.Errorf("%w: %s is outside bookable hours", models.ErrSlotUnavailable, nb.SlotRange)
		}

		booked, err := db.hasActiveBooking(ctx, tx, nb.SlotRange, "")
		if err != nil {
			return err
		}
		if booked {
			return models.ErrAlreadyBooked
		}
		locked, err := db.hasForeignLock(ctx, tx, nb.SlotRange, nb.OwnerToken, now)
		if err != nil {
			return err
		}
		if locked {
			return models.ErrAlreadyLocked
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO bookings (`+bookingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			id, nb.UserID, nb.MerchantID, nb.StaffID, string(serviceIDs), nb.Date, nb.StartMinute, nb.DurationMinutes,
			models.StatusPending, models.PaymentUnpaid, nb.AmountCents, nb.OwnerToken, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		if err := insertHistory(ctx, tx, id, "", models.StatusPending, nb.UserID, now); err != nil {
			return err
		}

		emit(bookingEvent(id, nb.SlotRange, models.OpInsert, models.StatusPending))
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// ConfirmBooking moves a pending booking to confirmed and drops the creator's
// lock rows, which the booking now replaces as the range's occupancy.
func (db *DB) ConfirmBooking(ctx context.Context, bookingID, userID string) error {
	return db.SetBookingStatus(ctx, models.StatusChange{
		BookingID: bookingID,
		From:      models.StatusPending,
		To:        models.StatusConfirmed,
		Actor:     userID,
	})
}

// SetBookingStatus applies a compare-and-set transition. Leaving an occupying
// status releases the booking's lock rows in the same transaction.
func (db *DB) SetBookingStatus(ctx context.Context, change models.StatusChange) error {
	return db.withTx(ctx, func(tx *sql.Tx, emit func(models.ChangeEvent)) error {
		now := db.now()

		b, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, change.BookingID))
		if err != nil {
			return err
		}
		if b.Status != change.From || (change.Version > 0 && b.Version != change.Version) {
			return fmt.Errorf("%w: booking %s is %s", models.ErrConcurrentModification, b.ID, b.Status)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE bookings SET status = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND status = ? AND version = ?`,
			change.To, now, b.ID, b.Status, b.Version,
		)
		if err != nil {
			return fmt.Errorf("update booking status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrConcurrentModification
		}

		if change.To != models.StatusPending && b.OwnerToken != "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM slot_locks WHERE owner_token = ?`, b.OwnerToken); err != nil {
				return fmt.Errorf("release booking locks: %w", err)
			}
		}
		if err := insertHistory(ctx, tx, b.ID, b.Status, change.To, change.Actor, now); err != nil {
			return err
		}

		emit(bookingEvent(b.ID, b.Range(), models.OpUpdate, change.To))
		return nil
	})
}

// GetBooking loads a booking by id.
func (db *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return scanBooking(db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
}

// ListMerchantBookings returns bookings of a merchant with dates in [from, to].
func (db *DB) ListMerchantBookings(ctx context.Context, merchantID, from, to string) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE merchant_id = ? AND date >= ? AND date <= ?
		ORDER BY date, start_minute, staff_id`, merchantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// StatusHistory returns the recorded transitions of a booking, oldest first.
func (db *DB) StatusHistory(ctx context.Context, bookingID string) ([]models.StatusChange, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT from_status, to_status, actor FROM booking_status_history
		WHERE booking_id = ? ORDER BY id`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.StatusChange
	for rows.Next() {
		c := models.StatusChange{BookingID: bookingID}
		if err := rows.Scan(&c.From, &c.To, &c.Actor); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordPaymentIntent stores how the booking will be paid and marks it pending payment.
func (db *DB) RecordPaymentIntent(ctx context.Context, intent models.PaymentIntent) (string, error) {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.Method == "" {
		intent.Method = models.PaymentMethodPayAtShop
	}
	if intent.Status == "" {
		intent.Status = string(models.PaymentPending)
	}

	err := db.withTx(ctx, func(tx *sql.Tx, _ func(models.ChangeEvent)) error {
		now := db.now()
		res, err := tx.ExecContext(ctx,
			`UPDATE bookings SET payment_status = ?, updated_at = ? WHERE id = ?`,
			models.PaymentPending, now, intent.BookingID)
		if err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return models.ErrNotFound
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payments (id, booking_id, amount_cents, method, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			intent.ID, intent.BookingID, intent.AmountCents, intent.Method, intent.Status, now)
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return intent.ID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var serviceIDs string
	err := row.Scan(&b.ID, &b.UserID, &b.MerchantID, &b.StaffID, &serviceIDs, &b.Date, &b.StartMinute,
		&b.DurationMinutes, &b.Status, &b.PaymentStatus, &b.AmountCents, &b.OwnerToken, &b.Version,
		&b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	if err := json.Unmarshal([]byte(serviceIDs), &b.ServiceIDs); err != nil {
		return nil, fmt.Errorf("decode service ids: %w", err)
	}
	return &b, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, bookingID string, from, to models.BookingStatus, actor string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO booking_status_history (booking_id, from_status, to_status, actor, changed_at)
		VALUES (?, ?, ?, ?, ?)`, bookingID, from, to, actor, at)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func bookingEvent(id string, r models.SlotRange, op models.ChangeOp, status models.BookingStatus) models.ChangeEvent {
	return models.ChangeEvent{
		ID:          uuid.NewString(),
		MerchantID:  r.MerchantID,
		StaffID:     r.StaffID,
		Date:        r.Date,
		StartMinute: r.StartMinute,
		Duration:    r.DurationMinutes,
		Entity:      models.EntityBooking,
		Op:          op,
		BookingID:   id,
		Status:      status,
	}
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
