package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"salonbook/internal/models"
)

// AtomicLockSlots claims every grid unit of the lock's range for its owner.
// The whole check and insert runs in one immediate transaction; a denial is
// reported as ErrAlreadyBooked or ErrAlreadyLocked.
func (db *DB) AtomicLockSlots(ctx context.Context, lock models.SlotLock) error {
	if err := lock.Validate(); err != nil {
		return err
	}
	if lock.OwnerToken == "" {
		return fmt.Errorf("%w: owner token is required", models.ErrInvalidRequest)
	}

	return db.withTx(ctx, func(tx *sql.Tx, emit func(models.ChangeEvent)) error {
		now := db.now()

		// An owner holds one range at a time; a renew elsewhere moves the hold.
		previous, err := lockRanges(ctx, tx, `owner_token = ?`, lock.OwnerToken)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM slot_locks WHERE owner_token = ? OR (staff_id = ? AND date = ? AND expires_at <= ?)`,
			lock.OwnerToken, lock.StaffID, lock.Date, now.UnixMilli(),
		); err != nil {
			return fmt.Errorf("clear stale locks: %w", err)
		}

		booked, err := db.hasActiveBooking(ctx, tx, lock.SlotRange, "")
		if err != nil {
			return err
		}
		if booked {
			return models.ErrAlreadyBooked
		}

		locked, err := db.hasForeignLock(ctx, tx, lock.SlotRange, lock.OwnerToken, now)
		if err != nil {
			return err
		}
		if locked {
			return models.ErrAlreadyLocked
		}

		for _, minute := range lock.Units(db.interval) {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO slot_locks (staff_id, date, minute, merchant_id, owner_token, start_minute, duration_minutes, expires_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				lock.StaffID, lock.Date, minute, lock.MerchantID, lock.OwnerToken,
				lock.StartMinute, lock.DurationMinutes, lock.ExpiresAt.UnixMilli(),
			)
			if isConstraint(err) {
				return models.ErrAlreadyLocked
			}
			if err != nil {
				return fmt.Errorf("insert lock unit: %w", err)
			}
		}

		for _, r := range previous {
			if r.StaffID != lock.StaffID || r.Date != lock.Date {
				emit(lockEvent(r, models.OpDelete))
			}
		}
		emit(lockEvent(lock.SlotRange, models.OpInsert))
		return nil
	})
}

// ReleaseLockedSlots drops the owner's rows in the range. Releasing a lock
// that expired or was already released is a no-op.
func (db *DB) ReleaseLockedSlots(ctx context.Context, r models.SlotRange, ownerToken string) error {
	if ownerToken == "" {
		return nil
	}

	return db.withTx(ctx, func(tx *sql.Tx, emit func(models.ChangeEvent)) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM slot_locks
			WHERE staff_id = ? AND date = ? AND owner_token = ? AND minute >= ? AND minute < ?`,
			r.StaffID, r.Date, ownerToken, r.StartMinute, r.EndMinute(),
		)
		if err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			emit(lockEvent(r, models.OpDelete))
		}
		return nil
	})
}

// PurgeExpiredLocks deletes expired rows and returns how many lock ranges were dropped.
func (db *DB) PurgeExpiredLocks(ctx context.Context) (int, error) {
	var purged int
	err := db.withTx(ctx, func(tx *sql.Tx, emit func(models.ChangeEvent)) error {
		cutoff := db.now().UnixMilli()

		ranges, err := lockRanges(ctx, tx, `expires_at <= ?`, cutoff)
		if err != nil {
			return fmt.Errorf("list expired locks: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM slot_locks WHERE expires_at <= ?`, cutoff); err != nil {
			return fmt.Errorf("purge expired locks: %w", err)
		}
		for _, r := range ranges {
			emit(lockEvent(r, models.OpDelete))
		}
		purged = len(ranges)
		return nil
	})
	return purged, err
}

// LiveLock reports the owner and expiry of the live lock covering minute, if any.
func (db *DB) LiveLock(ctx context.Context, staffID, date string, minute int) (string, time.Time, error) {
	var owner string
	var expires int64
	err := db.QueryRowContext(ctx, `
		SELECT owner_token, expires_at FROM slot_locks
		WHERE staff_id = ? AND date = ? AND minute = ? AND expires_at > ?`,
		staffID, date, minute, db.now().UnixMilli(),
	).Scan(&owner, &expires)
	if err == sql.ErrNoRows {
		return "", time.Time{}, models.ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return owner, time.UnixMilli(expires), nil
}

func (db *DB) hasActiveBooking(ctx context.Context, q querier, r models.SlotRange, excludeID string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE staff_id = ? AND date = ? AND status IN ('pending', 'confirmed')
		  AND start_minute < ? AND start_minute + duration_minutes > ? AND id != ?`,
		r.StaffID, r.Date, r.EndMinute(), r.StartMinute, excludeID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check bookings: %w", err)
	}
	return n > 0, nil
}

func (db *DB) hasForeignLock(ctx context.Context, q querier, r models.SlotRange, ownerToken string, now time.Time) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM slot_locks
		WHERE staff_id = ? AND date = ? AND expires_at > ? AND owner_token != ?
		  AND minute > ? AND minute < ?`,
		r.StaffID, r.Date, now.UnixMilli(), ownerToken, r.StartMinute-db.interval, r.EndMinute(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check locks: %w", err)
	}
	return n > 0, nil
}

// lockRanges lists the distinct lock ranges whose rows match where.
func lockRanges(ctx context.Context, q querier, where string, args ...any) ([]models.SlotRange, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT merchant_id, staff_id, date, start_minute, duration_minutes
		FROM slot_locks WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var out []models.SlotRange
	for rows.Next() {
		var r models.SlotRange
		if err := rows.Scan(&r.MerchantID, &r.StaffID, &r.Date, &r.StartMinute, &r.DurationMinutes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func lockEvent(r models.SlotRange, op models.ChangeOp) models.ChangeEvent {
	return models.ChangeEvent{
		ID:          uuid.NewString(),
		MerchantID:  r.MerchantID,
		StaffID:     r.StaffID,
		Date:        r.Date,
		StartMinute: r.StartMinute,
		Duration:    r.DurationMinutes,
		Entity:      models.EntityLock,
		Op:          op,
	}
}
