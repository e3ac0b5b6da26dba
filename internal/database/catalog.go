package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"salonbook/internal/models"
)

// UpsertMerchant creates or updates a merchant and replaces its weekly hours.
func (db *DB) UpsertMerchant(ctx context.Context, m models.Merchant, hours []models.DayHours) error {
	if m.Timezone == "" {
		m.Timezone = "Asia/Kolkata"
	}
	return db.withTx(ctx, func(tx *sql.Tx, _ func(models.ChangeEvent)) error {
		now := time.Now()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO merchants (id, name, timezone, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				timezone = excluded.timezone,
				updated_at = excluded.updated_at`,
			m.ID, m.Name, m.Timezone, now, now)
		if err != nil {
			return fmt.Errorf("upsert merchant %s: %w", m.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM shop_hours WHERE merchant_id = ?`, m.ID); err != nil {
			return err
		}
		for _, h := range hours {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO shop_hours (merchant_id, weekday, open_minute, close_minute) VALUES (?, ?, ?, ?)`,
				m.ID, h.Weekday, h.OpenMinute, h.CloseMinute,
			); err != nil {
				return fmt.Errorf("insert shop hours %s/%d: %w", m.ID, h.Weekday, err)
			}
		}
		return nil
	})
}

// UpsertStaff creates or updates a stylist with weekly hours and leave dates.
func (db *DB) UpsertStaff(ctx context.Context, s models.Staff) error {
	return db.withTx(ctx, func(tx *sql.Tx, _ func(models.ChangeEvent)) error {
		now := time.Now()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO staff (id, merchant_id, name, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				merchant_id = excluded.merchant_id,
				name = excluded.name,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at`,
			s.ID, s.MerchantID, s.Name, s.Active, now, now)
		if err != nil {
			return fmt.Errorf("upsert staff %s: %w", s.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM staff_hours WHERE staff_id = ?`, s.ID); err != nil {
			return err
		}
		for _, h := range s.Hours {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO staff_hours (staff_id, weekday, start_minute, end_minute) VALUES (?, ?, ?, ?)`,
				s.ID, h.Weekday, h.OpenMinute, h.CloseMinute,
			); err != nil {
				return fmt.Errorf("insert staff hours %s/%d: %w", s.ID, h.Weekday, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM staff_leaves WHERE staff_id = ?`, s.ID); err != nil {
			return err
		}
		for _, d := range s.Leaves {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO staff_leaves (staff_id, date) VALUES (?, ?)`, s.ID, d,
			); err != nil {
				return fmt.Errorf("insert leave %s/%s: %w", s.ID, d, err)
			}
		}
		return nil
	})
}

// DeactivateMissingStaff marks staff of a merchant inactive unless listed in keep.
func (db *DB) DeactivateMissingStaff(ctx context.Context, merchantID string, keep []string) (int64, error) {
	query := `UPDATE staff SET is_active = 0, updated_at = ? WHERE merchant_id = ? AND is_active = 1`
	args := []any{time.Now(), merchantID}
	if len(keep) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(", ?", len(keep)-1) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deactivate staff: %w", err)
	}
	return res.RowsAffected()
}

// UpsertService creates or updates a bookable service.
func (db *DB) UpsertService(ctx context.Context, s models.Service) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO services (id, merchant_id, name, duration_minutes, price_cents, is_active)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			merchant_id = excluded.merchant_id,
			name = excluded.name,
			duration_minutes = excluded.duration_minutes,
			price_cents = excluded.price_cents,
			is_active = 1`,
		s.ID, s.MerchantID, s.Name, s.DurationMinutes, s.PriceCents)
	if err != nil {
		return fmt.Errorf("upsert service %s: %w", s.ID, err)
	}
	return nil
}

// AddHoliday closes the merchant for a date. Adding it twice keeps one row.
func (db *DB) AddHoliday(ctx context.Context, h models.Holiday) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO holidays (merchant_id, date, name) VALUES (?, ?, ?)
		ON CONFLICT(merchant_id, date) DO UPDATE SET name = excluded.name`,
		h.MerchantID, h.Date, h.Name)
	if err != nil {
		return fmt.Errorf("add holiday %s/%s: %w", h.MerchantID, h.Date, err)
	}
	return nil
}

// UpsertMember grants a user a role at a merchant.
func (db *DB) UpsertMember(ctx context.Context, m models.Member) error {
	if m.Role == "" {
		m.Role = models.RoleStaff
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO merchant_members (merchant_id, user_id, role) VALUES (?, ?, ?)
		ON CONFLICT(merchant_id, user_id) DO UPDATE SET role = excluded.role`,
		m.MerchantID, m.UserID, m.Role)
	if err != nil {
		return fmt.Errorf("upsert member %s/%s: %w", m.MerchantID, m.UserID, err)
	}
	return nil
}

// UpsertContact stores a user's Telegram chat.
func (db *DB) UpsertContact(ctx context.Context, c models.Contact) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO contacts (user_id, chat_id) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET chat_id = excluded.chat_id`,
		c.UserID, c.ChatID)
	if err != nil {
		return fmt.Errorf("upsert contact %s: %w", c.UserID, err)
	}
	return nil
}

// MemberRole returns the user's role at the merchant, or ErrNotFound.
func (db *DB) MemberRole(ctx context.Context, merchantID, userID string) (string, error) {
	var role string
	err := db.QueryRowContext(ctx,
		`SELECT role FROM merchant_members WHERE merchant_id = ? AND user_id = ?`, merchantID, userID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load member: %w", err)
	}
	return role, nil
}

// MerchantMembers returns the users that manage a merchant.
func (db *DB) MerchantMembers(ctx context.Context, merchantID string) ([]models.Member, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT merchant_id, user_id, role FROM merchant_members WHERE merchant_id = ? ORDER BY user_id`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.MerchantID, &m.UserID, &m.Role); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ChatID returns the Telegram chat of a user, or ErrNotFound.
func (db *DB) ChatID(ctx context.Context, userID string) (int64, error) {
	var chatID int64
	err := db.QueryRowContext(ctx, `SELECT chat_id FROM contacts WHERE user_id = ?`, userID).Scan(&chatID)
	if err == sql.ErrNoRows {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load contact: %w", err)
	}
	return chatID, nil
}

// GetMerchant loads a merchant by id.
func (db *DB) GetMerchant(ctx context.Context, id string) (*models.Merchant, error) {
	var m models.Merchant
	err := db.QueryRowContext(ctx, `SELECT id, name, timezone FROM merchants WHERE id = ?`, id).
		Scan(&m.ID, &m.Name, &m.Timezone)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load merchant: %w", err)
	}
	return &m, nil
}

// StaffNames maps staff ids of a merchant to display names.
func (db *DB) StaffNames(ctx context.Context, merchantID string) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name FROM staff WHERE merchant_id = ?`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

// QuoteServices sums duration and price of the merchant's services.
// Unknown, inactive or foreign services make the request invalid.
func (db *DB) QuoteServices(ctx context.Context, merchantID string, serviceIDs []string) (models.ServiceQuote, error) {
	var quote models.ServiceQuote
	if len(serviceIDs) == 0 {
		return quote, fmt.Errorf("%w: at least one service is required", models.ErrInvalidRequest)
	}

	for _, id := range serviceIDs {
		var duration int
		var price int64
		err := db.QueryRowContext(ctx, `
			SELECT duration_minutes, price_cents FROM services
			WHERE id = ? AND merchant_id = ? AND is_active = 1`, id, merchantID,
		).Scan(&duration, &price)
		if err == sql.ErrNoRows {
			return quote, fmt.Errorf("%w: unknown service %q", models.ErrInvalidRequest, id)
		}
		if err != nil {
			return quote, fmt.Errorf("load service: %w", err)
		}
		quote.DurationMinutes += duration
		quote.AmountCents += price
	}
	return quote, nil
}
