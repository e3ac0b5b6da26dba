package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"salonbook/internal/models"
	"salonbook/internal/timegrid"
)

// GetAvailableSlots renders the availability view of a merchant day. Active
// bookings and live locks of other owners count as Booked.
func (db *DB) GetAvailableSlots(ctx context.Context, req models.AvailabilityRequest) ([]models.SlotView, error) {
	if req.MerchantID == "" {
		return nil, fmt.Errorf("%w: merchant is required", models.ErrInvalidRequest)
	}
	if _, err := time.Parse(models.DateLayout, req.Date); err != nil {
		return nil, fmt.Errorf("%w: invalid date %q", models.ErrInvalidRequest, req.Date)
	}
	if req.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", models.ErrInvalidRequest)
	}

	day, err := db.loadDaySchedule(ctx, db.DB, req.MerchantID, req.Date, req.StaffID, req.OwnerToken)
	if err != nil {
		return nil, err
	}

	return timegrid.BuildDayView(day, timegrid.ViewParams{
		StaffID:         req.StaffID,
		IntervalMinutes: db.interval,
		DurationMinutes: req.DurationMinutes,
		BufferMinutes:   db.buffer,
		Now:             db.now(),
		Location:        timegrid.LoadLocation(day.Timezone),
	}), nil
}

func (db *DB) loadDaySchedule(ctx context.Context, q querier, merchantID, date, staffID, ownerToken string) (models.DaySchedule, error) {
	day := models.DaySchedule{MerchantID: merchantID, Date: date}

	err := q.QueryRowContext(ctx, `SELECT timezone FROM merchants WHERE id = ?`, merchantID).Scan(&day.Timezone)
	if err == sql.ErrNoRows {
		return day, fmt.Errorf("merchant %s: %w", merchantID, models.ErrNotFound)
	}
	if err != nil {
		return day, fmt.Errorf("load merchant: %w", err)
	}

	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return day, fmt.Errorf("%w: invalid date %q", models.ErrInvalidRequest, date)
	}
	weekday := models.ISOWeekday(int(d.Weekday()))

	shop := models.DayHours{Weekday: weekday}
	err = q.QueryRowContext(ctx,
		`SELECT open_minute, close_minute FROM shop_hours WHERE merchant_id = ? AND weekday = ?`,
		merchantID, weekday,
	).Scan(&shop.OpenMinute, &shop.CloseMinute)
	switch {
	case err == nil:
		day.Shop = &shop
	case err != sql.ErrNoRows:
		return day, fmt.Errorf("load shop hours: %w", err)
	}

	var holidays int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM holidays WHERE merchant_id = ? AND date = ?`, merchantID, date,
	).Scan(&holidays); err != nil {
		return day, fmt.Errorf("load holidays: %w", err)
	}
	day.Holiday = holidays > 0

	staffIDs, err := db.activeStaff(ctx, q, merchantID, staffID)
	if err != nil {
		return day, err
	}
	if staffID != "" && len(staffIDs) == 0 {
		return day, fmt.Errorf("staff %s at merchant %s: %w", staffID, merchantID, models.ErrNotFound)
	}

	for _, id := range staffIDs {
		sd, err := db.loadStaffDay(ctx, q, id, date, weekday, ownerToken)
		if err != nil {
			return day, err
		}
		day.Staff = append(day.Staff, sd)
	}
	return day, nil
}

func (db *DB) activeStaff(ctx context.Context, q querier, merchantID, staffID string) ([]string, error) {
	query := `SELECT id FROM staff WHERE merchant_id = ? AND is_active = 1`
	args := []any{merchantID}
	if staffID != "" {
		query += ` AND id = ?`
		args = append(args, staffID)
	}
	rows, err := q.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("load staff: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) loadStaffDay(ctx context.Context, q querier, staffID, date string, weekday int, ownerToken string) (models.StaffDay, error) {
	sd := models.StaffDay{StaffID: staffID}

	h := models.DayHours{Weekday: weekday}
	err := q.QueryRowContext(ctx,
		`SELECT start_minute, end_minute FROM staff_hours WHERE staff_id = ? AND weekday = ?`, staffID, weekday,
	).Scan(&h.OpenMinute, &h.CloseMinute)
	switch {
	case err == nil:
		sd.Hours = &h
	case err != sql.ErrNoRows:
		return sd, fmt.Errorf("load staff hours: %w", err)
	}

	var leaves int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM staff_leaves WHERE staff_id = ? AND date = ?`, staffID, date,
	).Scan(&leaves); err != nil {
		return sd, fmt.Errorf("load staff leaves: %w", err)
	}
	sd.OnLeave = leaves > 0

	rows, err := q.QueryContext(ctx, `
		SELECT start_minute, duration_minutes FROM bookings
		WHERE staff_id = ? AND date = ? AND status IN ('pending', 'confirmed')
		UNION ALL
		SELECT minute, ? FROM slot_locks
		WHERE staff_id = ? AND date = ? AND expires_at > ? AND owner_token != ?`,
		staffID, date, db.interval, staffID, date, db.now().UnixMilli(), ownerToken,
	)
	if err != nil {
		return sd, fmt.Errorf("load occupancy: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r := models.SlotRange{StaffID: staffID, Date: date}
		if err := rows.Scan(&r.StartMinute, &r.DurationMinutes); err != nil {
			return sd, err
		}
		sd.Busy = append(sd.Busy, r)
	}
	return sd, rows.Err()
}
