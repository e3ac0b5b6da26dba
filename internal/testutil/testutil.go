// Package testutil builds seeded stores for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"salonbook/internal/database"
	"salonbook/internal/models"
)

// IST is the merchant zone used by seeded stores.
var IST = time.FixedZone("IST", 5*3600+30*60)

// Date is a Monday on which every seeded stylist works 10:00-20:00.
const Date = "2030-03-11"

// Clock is a settable time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// NewDB opens a temp-file store seeded with merchant "glow": stylists anna
// and boris, services cut (30m) and color (60m), and owner-1 as owner.
// The clock starts at 2030-03-01 09:00 IST.
func NewDB(t *testing.T) (*database.DB, *Clock) {
	t.Helper()
	clock := NewClock(time.Date(2030, 3, 1, 9, 0, 0, 0, IST))
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "salon.db"), database.Options{
		IntervalMinutes: 10,
		BufferMinutes:   40,
		Now:             clock.Now,
	}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	week := make([]models.DayHours, 0, 7)
	for d := 1; d <= 7; d++ {
		week = append(week, models.DayHours{Weekday: d, OpenMinute: 10 * 60, CloseMinute: 20 * 60})
	}
	require.NoError(t, db.UpsertMerchant(ctx, models.Merchant{ID: "glow", Name: "Glow", Timezone: "Asia/Kolkata"}, week))
	for _, id := range []string{"anna", "boris"} {
		require.NoError(t, db.UpsertStaff(ctx, models.Staff{ID: id, MerchantID: "glow", Name: id, Active: true, Hours: week}))
	}
	require.NoError(t, db.UpsertService(ctx, models.Service{ID: "cut", MerchantID: "glow", Name: "Haircut", DurationMinutes: 30, PriceCents: 50000}))
	require.NoError(t, db.UpsertService(ctx, models.Service{ID: "color", MerchantID: "glow", Name: "Color", DurationMinutes: 60, PriceCents: 120000}))
	require.NoError(t, db.UpsertMember(ctx, models.Member{MerchantID: "glow", UserID: "owner-1", Role: models.RoleOwner}))
	require.NoError(t, db.UpsertContact(ctx, models.Contact{UserID: "owner-1", ChatID: 1001}))
	require.NoError(t, db.UpsertContact(ctx, models.Contact{UserID: "customer-1", ChatID: 2001}))
	return db, clock
}

// StatusAt returns the status of the view entry starting at clock.
func StatusAt(t *testing.T, views []models.SlotView, clock string) models.SlotStatus {
	t.Helper()
	m, err := models.ParseClock(clock)
	require.NoError(t, err)
	for _, v := range views {
		if v.StartMinute == m {
			return v.Status
		}
	}
	t.Fatalf("no slot at %s", clock)
	return ""
}
