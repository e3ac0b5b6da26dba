package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"salonbook/internal/models"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

const testDate = "2030-03-11"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev models.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []models.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ChangeEvent(nil), p.events...)
}

func newTestDB(t *testing.T) (*DB, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2030, 3, 1, 9, 0, 0, 0, ist)}
	logger := zerolog.Nop()

	db, err := NewDB(filepath.Join(t.TempDir(), "salon.db"), Options{
		IntervalMinutes: 10,
		BufferMinutes:   40,
		Now:             clock.Now,
	}, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	seedCatalog(t, db)
	return db, clock
}

func seedCatalog(t *testing.T, db *DB) {
	t.Helper()
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
}

func slotRange(staff, clock string, duration int) models.SlotRange {
	m, _ := models.ParseClock(clock)
	return models.SlotRange{MerchantID: "glow", StaffID: staff, Date: testDate, StartMinute: m, DurationMinutes: duration}
}

func lockFor(r models.SlotRange, owner string, expires time.Time) models.SlotLock {
	return models.SlotLock{SlotRange: r, OwnerToken: owner, ExpiresAt: expires}
}

func statusAt(t *testing.T, views []models.SlotView, clock string) models.SlotStatus {
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
