package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/internal/models"
)

func TestGetAvailableSlots(t *testing.T) {
	db, clock := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AtomicLockSlots(ctx, lockFor(slotRange("anna", "11:00", 30), "owner-a", clock.Now().Add(5*time.Minute))))
	_, err := db.CreateBookingAtomic(ctx, models.NewBooking{SlotRange: slotRange("boris", "11:00", 60), UserID: "u1"})
	require.NoError(t, err)

	anna := models.AvailabilityRequest{MerchantID: "glow", StaffID: "anna", Date: testDate, DurationMinutes: 30}
	views, err := db.GetAvailableSlots(ctx, anna)
	require.NoError(t, err)
	assert.Len(t, views, 60)
	assert.Equal(t, models.SlotBooked, statusAt(t, views, "10:40"))
	assert.Equal(t, models.SlotBooked, statusAt(t, views, "11:20"))
	assert.Equal(t, models.SlotAvailable, statusAt(t, views, "11:30"))
	assert.Equal(t, models.SlotShopClosed, statusAt(t, views, "19:40"))

	anna.OwnerToken = "owner-a"
	views, err = db.GetAvailableSlots(ctx, anna)
	require.NoError(t, err)
	assert.Equal(t, models.SlotAvailable, statusAt(t, views, "11:00"), "own lock is transparent")

	all := models.AvailabilityRequest{MerchantID: "glow", Date: testDate, DurationMinutes: 30}
	views, err = db.GetAvailableSlots(ctx, all)
	require.NoError(t, err)
	assert.Equal(t, models.SlotBooked, statusAt(t, views, "11:00"), "both stylists occupied")
	assert.Equal(t, models.SlotAvailable, statusAt(t, views, "11:30"), "anna is free again")
	assert.Empty(t, views[0].StaffID)
}

func TestGetAvailableSlots_TodayBuffer(t *testing.T) {
	db, clock := newTestDB(t)
	clock.Advance(-clock.Now().Sub(time.Date(2030, 3, 11, 14, 7, 0, 0, ist)))

	views, err := db.GetAvailableSlots(context.Background(), models.AvailabilityRequest{
		MerchantID: "glow", StaffID: "anna", Date: testDate, DurationMinutes: 30,
	})
	require.NoError(t, err)
	require.NotEmpty(t, views)
	assert.Equal(t, "14:50", views[0].StartTime)
}

func TestGetAvailableSlots_Errors(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetAvailableSlots(ctx, models.AvailabilityRequest{MerchantID: "nope", Date: testDate, DurationMinutes: 30})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = db.GetAvailableSlots(ctx, models.AvailabilityRequest{MerchantID: "glow", Date: "11/03/2030", DurationMinutes: 30})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	_, err = db.GetAvailableSlots(ctx, models.AvailabilityRequest{MerchantID: "glow", Date: testDate})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestGetAvailableSlots_HolidayAndClosedDay(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AddHoliday(ctx, models.Holiday{MerchantID: "glow", Date: testDate, Name: "Holi"}))
	views, err := db.GetAvailableSlots(ctx, models.AvailabilityRequest{MerchantID: "glow", Date: testDate, DurationMinutes: 30})
	require.NoError(t, err)
	require.NotEmpty(t, views)
	for _, v := range views {
		assert.Equal(t, models.SlotShopClosed, v.Status)
	}

	require.NoError(t, db.UpsertMerchant(ctx, models.Merchant{ID: "glow", Name: "Glow"}, nil))
	views, err = db.GetAvailableSlots(ctx, models.AvailabilityRequest{MerchantID: "glow", Date: "2030-03-13", DurationMinutes: 30})
	require.NoError(t, err)
	assert.Empty(t, views)
}
