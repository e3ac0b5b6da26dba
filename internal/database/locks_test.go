package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/internal/models"
)

func TestAtomicLockSlots(t *testing.T) {
	db, clock := newTestDB(t)
	ctx := context.Background()
	expires := clock.Now().Add(5 * time.Minute)

	require.NoError(t, db.AtomicLockSlots(ctx, lockFor(slotRange("anna", "11:00", 30), "owner-a", expires)))

	err := db.AtomicLockSlots(ctx, lockFor(slotRange("anna", "11:20", 30), "owner-b", expires))
	assert.ErrorIs(t, err, models.ErrAlreadyLocked)

	assert.NoError(t, db.AtomicLockSlots(ctx, lockFor(slotRange("anna", "11:30", 30), "owner-b", expires)),
		"adjacent range does not overlap")
	assert.NoError(t, db.AtomicLockSlots(ctx, lockFor(slotRange("boris", "11:00", 30), "owner-c", expires)),
		"other staff is independent")
	assert.NoError(t, db.AtomicLockSlots(ctx, lockFor(slotRange("anna", "11:00", 30), "owner-a", expires.Add(time.Minute))),
		"owner may refresh its own lock")

	owner, _, err := db.LiveLock(ctx, "anna", testDate, 11*60+10)
	require.NoError(t, err)
	assert.Equal(t, "owner-a", owner)
}

func TestAtomicLockSlots_Invalid(t *testing.T) {
	db, clock := newTestDB(t)
	ctx := context.Background()

	err := db.AtomicLockSlots(ctx, lockFor(slotRange("anna", "11:00", 30), "", clock.Now()))
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	bad := slotRange("anna", "23:50", 30)
	err = db.AtomicLockSlots(ctx, lockFor(bad, "x", clock.Now()))
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestAtomicLockSlots_BookedRange(t *testing.T) {
	db, clock := newTestDB(t)
	ctx := context.Background()

	_, err := db.CreateBookingAtomic(ctx, models.NewBooking{
		SlotRange: slotRange("anna", "11:00", 60), UserID: "u1", ServiceIDs: []string{"color"},
	})
	require.NoError(t, err)

	err = db.AtomicLockSlots(ctx, lockFor(slotRange("anna", "11:30", 30), "owner-b", clock.Now().Add(time.Minute)))
	assert.ErrorIs(t, err, models.ErrAlreadyBooked)
}

func TestAtomicLockSlots_ExpiredLockDoesNotBlock(t *testing.T) {
	db, clock := newTestDB(t)
	ctx := context.Background()
	r := slotRange("anna", "11:00", 30)

	require.NoError(t, db.AtomicLockSlots(ctx, lockFor(r, "owner-a", clock.Now().Add(5*time.Minute))))

	views, err := db.GetAvailableSlots(ctx, models.AvailabilityRequest{MerchantID: "glow", StaffID: "anna", Date: testDate, DurationMinutes: 30})
	require.NoError(t, err)
	assert.Equal(t, models.SlotBooked, statusAt(t, views, "11:00"))

	clock.Advance(5*time.Minute + time.Second)

	views, err = db.GetAvailableSlots(ctx, models.AvailabilityRequest{MerchantID: "glow", StaffID: "anna", Date: testDate, DurationMinutes: 30})
	require.NoError(t, err)
	assert.Equal(t, models.SlotAvailable, statusAt(t, views, "11:00"))

	assert.NoError(t, db.AtomicLockSlots(ctx, lockFor(r, "owner-b", clock.Now().Add(5*time.Minute))))
}

func TestReleaseLockedSlots_Idempotent(t *testing.T) {
	db, clock := newTestDB(t)
	ctx := context.Background()
	mine := slotRange("anna", "11:00", 30)
	theirs := slotRange("anna", "12:00", 30)

	require.NoError(t, db.AtomicLockSlots(ctx, lockFor(mine, "owner-a", clock.Now().Add(time.Minute))))
	require.NoError(t, db.AtomicLockSlots(ctx, lockFor(theirs, "owner-b", clock.Now().Add(time.Minute))))

	require.NoError(t, db.ReleaseLockedSlots(ctx, mine, "owner-a"))
	require.NoError(t, db.ReleaseLockedSlots(ctx, mine, "owner-a"))
	require.NoError(t, db.ReleaseLockedSlots(ctx, theirs, "owner-a"), "wrong owner is a no-op")

	_, _, err := db.LiveLock(ctx, "anna", testDate, 11*60)
	assert.ErrorIs(t, err, models.ErrNotFound)

	owner, _, err := db.LiveLock(ctx, "anna", testDate, 12*60)
	require.NoError(t, err)
	assert.Equal(t, "owner-b", owner)

	clock.Advance(2 * time.Minute)
	assert.NoError(t, db.ReleaseLockedSlots(ctx, theirs, "owner-b"), "releasing an expired lock succeeds")
}

func TestAtomicLockSlots_ConcurrentSingleWinner(t *testing.T) {
	db, clock := newTestDB(t)
	ctx := context.Background()

	const n = 12
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Shifted ranges all overlap 11:20-11:30.
			start := fmt.Sprintf("11:%02d", 10*(i%3))
			results <- db.AtomicLockSlots(ctx, lockFor(slotRange("anna", start, 30), fmt.Sprintf("owner-%d", i), clock.Now().Add(time.Minute)))
		}(i)
	}
	wg.Wait()
	close(results)

	granted := 0
	for err := range results {
		if err == nil {
			granted++
			continue
		}
		assert.ErrorIs(t, err, models.ErrAlreadyLocked)
	}
	assert.Equal(t, 1, granted)
}

func TestPurgeExpiredLocks(t *testing.T) {
	db, clock := newTestDB(t)
	pub := &recordingPublisher{}
	db.SetPublisher(pub)
	ctx := context.Background()

	require.NoError(t, db.AtomicLockSlots(ctx, lockFor(slotRange("anna", "11:00", 30), "a", clock.Now().Add(time.Minute))))
	require.NoError(t, db.AtomicLockSlots(ctx, lockFor(slotRange("boris", "11:00", 30), "b", clock.Now().Add(time.Hour))))

	clock.Advance(2 * time.Minute)
	n, err := db.PurgeExpiredLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := pub.Events()
	require.Len(t, events, 3)
	last := events[2]
	assert.Equal(t, models.EntityLock, last.Entity)
	assert.Equal(t, models.OpDelete, last.Op)
	assert.Equal(t, "anna", last.StaffID)
	assert.Equal(t, "glow", last.MerchantID)

	_, _, err = db.LiveLock(ctx, "boris", testDate, 11*60)
	assert.NoError(t, err)
}

func TestAtomicLockSlots_MovedHoldFreesOldRange(t *testing.T) {
	db, clock := newTestDB(t)
	pub := &recordingPublisher{}
	db.SetPublisher(pub)
	ctx := context.Background()
	expires := clock.Now().Add(5 * time.Minute)

	require.NoError(t, db.AtomicLockSlots(ctx, lockFor(slotRange("anna", "11:00", 30), "owner-a", expires)))
	require.NoError(t, db.AtomicLockSlots(ctx, lockFor(slotRange("boris", "12:00", 30), "owner-a", expires)))

	_, _, err := db.LiveLock(ctx, "anna", testDate, 11*60)
	assert.ErrorIs(t, err, models.ErrNotFound)

	events := pub.Events()
	require.Len(t, events, 3)
	assert.Equal(t, models.OpDelete, events[1].Op)
	assert.Equal(t, "anna", events[1].StaffID)
	assert.Equal(t, models.OpInsert, events[2].Op)
	assert.Equal(t, "boris", events[2].StaffID)

	require.NoError(t, db.AtomicLockSlots(ctx, lockFor(slotRange("anna", "11:00", 30), "owner-b", expires)))
	owner, _, err := db.LiveLock(ctx, "anna", testDate, 11*60)
	require.NoError(t, err)
	assert.Equal(t, "owner-b", owner)
}

func TestAtomicLockSlots_DeniedMoveKeepsHold(t *testing.T) {
	db, clock := newTestDB(t)
	ctx := context.Background()
	expires := clock.Now().Add(5 * time.Minute)

	require.NoError(t, db.AtomicLockSlots(ctx, lockFor(slotRange("anna", "11:00", 30), "owner-a", expires)))
	require.NoError(t, db.AtomicLockSlots(ctx, lockFor(slotRange("boris", "12:00", 30), "owner-b", expires)))

	err := db.AtomicLockSlots(ctx, lockFor(slotRange("boris", "12:00", 30), "owner-a", expires))
	assert.ErrorIs(t, err, models.ErrAlreadyLocked)

	owner, _, err := db.LiveLock(ctx, "anna", testDate, 11*60)
	require.NoError(t, err)
	assert.Equal(t, "owner-a", owner)
}
