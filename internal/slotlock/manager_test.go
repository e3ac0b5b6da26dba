package slotlock

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"salonbook/internal/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) AtomicLockSlots(ctx context.Context, lock models.SlotLock) error {
	return m.Called(ctx, lock).Error(0)
}

func (m *mockStore) ReleaseLockedSlots(ctx context.Context, r models.SlotRange, ownerToken string) error {
	return m.Called(ctx, r, ownerToken).Error(0)
}

var testRange = models.SlotRange{MerchantID: "glow", StaffID: "anna", Date: "2030-03-11", StartMinute: 660, DurationMinutes: 30}

func newTestManager(store Store) *Manager {
	m := NewManager(store, Config{TTL: 5 * time.Minute, CallTimeout: time.Second}, zerolog.New(io.Discard))
	m.now = func() time.Time { return time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC) }
	m.newToken = func() string { return "token-1" }
	return m
}

func TestAcquire_Granted(t *testing.T) {
	store := new(mockStore)
	m := newTestManager(store)

	store.On("AtomicLockSlots", mock.Anything, mock.MatchedBy(func(l models.SlotLock) bool {
		return l.OwnerToken == "token-1" && l.SlotRange == testRange &&
			l.ExpiresAt.Equal(time.Date(2030, 3, 1, 9, 5, 0, 0, time.UTC))
	})).Return(nil)

	grant, err := m.Acquire(context.Background(), testRange)
	require.NoError(t, err)
	assert.True(t, grant.Granted)
	assert.Equal(t, "token-1", grant.OwnerToken)
	assert.Equal(t, 5*time.Minute, grant.ExpiresAt.Sub(m.now()))
	store.AssertExpectations(t)
}

func TestAcquire_Denied(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason models.Reason
	}{
		{"locked", models.ErrAlreadyLocked, models.ReasonAlreadyLocked},
		{"booked", models.ErrAlreadyBooked, models.ReasonAlreadyBooked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockStore)
			m := newTestManager(store)
			store.On("AtomicLockSlots", mock.Anything, mock.Anything).Return(tt.err).Once()

			grant, err := m.Acquire(context.Background(), testRange)
			require.NoError(t, err)
			assert.False(t, grant.Granted)
			assert.Equal(t, tt.reason, grant.Reason)
			assert.Empty(t, grant.OwnerToken)
			store.AssertNotCalled(t, "ReleaseLockedSlots", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAcquire_UnknownOutcomeReleases(t *testing.T) {
	store := new(mockStore)
	m := newTestManager(store)

	store.On("AtomicLockSlots", mock.Anything, mock.Anything).Return(context.DeadlineExceeded)
	store.On("ReleaseLockedSlots", mock.Anything, testRange, "token-1").Return(nil)

	_, err := m.Acquire(context.Background(), testRange)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.ReasonUnavailable, models.ReasonOf(err))
	store.AssertExpectations(t)
}

func TestAcquire_TimeoutBoundsCall(t *testing.T) {
	store := new(mockStore)
	m := newTestManager(store)
	m.callTimeout = 20 * time.Millisecond

	store.On("AtomicLockSlots", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(context.DeadlineExceeded)
	store.On("ReleaseLockedSlots", mock.Anything, testRange, "token-1").Return(nil)

	started := time.Now()
	_, err := m.Acquire(context.Background(), testRange)
	assert.Error(t, err)
	assert.Less(t, time.Since(started), time.Second)
	store.AssertCalled(t, "ReleaseLockedSlots", mock.Anything, testRange, "token-1")
}

func TestAcquire_InvalidRange(t *testing.T) {
	store := new(mockStore)
	m := newTestManager(store)

	bad := testRange
	bad.DurationMinutes = 0
	_, err := m.Acquire(context.Background(), bad)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
	store.AssertNotCalled(t, "AtomicLockSlots", mock.Anything, mock.Anything)
}

func TestRelease(t *testing.T) {
	store := new(mockStore)
	m := newTestManager(store)

	store.On("ReleaseLockedSlots", mock.Anything, testRange, "token-1").Return(nil).Twice()
	require.NoError(t, m.Release(context.Background(), testRange, "token-1"))
	require.NoError(t, m.Release(context.Background(), testRange, "token-1"))
	require.NoError(t, m.Release(context.Background(), testRange, ""), "empty token is a no-op")
	store.AssertExpectations(t)

	failing := new(mockStore)
	failing.On("ReleaseLockedSlots", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
	assert.Error(t, newTestManager(failing).Release(context.Background(), testRange, "token-1"))
}

func TestRelease_CancelledContext(t *testing.T) {
	store := new(mockStore)
	m := newTestManager(store)

	store.On("ReleaseLockedSlots", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), testRange, "token-1").Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, m.Release(ctx, testRange, "token-1"))
	store.AssertExpectations(t)
}

func TestRenew_KeepsOwnerToken(t *testing.T) {
	store := new(mockStore)
	m := newTestManager(store)

	moved := testRange
	moved.StartMinute = 700
	store.On("AtomicLockSlots", mock.Anything, mock.MatchedBy(func(l models.SlotLock) bool {
		return l.OwnerToken == "held-token" && l.SlotRange == moved
	})).Return(nil)

	grant, err := m.Renew(context.Background(), moved, "held-token")
	require.NoError(t, err)
	assert.True(t, grant.Granted)
	assert.Equal(t, "held-token", grant.OwnerToken)

	_, err = m.Renew(context.Background(), moved, "")
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
	store.AssertNumberOfCalls(t, "AtomicLockSlots", 1)
}
