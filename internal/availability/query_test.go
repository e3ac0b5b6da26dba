package availability

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

func (m *mockStore) GetAvailableSlots(ctx context.Context, req models.AvailabilityRequest) ([]models.SlotView, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.SlotView), args.Error(1)
}

var annaReq = models.AvailabilityRequest{MerchantID: "glow", StaffID: "anna", Date: "2030-03-11", DurationMinutes: 30}

func newTestQuery(store Store) (*Query, *MemoryCache) {
	cache := NewMemoryCache()
	return NewQuery(store, cache, Config{TTL: time.Minute, Retries: 2, RetryDelay: time.Millisecond}, zerolog.New(io.Discard)), cache
}

func TestGetAvailability_Caches(t *testing.T) {
	store := new(mockStore)
	q, _ := newTestQuery(store)
	store.On("GetAvailableSlots", mock.Anything, annaReq).Return(sampleViews, nil).Once()

	first, err := q.GetAvailability(context.Background(), annaReq)
	require.NoError(t, err)
	second, err := q.GetAvailability(context.Background(), annaReq)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	store.AssertNumberOfCalls(t, "GetAvailableSlots", 1)
}

func TestGetAvailability_RetriesTransient(t *testing.T) {
	store := new(mockStore)
	q, _ := newTestQuery(store)
	store.On("GetAvailableSlots", mock.Anything, annaReq).Return(nil, errors.New("database is locked")).Twice()
	store.On("GetAvailableSlots", mock.Anything, annaReq).Return(sampleViews, nil).Once()

	views, err := q.GetAvailability(context.Background(), annaReq)
	require.NoError(t, err)
	assert.Equal(t, sampleViews, views)
	store.AssertNumberOfCalls(t, "GetAvailableSlots", 3)
}

func TestGetAvailability_RetriesAreBounded(t *testing.T) {
	store := new(mockStore)
	q, _ := newTestQuery(store)
	store.On("GetAvailableSlots", mock.Anything, annaReq).Return(nil, errors.New("database is locked"))

	_, err := q.GetAvailability(context.Background(), annaReq)
	require.Error(t, err)
	assert.Equal(t, models.ReasonUnavailable, models.ReasonOf(err))
	store.AssertNumberOfCalls(t, "GetAvailableSlots", 3)
}

func TestGetAvailability_NoRetryOnIntegrityErrors(t *testing.T) {
	store := new(mockStore)
	q, _ := newTestQuery(store)
	store.On("GetAvailableSlots", mock.Anything, annaReq).Return(nil, models.ErrNotFound)

	_, err := q.GetAvailability(context.Background(), annaReq)
	assert.ErrorIs(t, err, models.ErrNotFound)
	store.AssertNumberOfCalls(t, "GetAvailableSlots", 1)
}

func TestGetAvailability_OwnerTokenBypassesCache(t *testing.T) {
	store := new(mockStore)
	q, cache := newTestQuery(store)
	req := annaReq
	req.OwnerToken = "token-1"
	store.On("GetAvailableSlots", mock.Anything, req).Return(sampleViews, nil).Twice()

	_, err := q.GetAvailability(context.Background(), req)
	require.NoError(t, err)
	_, err = q.Refresh(context.Background(), req)
	require.NoError(t, err)

	store.AssertNumberOfCalls(t, "GetAvailableSlots", 2)
	assert.Equal(t, 0, cache.Len())
}

func TestInvalidate(t *testing.T) {
	store := new(mockStore)
	q, cache := newTestQuery(store)
	ctx := context.Background()

	all := annaReq
	all.StaffID = ""
	boris := annaReq
	boris.StaffID = "boris"
	for _, r := range []models.AvailabilityRequest{annaReq, all, boris} {
		cache.Set(ctx, r.CacheKey(), sampleViews, time.Minute)
	}

	q.Invalidate(ctx, "glow", "anna", "2030-03-11")

	_, ok := cache.Get(ctx, annaReq.CacheKey())
	assert.False(t, ok)
	_, ok = cache.Get(ctx, all.CacheKey())
	assert.False(t, ok, "aggregate view depends on every stylist")
	_, ok = cache.Get(ctx, boris.CacheKey())
	assert.True(t, ok)
}

func TestIsLikelyAvailable(t *testing.T) {
	store := new(mockStore)
	q, _ := newTestQuery(store)
	store.On("GetAvailableSlots", mock.Anything, annaReq).Return(sampleViews, nil)

	r := models.SlotRange{MerchantID: "glow", StaffID: "anna", Date: "2030-03-11", DurationMinutes: 30}
	r.StartMinute = 600
	assert.True(t, q.IsLikelyAvailable(context.Background(), r))
	r.StartMinute = 610
	assert.False(t, q.IsLikelyAvailable(context.Background(), r))
}
