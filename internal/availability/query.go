// Package availability serves cached, retried reads of the availability view.
package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"salonbook/internal/metrics"
	"salonbook/internal/models"
	"salonbook/internal/timegrid"
)

const (
	DefaultTTL        = 20 * time.Second
	DefaultRetries    = 3
	DefaultRetryDelay = 100 * time.Millisecond
)

// Store renders the current view of a merchant day.
type Store interface {
	GetAvailableSlots(ctx context.Context, req models.AvailabilityRequest) ([]models.SlotView, error)
}

type Config struct {
	TTL        time.Duration
	Retries    int
	RetryDelay time.Duration
}

// Query reads availability through a short-TTL cache. It never writes to the store.
type Query struct {
	store      Store
	cache      Cache
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
	logger     zerolog.Logger
}

func NewQuery(store Store, cache Cache, cfg Config, logger zerolog.Logger) *Query {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	} else if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Query{
		store:      store,
		cache:      cache,
		ttl:        cfg.TTL,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		logger:     logger.With().Str("component", "availability").Logger(),
	}
}

// GetAvailability returns the tagged slot list for the request, from cache
// when fresh. Requests carrying an owner token always go to the store.
func (q *Query) GetAvailability(ctx context.Context, req models.AvailabilityRequest) ([]models.SlotView, error) {
	if req.OwnerToken != "" {
		metrics.IncAvailabilityCache("bypass")
		return q.fetch(ctx, req)
	}

	key := req.CacheKey()
	if views, ok := q.cache.Get(ctx, key); ok {
		metrics.IncAvailabilityCache("hit")
		return views, nil
	}
	metrics.IncAvailabilityCache("miss")

	views, err := q.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	q.cache.Set(ctx, key, views, q.ttl)
	return views, nil
}

// Refresh re-reads the store and replaces the cached entry.
func (q *Query) Refresh(ctx context.Context, req models.AvailabilityRequest) ([]models.SlotView, error) {
	views, err := q.fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.OwnerToken == "" {
		q.cache.Set(ctx, req.CacheKey(), views, q.ttl)
	}
	return views, nil
}

// Invalidate drops cached views of the staff member and the merchant-wide
// aggregate for the date.
func (q *Query) Invalidate(ctx context.Context, merchantID, staffID, date string) {
	prefixes := []string{models.AvailabilityKeyPrefix(merchantID, "", date)}
	if staffID != "" {
		prefixes = append(prefixes, models.AvailabilityKeyPrefix(merchantID, staffID, date))
	}
	for _, p := range prefixes {
		if err := q.cache.InvalidatePattern(ctx, p); err != nil {
			q.logger.Warn().Err(err).Str("prefix", p).Msg("Failed to invalidate availability cache")
		}
	}
}

// IsLikelyAvailable is an optimistic pre-check before locking. It may be
// stale; only the lock decides.
func (q *Query) IsLikelyAvailable(ctx context.Context, r models.SlotRange) bool {
	views, err := q.GetAvailability(ctx, models.AvailabilityRequest{
		MerchantID:      r.MerchantID,
		StaffID:         r.StaffID,
		Date:            r.Date,
		DurationMinutes: r.DurationMinutes,
	})
	if err != nil {
		return true
	}
	return timegrid.IsBookable(views, r.StartMinute)
}

func (q *Query) fetch(ctx context.Context, req models.AvailabilityRequest) ([]models.SlotView, error) {
	var lastErr error
	for attempt := 0; attempt <= q.retries; attempt++ {
		if attempt > 0 {
			metrics.IncAvailabilityRetry()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(q.retryDelay * time.Duration(attempt)):
			}
		}

		views, err := q.store.GetAvailableSlots(ctx, req)
		if err == nil {
			return views, nil
		}
		if !models.IsTransient(err) {
			return nil, err
		}
		lastErr = err
		q.logger.Warn().Err(err).Int("attempt", attempt+1).Str("merchant_id", req.MerchantID).
			Str("date", req.Date).Msg("Availability read failed")
	}
	return nil, fmt.Errorf("availability after %d attempts: %w", q.retries+1, lastErr)
}
