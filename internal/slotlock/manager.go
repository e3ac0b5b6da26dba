// Package slotlock grants short-lived exclusive claims on slot ranges.
package slotlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"salonbook/internal/metrics"
	"salonbook/internal/models"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultCallTimeout = 5 * time.Second
)

// Store is the atomic lock surface of the system of record.
type Store interface {
	AtomicLockSlots(ctx context.Context, lock models.SlotLock) error
	ReleaseLockedSlots(ctx context.Context, r models.SlotRange, ownerToken string) error
}

// Config tunes the manager.
type Config struct {
	TTL         time.Duration
	CallTimeout time.Duration
	// Now stamps lock expiry. It must agree with the store's clock.
	Now func() time.Time
}

// Manager is the only writer of slot locks.
type Manager struct {
	store       Store
	ttl         time.Duration
	callTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time
	newToken    func() string
}

func NewManager(store Store, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:       store,
		ttl:         cfg.TTL,
		callTimeout: cfg.CallTimeout,
		logger:      logger.With().Str("component", "slotlock").Logger(),
		now:         cfg.Now,
		newToken:    uuid.NewString,
	}
}

// Acquire tries to claim the range. A denial is a normal outcome reported in
// the grant with a nil error; callers should offer another slot rather than
// retry. An error means the store could not answer, in which case a cleanup
// release has already been attempted with the same token.
func (m *Manager) Acquire(ctx context.Context, r models.SlotRange) (models.LockGrant, error) {
	return m.acquire(ctx, r, m.newToken())
}

// Renew claims the range for an existing owner token. The owner's previous
// rows are replaced, so a held selection can be moved or extended without a
// window in which another client could take it.
func (m *Manager) Renew(ctx context.Context, r models.SlotRange, ownerToken string) (models.LockGrant, error) {
	if ownerToken == "" {
		return models.LockGrant{}, fmt.Errorf("%w: owner token is required", models.ErrInvalidRequest)
	}
	return m.acquire(ctx, r, ownerToken)
}

func (m *Manager) acquire(ctx context.Context, r models.SlotRange, token string) (models.LockGrant, error) {
	if err := r.Validate(); err != nil {
		return models.LockGrant{}, err
	}

	lock := models.SlotLock{
		SlotRange:  r,
		OwnerToken: token,
		ExpiresAt:  m.now().Add(m.ttl),
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	started := time.Now()
	err := m.store.AtomicLockSlots(callCtx, lock)
	cancel()
	metrics.ObserveLockDuration(time.Since(started))

	switch {
	case err == nil:
		metrics.IncLockAttempt("granted")
		m.logger.Debug().Str("range", r.String()).Time("expires_at", lock.ExpiresAt).Msg("Slot lock granted")
		return models.LockGrant{Granted: true, OwnerToken: lock.OwnerToken, ExpiresAt: lock.ExpiresAt}, nil

	case errors.Is(err, models.ErrAlreadyLocked), errors.Is(err, models.ErrAlreadyBooked):
		reason := models.ReasonOf(err)
		metrics.IncLockAttempt(string(reason))
		m.logger.Info().Str("range", r.String()).Str("reason", string(reason)).Msg("Slot lock denied")
		return models.LockGrant{Granted: false, Reason: reason}, nil

	case errors.Is(err, models.ErrInvalidRequest):
		metrics.IncLockAttempt("invalid")
		return models.LockGrant{}, err
	}

	metrics.IncLockAttempt("error")
	m.logger.Warn().Err(err).Str("range", r.String()).Msg("Slot lock outcome unknown, releasing")
	if relErr := m.release(ctx, r, lock.OwnerToken, "cleanup"); relErr != nil {
		m.logger.Error().Err(relErr).Str("range", r.String()).Msg("Cleanup release failed, lock will expire")
	}
	return models.LockGrant{}, fmt.Errorf("acquire lock %s: %w", r, err)
}

// Release drops the owner's claim. Releasing an expired or already released
// lock succeeds.
func (m *Manager) Release(ctx context.Context, r models.SlotRange, ownerToken string) error {
	return m.release(ctx, r, ownerToken, "explicit")
}

func (m *Manager) release(ctx context.Context, r models.SlotRange, ownerToken, trigger string) error {
	if ownerToken == "" {
		return nil
	}
	// A cancelled caller still needs its lock gone.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.callTimeout)
	defer cancel()

	if err := m.store.ReleaseLockedSlots(callCtx, r, ownerToken); err != nil {
		return fmt.Errorf("release lock %s: %w", r, err)
	}
	metrics.IncLockRelease(trigger)
	return nil
}

// TTL returns how long granted locks live.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}
