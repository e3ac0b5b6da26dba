package slotlock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Purger deletes expired lock rows.
type Purger interface {
	PurgeExpiredLocks(ctx context.Context) (int, error)
}

// Sweeper periodically purges expired locks. Reads already ignore expired
// rows; purging keeps the table small and tells live viewers to refresh.
type Sweeper struct {
	purger   Purger
	interval time.Duration
	logger   zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSweeper(purger Purger, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		purger:   purger,
		interval: interval,
		logger:   logger.With().Str("component", "lock_sweeper").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for it.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// SweepOnce runs a single purge.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	n, err := s.purger.PurgeExpiredLocks(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to purge expired locks")
		return 0
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("Purged expired locks")
	}
	return n
}
