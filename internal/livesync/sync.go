// Package livesync keeps an open availability view current as the store changes.
package livesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"salonbook/internal/events"
	"salonbook/internal/metrics"
	"salonbook/internal/models"
	"salonbook/internal/timegrid"
)

const DefaultSettleDelay = 500 * time.Millisecond

// SignalKind tells a viewer what happened to its view.
type SignalKind string

const (
	SignalRefreshed            SignalKind = "refreshed"
	SignalSelectionInvalidated SignalKind = "selection_invalidated"
	SignalRefreshFailed        SignalKind = "refresh_failed"
)

// Signal is delivered on Session.Signals.
type Signal struct {
	Kind  SignalKind        `json:"kind"`
	Views []models.SlotView `json:"views,omitempty"`
	// Minute is the selection that stopped being bookable.
	Minute int    `json:"minute,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Querier re-reads availability for a session.
type Querier interface {
	Refresh(ctx context.Context, req models.AvailabilityRequest) ([]models.SlotView, error)
	Invalidate(ctx context.Context, merchantID, staffID, date string)
}

type Config struct {
	SettleDelay time.Duration
}

// Sync opens watch sessions over a change feed.
type Sync struct {
	feed   events.Feed
	query  Querier
	settle time.Duration
	logger zerolog.Logger
}

func NewSync(feed events.Feed, query Querier, cfg Config, logger zerolog.Logger) *Sync {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	return &Sync{
		feed:   feed,
		query:  query,
		settle: cfg.SettleDelay,
		logger: logger.With().Str("component", "livesync").Logger(),
	}
}

// Watch follows the merchant's changes and loads the current view until the
// session is closed or ctx is cancelled. The subscription is opened before
// the first read, so a write landing in between still triggers a refresh.
func (s *Sync) Watch(ctx context.Context, req models.AvailabilityRequest) (*Session, error) {
	ctx, cancel := context.WithCancel(ctx)

	changes, err := s.feed.Subscribe(ctx, req.MerchantID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe changes: %w", err)
	}
	views, err := s.query.Refresh(ctx, req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("initial availability: %w", err)
	}

	sess := &Session{
		req:     req,
		sync:    s,
		views:   views,
		signals: make(chan Signal, 16),
		cancel:  cancel,
		done:    make(chan struct{}),
		logger: s.logger.With().Str("merchant_id", req.MerchantID).Str("staff_id", req.StaffID).
			Str("date", req.Date).Logger(),
	}
	go sess.run(ctx, changes)
	return sess, nil
}

// Session is one viewer's live availability view.
type Session struct {
	req     models.AvailabilityRequest
	sync    *Sync
	signals chan Signal
	cancel  context.CancelFunc
	done    chan struct{}
	logger  zerolog.Logger

	mu         sync.Mutex
	views      []models.SlotView
	selected   int
	hasSelect  bool
	ownerToken string
}

// Select marks the minute the viewer has picked. ownerToken is the viewer's
// lock on it, if any, so that lock does not hide the selection.
func (s *Session) Select(minute int, ownerToken string) {
	s.mu.Lock()
	s.selected = minute
	s.hasSelect = true
	s.ownerToken = ownerToken
	s.mu.Unlock()
}

// ClearSelection forgets the picked minute.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
}

// Selection returns the picked minute, if any.
func (s *Session) Selection() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected, s.hasSelect
}

// Views returns the latest view.
func (s *Session) Views() []models.SlotView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SlotView(nil), s.views...)
}

// Signals is closed when the session ends.
func (s *Session) Signals() <-chan Signal {
	return s.signals
}

// Close unsubscribes and waits for the session loop to exit.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) clearLocked() {
	s.selected = 0
	s.hasSelect = false
	s.ownerToken = ""
}

func (s *Session) relevant(ev models.ChangeEvent) bool {
	if ev.MerchantID != s.req.MerchantID || ev.Date != s.req.Date {
		return false
	}
	return s.req.StaffID == "" || ev.StaffID == s.req.StaffID
}

func (s *Session) run(ctx context.Context, changes <-chan models.ChangeEvent) {
	defer close(s.done)
	defer close(s.signals)

	var timer *time.Timer
	var settled <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-changes:
			if !ok {
				return
			}
			if !s.relevant(ev) {
				continue
			}
			s.sync.query.Invalidate(ctx, ev.MerchantID, ev.StaffID, ev.Date)
			if timer == nil {
				timer = time.NewTimer(s.sync.settle)
			} else {
				timer.Reset(s.sync.settle)
			}
			settled = timer.C

		case <-settled:
			settled = nil
			s.refresh(ctx)
		}
	}
}

func (s *Session) refresh(ctx context.Context) {
	s.mu.Lock()
	req := s.req
	req.OwnerToken = s.ownerToken
	s.mu.Unlock()

	views, err := s.sync.query.Refresh(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Msg("Live refresh failed")
		s.emit(ctx, Signal{Kind: SignalRefreshFailed, Error: models.UserMessage(err)})
		return
	}

	s.mu.Lock()
	s.views = views
	minute, selected := s.selected, s.hasSelect
	lost := selected && !timegrid.IsBookable(views, minute)
	if lost {
		s.clearLocked()
	}
	s.mu.Unlock()

	s.emit(ctx, Signal{Kind: SignalRefreshed, Views: views})
	if lost {
		metrics.IncSelectionInvalidated()
		s.logger.Info().Str("start", models.FormatMinute(minute)).Msg("Selection no longer available")
		s.emit(ctx, Signal{Kind: SignalSelectionInvalidated, Minute: minute})
	}
}

func (s *Session) emit(ctx context.Context, sig Signal) {
	select {
	case s.signals <- sig:
	case <-ctx.Done():
	}
}
