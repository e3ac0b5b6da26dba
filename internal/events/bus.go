// Package events carries store change events to viewers and downstream systems.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"salonbook/internal/metrics"
	"salonbook/internal/models"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Publisher accepts committed change events.
type Publisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

// Feed delivers a merchant's change events until ctx is cancelled, then
// closes the channel.
type Feed interface {
	Subscribe(ctx context.Context, merchantID string) (<-chan models.ChangeEvent, error)
}

type subscriber struct {
	ch chan models.ChangeEvent
}

// Bus is an in-process Feed and Publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{}
	buffer      int
	logger      zerolog.Logger
}

// NewBus constructs an empty bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string]map[*subscriber]struct{}),
		buffer:      DefaultBuffer,
		logger:      logger.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a subscriber for the merchant.
func (b *Bus) Subscribe(ctx context.Context, merchantID string) (<-chan models.ChangeEvent, error) {
	sub := &subscriber{ch: make(chan models.ChangeEvent, b.buffer)}

	b.mu.Lock()
	if b.subscribers[merchantID] == nil {
		b.subscribers[merchantID] = make(map[*subscriber]struct{})
	}
	b.subscribers[merchantID][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers[merchantID], sub)
		if len(b.subscribers[merchantID]) == 0 {
			delete(b.subscribers, merchantID)
		}
		close(sub.ch)
		b.mu.Unlock()
	}()
	return sub.ch, nil
}

// Publish hands the event to every subscriber of its merchant. A subscriber
// whose buffer is full misses the event.
func (b *Bus) Publish(_ context.Context, ev models.ChangeEvent) error {
	ev = stamp(ev)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers[ev.MerchantID] {
		select {
		case sub.ch <- ev:
		default:
			metrics.IncChangeEvent("bus", "dropped")
			b.logger.Warn().Str("merchant_id", ev.MerchantID).Msg("Subscriber is lagging, event dropped")
		}
	}
	return nil
}

// Subscribers reports how many subscribers the merchant has.
func (b *Bus) Subscribers(merchantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[merchantID])
}

func stamp(ev models.ChangeEvent) models.ChangeEvent {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	return ev
}
