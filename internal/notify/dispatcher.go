package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"salonbook/internal/metrics"
	"salonbook/internal/models"
)

// DispatcherConfig tunes delivery.
type DispatcherConfig struct {
	RatePerSecond float64
	Burst         int
	Workers       int
	QueueSize     int
	// RetryDelays are waited between attempts; a message gets len+1 attempts.
	RetryDelays []time.Duration
}

// DefaultDispatcherConfig returns the default configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		RatePerSecond: 20,
		Burst:         30,
		Workers:       2,
		QueueSize:     256,
		RetryDelays:   []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// Dispatcher queues messages and delivers them on a worker pool under a
// rate limit. Enqueueing never blocks.
type Dispatcher struct {
	sender  Sender
	cfg     DispatcherConfig
	limiter *rate.Limiter
	queue   chan Message
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

func NewDispatcher(sender Sender, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.RetryDelays == nil {
		cfg.RetryDelays = def.RetryDelays
	}
	return &Dispatcher{
		sender:  sender,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		queue:   make(chan Message, cfg.QueueSize),
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Start launches the workers. They stop when ctx is cancelled; queued
// messages are abandoned.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.logger.Info().Int("workers", d.cfg.Workers).Float64("rate", d.cfg.RatePerSecond).Msg("Notification dispatcher started")
}

// Wait blocks until all workers have exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Enqueue adds a message to the queue. It reports false when the queue is full.
func (d *Dispatcher) Enqueue(msg Message) bool {
	select {
	case d.queue <- msg:
		metrics.SetNotificationQueue(len(d.queue))
		return true
	default:
		metrics.IncNotification(string(msg.Kind), "dropped")
		d.logger.Warn().Str("kind", string(msg.Kind)).Str("booking_id", msg.BookingID).Msg("Notification queue full, dropping message")
		return false
	}
}

// BookingConfirmed notifies the merchant and the customer.
func (d *Dispatcher) BookingConfirmed(_ context.Context, b models.Booking) {
	d.Enqueue(MerchantNewBooking(b))
	d.Enqueue(CustomerConfirmation(b))
}

// BookingStatusChanged notifies the customer unless they made the change.
func (d *Dispatcher) BookingStatusChanged(_ context.Context, b models.Booking, actor string) {
	if actor == b.UserID {
		return
	}
	d.Enqueue(StatusChanged(b))
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.queue:
			metrics.SetNotificationQueue(len(d.queue))
			d.deliver(ctx, msg)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	log := d.logger.With().Str("kind", string(msg.Kind)).Str("to", msg.recipient()).
		Str("booking_id", msg.BookingID).Logger()

	for attempt := 0; ; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}

		err := d.sender.Send(ctx, msg)
		if err == nil {
			metrics.IncNotification(string(msg.Kind), "sent")
			log.Debug().Int("attempt", attempt+1).Msg("Notification sent")
			return
		}
		if IsPermanent(err) {
			metrics.IncNotification(string(msg.Kind), "rejected")
			log.Info().Err(err).Msg("Notification not deliverable")
			return
		}
		if attempt >= len(d.cfg.RetryDelays) {
			metrics.IncNotification(string(msg.Kind), "failed")
			log.Error().Err(err).Int("attempts", attempt+1).Msg("Notification failed, giving up")
			return
		}

		wait := d.cfg.RetryDelays[attempt]
		var ra *RetryAfterError
		if errors.As(err, &ra) && ra.After > 0 {
			wait = ra.After
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("retry_in", wait).Msg("Notification failed, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}
