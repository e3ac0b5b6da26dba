package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"salonbook/internal/metrics"
	"salonbook/internal/models"
)

// Envelope is the outbound wire format of a change event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventType names an event as "<entity>.<op>", e.g. "booking.update".
func EventType(ev models.ChangeEvent) string {
	return string(ev.Entity) + "." + string(ev.Op)
}

// NewEnvelope wraps a change event for downstream consumers.
func NewEnvelope(ev models.ChangeEvent, producer string) (Envelope, error) {
	ev = stamp(ev)
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode payload: %w", err)
	}
	return Envelope{
		EventID:       ev.ID,
		EventType:     EventType(ev),
		EventVersion:  1,
		OccurredAt:    ev.OccurredAt,
		Producer:      producer,
		CorrelationID: ev.BookingID,
		Payload:       payload,
	}, nil
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer that keys messages to partitions by hash.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// KafkaPublisher forwards change events to a topic, keyed by merchant so a
// merchant's events stay ordered. Writes happen on a background loop;
// Publish never waits on the broker.
type KafkaPublisher struct {
	w        MessageWriter
	producer string
	inbox    chan kafka.Message
	done     chan struct{}
	mu       sync.RWMutex
	closed   bool
	logger   zerolog.Logger
}

func NewKafkaPublisher(w MessageWriter, producer string, buf int, logger zerolog.Logger) *KafkaPublisher {
	if buf <= 0 {
		buf = 256
	}
	return &KafkaPublisher{
		w:        w,
		producer: producer,
		inbox:    make(chan kafka.Message, buf),
		done:     make(chan struct{}),
		logger:   logger.With().Str("component", "kafka_publisher").Logger(),
	}
}

// Start runs the write loop until ctx is cancelled or Close is called.
// Queued messages are flushed before the writer is closed.
func (p *KafkaPublisher) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		for {
			select {
			case <-ctx.Done():
				p.Close()
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					p.finish()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *KafkaPublisher) Publish(_ context.Context, ev models.ChangeEvent) error {
	env, err := NewEnvelope(ev, p.producer)
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.MerchantID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
		},
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("kafka publisher closed")
	}
	select {
	case p.inbox <- msg:
		return nil
	default:
		return fmt.Errorf("kafka publisher queue full")
	}
}

// Close stops accepting events. Safe to call more than once.
func (p *KafkaPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// Wait blocks until the write loop has flushed and exited.
func (p *KafkaPublisher) Wait() {
	<-p.done
}

func (p *KafkaPublisher) drain() {
	for m := range p.inbox {
		p.write(m)
	}
	p.finish()
}

func (p *KafkaPublisher) finish() {
	if err := p.w.Close(); err != nil {
		p.logger.Warn().Err(err).Msg("Kafka writer close failed")
	}
}

func (p *KafkaPublisher) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		metrics.IncChangeEvent("kafka_write", "error")
		p.logger.Error().Err(err).Str("key", string(m.Key)).Msg("Kafka write failed")
		return
	}
	metrics.IncChangeEvent("kafka_write", "ok")
}
