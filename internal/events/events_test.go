package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/internal/models"
)

func sampleEvent(merchant string) models.ChangeEvent {
	return models.ChangeEvent{
		MerchantID: merchant, StaffID: "anna", Date: "2030-03-11", StartMinute: 660, Duration: 30,
		Entity: models.EntityBooking, Op: models.OpInsert, BookingID: "b-1", Status: models.StatusPending,
	}
}

func receive(t *testing.T, ch <-chan models.ChangeEvent) models.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
	return models.ChangeEvent{}
}

func TestBus(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	glow, err := bus.Subscribe(ctx, "glow")
	require.NoError(t, err)
	other, err := bus.Subscribe(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers("glow"))

	require.NoError(t, bus.Publish(context.Background(), sampleEvent("glow")))
	ev := receive(t, glow)
	assert.Equal(t, "b-1", ev.BookingID)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.OccurredAt.IsZero())

	select {
	case <-other:
		t.Fatal("event leaked to another merchant")
	default:
	}

	cancel()
	require.Eventually(t, func() bool { return bus.Subscribers("glow") == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-glow
	assert.False(t, ok)
	assert.NoError(t, bus.Publish(context.Background(), sampleEvent("glow")))
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	bus.buffer = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "glow")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = bus.Publish(context.Background(), sampleEvent("glow"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, 1)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, models.ChangeEvent) error {
	return errors.New("broker down")
}

func TestMultiPublisher(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, "glow")
	require.NoError(t, err)

	m := NewMultiPublisher().Add("bus", bus).Add("broken", failingPublisher{})
	err = m.Publish(context.Background(), sampleEvent("glow"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	ev := receive(t, ch)
	assert.Equal(t, "glow", ev.MerchantID)
}

func TestRedisFeed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	feed := NewRedisFeed(client, "salonbook:", zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := feed.Subscribe(ctx, "glow")
	require.NoError(t, err)

	mr.Publish(feed.Channel("glow"), "not json")
	require.NoError(t, feed.Publish(context.Background(), sampleEvent("glow")))
	ev := receive(t, ch)
	assert.Equal(t, models.EntityBooking, ev.Entity)
	assert.Equal(t, 660, ev.StartMinute)
	assert.NotEmpty(t, ev.ID)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("feed not closed after cancel")
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, "salonbook", 8, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	require.NoError(t, p.Publish(context.Background(), sampleEvent("glow")))
	ev := sampleEvent("glow")
	ev.Op = models.OpUpdate
	ev.Status = models.StatusConfirmed
	require.NoError(t, p.Publish(context.Background(), ev))

	cancel()
	p.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.msgs, 2)
	assert.True(t, w.closed)
	assert.Equal(t, "glow", string(w.msgs[0].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &env))
	assert.Equal(t, "booking.update", env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, "b-1", env.CorrelationID)
	assert.Equal(t, "salonbook", env.Producer)

	var payload models.ChangeEvent
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, models.StatusConfirmed, payload.Status)

	assert.Error(t, p.Publish(context.Background(), sampleEvent("glow")), "closed publisher rejects events")
}

func TestKafkaPublisher_QueueFull(t *testing.T) {
	p := NewKafkaPublisher(&fakeWriter{}, "salonbook", 1, zerolog.Nop())
	require.NoError(t, p.Publish(context.Background(), sampleEvent("glow")))
	assert.Error(t, p.Publish(context.Background(), sampleEvent("glow")))
	p.Close()
	p.Close()
}
