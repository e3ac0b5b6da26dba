package events

import (
	"context"
	"errors"
	"fmt"

	"salonbook/internal/metrics"
	"salonbook/internal/models"
)

type sink struct {
	name string
	pub  Publisher
}

// MultiPublisher fans an event out to every registered sink.
type MultiPublisher struct {
	sinks []sink
}

func NewMultiPublisher() *MultiPublisher {
	return &MultiPublisher{}
}

// Add registers a named sink. Not safe to call concurrently with Publish.
func (m *MultiPublisher) Add(name string, p Publisher) *MultiPublisher {
	m.sinks = append(m.sinks, sink{name: name, pub: p})
	return m
}

// Publish delivers to all sinks and joins their errors.
func (m *MultiPublisher) Publish(ctx context.Context, ev models.ChangeEvent) error {
	ev = stamp(ev)

	var errs []error
	for _, s := range m.sinks {
		if err := s.pub.Publish(ctx, ev); err != nil {
			metrics.IncChangeEvent(s.name, "error")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		metrics.IncChangeEvent(s.name, "ok")
	}
	return errors.Join(errs...)
}
