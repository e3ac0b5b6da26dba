package slotlock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type countingPurger struct {
	calls atomic.Int32
	err   error
}

func (p *countingPurger) PurgeExpiredLocks(context.Context) (int, error) {
	p.calls.Add(1)
	return 2, p.err
}

func TestSweeper(t *testing.T) {
	p := &countingPurger{}
	s := NewSweeper(p, 5*time.Millisecond, zerolog.Nop())

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Equal(t, 2, s.SweepOnce(context.Background()))

	p.err = errors.New("locked")
	assert.Equal(t, 0, s.SweepOnce(context.Background()))
}
