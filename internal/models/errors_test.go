package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonOf(t *testing.T) {
	tests := []struct {
		err    error
		reason Reason
		kind   Kind
	}{
		{fmt.Errorf("lock: %w", ErrAlreadyLocked), ReasonAlreadyLocked, KindContention},
		{ErrAlreadyBooked, ReasonAlreadyBooked, KindContention},
		{ErrInvalidTransition, ReasonInvalidTransition, KindIntegrity},
		{fmt.Errorf("get: %w", ErrNotFound), ReasonNotFound, KindIntegrity},
		{ErrInvalidRequest, ReasonInvalidRequest, KindInvalid},
		{errors.New("disk I/O error"), ReasonUnavailable, KindTransient},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			assert.Equal(t, tt.reason, ReasonOf(tt.err))
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(errors.New("database is locked")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(ErrAlreadyLocked))
	assert.False(t, IsTransient(nil))
}

func TestSlotRange(t *testing.T) {
	a := SlotRange{MerchantID: "m", StaffID: "s1", Date: "2025-03-10", StartMinute: 600, DurationMinutes: 45}
	b := SlotRange{MerchantID: "m", StaffID: "s1", Date: "2025-03-10", StartMinute: 640, DurationMinutes: 30}
	c := SlotRange{MerchantID: "m", StaffID: "s1", Date: "2025-03-10", StartMinute: 645, DurationMinutes: 30}

	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c))
	assert.Equal(t, []int{600, 610, 620, 630, 640}, a.Units(10))
	assert.NoError(t, a.Validate())

	bad := a
	bad.StartMinute = 1430
	assert.ErrorIs(t, bad.Validate(), ErrInvalidRequest)
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("14:50")
	assert.NoError(t, err)
	assert.Equal(t, 890, m)
	assert.Equal(t, "14:50", FormatMinute(m))

	m, err = ParseClock("24:00")
	assert.NoError(t, err)
	assert.Equal(t, MinutesPerDay, m)

	_, err = ParseClock("2pm")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
