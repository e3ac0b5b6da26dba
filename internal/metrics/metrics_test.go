package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(bookings.WithLabelValues("ok"))
	IncBooking("ok")
	assert.Equal(t, before+1, testutil.ToFloat64(bookings.WithLabelValues("ok")))

	IncLockAttempt("already_locked")
	assert.GreaterOrEqual(t, testutil.ToFloat64(lockAttempts.WithLabelValues("already_locked")), 1.0)

	SetNotificationQueue(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(notificationQueue))

	ObserveLockDuration(5 * time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(lockDuration))
}
