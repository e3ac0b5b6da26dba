package report

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/internal/models"
)

type recordingTarget struct {
	titles []string
	tabs   map[string][][]any
	err    error
}

func (r *recordingTarget) ReplaceSheet(_ context.Context, title string, rows [][]any) error {
	if r.err != nil {
		return r.err
	}
	if r.tabs == nil {
		r.tabs = make(map[string][][]any)
	}
	r.titles = append(r.titles, title)
	r.tabs[title] = rows
	return nil
}

func TestSheetsExporter_Export(t *testing.T) {
	src := staticSource{
		names: map[string]string{"anna": "Anna K"},
		bookings: []models.Booking{
			{ID: "b-1", StaffID: "anna", Date: "2030-03-11", StartMinute: 600, DurationMinutes: 30,
				ServiceIDs: []string{"cut"}, Status: models.StatusCompleted, PaymentStatus: models.PaymentPending, AmountCents: 50000},
			{ID: "b-2", StaffID: "anna", Date: "2030-03-11", StartMinute: 660, DurationMinutes: 30,
				ServiceIDs: []string{"cut"}, Status: models.StatusConfirmed, AmountCents: 50000},
		},
	}
	target := &recordingTarget{}

	require.NoError(t, NewSheetsExporter(NewGenerator(src), target).Export(context.Background(), "glow", "2030-03-11", "2030-03-11"))

	assert.Equal(t, []string{"glow Bookings", "glow Earnings"}, target.titles)

	bookings := target.tabs["glow Bookings"]
	require.Len(t, bookings, 3)
	assert.Equal(t, "Booking", bookings[0][0])
	assert.Equal(t, []any{"b-1", "2030-03-11", "10:00", "10:30", "Anna K", "cut", "completed", "pending", float64(500)}, bookings[1])

	earnings := target.tabs["glow Earnings"]
	require.Len(t, earnings, 3)
	assert.Equal(t, []any{"Anna K", 1, 1, 0, float64(500)}, earnings[1])
	assert.Equal(t, []any{"Total", 1, 1, 0, float64(500)}, earnings[2])
}

func TestSheetsExporter_InvalidRangePushesNothing(t *testing.T) {
	target := &recordingTarget{}
	err := NewSheetsExporter(NewGenerator(staticSource{}), target).Export(context.Background(), "glow", "2030-03-12", "2030-03-11")
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
	assert.Empty(t, target.titles)
}

func TestSheetsExporter_TargetFailure(t *testing.T) {
	boom := errors.New("quota exceeded")
	err := NewSheetsExporter(NewGenerator(staticSource{}), &recordingTarget{err: boom}).Export(context.Background(), "glow", "2030-03-11", "2030-03-11")
	assert.ErrorIs(t, err, boom)
}
