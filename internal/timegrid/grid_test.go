package timegrid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/internal/models"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

func hours(open, closeAt string) *models.DayHours {
	o, _ := models.ParseClock(open)
	c, _ := models.ParseClock(closeAt)
	return &models.DayHours{Weekday: 1, OpenMinute: o, CloseMinute: c}
}

func TestComputeCandidateSlots(t *testing.T) {
	future := time.Date(2025, 3, 1, 9, 0, 0, 0, ist)

	tests := []struct {
		name      string
		params    Params
		wantFirst string
		wantLast  string
		wantCount int
	}{
		{
			name: "full future day",
			params: Params{
				Shop: hours("10:00", "20:00"), Date: "2025-03-10",
				IntervalMinutes: 10, DurationMinutes: 30, Now: future, Location: ist,
			},
			wantFirst: "10:00",
			wantLast:  "19:30",
			wantCount: 58,
		},
		{
			name: "staff window narrows the day",
			params: Params{
				Shop: hours("10:00", "20:00"), Staff: hours("12:00", "14:00"), Date: "2025-03-10",
				IntervalMinutes: 10, DurationMinutes: 60, Now: future, Location: ist,
			},
			wantFirst: "12:00",
			wantLast:  "13:00",
			wantCount: 7,
		},
		{
			name: "close past midnight is clamped to end of day",
			params: Params{
				Shop: hours("22:00", "01:00"), Date: "2025-03-10",
				IntervalMinutes: 30, DurationMinutes: 60, Now: future, Location: ist,
			},
			wantFirst: "22:00",
			wantLast:  "23:00",
			wantCount: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeCandidateSlots(tt.params)
			require.Len(t, got, tt.wantCount)
			assert.Equal(t, tt.wantFirst, models.FormatMinute(got[0]))
			assert.Equal(t, tt.wantLast, models.FormatMinute(got[len(got)-1]))
		})
	}
}

func TestComputeCandidateSlots_Excluded(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, ist)

	assert.Empty(t, ComputeCandidateSlots(Params{Shop: nil, Date: "2025-03-10", Now: now, Location: ist}))
	assert.Empty(t, ComputeCandidateSlots(Params{
		Shop: hours("10:00", "20:00"), Holiday: true, Date: "2025-03-10", Now: now, Location: ist,
	}))
	assert.Empty(t, ComputeCandidateSlots(Params{
		Shop: hours("10:00", "20:00"), Date: "2025-02-28", Now: now, Location: ist,
	}), "past dates have no candidates")
	assert.Empty(t, ComputeCandidateSlots(Params{
		Shop: hours("10:00", "10:20"), Date: "2025-03-10", DurationMinutes: 30, Now: now, Location: ist,
	}), "service longer than the day")
}

func TestComputeCandidateSlots_TodayBuffer(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 7, 0, 0, ist)

	got := ComputeCandidateSlots(Params{
		Shop: hours("09:00", "21:00"), Date: "2025-03-10",
		IntervalMinutes: 10, DurationMinutes: 30, BufferMinutes: 40, Now: now, Location: ist,
	})

	require.NotEmpty(t, got)
	assert.Equal(t, "14:50", models.FormatMinute(got[0]))
	for _, m := range got {
		assert.GreaterOrEqual(t, m, 14*60+47)
	}
}

func TestCutoff(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"rounds up", time.Date(2025, 3, 10, 14, 7, 0, 0, ist), "14:50"},
		{"on boundary", time.Date(2025, 3, 10, 14, 10, 0, 0, ist), "14:50"},
		{"seconds push to next unit", time.Date(2025, 3, 10, 14, 10, 1, 0, ist), "15:00"},
		{"converts from UTC", time.Date(2025, 3, 10, 8, 37, 0, 0, time.UTC), "14:50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cutoff("2025-03-10", tt.now, ist, 40, 10)
			assert.Equal(t, tt.want, models.FormatMinute(got))
		})
	}

	assert.Equal(t, 0, Cutoff("2025-03-11", time.Date(2025, 3, 10, 14, 7, 0, 0, ist), ist, 40, 10))
}
