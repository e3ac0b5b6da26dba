package availability

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/internal/models"
)

var sampleViews = []models.SlotView{
	{Date: "2030-03-11", StartMinute: 600, StartTime: "10:00", DurationMinutes: 30, Status: models.SlotAvailable},
	{Date: "2030-03-11", StartMinute: 610, StartTime: "10:10", DurationMinutes: 30, Status: models.SlotBooked},
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	c.Set(ctx, "availability:glow:anna:2030-03-11:30", sampleViews, 20*time.Second)
	c.Set(ctx, "availability:glow:any:2030-03-11:30", sampleViews, 20*time.Second)
	c.Set(ctx, "availability:glow:anna:2030-03-12:30", sampleViews, 20*time.Second)
	c.Set(ctx, "ignored", sampleViews, 0)

	got, ok := c.Get(ctx, "availability:glow:anna:2030-03-11:30")
	require.True(t, ok)
	assert.Equal(t, sampleViews, got)

	got[0].Status = models.SlotShopClosed
	again, _ := c.Get(ctx, "availability:glow:anna:2030-03-11:30")
	assert.Equal(t, models.SlotAvailable, again[0].Status, "callers get a copy")

	require.NoError(t, c.InvalidatePattern(ctx, "availability:glow:anna:2030-03-11:"))
	_, ok = c.Get(ctx, "availability:glow:anna:2030-03-11:30")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "availability:glow:anna:2030-03-12:30")
	assert.True(t, ok)

	require.NoError(t, c.Invalidate(ctx, "availability:glow:anna:2030-03-12:30"))
	_, ok = c.Get(ctx, "availability:glow:anna:2030-03-12:30")
	assert.False(t, ok)

	now = now.Add(21 * time.Second)
	_, ok = c.Get(ctx, "availability:glow:any:2030-03-11:30")
	assert.False(t, ok, "entry expired")
	assert.Equal(t, 0, c.Len())
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	c := NewRedisCache(client, "salonbook:")

	c.Set(ctx, "availability:glow:anna:2030-03-11:30", sampleViews, 20*time.Second)
	c.Set(ctx, "availability:glow:anna:2030-03-11:60", sampleViews, 20*time.Second)
	c.Set(ctx, "availability:glow:boris:2030-03-11:30", sampleViews, 20*time.Second)

	assert.True(t, mr.Exists("salonbook:availability:glow:anna:2030-03-11:30"))
	assert.InDelta(t, 20*time.Second, mr.TTL("salonbook:availability:glow:anna:2030-03-11:30"), float64(time.Second))

	got, ok := c.Get(ctx, "availability:glow:anna:2030-03-11:30")
	require.True(t, ok)
	assert.Equal(t, sampleViews, got)

	require.NoError(t, c.InvalidatePattern(ctx, "availability:glow:anna:2030-03-11:"))
	_, ok = c.Get(ctx, "availability:glow:anna:2030-03-11:60")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "availability:glow:boris:2030-03-11:30")
	assert.True(t, ok)

	require.NoError(t, c.Invalidate(ctx, "availability:glow:boris:2030-03-11:30"))
	_, ok = c.Get(ctx, "availability:glow:boris:2030-03-11:30")
	assert.False(t, ok)

	c.Set(ctx, "short", sampleViews, time.Second)
	mr.FastForward(2 * time.Second)
	_, ok = c.Get(ctx, "short")
	assert.False(t, ok)

	require.NoError(t, mr.Set("salonbook:broken", "{not json"))
	_, ok = c.Get(ctx, "broken")
	assert.False(t, ok)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
}
