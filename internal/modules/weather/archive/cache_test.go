package archive

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"weather-archive-server/internal/modules/weather/types"
)

func TestYearBoundsCache_SlidingExpiry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC))
	c := NewYearBoundsCache(clock, 24*time.Hour)
	want := types.YearBounds{Min: 2005, Max: 2010}

	_, gen, ok := c.Get()
	assert.False(t, ok, "empty cache")

	assert.True(t, c.Set(want, gen))
	clock.Advance(23 * time.Hour)
	got, _, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, want, got)

	// The hit above restarted the window.
	clock.Advance(23 * time.Hour)
	_, _, ok = c.Get()
	assert.True(t, ok)

	clock.Advance(24 * time.Hour)
	_, _, ok = c.Get()
	assert.False(t, ok, "expired after a full idle day")

	_, _, ok = c.Get()
	assert.False(t, ok, "stays expired")
}

func TestYearBoundsCache_Invalidate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewYearBoundsCache(clock, time.Hour)
	_, gen, _ := c.Get()
	c.Set(types.YearBounds{Min: 2005, Max: 2010}, gen)

	c.Invalidate()

	_, _, ok := c.Get()
	assert.False(t, ok)
}

func TestYearBoundsCache_SetAfterInvalidateIsDropped(t *testing.T) {
	c := NewYearBoundsCache(clockwork.NewFakeClock(), time.Hour)

	_, gen, ok := c.Get()
	assert.False(t, ok)

	// A commit lands between the miss and the fill.
	c.Invalidate()

	assert.False(t, c.Set(types.YearBounds{Min: 2005, Max: 2010}, gen))
	_, _, ok = c.Get()
	assert.False(t, ok, "stale fill must not be cached")

	_, gen, _ = c.Get()
	assert.True(t, c.Set(types.YearBounds{Min: 2005, Max: 2011}, gen))
	got, _, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, 2011, got.Max)
}

func TestYearBoundsCache_Defaults(t *testing.T) {
	c := NewYearBoundsCache(nil, 0)
	assert.Equal(t, DefaultYearBoundsTTL, c.ttl)
	assert.NotNil(t, c.clock)
}
