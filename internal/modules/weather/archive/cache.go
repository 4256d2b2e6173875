package archive

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"weather-archive-server/internal/modules/weather/types"
)

// DefaultYearBoundsTTL is the sliding expiry of cached year bounds.
const DefaultYearBoundsTTL = 24 * time.Hour

// YearBoundsCache holds the archive's min/max year. Each hit pushes the
// expiry out by the TTL; Invalidate drops the value immediately.
//
// Fills are guarded by a generation: Get reports the generation current at
// the miss and Set discards the value if an Invalidate happened since, so a
// read that overlapped a commit never caches pre-commit bounds.
type YearBoundsCache struct {
	clock clockwork.Clock
	ttl   time.Duration

	mu      sync.Mutex
	bounds  types.YearBounds
	valid   bool
	expires time.Time
	gen     uint64
}

func NewYearBoundsCache(clock clockwork.Clock, ttl time.Duration) *YearBoundsCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultYearBoundsTTL
	}
	return &YearBoundsCache{clock: clock, ttl: ttl}
}

// Get returns the cached bounds on a hit. On a miss it returns the
// generation to hand back to Set.
func (c *YearBoundsCache) Get() (types.YearBounds, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if !c.valid || !now.Before(c.expires) {
		c.valid = false
		return types.YearBounds{}, c.gen, false
	}
	c.expires = now.Add(c.ttl)
	return c.bounds, c.gen, true
}

// Set caches b unless the cache was invalidated after generation gen was
// read. It reports whether b was stored.
func (c *YearBoundsCache) Set(b types.YearBounds, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return false
	}
	c.bounds = b
	c.valid = true
	c.expires = c.clock.Now().Add(c.ttl)
	return true
}

func (c *YearBoundsCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.valid = false
	c.bounds = types.YearBounds{}
}
