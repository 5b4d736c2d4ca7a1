package sampler

import (
	"sync"
	"time"
)

// ZoneTracker stamps times with a fixed UTC offset taken from a source
// location. The offset is refreshed at the first call after each local
// midnight, so a long-running process follows daylight-saving changes within
// a day without asking the zone database on every tick.
type ZoneTracker struct {
	mu        sync.Mutex
	src       *time.Location
	now       func() time.Time
	loc       *time.Location
	refreshAt time.Time
}

// NewZoneTracker tracks src (time.Local when nil) using now (time.Now when nil).
func NewZoneTracker(src *time.Location, now func() time.Time) *ZoneTracker {
	if src == nil {
		src = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &ZoneTracker{src: src, now: now}
}

// Now returns the current time in the cached offset.
func (z *ZoneTracker) Now() time.Time {
	t := z.now()

	z.mu.Lock()
	defer z.mu.Unlock()
	if z.loc == nil || !t.Before(z.refreshAt) {
		z.refresh(t)
	}
	return t.In(z.loc)
}

func (z *ZoneTracker) refresh(t time.Time) {
	local := t.In(z.src)
	name, offset := local.Zone()
	z.loc = time.FixedZone(name, offset)
	y, m, d := local.Date()
	z.refreshAt = time.Date(y, m, d+1, 0, 0, 0, 0, z.src)
}
