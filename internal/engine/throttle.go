package engine

import "time"

// DefaultHeartbeatInterval is how often a connection's liveness timestamp
// is durably recorded at most.
const DefaultHeartbeatInterval = 30 * time.Second

// Throttle rate-limits liveness-timestamp persistence for one connection.
// Every inbound frame asks Allow; only one call per interval answers true.
//
// The throttle is purely a write-rate limiter. It has no bearing on the
// registry's notion of "currently live", which is driven by socket
// open/close events, not heartbeat cadence.
//
// Not safe for concurrent use: each connection owns one Throttle and calls
// it only from its read loop.
type Throttle struct {
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewThrottle creates a throttle with the given minimum interval between
// persisted writes. A non-positive interval falls back to the default.
func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Throttle{
		interval: interval,
		now:      time.Now,
	}
}

// Allow reports whether a liveness write should happen now, and if so
// records it. The first call always answers true.
func (t *Throttle) Allow() bool {
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
