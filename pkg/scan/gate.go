package scan

import "time"

// DefaultCooldown is the minimum time between two accepted scans.
const DefaultCooldown = 2000 * time.Millisecond

// Gate suppresses repeated acceptance within a cooldown window.
type Gate struct {
	Cooldown time.Duration
}

// Accept reports whether a result seen at now may be emitted given the
// previous acceptance time. The caller records now on true.
// A zero lastAcceptedAt always accepts.
func (g Gate) Accept(now, lastAcceptedAt time.Time) bool {
	if lastAcceptedAt.IsZero() {
		return true
	}
	cd := g.Cooldown
	if cd <= 0 {
		cd = DefaultCooldown
	}
	return now.Sub(lastAcceptedAt) > cd
}
