package monitor

import "time"

// Signal key namespaces. A market can trigger both rules independently.
const (
	filterKeyPrefix      = "filter:"
	convergenceKeyPrefix = "convergence:"
)

func FilterKey(marketID string) string      { return filterKeyPrefix + marketID }
func ConvergenceKey(marketID string) string { return convergenceKeyPrefix + marketID }

// Gate suppresses repeat alerts for a signal key until its cooldown elapses.
// It is not safe for concurrent use; the scheduler is its only caller.
type Gate struct {
	cooldown  time.Duration
	retention time.Duration
	sent      map[string]time.Time
}

// NewGate creates a gate. Records older than retention are evicted; a
// retention shorter than the cooldown is raised to four cooldowns.
func NewGate(cooldown, retention time.Duration) *Gate {
	if retention < cooldown {
		retention = 4 * cooldown
	}
	return &Gate{
		cooldown:  cooldown,
		retention: retention,
		sent:      make(map[string]time.Time),
	}
}

// ShouldAlert reports whether key may alert at now. Callers that get true
// must Record the key before dispatching.
func (g *Gate) ShouldAlert(key string, now time.Time) bool {
	last, ok := g.sent[key]
	if !ok {
		return true
	}
	return now.Sub(last) >= g.cooldown
}

// Record marks key as alerted at now.
func (g *Gate) Record(key string, now time.Time) {
	g.sent[key] = now
}

// Evict drops records older than the retention horizon and returns how many
// were removed.
func (g *Gate) Evict(now time.Time) int {
	removed := 0
	for key, last := range g.sent {
		if now.Sub(last) > g.retention {
			delete(g.sent, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live records.
func (g *Gate) Len() int {
	return len(g.sent)
}
