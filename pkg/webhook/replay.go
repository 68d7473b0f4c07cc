package webhook

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// replayCacheSize bounds the replay cache; entries also age out at the
// configured TTL.
const replayCacheSize = 4096

// ReplayGuard remembers recently seen signature headers so a replayed
// delivery is rejected inside the TTL window. A signature header binds
// the timestamp and body, so the header alone identifies a delivery.
type ReplayGuard struct {
	seen *expirable.LRU[string, struct{}]
}

// NewReplayGuard creates a replay guard. A non-positive TTL disables
// the guard, matching upstream behavior of accepting replays.
func NewReplayGuard(ttl time.Duration) *ReplayGuard {
	if ttl <= 0 {
		return nil
	}
	return &ReplayGuard{
		seen: expirable.NewLRU[string, struct{}](replayCacheSize, nil, ttl),
	}
}

// Seen records the signature header and reports whether it was already
// present. A nil guard never matches.
func (g *ReplayGuard) Seen(header string) bool {
	if g == nil {
		return false
	}
	if _, ok := g.seen.Get(header); ok {
		return true
	}
	g.seen.Add(header, struct{}{})
	return false
}
