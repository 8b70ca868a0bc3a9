package triage

import (
	"sync"
	"time"

	"github.com/sentinelworks/triage/internal/rules"
)

// Live-signal spike policy: a merchant repeating the same normalized
// message prefix this many times inside the window gets escalated
// before any batch analysis sees the pattern.
const (
	liveSpikeThreshold = 5
	liveSpikeWindow    = 5 * time.Minute
)

// spikeTracker keeps a sliding window of submission times per merchant
// and message prefix.
type spikeTracker struct {
	mu   sync.Mutex
	seen map[string][]time.Time
	now  func() time.Time
}

func newSpikeTracker() *spikeTracker {
	return &spikeTracker{
		seen: make(map[string][]time.Time),
		now:  time.Now,
	}
}

// observe records one signal and returns how many signals with the
// same key landed inside the window, this one included.
func (t *spikeTracker) observe(merchantID, message string) int {
	key := merchantID + "|" + rules.SpikeKey(message)
	now := t.now()
	cutoff := now.Add(-liveSpikeWindow)

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.seen[key][:0]
	for _, ts := range t.seen[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	t.seen[key] = kept
	return len(kept)
}
