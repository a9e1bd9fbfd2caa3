package liveness

import (
	"sort"
	"sync"
	"time"
)

// DefaultWindow is how long a runner counts as live after its last
// authenticated activity.
const DefaultWindow = 30 * time.Minute

// Runner is a point-in-time view of a tracked runner.
type Runner struct {
	Username string    `json:"username"`
	LastSeen time.Time `json:"last_seen"`
	Live     bool      `json:"live"`
}

// Tracker records the last activity time per runner identity. All
// methods are safe for concurrent use. State is process-local and
// resets on restart.
type Tracker struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[string]time.Time
}

// NewTracker creates a tracker with the given liveness window. A
// non-positive window falls back to DefaultWindow.
func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		window:   window,
		lastSeen: make(map[string]time.Time),
	}
}

// Touch records activity for the identity at time now.
func (t *Tracker) Touch(identity string, now time.Time) {
	if identity == "" {
		return
	}
	t.mu.Lock()
	t.lastSeen[identity] = now
	t.mu.Unlock()
}

// IsLive reports whether the identity was seen within the window
// before now.
func (t *Tracker) IsLive(identity string, now time.Time) bool {
	t.mu.Lock()
	last, ok := t.lastSeen[identity]
	t.mu.Unlock()
	if !ok {
		return false
	}
	return now.Sub(last) <= t.window
}

// Snapshot returns all tracked runners, live ones first, each group
// ordered by most recent activity.
func (t *Tracker) Snapshot(now time.Time) []Runner {
	t.mu.Lock()
	runners := make([]Runner, 0, len(t.lastSeen))
	for identity, last := range t.lastSeen {
		runners = append(runners, Runner{
			Username: identity,
			LastSeen: last,
			Live:     now.Sub(last) <= t.window,
		})
	}
	t.mu.Unlock()

	sort.Slice(runners, func(i, j int) bool {
		if runners[i].Live != runners[j].Live {
			return runners[i].Live
		}
		return runners[i].LastSeen.After(runners[j].LastSeen)
	})
	return runners
}

// Live returns only the identities seen within the window before now.
func (t *Tracker) Live(now time.Time) []Runner {
	all := t.Snapshot(now)
	live := all[:0:0]
	for _, r := range all {
		if r.Live {
			live = append(live, r)
		}
	}
	return live
}
