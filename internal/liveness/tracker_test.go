package liveness

import (
	"testing"
	"time"
)

func TestTrackerIsLive(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(30 * time.Minute)

	if tr.IsLive("alice", base) {
		t.Fatal("untracked identity should not be live")
	}

	tr.Touch("alice", base)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"immediately", base, true},
		{"within window", base.Add(29 * time.Minute), true},
		{"at window edge", base.Add(30 * time.Minute), true},
		{"past window", base.Add(30*time.Minute + time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tr.IsLive("alice", tt.at); got != tt.want {
				t.Errorf("IsLive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrackerTouchRefreshes(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(30 * time.Minute)

	tr.Touch("bob", base)
	tr.Touch("bob", base.Add(25*time.Minute))

	if !tr.IsLive("bob", base.Add(50*time.Minute)) {
		t.Error("refreshed identity should still be live")
	}
	if tr.IsLive("bob", base.Add(56*time.Minute)) {
		t.Error("identity should expire from the refreshed timestamp")
	}
}

func TestTrackerSnapshotOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(30 * time.Minute)

	tr.Touch("stale", base.Add(-2*time.Hour))
	tr.Touch("older", base.Add(-10*time.Minute))
	tr.Touch("newer", base.Add(-1*time.Minute))

	got := tr.Snapshot(base)
	if len(got) != 3 {
		t.Fatalf("Snapshot() returned %d runners, want 3", len(got))
	}
	wantOrder := []string{"newer", "older", "stale"}
	for i, name := range wantOrder {
		if got[i].Username != name {
			t.Errorf("Snapshot()[%d] = %s, want %s", i, got[i].Username, name)
		}
	}
	if got[2].Live {
		t.Error("stale runner should not be live")
	}

	live := tr.Live(base)
	if len(live) != 2 {
		t.Errorf("Live() returned %d runners, want 2", len(live))
	}
}
