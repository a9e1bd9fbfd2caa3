package repository

import (
	"strings"
	"testing"
)

func TestLeaderboardFilterTASScope(t *testing.T) {
	tests := []struct {
		metric     string
		worst      bool
		excludeTAS bool
	}{
		{"fps", false, true},
		{"fps", true, false},
		{"score_time", false, false},
		{"score_time", true, false},
		{"elapsed_time", false, false},
		{"elapsed_time", true, false},
	}
	for _, tt := range tests {
		name := tt.metric + "/best"
		if tt.worst {
			name = tt.metric + "/worst"
		}
		t.Run(name, func(t *testing.T) {
			filter := leaderboardFilter(tt.metric, tt.worst)
			got := strings.Contains(filter, "is_tas = FALSE")
			if got != tt.excludeTAS {
				t.Errorf("leaderboardFilter(%q, %v) = %q, excludeTAS = %v, want %v",
					tt.metric, tt.worst, filter, got, tt.excludeTAS)
			}
			if !strings.Contains(filter, "r.error IS NULL") || !strings.Contains(filter, "s.success") {
				t.Errorf("filter %q dropped the clean-run conditions", filter)
			}
		})
	}
}
