package service

import "testing"

func TestGuessTime(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		want   int64
		wantOK bool
	}{
		{"seconds millis", "beginner_3.559.rec", 3559, true},
		{"seconds centis", "gg 12.34.rec", 12349, true},
		{"minutes seconds millis", "airwalk 1.23.456.rec", 83456, true},
		{"minutes seconds centis", "1.23.45_final.rec", 83459, true},
		{"colon separators", "run 2:05.130.rec", 125130, true},
		{"comma separators", "speedy 4,20.rec", 4209, true},
		{"bare millis", "mbg_17432.rec", 17432, true},
		{"no time", "just_a_name.rec", 0, false},
		{"short digits only", "v2.rec", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := GuessTime(tt.file)
			if ok != tt.wantOK {
				t.Fatalf("GuessTime(%q) ok = %v, want %v", tt.file, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("GuessTime(%q) = %d, want %d", tt.file, got, tt.want)
			}
		})
	}
}

func TestGuessTimeRange(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		low    int64
		high   int64
		wantOK bool
	}{
		{"exact millis collapses", "3.559.rec", 3559, 3559, true},
		{"centis spans bucket", "12.34.rec", 12340, 12349, true},
		{"minute centis spans bucket", "1.23.45.rec", 83450, 83459, true},
		{"bare digits collapse", "17432.rec", 17432, 17432, true},
		{"no time", "nothing.rec", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			low, high, ok := GuessTimeRange(tt.file)
			if ok != tt.wantOK {
				t.Fatalf("GuessTimeRange(%q) ok = %v, want %v", tt.file, ok, tt.wantOK)
			}
			if low != tt.low || high != tt.high {
				t.Errorf("GuessTimeRange(%q) = [%d, %d], want [%d, %d]", tt.file, low, high, tt.low, tt.high)
			}
		})
	}
}

func TestGuessTAS(t *testing.T) {
	tests := []struct {
		file string
		want bool
	}{
		{"level1_tas_3.559.rec", true},
		{"TAS run.rec", true},
		{"tas.rec", true},
		{"fantastic.rec", false},
		{"metastable.rec", false},
		{"plain.rec", false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			if got := GuessTAS(tt.file); got != tt.want {
				t.Errorf("GuessTAS(%q) = %v, want %v", tt.file, got, tt.want)
			}
		})
	}
}
