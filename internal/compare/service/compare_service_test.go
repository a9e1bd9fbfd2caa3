package service

import "testing"

func TestIsDesync(t *testing.T) {
	expected := int64(12349)

	tests := []struct {
		name      string
		file      string
		expected  *int64
		success   bool
		scoreTime int64
		want      bool
	}{
		{"failed run never desyncs", "12.34.rec", &expected, false, 99999, false},
		{"no expected time never desyncs", "plain.rec", nil, true, 3559, false},
		{"exact match is clean", "12.34.rec", &expected, true, 12349, false},
		{"inside bucket is clean", "12.34.rec", &expected, true, 12342, false},
		{"at bucket low edge is clean", "12.34.rec", &expected, true, 12340, false},
		{"at bucket high edge is clean", "12.34.rec", &expected, true, 12349, false},
		{"below bucket desyncs", "12.34.rec", &expected, true, 12339, true},
		{"above bucket desyncs", "12.34.rec", &expected, true, 12350, true},
		{"exact form tolerates nothing", "3.559.rec", int64Ptr(3559), true, 3560, true},
		{"unparseable name is clean", "noname.rec", int64Ptr(5000), true, 9999, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsDesync(tt.file, tt.expected, tt.success, tt.scoreTime)
			if got != tt.want {
				t.Errorf("IsDesync(%q, %v, %v, %d) = %v, want %v",
					tt.file, tt.expected, tt.success, tt.scoreTime, got, tt.want)
			}
		})
	}
}

func int64Ptr(v int64) *int64 { return &v }
