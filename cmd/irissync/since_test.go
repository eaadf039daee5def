package main

import (
	"testing"
	"time"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 6, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339", "2024-06-01T00:00:00Z", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), false},
		{"rfc3339 offset", "2024-06-01T02:00:00+02:00", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), false},
		{"date", "2024-06-01", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), false},
		{"hours ago", "2 hours ago", now.Add(-2 * time.Hour), false},
		{"future", "in 3 days", time.Time{}, true},
		{"garbage", "banana", time.Time{}, true},
		{"empty", "", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSince(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSince(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseSince(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
