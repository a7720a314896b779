package domain

import (
	"testing"
	"time"
)

func TestHeartbeat_LiveAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 3 * time.Minute
	tests := []struct {
		name string
		h    *Heartbeat
		want bool
	}{
		{"nil", nil, false},
		{"fresh", &Heartbeat{LastSeen: now.Add(-time.Second)}, true},
		{"at window edge", &Heartbeat{LastSeen: now.Add(-window)}, true},
		{"expired", &Heartbeat{LastSeen: now.Add(-window - time.Second)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.h.LiveAt(now, window); got != tt.want {
				t.Errorf("LiveAt = %v, want %v", got, tt.want)
			}
		})
	}
}
