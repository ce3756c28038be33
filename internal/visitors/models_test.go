package visitors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsOpen(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	session := &Session{StartTime: start}
	window := 30 * time.Minute

	tests := []struct {
		name string
		now  time.Time
		open bool
	}{
		{"just started", start, true},
		{"inside window", start.Add(29 * time.Minute), true},
		{"exact boundary", start.Add(30 * time.Minute), true},
		{"past window", start.Add(30*time.Minute + time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.open, IsOpen(session, tt.now, window))
		})
	}
}

func TestIsNewVisit(t *testing.T) {
	lastSeen := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	window := 30 * time.Minute

	assert.False(t, IsNewVisit(lastSeen, lastSeen.Add(10*time.Minute), window))
	assert.False(t, IsNewVisit(lastSeen, lastSeen.Add(window), window))
	assert.True(t, IsNewVisit(lastSeen, lastSeen.Add(window+time.Second), window))
}
