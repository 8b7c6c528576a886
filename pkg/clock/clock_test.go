package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	c := NewManual(start)

	assert.Equal(t, start, c.Now())

	next := c.Advance(5 * time.Minute)
	assert.Equal(t, start.Add(5*time.Minute), next)
	assert.Equal(t, next, c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestRealClockIsUTC(t *testing.T) {
	now := Real{}.Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.WithinDuration(t, time.Now(), now, time.Second)
}
