package accept

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterWindowAndMax(t *testing.T) {
	rl := NewRateLimiter(time.Second, 3)
	base := time.Now()

	assert.True(t, rl.allowAt("1.2.3.4", base))
	assert.True(t, rl.allowAt("1.2.3.4", base.Add(10*time.Millisecond)))
	assert.True(t, rl.allowAt("1.2.3.4", base.Add(20*time.Millisecond)))
	// 4th attempt within the window is rejected.
	assert.False(t, rl.allowAt("1.2.3.4", base.Add(30*time.Millisecond)))

	// After the window elapses, the counter resets.
	assert.True(t, rl.allowAt("1.2.3.4", base.Add(1100*time.Millisecond)))
}

func TestRateLimiterPerIPIndependence(t *testing.T) {
	rl := NewRateLimiter(time.Second, 1)
	base := time.Now()
	assert.True(t, rl.allowAt("1.1.1.1", base))
	assert.True(t, rl.allowAt("2.2.2.2", base))
	assert.False(t, rl.allowAt("1.1.1.1", base.Add(time.Millisecond)))
}

func TestRateLimiterSweepEvictsEmptyEntries(t *testing.T) {
	rl := NewRateLimiter(time.Second, 5)
	base := time.Now()
	rl.allowAt("9.9.9.9", base)

	rl.sweepAt(base.Add(2 * time.Second))

	rl.mu.Lock()
	_, exists := rl.attempts["9.9.9.9"]
	rl.mu.Unlock()
	assert.False(t, exists)
}
