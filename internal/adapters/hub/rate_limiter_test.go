package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeRateLimiterBlocksOverLimit(t *testing.T) {
	rl := NewSubscribeRateLimiter(3, time.Minute)

	assert.True(t, rl.Allow("k1"))
	assert.True(t, rl.Allow("k1"))
	assert.True(t, rl.Allow("k1"))
	assert.False(t, rl.Allow("k1"))

	// Other keys have their own window.
	assert.True(t, rl.Allow("k2"))
}

func TestSubscribeRateLimiterWindowSlides(t *testing.T) {
	rl := NewSubscribeRateLimiter(1, 20*time.Millisecond)

	assert.True(t, rl.Allow("k1"))
	assert.False(t, rl.Allow("k1"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow("k1"))
}
