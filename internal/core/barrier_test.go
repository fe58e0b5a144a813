package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarrierZeroParties(t *testing.T) {
	b := NewBarrier(0)
	assert.True(t, b.Completed())
	require.NoError(t, b.Wait(context.Background()))
}

func TestBarrierReleasesAfterAllArrivals(t *testing.T) {
	b := NewBarrier(3)
	assert.False(t, b.Completed())

	b.Arrive()
	b.Arrive()
	assert.False(t, b.Completed())

	b.Arrive()
	assert.True(t, b.Completed())
	require.NoError(t, b.Wait(context.Background()))
}

func TestBarrierIgnoresExtraArrivals(t *testing.T) {
	b := NewBarrier(1)
	b.Arrive()
	b.Arrive()
	b.Arrive()
	assert.True(t, b.Completed())
}

func TestBarrierWaitHonorsContext(t *testing.T) {
	b := NewBarrier(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBarrierConcurrentArrivals(t *testing.T) {
	const n = 50
	b := NewBarrier(n)
	for i := 0; i < n; i++ {
		go b.Arrive()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, b.Wait(ctx))
}
