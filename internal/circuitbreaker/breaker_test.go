package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errBackend = errors.New("backend down")

func failingCalls(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Execute(context.Background(), func() error { return errBackend })
	}
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	b := New("test-trip", cfg, zaptest.NewLogger(t))

	failingCalls(b, 2)
	assert.Equal(t, StateClosed, b.State())

	failingCalls(b, 1)
	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(context.Background(), func() error {
		t.Fatal("must not be called while open")
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	b := New("test-reset", cfg, zaptest.NewLogger(t))

	failingCalls(b, 2)
	require.NoError(t, b.Execute(context.Background(), func() error { return nil }))
	failingCalls(b, 2)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cfg := Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          20 * time.Millisecond,
		FailureThreshold: 1,
		SuccessThreshold: 2,
	}
	b := New("test-recover", cfg, zaptest.NewLogger(t))

	failingCalls(b, 1)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	// Two successful probes close the breaker again.
	require.NoError(t, b.Execute(context.Background(), func() error { return nil }))
	require.NoError(t, b.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cfg := Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Millisecond,
		FailureThreshold: 1,
		SuccessThreshold: 2,
	}
	b := New("test-reopen", cfg, zaptest.NewLogger(t))

	failingCalls(b, 1)
	time.Sleep(30 * time.Millisecond)
	failingCalls(b, 1)
	assert.Equal(t, StateOpen, b.State())
}
