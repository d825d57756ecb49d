package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	max := 2 * time.Second
	assert.Equal(t, base, Backoff(0, base, max))
	assert.Equal(t, 200*time.Millisecond, Backoff(1, base, max))
	assert.Equal(t, 400*time.Millisecond, Backoff(2, base, max))
	assert.Equal(t, max, Backoff(10, base, max))
}

func TestMonitor_TransitionsToOnlineAndFiresReconnect(t *testing.T) {
	var failNext atomic.Bool
	failNext.Store(true)

	probe := func(ctx context.Context) error {
		if failNext.Load() {
			return errors.New("unreachable")
		}
		return nil
	}

	m := NewMonitor(probe, 20*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond, discardLogger())

	var fired atomic.Bool
	m.OnReconnect(func(ctx context.Context) { fired.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go m.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateOffline, m.State())

	failNext.Store(false)

	require.Eventually(t, func() bool {
		return fired.Load()
	}, 400*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, StateOnline, m.State())
}

func TestMonitor_WaitForOnlineRespectsContextCancellation(t *testing.T) {
	probe := func(ctx context.Context) error { return errors.New("down") }
	m := NewMonitor(probe, 10*time.Millisecond, 5*time.Millisecond, 5*time.Millisecond, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	go m.Start(ctx)

	err := m.WaitForOnline(ctx, 5*time.Millisecond)
	assert.Error(t, err)
}
