package health_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpclb/health"
	"xrpclb/internal/clocktest"
	"xrpclb/pool"
	"xrpclb/rpcclient"
)

func newTestPool(t *testing.T, n int) *pool.Pool {
	t.Helper()
	backends := make([]pool.Backend, n)
	for i := range backends {
		backends[i] = pool.Backend{Host: "127.0.0.1", Port: uint16(9000 + i)}
	}
	p, err := pool.New(backends)
	require.NoError(t, err)
	return p
}

func TestMonitorStartsAllHealthy(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, 3)
	rpc := rpcclient.New(rpcclient.WithTimeouts(rpcclient.Timeouts{
		Connect: 50 * time.Millisecond, Write: 50 * time.Millisecond, Read: 50 * time.Millisecond,
	}))
	m := health.New(p, rpc)
	for i := 0; i < p.Len(); i++ {
		assert.True(t, m.IsAvailable(i))
		assert.True(t, m.GetState(i).Healthy)
	}
}

func TestMonitorTripsAfterThreshold(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, 1)
	fc := clocktest.New()
	// No listener on this port: every probe fails fast via connection
	// refused, so the loop doesn't need to wait out the connect timeout.
	rpc := rpcclient.New(rpcclient.WithTimeouts(rpcclient.Timeouts{
		Connect: time.Second, Write: time.Second, Read: time.Second,
	}))
	m := health.New(p, rpc,
		health.WithClock(fc),
		health.WithInterval(time.Second),
		health.WithFailureThreshold(2),
		health.WithCooldown(5*time.Second),
	)
	m.Start()
	defer m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		before := m.GetState(0).FailureCount
		fc.Advance(time.Second)
		// The ticker stays registered as a fake-clock waiter while a probe
		// runs, so BlockUntilContext cannot tell when this tick's probe has
		// finished. Wait for the failure count to move instead, so the
		// check below never races the in-flight probe goroutine.
		require.Eventually(t, func() bool { return m.GetState(0).FailureCount > before }, time.Second, time.Millisecond)
		if !m.GetState(0).Healthy {
			break
		}
	}

	assert.False(t, m.GetState(0).Healthy)
	assert.False(t, m.IsAvailable(0), "should stay excluded until cooldown elapses")
}

func TestIsAvailableReopensAfterCooldownWindow(t *testing.T) {
	t.Parallel()
	p := newTestPool(t, 1)
	fc := clocktest.New()
	rpc := rpcclient.New()
	m := health.New(p, rpc,
		health.WithClock(fc),
		health.WithFailureThreshold(2),
		health.WithCooldown(time.Second),
	)

	m.MarkFailed(0)
	m.MarkFailed(0)
	require.False(t, m.GetState(0).Healthy, "threshold of 2 should have tripped the breaker")

	fc.Advance(500 * time.Millisecond)
	assert.False(t, m.IsAvailable(0), "t+0.5s: still inside the 1s cooldown")

	fc.Advance(time.Second)
	assert.True(t, m.IsAvailable(0), "t+1.5s: cooldown elapsed, speculative reopen")
	assert.Equal(t, 0, m.GetState(0).FailureCount, "reopen resets the failure streak")
}
