// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func newTestLimiter(t *testing.T, cfg LimiterConfig) (*LoginLimiter, *stepClock) {
	t.Helper()
	clock := &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := NewLoginLimiter(cfg)
	l.now = clock.Now
	t.Cleanup(l.Close)
	return l, clock
}

func TestLoginLimiter_BurstPerClient(t *testing.T) {
	l, _ := newTestLimiter(t, LimiterConfig{Burst: 2, Rate: 1})

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, l.Allow("10.0.0.2"), "other clients have their own bucket")
	assert.Equal(t, 2, l.ClientCount())
}

func TestLoginLimiter_Refills(t *testing.T) {
	l, clock := newTestLimiter(t, LimiterConfig{Burst: 1, Rate: 1})

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	clock.now = clock.now.Add(time.Second)
	assert.True(t, l.Allow("a"))
}

func TestLoginLimiter_Defaults(t *testing.T) {
	l := NewLoginLimiter(LimiterConfig{})
	defer l.Close()

	assert.Equal(t, DefaultLoginBurst, l.burst)
	assert.InDelta(t, DefaultLoginRate, float64(l.rate), 1e-9)
	assert.Equal(t, DefaultClientMaxIdle, l.maxIdle)
}

func TestLoginLimiter_CleanupForgetsIdleClients(t *testing.T) {
	l, clock := newTestLimiter(t, LimiterConfig{})

	l.Allow("stale")
	clock.now = clock.now.Add(time.Hour)
	l.Allow("fresh")

	l.Cleanup(30 * time.Minute)
	assert.Equal(t, 1, l.ClientCount())

	// A forgotten client starts with a full burst again.
	for range DefaultLoginBurst {
		assert.True(t, l.Allow("stale"))
	}
}

func TestLoginLimiter_ReportsClientGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := NewLoginLimiterWithRegistry(LimiterConfig{}, reg)
	defer l.Close()

	l.Allow("a")
	l.Allow("b")
	l.Cleanup(time.Hour)

	assert.InDelta(t, 2, testutil.ToFloat64(l.clientGauge), 0)
}

func TestLoginLimiter_CleanupLoopRuns(t *testing.T) {
	l := NewLoginLimiter(LimiterConfig{CleanupInterval: 5 * time.Millisecond, ClientMaxIdle: time.Nanosecond})
	defer l.Close()

	l.Allow("a")
	assert.Eventually(t, func() bool { return l.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLoginLimiter_CloseIsIdempotent(t *testing.T) {
	l := NewLoginLimiter(LimiterConfig{})
	l.Close()
	l.Close()
}
