// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Default login rate limiting values.
const (
	// DefaultLoginBurst is the number of login attempts a client may make
	// back to back.
	DefaultLoginBurst = 5

	// DefaultLoginRate is the sustained login attempts per second per client.
	DefaultLoginRate = 0.2

	// DefaultCleanupInterval is how often idle clients are forgotten.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultClientMaxIdle is how long a client may be silent before its
	// limiter is dropped.
	DefaultClientMaxIdle = 30 * time.Minute
)

// LimiterConfig configures a LoginLimiter.
type LimiterConfig struct {
	// Burst defaults to DefaultLoginBurst if zero or negative.
	Burst int
	// Rate defaults to DefaultLoginRate if zero or negative.
	Rate float64
	// CleanupInterval defaults to DefaultCleanupInterval if zero.
	CleanupInterval time.Duration
	// ClientMaxIdle defaults to DefaultClientMaxIdle if zero.
	ClientMaxIdle time.Duration
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LoginLimiter throttles login attempts per client key (normally the remote
// IP). It is safe for concurrent use.
//
// A background goroutine forgets idle clients. Call Close to stop it.
type LoginLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	burst   int
	rate    rate.Limit
	maxIdle time.Duration
	now     func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	clientGauge prometheus.Gauge
}

// NewLoginLimiter creates a limiter and starts its cleanup goroutine.
func NewLoginLimiter(cfg LimiterConfig) *LoginLimiter {
	return newLoginLimiter(cfg, nil)
}

// NewLoginLimiterWithRegistry creates a limiter that reports the number of
// tracked clients to reg.
func NewLoginLimiterWithRegistry(cfg LimiterConfig, reg prometheus.Registerer) *LoginLimiter {
	return newLoginLimiter(cfg, reg)
}

func newLoginLimiter(cfg LimiterConfig, reg prometheus.Registerer) *LoginLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultLoginBurst
	}
	r := cfg.Rate
	if r <= 0 {
		r = DefaultLoginRate
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	maxIdle := cfg.ClientMaxIdle
	if maxIdle <= 0 {
		maxIdle = DefaultClientMaxIdle
	}

	l := &LoginLimiter{
		clients:  make(map[string]*clientLimiter),
		burst:    burst,
		rate:     rate.Limit(r),
		maxIdle:  maxIdle,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	if reg != nil {
		l.clientGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessionauth_login_limiter_clients",
			Help: "Current number of clients tracked by the login rate limiter",
		})
		reg.MustRegister(l.clientGauge)
	}

	l.wg.Add(1)
	go l.cleanupLoop(interval)

	return l
}

// Allow reports whether key may attempt a login now, consuming one token.
func (l *LoginLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// ClientCount returns the number of tracked clients.
func (l *LoginLimiter) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Cleanup forgets clients not seen within maxIdle.
func (l *LoginLimiter) Cleanup(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := l.now().Add(-maxIdle)
	for key, c := range l.clients {
		if c.lastSeen.Before(threshold) {
			delete(l.clients, key)
		}
	}

	if l.clientGauge != nil {
		l.clientGauge.Set(float64(len(l.clients)))
	}
}

func (l *LoginLimiter) cleanupLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.Cleanup(l.maxIdle)
		}
	}
}

// Close stops the cleanup goroutine and waits for it. Safe to call twice.
func (l *LoginLimiter) Close() {
	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
}
