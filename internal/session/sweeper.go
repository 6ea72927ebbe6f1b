// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often a Sweeper purges expired sessions.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically removes sessions older than a maximum age from a
// Purger. Expired sessions are already rejected on read; sweeping only
// reclaims storage.
//
// Call Close to stop the background goroutine.
type Sweeper struct {
	purger Purger
	maxAge time.Duration
	now    Clock
	logger *slog.Logger
	purged PurgeRecorder

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PurgeRecorder receives the number of sessions removed by each sweep.
type PurgeRecorder interface {
	RecordSessionsPurged(n int64)
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithPurgeRecorder reports purge counts to r.
func WithPurgeRecorder(r PurgeRecorder) SweeperOption {
	return func(s *Sweeper) { s.purged = r }
}

// WithSweeperClock overrides the clock used to compute the cutoff.
func WithSweeperClock(now Clock) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper starts a sweeper. A non-positive interval uses
// DefaultSweepInterval. maxAge must be positive.
func NewSweeper(purger Purger, maxAge, interval time.Duration, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		purger:   purger,
		maxAge:   maxAge,
		now:      SystemClock,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.loop(interval)

	return s
}

// Sweep purges once and returns the number of removed sessions.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.purger.PurgeCreatedBefore(ctx, s.now().Add(-s.maxAge))
	if err == nil && s.purged != nil {
		s.purged.RecordSessionsPurged(n)
	}
	return n, err
}

func (s *Sweeper) loop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			n, err := s.Sweep(context.Background())
			if err != nil {
				s.logger.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("expired sessions purged", "count", n)
			}
		}
	}
}

// Close stops the background goroutine and waits for it to exit.
// It is safe to call more than once.
func (s *Sweeper) Close() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}
