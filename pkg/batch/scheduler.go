// Copyright 2025 Settlenet

package batch

import (
	"context"
	"time"

	"github.com/settlenet/engine/pkg/logging"
)

// Scheduler periodically checks the window policy and drives newly
// formed batches through Commit.
type Scheduler struct {
	Manager *Manager
	Log     *logging.Logger

	// CheckInterval controls how often the window policy is evaluated;
	// it should be well below batch_window_seconds so the age trigger
	// fires promptly.
	CheckInterval time.Duration

	stop chan struct{}
}

// NewScheduler constructs a Scheduler with a sane default check interval.
func NewScheduler(m *Manager, log *logging.Logger) *Scheduler {
	return &Scheduler{Manager: m, Log: log, CheckInterval: 5 * time.Second, stop: make(chan struct{})}
}

// Run blocks, checking the window policy every CheckInterval until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop halts Run. Safe to call once.
func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) tick(ctx context.Context) {
	b, err := s.Manager.FormBatch(ctx)
	if err != nil {
		if s.Log != nil {
			s.Log.Error("form batch failed", "error", err)
		}
		return
	}
	if b == nil {
		return // window policy not yet satisfied
	}

	if err := s.Manager.Commit(ctx, b); err != nil {
		if s.Log != nil {
			s.Log.Error("commit batch failed", "batch_id", b.BatchID, "error", err)
		}
	}
}
