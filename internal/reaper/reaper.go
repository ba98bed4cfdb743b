// Package reaper runs the background expiry sweep. The sweep is a safety
// net behind lazy expiry: it keeps listings honest and gives cap slots back
// for credentials nobody ever tried to use again.
package reaper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tablehouse/perks/internal/domain"
)

// Reaper periodically flips overdue active rewards to expired.
type Reaper struct {
	repo     domain.Repository
	interval time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a reaper sweeping at the given interval.
func New(repo domain.Repository, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reaper{
		repo:     repo,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the sweep loop.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		slog.Info("expiry reaper started", "interval", r.interval)

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.RunOnce(r.ctx)
			}
		}
	}()
}

// RunOnce performs a single sweep. Safe to call at any time; the sweep only
// ever moves statuses forward, so overlapping runs are harmless.
func (r *Reaper) RunOnce(ctx context.Context) {
	expired, err := r.repo.ExpireDue(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("expiry sweep failed", "error", err)
		return
	}
	if expired > 0 {
		slog.Info("expiry sweep completed", "expired", expired)
	}
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	r.cancel()
	r.wg.Wait()
	slog.Info("expiry reaper stopped")
}
