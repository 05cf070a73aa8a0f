package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically drops finished jobs from a Registry. It runs as a
// supervised service.
type Reaper struct {
	registry  *Registry
	interval  time.Duration
	retention time.Duration
}

func NewReaper(registry *Registry, interval, retention time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{registry: registry, interval: interval, retention: retention}
}

func (r *Reaper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if n := r.registry.Reap(now, r.retention); n > 0 {
				slog.Debug("Reaped finished jobs.", "count", n, "remaining", r.registry.Len())
			}
		}
	}
}

func (r *Reaper) String() string { return "job-reaper" }
