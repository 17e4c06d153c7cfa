package ratelimit

import (
	"context"
	"time"
)

// RunSweeper runs a background goroutine that expires stale limiter
// entries on an interval until ctx is done. Call from main.
func RunSweeper(ctx context.Context, l *Limiter, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
