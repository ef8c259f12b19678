package reconcile

import (
	"context"
	"time"
)

// nextBackoff doubles the delay up to limit.
func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit {
		next = limit
	}
	return next
}

// sleepCtx waits d or until ctx cancels; false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
