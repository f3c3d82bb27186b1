package backend

import (
	"context"
	"time"
)

// WaitForAll polls allExited every interval until it holds, timeout elapses
// or ctx is done. timeout <= 0 means no timeout. Nothing is cancelled on
// timeout.
func WaitForAll(ctx context.Context, allExited func() bool, interval, timeout time.Duration) bool {
	if allExited() {
		return true
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if allExited() {
				return true
			}
		}
	}
}
