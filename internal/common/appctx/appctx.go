// Package appctx provides context utilities for background operations.
package appctx

import (
	"context"
	"time"
)

// Detached returns a context that is not tied to any caller's cancellation.
// Use it for fire-and-forget teardown that must outlive the request that
// triggered it. The context is cancelled when stopCh is closed or the timeout
// expires; stopCh may be nil.
func Detached(stopCh <-chan struct{}, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if stopCh == nil {
		return ctx, cancel
	}

	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
