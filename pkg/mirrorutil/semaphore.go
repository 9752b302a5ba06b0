package mirrorutil

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// AcquireSemaphore acquires n units of a weighted semaphore.
//
// Weighted.Acquire() does not check for context cancellation prior to
// acquiring. This means that if the semaphore is acquired in a tight
// loop, the loop will not be interrupted. This helper function
// rectifies that.
func AcquireSemaphore(ctx context.Context, sem *semaphore.Weighted, n int64) error {
	if ctx.Err() != nil || sem.Acquire(ctx, n) != nil {
		return StatusFromContext(ctx)
	}
	return nil
}

// TryAcquireSemaphore acquires n units of a weighted semaphore without
// blocking. It reports false if the units are not immediately
// available, matching the admission-denial (not error) semantics the
// Flow Controller requires.
func TryAcquireSemaphore(sem *semaphore.Weighted, n int64) bool {
	return sem.TryAcquire(n)
}
