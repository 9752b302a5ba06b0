package mirroring

import (
	"context"

	"github.com/mirrorkv/mirrorkv/pkg/mirrorutil"
	"github.com/mirrorkv/mirrorkv/pkg/table"

	"golang.org/x/sync/semaphore"
)

// Reservation represents resources granted by a FlowController. The
// holder must call Release exactly once, whether or not the work it
// guards succeeded.
type Reservation interface {
	Release()
}

// FlowController is the admission-control collaborator (§4.6): it
// grants or denies resource reservations for secondary work. Denial is
// a policy outcome, not an error of the core — callers distinguish it
// from a real failure via the ok return value.
type FlowController interface {
	// Acquire reserves resources described by desc. ok is false on
	// denial (no secondary work should proceed); err is non-nil
	// only if ctx was canceled while waiting to be admitted.
	Acquire(ctx context.Context, desc table.ResourceDescription) (reservation Reservation, ok bool, err error)
}

// semaphoreFlowController is the default FlowController, grounded on
// bb-storage's concurrencyLimitingBlobReplicator: a single
// golang.org/x/sync/semaphore.Weighted bounds the number of
// outstanding secondary operations. Unlike the replicator (which
// always blocks for admission), Acquire here uses TryAcquire so that
// an overloaded secondary sheds load instead of stalling every
// caller's goroutine — matching §4.6's "the controller may deny".
type semaphoreFlowController struct {
	operations *semaphore.Weighted
}

// NewSemaphoreFlowController bounds outstanding secondary operations
// by count, as named by the
// mirroring.flow-controller.max-outstanding-requests configuration
// key (§6, §12).
func NewSemaphoreFlowController(maxOutstandingRequests int64) FlowController {
	return &semaphoreFlowController{
		operations: semaphore.NewWeighted(maxOutstandingRequests),
	}
}

type semaphoreReservation struct {
	sem    *semaphore.Weighted
	weight int64
}

func (r *semaphoreReservation) Release() {
	r.sem.Release(r.weight)
}

func (fc *semaphoreFlowController) Acquire(ctx context.Context, desc table.ResourceDescription) (Reservation, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	weight := int64(desc.NumOperations)
	if weight < 1 {
		weight = 1
	}
	if !mirrorutil.TryAcquireSemaphore(fc.operations, weight) {
		return nil, false, nil
	}
	return &semaphoreReservation{sem: fc.operations, weight: weight}, true, nil
}
