package mirroring

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Outcome is the result delivered by a deferred secondary operation:
// exactly one of Value/Err is meaningful, following the same
// single-populated-field shape as table.Result.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Supplier is a deferred result supplier (§4.5, §9 "supplier-of-
// deferred pattern"): calling it submits the underlying work to the
// adapter's worker pool and immediately returns a channel that
// publishes the outcome once the pool runs it. Suppliers must never be
// called before the Flow Controller has admitted the corresponding
// work — that ordering is what keeps admission ahead of execution.
type Supplier[T any] func() <-chan Outcome[T]

// secondaryAsyncAdapter wraps a synchronous secondary table.Table and
// exposes, for each operation, a Supplier executed on a bounded worker
// pool (§4.5). It takes out a single reservation on the owning
// mirroring table's reference counter for as long as it might still
// have work outstanding, released only once close() has stopped
// accepting new work and the pool has fully drained (§4.5, §4.8 step
// 4) — distinct from the dispatcher's own per-operation reservations
// taken out directly against the same counter (§4.2).
type secondaryAsyncAdapter struct {
	releaseTableReservation func()

	mu       sync.Mutex
	closed   bool
	stopCh   chan struct{}
	workCh   chan func()
	taskWG   sync.WaitGroup
	workerWG sync.WaitGroup
}

// newSecondaryAsyncAdapter starts workers goroutines draining the
// adapter's work queue, and takes out one reservation on refs for the
// adapter's own lifetime. workers bounds how much secondary work can
// run concurrently, independent of the Flow Controller's admission
// count — the two serve different purposes: the Flow Controller
// bounds how much work may be *outstanding* across the whole table,
// the pool size bounds how much may run *simultaneously*.
func newSecondaryAsyncAdapter(refs *referenceCounter, workers int) *secondaryAsyncAdapter {
	if workers < 1 {
		workers = 1
	}
	a := &secondaryAsyncAdapter{
		releaseTableReservation: refs.hold(),
		stopCh:                  make(chan struct{}),
		workCh:                  make(chan func()),
	}
	a.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		go a.runWorker()
	}
	return a
}

func (a *secondaryAsyncAdapter) runWorker() {
	defer a.workerWG.Done()
	for {
		select {
		case fn := <-a.workCh:
			fn()
		case <-a.stopCh:
			return
		}
	}
}

// submit builds a Supplier for fn. It is a free function rather than a
// method because Go methods cannot introduce their own type
// parameters beyond the receiver's.
func submit[T any](a *secondaryAsyncAdapter, ctx context.Context, fn func(context.Context) (T, error)) Supplier[T] {
	return func() <-chan Outcome[T] {
		ch := make(chan Outcome[T], 1)

		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			var zero T
			ch <- Outcome[T]{Value: zero, Err: status.Error(codes.Unavailable, "secondary adapter is closed")}
			close(ch)
			return ch
		}
		a.taskWG.Add(1)
		a.mu.Unlock()

		task := func() {
			defer a.taskWG.Done()
			v, err := fn(ctx)
			ch <- Outcome[T]{Value: v, Err: err}
			close(ch)
		}
		select {
		case a.workCh <- task:
		case <-a.stopCh:
			a.taskWG.Done()
			var zero T
			ch <- Outcome[T]{Value: zero, Err: status.Error(codes.Unavailable, "secondary adapter is closed")}
			close(ch)
		}
		return ch
	}
}

// close stops accepting new work and, once every already-submitted
// task has run and every worker goroutine has exited, releases the
// adapter's reservation on the table's reference counter (§4.5,
// §4.8 step 4). It returns immediately; completion is observed
// through the table's own Close() completion channel.
func (a *secondaryAsyncAdapter) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	go func() {
		a.taskWG.Wait()
		close(a.stopCh)
		a.workerWG.Wait()
		a.releaseTableReservation()
	}()
}
