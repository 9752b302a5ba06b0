// Package table defines the wide-column table API that both the
// primary and secondary backend handles implement, and that the
// mirroring dispatcher (pkg/mirroring) in turn exposes to callers.
// It corresponds to bb-storage's pkg/blobstore.BlobAccess: a small,
// backend-agnostic contract that every decorator in the mirroring
// engine is built against.
package table

import "context"

// Table is the backend contract consumed and exposed by the mirroring
// core: both the primary and the secondary are values of this
// interface. pkg/backends/memory provides an in-memory implementation
// used for tests and for the "default" connection.impl.
type Table interface {
	Exists(ctx context.Context, get Get) (bool, error)
	ExistsAll(ctx context.Context, gets []Get) ([]bool, error)
	Get(ctx context.Context, get Get) (Row, error)
	GetList(ctx context.Context, gets []Get) ([]Row, error)
	GetScanner(ctx context.Context, scan Scan) (Scanner, error)

	Put(ctx context.Context, put Put) error
	PutList(ctx context.Context, puts []Put) error
	Delete(ctx context.Context, del Delete) error
	DeleteList(ctx context.Context, dels []Delete) error
	MutateRow(ctx context.Context, mutations RowMutations) error

	Append(ctx context.Context, op Append) (Row, error)
	Increment(ctx context.Context, op Increment) (int64, error)

	// IncrementColumnValue is HBase's single-column increment: the
	// same operation as Increment, addressed directly instead of
	// through an Increment value.
	IncrementColumnValue(ctx context.Context, row []byte, family string, qualifier []byte, amount int64) (int64, error)

	CheckAndMutate(ctx context.Context, op CheckAndMutate) (bool, error)

	// CheckAndPut and CheckAndDelete are CheckAndMutate specialized
	// to a single Put or Delete, matching the HBase client's
	// narrower conditional-write entry points.
	CheckAndPut(ctx context.Context, row []byte, family string, qualifier []byte, value []byte, put Put) (bool, error)
	CheckAndDelete(ctx context.Context, row []byte, family string, qualifier []byte, value []byte, del Delete) (bool, error)

	// Batch applies every operation in ops, filling the
	// correspondingly indexed slot of results. len(results) must
	// equal len(ops). Batch returns a non-nil error only for a
	// failure that prevented the primary from attempting the
	// batch at all (e.g. malformed input); per-operation failures
	// are reported through results, not through the returned
	// error (§4.3).
	Batch(ctx context.Context, ops []Operation, results []Result) error

	// BatchCallback applies ops exactly like Batch, additionally
	// invoking cb once per position, in index order, as soon as that
	// position's final result is known.
	BatchCallback(ctx context.Context, ops []Operation, results []Result, cb func(index int, result Result)) error

	Close(ctx context.Context) error

	// AddOnCloseListener registers a listener invoked once Close has
	// been called, in registration order. Listeners added after Close
	// has already been called are never invoked.
	AddOnCloseListener(listener func())
}

// UnsupportedAccessors groups the single-backend administrative
// accessors a mirroring table must reject outright rather than
// silently answer from just one backend (§6): getConfiguration,
// getTableDescriptor, coprocessor invocations, and write-buffer-
// size/timeout accessors.
type UnsupportedAccessors interface {
	GetConfiguration() error
	GetTableDescriptor() error
	Coprocessor(name string) error
	GetWriteBufferSize() error
	GetOperationTimeout() error
}

// Scanner streams rows from a Scan, one at a time.
type Scanner interface {
	// Next returns the next row, or (Row{}, false, nil) once the
	// scan is exhausted.
	Next(ctx context.Context) (Row, bool, error)
	Close() error
}
