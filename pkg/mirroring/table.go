// Package mirroring implements the dual-write mirroring dispatch and
// verification engine: the state machine that fans each table
// operation out across a primary and a secondary backend, verifies
// the secondary against the primary, and never lets the secondary's
// behavior affect what the caller observes.
package mirroring

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mirrorkv/mirrorkv/pkg/mirrorutil"
	"github.com/mirrorkv/mirrorkv/pkg/table"
	"github.com/mirrorkv/mirrorkv/pkg/tracing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Options configures a mirroring Table. Every field has a usable
// zero-value default except Primary and Secondary, which are
// required.
type Options struct {
	Primary   table.Table
	Secondary table.Table

	FlowController    FlowController
	ReadSampler       ReadSampler
	WriteErrorSink    WriteErrorSink
	MismatchDetector  MismatchDetector
	Tracer            tracing.Tracer
	SecondaryWorkers  int
	AllowConcurrentBatch bool
}

func (o *Options) setDefaults() {
	if o.FlowController == nil {
		o.FlowController = NewSemaphoreFlowController(1000)
	}
	if o.ReadSampler == nil {
		o.ReadSampler = NewProbabilisticReadSampler(0.1)
	}
	if o.WriteErrorSink == nil {
		o.WriteErrorSink = NewLoggingWriteErrorSink(mirrorutil.DefaultErrorLogger)
	}
	if o.MismatchDetector == nil {
		o.MismatchDetector = NewLoggingMismatchDetector(mirrorutil.DefaultErrorLogger)
	}
	if o.Tracer == nil {
		o.Tracer = tracing.NoopTracer{}
	}
	if o.SecondaryWorkers < 1 {
		o.SecondaryWorkers = 4
	}
}

// mirroringTable is the dispatcher (§4.1): the operation-by-operation
// state machine that owns the primary handle, the Secondary Async
// Adapter, the Flow Controller, the Write-Error Sink and the
// Reference Counter, and releases all of them exactly once on Close
// (§3 Lifecycle, §4.8).
type mirroringTable struct {
	primary   table.Table
	secondary *secondaryAsyncAdapter
	secondaryTable table.Table

	flowController   FlowController
	readSampler      ReadSampler
	writeErrorSink   WriteErrorSink
	mismatchDetector MismatchDetector
	tracer           tracing.Tracer

	allowConcurrentBatch bool

	refs      *referenceCounter
	closeOnce sync.Once
	closeErr  error

	closeListenersMu sync.Mutex
	closeListeners   []func()
	closed           atomic.Bool
}

// NewMirroringTable constructs a mirroring Table per Options. It
// registers the package's Prometheus collectors on first use, the
// same way bb-storage's decorators register their metrics in a
// sync.Once guarded by the constructor (mirrored_blob_access.go).
func NewMirroringTable(opts Options) table.Table {
	opts.setDefaults()
	registerMetrics()

	refs := newReferenceCounter()
	mt := &mirroringTable{
		primary:              opts.Primary,
		secondaryTable:       opts.Secondary,
		secondary:            newSecondaryAsyncAdapter(refs, opts.SecondaryWorkers),
		flowController:       opts.FlowController,
		readSampler:          opts.ReadSampler,
		writeErrorSink:       opts.WriteErrorSink,
		mismatchDetector:     opts.MismatchDetector,
		tracer:               opts.Tracer,
		allowConcurrentBatch: opts.AllowConcurrentBatch,
		refs:                 refs,
	}
	return mt
}

// Close implements the close protocol of §4.8: CAS the closed flag,
// release the table-open reservation, close the primary synchronously
// (accumulating any error), initiate the (asynchronous) close of the
// secondary adapter, then await the reference counter's completion
// channel so that no secondary work outlives the table (§3 "close
// waits for the Reference Counter to drain"; invariant 7: close
// returns only after every scheduled secondary submission has
// completed or been denied). Second and later callers race on the
// same completion channel and the same accumulated error.
func (mt *mirroringTable) Close(ctx context.Context) error {
	mt.closeOnce.Do(func() {
		mt.closed.Store(true)
		mt.refs.closeTableOpen()

		primaryErr := mt.primary.Close(ctx)
		mt.secondary.close()

		if primaryErr != nil {
			mt.closeErr = mirrorutil.StatusWrap(primaryErr, "Primary")
		}

		mt.closeListenersMu.Lock()
		listeners := mt.closeListeners
		mt.closeListenersMu.Unlock()
		for _, listener := range listeners {
			listener()
		}
	})
	select {
	case <-mt.refs.Done():
		return mt.closeErr
	case <-ctx.Done():
		if mt.closeErr != nil {
			return mt.closeErr
		}
		return mirrorutil.StatusFromContext(ctx)
	}
}

// Wait blocks until every reservation on the table's reference
// counter — the initial table-open reservation, the adapter's
// lifetime reservation, and every in-flight secondary/verification
// task — has been released. Close itself already awaits this once it
// has initiated shutdown; Wait exists for a caller that observes the
// table being closed from elsewhere and only needs to know when drain
// finishes, without re-entering Close's own error accounting.
func (mt *mirroringTable) Wait(ctx context.Context) error {
	select {
	case <-mt.refs.Done():
		return nil
	case <-ctx.Done():
		return mirrorutil.StatusFromContext(ctx)
	}
}

// AddOnCloseListener registers listener to run once Close has
// initiated the close protocol (§6's "close, addOnCloseListener").
// Listeners registered after Close has already run are never invoked.
func (mt *mirroringTable) AddOnCloseListener(listener func()) {
	mt.closeListenersMu.Lock()
	defer mt.closeListenersMu.Unlock()
	if mt.closed.Load() {
		return
	}
	mt.closeListeners = append(mt.closeListeners, listener)
}

// GetConfiguration, GetTableDescriptor, coprocessor invocations and
// write-buffer-size/timeout accessors are unconditionally rejected
// (§6).
func (mt *mirroringTable) GetConfiguration() error  { return table.NotSupportedf("GetConfiguration") }
func (mt *mirroringTable) GetTableDescriptor() error {
	return table.NotSupportedf("GetTableDescriptor")
}
func (mt *mirroringTable) Coprocessor(name string) error {
	return table.NotSupportedf("Coprocessor(" + strings.TrimSpace(name) + ")")
}
func (mt *mirroringTable) GetWriteBufferSize() error {
	return table.NotSupportedf("GetWriteBufferSize")
}
func (mt *mirroringTable) GetOperationTimeout() error {
	return table.NotSupportedf("GetOperationTimeout")
}

var (
	_ table.Table               = (*mirroringTable)(nil)
	_ table.UnsupportedAccessors = (*mirroringTable)(nil)
)

// wrapBackendErr prefixes an error from a named backend, preserving
// its gRPC status code (§3 invariant: the caller sees the primary's
// exact error; this helper is only ever applied to secondary-side
// errors that are reported to collaborators, never to what the caller
// receives).
func wrapBackendErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return mirrorutil.StatusWrap(err, name)
}

func admissionDeniedErr() error {
	return status.Error(codes.ResourceExhausted, "secondary admission denied by Flow Controller")
}
