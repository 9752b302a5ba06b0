package mirroring_test

import (
	"context"
	"sync"

	"github.com/mirrorkv/mirrorkv/pkg/mirroring"
	"github.com/mirrorkv/mirrorkv/pkg/table"
)

// stubTable wraps a real table.Table and lets a test override one or
// two methods, leaving everything else delegated to the embedded
// value.
type stubTable struct {
	table.Table
	batchFunc func(ctx context.Context, ops []table.Operation, results []table.Result) error
	putFunc   func(ctx context.Context, put table.Put) error
}

func (s *stubTable) Batch(ctx context.Context, ops []table.Operation, results []table.Result) error {
	if s.batchFunc != nil {
		return s.batchFunc(ctx, ops, results)
	}
	return s.Table.Batch(ctx, ops, results)
}

func (s *stubTable) Put(ctx context.Context, put table.Put) error {
	if s.putFunc != nil {
		return s.putFunc(ctx, put)
	}
	return s.Table.Put(ctx, put)
}

// fakeFlowController either always admits (recording the resource
// descriptions it saw) or always denies.
type fakeFlowController struct {
	mu      sync.Mutex
	deny    bool
	acquired []table.ResourceDescription
}

func (f *fakeFlowController) Acquire(ctx context.Context, desc table.ResourceDescription) (mirroring.Reservation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny {
		return nil, false, nil
	}
	f.acquired = append(f.acquired, desc)
	return noopReservation{}, true, nil
}

type noopReservation struct{}

func (noopReservation) Release() {}

// fakeWriteErrorSink records every Consume call.
type fakeWriteErrorSink struct {
	mu    sync.Mutex
	calls []writeErrorCall
}

type writeErrorCall struct {
	kind table.OperationKind
	ops  []table.Operation
	err  error
}

func (s *fakeWriteErrorSink) Consume(kind table.OperationKind, ops []table.Operation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, writeErrorCall{kind: kind, ops: append([]table.Operation(nil), ops...), err: err})
}

func (s *fakeWriteErrorSink) snapshot() []writeErrorCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]writeErrorCall(nil), s.calls...)
}

// fakeMismatchDetector records every callback it receives.
type fakeMismatchDetector struct {
	mu       sync.Mutex
	gets     []getCall
	scanRows []scanRowCall
}

type getCall struct {
	get                table.Get
	primary, secondary table.Row
	secondaryErr       error
}

type scanRowCall struct {
	index              int
	primary, secondary table.Row
	secondaryErr       error
}

func (d *fakeMismatchDetector) Exists(get table.Get, primary, secondary bool, secondaryErr error) {}

func (d *fakeMismatchDetector) Get(get table.Get, primary, secondary table.Row, secondaryErr error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gets = append(d.gets, getCall{get: get, primary: primary, secondary: secondary, secondaryErr: secondaryErr})
}

func (d *fakeMismatchDetector) GetList(gets []table.Get, primary, secondary []table.Row, secondaryErr error) {
}

func (d *fakeMismatchDetector) ScanRow(scan table.Scan, index int, primary, secondary table.Row, secondaryErr error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scanRows = append(d.scanRows, scanRowCall{index: index, primary: primary, secondary: secondary, secondaryErr: secondaryErr})
}

func (d *fakeMismatchDetector) snapshotGets() []getCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]getCall(nil), d.gets...)
}

func (d *fakeMismatchDetector) snapshotScanRows() []scanRowCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]scanRowCall(nil), d.scanRows...)
}
