package mirroring

import (
	"context"

	"github.com/mirrorkv/mirrorkv/pkg/table"
)

// scheduleVerification implements the read-with-verification pipeline
// of §4.2: reserve resources for desc; on denial, drop silently
// (sampled reads never reach the Write-Error Sink, per §4.1's error
// surfaces); on grant, hold a reference and run verify asynchronously,
// releasing the reservation on every exit path. verify runs strictly
// after the primary result has already been returned to the caller.
func (mt *mirroringTable) scheduleVerification(ctx context.Context, kind table.OperationKind, desc table.ResourceDescription, verify func(ctx context.Context)) {
	reservation, ok, err := mt.flowController.Acquire(ctx, desc)
	if err != nil || !ok {
		admissionDenials.WithLabelValues(kind.String()).Inc()
		return
	}
	secondarySubmissions.WithLabelValues(kind.String()).Inc()
	mt.refs.holdUntilCompletion(func() {
		defer reservation.Release()
		verify(ctx)
	})
}

// Exists implements the read path for a single existence check.
func (mt *mirroringTable) Exists(ctx context.Context, get table.Get) (found bool, err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.Exists")
	defer func() { span.End(err) }()

	found, err = mt.primary.Exists(ctx, get)
	if err != nil {
		return found, err
	}
	if mt.readSampler.ShouldNextReadOperationBeSampled() {
		desc := table.DescribeOperations([]table.Operation{get})
		mt.scheduleVerification(ctx, table.KindExists, desc, func(ctx context.Context) {
			out := <-submit(mt.secondary, ctx, func(ctx context.Context) (bool, error) {
				return mt.secondaryTable.Exists(ctx, get)
			})()
			mt.mismatchDetector.Exists(get, found, out.Value, out.Err)
		})
	}
	return found, nil
}

// ExistsAll implements the batch existence-check read path.
func (mt *mirroringTable) ExistsAll(ctx context.Context, gets []table.Get) (found []bool, err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.ExistsAll")
	defer func() { span.End(err) }()

	found, err = mt.primary.ExistsAll(ctx, gets)
	if err != nil {
		return found, err
	}
	if mt.readSampler.ShouldNextReadOperationBeSampled() {
		ops := make([]table.Operation, len(gets))
		for i, g := range gets {
			ops[i] = g
		}
		desc := table.DescribeOperations(ops)
		primaryCopy := append([]bool(nil), found...)
		mt.scheduleVerification(ctx, table.KindExists, desc, func(ctx context.Context) {
			out := <-submit(mt.secondary, ctx, func(ctx context.Context) ([]bool, error) {
				return mt.secondaryTable.ExistsAll(ctx, gets)
			})()
			for i, g := range gets {
				var secondaryVal bool
				if i < len(out.Value) {
					secondaryVal = out.Value[i]
				}
				mt.mismatchDetector.Exists(g, primaryCopy[i], secondaryVal, out.Err)
			}
		})
	}
	return found, nil
}

// Get implements the read path for a single row read.
func (mt *mirroringTable) Get(ctx context.Context, get table.Get) (row table.Row, err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.Get")
	defer func() { span.End(err) }()

	row, err = mt.primary.Get(ctx, get)
	if err != nil {
		return row, err
	}
	if mt.readSampler.ShouldNextReadOperationBeSampled() {
		desc := table.DescribeOperations([]table.Operation{get})
		primaryCopy := row
		mt.scheduleVerification(ctx, table.KindGet, desc, func(ctx context.Context) {
			out := <-submit(mt.secondary, ctx, func(ctx context.Context) (table.Row, error) {
				return mt.secondaryTable.Get(ctx, get)
			})()
			mt.mismatchDetector.Get(get, primaryCopy, out.Value, out.Err)
		})
	}
	return row, nil
}

// GetList implements the read path for a batch of row reads.
func (mt *mirroringTable) GetList(ctx context.Context, gets []table.Get) (rows []table.Row, err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.GetList")
	defer func() { span.End(err) }()

	rows, err = mt.primary.GetList(ctx, gets)
	if err != nil {
		return rows, err
	}
	if mt.readSampler.ShouldNextReadOperationBeSampled() {
		ops := make([]table.Operation, len(gets))
		for i, g := range gets {
			ops[i] = g
		}
		desc := table.DescribeOperations(ops)
		primaryCopy := append([]table.Row(nil), rows...)
		mt.scheduleVerification(ctx, table.KindGet, desc, func(ctx context.Context) {
			out := <-submit(mt.secondary, ctx, func(ctx context.Context) ([]table.Row, error) {
				return mt.secondaryTable.GetList(ctx, gets)
			})()
			mt.mismatchDetector.GetList(gets, primaryCopy, out.Value, out.Err)
		})
	}
	return rows, nil
}
