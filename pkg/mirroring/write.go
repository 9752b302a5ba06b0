package mirroring

import (
	"context"

	"github.com/mirrorkv/mirrorkv/pkg/table"
)

// scheduleWrite implements the write-fan-out half of §4.1: reserve
// resources for desc; on denial, notify the Write-Error Sink
// synchronously with the original operations (writes, unlike reads,
// always surface admission denial as a lost-write event, §7 taxonomy
// #1); on grant, hold a reference and run the secondary replay
// asynchronously, reporting run's error (if any) to the sink with the
// original, un-rewritten operations.
func (mt *mirroringTable) scheduleWrite(ctx context.Context, kind table.OperationKind, originalOps []table.Operation, desc table.ResourceDescription, run func(ctx context.Context) error) {
	reservation, ok, err := mt.flowController.Acquire(ctx, desc)
	if err != nil || !ok {
		admissionDenials.WithLabelValues(kind.String()).Inc()
		mt.writeErrorSink.Consume(kind, originalOps, admissionDeniedErr())
		return
	}
	secondarySubmissions.WithLabelValues(kind.String()).Inc()
	mt.refs.holdUntilCompletion(func() {
		defer reservation.Release()
		if err := run(ctx); err != nil {
			mt.writeErrorSink.Consume(kind, originalOps, err)
		}
	})
}

// Put replays to the secondary only after the primary write succeeds
// (§3 invariant: the secondary never sees an operation the primary
// rejected).
func (mt *mirroringTable) Put(ctx context.Context, put table.Put) (err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.Put")
	defer func() { span.End(err) }()

	if err = mt.primary.Put(ctx, put); err != nil {
		return err
	}
	ops := []table.Operation{put}
	desc := table.DescribeOperations(ops)
	mt.scheduleWrite(ctx, table.KindPut, ops, desc, func(ctx context.Context) error {
		out := <-submit(mt.secondary, ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, mt.secondaryTable.Put(ctx, put)
		})()
		return wrapBackendErr("Secondary", out.Err)
	})
	return nil
}

// PutList applies puts to the primary and, on success, replays the
// whole batch to the secondary as a single unit of admission.
func (mt *mirroringTable) PutList(ctx context.Context, puts []table.Put) (err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.PutList")
	defer func() { span.End(err) }()

	if err = mt.primary.PutList(ctx, puts); err != nil {
		return err
	}
	ops := make([]table.Operation, len(puts))
	for i, p := range puts {
		ops[i] = p
	}
	desc := table.DescribeOperations(ops)
	mt.scheduleWrite(ctx, table.KindPut, ops, desc, func(ctx context.Context) error {
		out := <-submit(mt.secondary, ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, mt.secondaryTable.PutList(ctx, puts)
		})()
		return wrapBackendErr("Secondary", out.Err)
	})
	return nil
}

// Delete replays a single delete to the secondary after the primary
// applies it.
func (mt *mirroringTable) Delete(ctx context.Context, del table.Delete) (err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.Delete")
	defer func() { span.End(err) }()

	if err = mt.primary.Delete(ctx, del); err != nil {
		return err
	}
	ops := []table.Operation{del}
	desc := table.DescribeOperations(ops)
	mt.scheduleWrite(ctx, table.KindDelete, ops, desc, func(ctx context.Context) error {
		out := <-submit(mt.secondary, ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, mt.secondaryTable.Delete(ctx, del)
		})()
		return wrapBackendErr("Secondary", out.Err)
	})
	return nil
}

// DeleteList replays a batch of deletes to the secondary after the
// primary applies all of them.
func (mt *mirroringTable) DeleteList(ctx context.Context, dels []table.Delete) (err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.DeleteList")
	defer func() { span.End(err) }()

	if err = mt.primary.DeleteList(ctx, dels); err != nil {
		return err
	}
	ops := make([]table.Operation, len(dels))
	for i, d := range dels {
		ops[i] = d
	}
	desc := table.DescribeOperations(ops)
	mt.scheduleWrite(ctx, table.KindDelete, ops, desc, func(ctx context.Context) error {
		out := <-submit(mt.secondary, ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, mt.secondaryTable.DeleteList(ctx, dels)
		})()
		return wrapBackendErr("Secondary", out.Err)
	})
	return nil
}

// MutateRow replays an atomic group of row mutations to the secondary
// after the primary applies them.
func (mt *mirroringTable) MutateRow(ctx context.Context, mutations table.RowMutations) (err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.MutateRow")
	defer func() { span.End(err) }()

	if err = mt.primary.MutateRow(ctx, mutations); err != nil {
		return err
	}
	ops := []table.Operation{mutations}
	desc := table.DescribeOperations(ops)
	mt.scheduleWrite(ctx, table.KindRowMutations, ops, desc, func(ctx context.Context) error {
		out := <-submit(mt.secondary, ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, mt.secondaryTable.MutateRow(ctx, mutations)
		})()
		return wrapBackendErr("Secondary", out.Err)
	})
	return nil
}

// Append applies op to the primary and replays the primary's resulting
// cells to the secondary as a Put (§3 invariant, §9 "idempotent
// rewrite round-trip"), rather than replaying the append itself — an
// append replayed twice would double the value, but the rewritten Put
// is safe to retry.
func (mt *mirroringTable) Append(ctx context.Context, op table.Append) (result table.Row, err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.Append")
	defer func() { span.End(err) }()

	result, err = mt.primary.Append(ctx, op)
	if err != nil {
		return result, err
	}
	rewritten := rewriteAppendResult(op, result)
	originalOps := []table.Operation{op}
	desc := table.DescribeOperations([]table.Operation{rewritten})
	mt.scheduleWrite(ctx, table.KindAppend, originalOps, desc, func(ctx context.Context) error {
		out := <-submit(mt.secondary, ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, mt.secondaryTable.Put(ctx, rewritten)
		})()
		return wrapBackendErr("Secondary", out.Err)
	})
	return result, nil
}

// Increment applies op to the primary and replays the primary's
// resulting counter value to the secondary as a Put, for the same
// idempotent-rewrite reason as Append.
func (mt *mirroringTable) Increment(ctx context.Context, op table.Increment) (result int64, err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.Increment")
	defer func() { span.End(err) }()

	result, err = mt.primary.Increment(ctx, op)
	if err != nil {
		return result, err
	}
	rewritten := rewriteIncrementResult(op, result)
	originalOps := []table.Operation{op}
	desc := table.DescribeOperations([]table.Operation{rewritten})
	mt.scheduleWrite(ctx, table.KindIncrement, originalOps, desc, func(ctx context.Context) error {
		out := <-submit(mt.secondary, ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, mt.secondaryTable.Put(ctx, rewritten)
		})()
		return wrapBackendErr("Secondary", out.Err)
	})
	return result, nil
}

// IncrementColumnValue is HBase's single-column increment, a thin
// wrapper over Increment (§6).
func (mt *mirroringTable) IncrementColumnValue(ctx context.Context, row []byte, family string, qualifier []byte, amount int64) (int64, error) {
	return mt.Increment(ctx, table.Increment{Row: row, Family: family, Qualifier: qualifier, Delta: amount})
}

// CheckAndPut and CheckAndDelete are CheckAndMutate specialized to a
// single Put or Delete (§6); they inherit CheckAndMutate's replay
// rule unchanged.
func (mt *mirroringTable) CheckAndPut(ctx context.Context, row []byte, family string, qualifier []byte, value []byte, put table.Put) (bool, error) {
	return mt.CheckAndMutate(ctx, table.CheckAndMutate{
		Row: row, Family: family, Qualifier: qualifier, Value: value,
		Mutation: table.RowMutations{Row: row, Mutations: []table.Operation{put}},
	})
}

func (mt *mirroringTable) CheckAndDelete(ctx context.Context, row []byte, family string, qualifier []byte, value []byte, del table.Delete) (bool, error) {
	return mt.CheckAndMutate(ctx, table.CheckAndMutate{
		Row: row, Family: family, Qualifier: qualifier, Value: value,
		Mutation: table.RowMutations{Row: row, Mutations: []table.Operation{del}},
	})
}

// CheckAndMutate replays to the secondary only when the primary
// reports that the predicate matched and the mutation was applied
// (§4.1(b)); a predicate miss on the primary means the secondary's
// state is left untouched, so nothing needs replaying.
func (mt *mirroringTable) CheckAndMutate(ctx context.Context, op table.CheckAndMutate) (applied bool, err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.CheckAndMutate")
	defer func() { span.End(err) }()

	applied, err = mt.primary.CheckAndMutate(ctx, op)
	if err != nil || !applied {
		return applied, err
	}
	ops := []table.Operation{op}
	desc := table.DescribeOperations(ops)
	mt.scheduleWrite(ctx, table.KindCheckAndMutate, ops, desc, func(ctx context.Context) error {
		out := <-submit(mt.secondary, ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, mt.secondaryTable.MutateRow(ctx, op.Mutation)
		})()
		return wrapBackendErr("Secondary", out.Err)
	})
	return applied, nil
}
