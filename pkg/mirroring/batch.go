package mirroring

import (
	"context"

	"github.com/mirrorkv/mirrorkv/pkg/table"
)

// batchSplit is the Batch Splitter's output (§4.3 "splitting
// discipline"): the input positions eligible for secondary replay,
// the (possibly rewritten) operation to actually send, and the
// original operation to report against if the secondary fails.
type batchSplit struct {
	indices      []int
	secondaryOps []table.Operation
	originalOps  []table.Operation
}

func isReadKind(k table.OperationKind) bool {
	return k == table.KindGet || k == table.KindExists || k == table.KindScan
}

// splitBatch drops any position the primary reported as failed, drops
// read positions too when the batch is not sampled (their successful
// write siblings are kept), and rewrites every surviving Append and
// Increment into an idempotent Put built from its primary result,
// while retaining the original operation for the Write-Error Sink.
func splitBatch(ops []table.Operation, primary []table.Result, sampleReads bool) batchSplit {
	var split batchSplit
	for i, op := range ops {
		if i >= len(primary) || !primary[i].Ok() {
			continue
		}
		if isReadKind(op.Kind()) && !sampleReads {
			continue
		}
		secondaryOp := op
		switch v := op.(type) {
		case table.Append:
			if row, ok := primary[i].Value.(table.Row); ok {
				secondaryOp = rewriteAppendResult(v, row)
			}
		case table.Increment:
			if n, ok := primary[i].Value.(int64); ok {
				secondaryOp = rewriteIncrementResult(v, n)
			}
		case table.CheckAndMutate:
			// A predicate miss reports Ok (no error), but the
			// primary never applied the mutation; replaying it
			// unconditionally would corrupt the secondary (invariant:
			// a CheckAndMutate whose predicate does not match
			// produces zero secondary submissions).
			if applied, ok := primary[i].Value.(bool); !ok || !applied {
				continue
			}
			secondaryOp = v.Mutation
		}
		split.indices = append(split.indices, i)
		split.secondaryOps = append(split.secondaryOps, secondaryOp)
		split.originalOps = append(split.originalOps, op)
	}
	return split
}

// reportBatchVerification implements the per-position half of the
// batch verification callback (§4.3): reads always go through the
// Mismatch Detector regardless of outcome; a failed write goes to the
// Write-Error Sink carrying the original, un-rewritten operation.
func (mt *mirroringTable) reportBatchVerification(op table.Operation, primary, secondary table.Result) {
	if get, ok := op.(table.Get); ok && op.Kind() == table.KindGet {
		var p, s table.Row
		if v, ok := primary.Value.(table.Row); ok {
			p = v
		}
		if v, ok := secondary.Value.(table.Row); ok {
			s = v
		}
		mt.mismatchDetector.Get(get, p, s, secondary.Err)
		return
	}
	if secondary.Err != nil {
		mt.writeErrorSink.Consume(op.Kind(), []table.Operation{op}, secondary.Err)
	}
}

// consumeWriteOpsByKind reports the write (non-read) operations among
// ops to sink, grouped by kind and in first-seen kind order, so a
// denied or failed batch mixing e.g. Put and Delete is reported under
// each operation's actual kind rather than a single hardcoded one.
func consumeWriteOpsByKind(sink WriteErrorSink, ops []table.Operation, err error) {
	var order []table.OperationKind
	grouped := make(map[table.OperationKind][]table.Operation)
	for _, op := range ops {
		if isReadKind(op.Kind()) {
			continue
		}
		kind := op.Kind()
		if _, seen := grouped[kind]; !seen {
			order = append(order, kind)
		}
		grouped[kind] = append(grouped[kind], op)
	}
	for _, kind := range order {
		sink.Consume(kind, grouped[kind], err)
	}
}

// isConcurrentEligible reports whether every operation in a batch
// qualifies for concurrent-batch mode (§4.3): only Put, Delete and
// RowMutations, since those are the only kinds that need no result
// value computed by the primary before the secondary can proceed.
func isConcurrentEligible(ops []table.Operation) bool {
	if len(ops) == 0 {
		return false
	}
	for _, op := range ops {
		switch op.Kind() {
		case table.KindPut, table.KindDelete, table.KindRowMutations:
		default:
			return false
		}
	}
	return true
}

// Batch dispatches to sequential mode, or to concurrent mode when the
// caller opted in and every operation qualifies (§4.3).
func (mt *mirroringTable) Batch(ctx context.Context, ops []table.Operation, results []table.Result) (err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.Batch")
	defer func() { span.End(err) }()

	if mt.allowConcurrentBatch && isConcurrentEligible(ops) {
		err = mt.batchConcurrent(ctx, ops, results)
		return err
	}
	err = mt.batchSequential(ctx, ops, results)
	return err
}

// BatchCallback applies ops exactly like Batch and then invokes cb
// once per position, in index order, with that position's final
// result (§6). The callback fires only after the whole batch — primary
// and, for sequential mode, the split computation — has filled
// results; it is not a hook into per-operation secondary completion,
// which remains asynchronous per §4.3.
func (mt *mirroringTable) BatchCallback(ctx context.Context, ops []table.Operation, results []table.Result, cb func(index int, result table.Result)) (err error) {
	err = mt.Batch(ctx, ops, results)
	if cb != nil {
		for i := range results {
			cb(i, results[i])
		}
	}
	return err
}

// batchSequential implements §4.3's sequential mode: run the whole
// batch on the primary first, then schedule the secondary over
// whatever the splitter says is eligible, regardless of whether the
// primary itself returned an error, so partial successes still
// propagate.
func (mt *mirroringTable) batchSequential(ctx context.Context, ops []table.Operation, results []table.Result) error {
	internal := make([]table.Result, len(ops))
	primaryErr := mt.primary.Batch(ctx, ops, internal)

	sampleReads := mt.readSampler.ShouldNextReadOperationBeSampled()
	split := splitBatch(ops, internal, sampleReads)
	batchSplitSizes.WithLabelValues("scheduled").Observe(float64(len(split.indices)))
	batchSplitSizes.WithLabelValues("dropped").Observe(float64(len(ops) - len(split.indices)))
	mt.scheduleBatchSecondary(ctx, internal, split)

	copy(results, internal)
	return primaryErr
}

// batchConcurrent implements §4.3's concurrent mode: reserve resources
// against the whole input batch, launch the secondary batch, then run
// the primary batch synchronously on the calling thread. Verification
// is deferred until the secondary completes.
func (mt *mirroringTable) batchConcurrent(ctx context.Context, ops []table.Operation, results []table.Result) error {
	desc := table.DescribeOperations(ops)
	reservation, ok, err := mt.flowController.Acquire(ctx, desc)
	if err != nil || !ok {
		admissionDenials.WithLabelValues("Batch").Inc()
		return admissionDeniedErr()
	}

	secondaryResults := make([]table.Result, len(ops))
	secondaryDone := submit(mt.secondary, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, mt.secondaryTable.Batch(ctx, ops, secondaryResults)
	})()

	internal := make([]table.Result, len(ops))
	primaryErr := mt.primary.Batch(ctx, ops, internal)

	secondarySubmissions.WithLabelValues("Batch").Add(float64(len(ops)))
	mt.refs.holdUntilCompletion(func() {
		defer reservation.Release()
		out := <-secondaryDone
		if out.Err != nil {
			wrapped := wrapBackendErr("Secondary", out.Err)
			for i := range secondaryResults {
				secondaryResults[i] = table.ErrResult(wrapped)
			}
		}
		for i, op := range ops {
			if !internal[i].Ok() {
				// The caller sees the primary's failure directly;
				// it is not a secondary divergence to report.
				continue
			}
			mt.reportBatchVerification(op, internal[i], secondaryResults[i])
		}
	})

	copy(results, internal)
	return primaryErr
}

// scheduleBatchSecondary implements the sequential-mode secondary
// scheduling step: reserve resources against the already-split and
// rewritten subset, run it as a single secondary batch call, and
// report each position through reportBatchVerification once it
// completes.
func (mt *mirroringTable) scheduleBatchSecondary(ctx context.Context, primary []table.Result, split batchSplit) {
	if len(split.indices) == 0 {
		return
	}
	desc := table.DescribeOperations(split.secondaryOps)
	reservation, ok, err := mt.flowController.Acquire(ctx, desc)
	if err != nil || !ok {
		admissionDenials.WithLabelValues("Batch").Inc()
		consumeWriteOpsByKind(mt.writeErrorSink, split.originalOps, admissionDeniedErr())
		return
	}
	secondarySubmissions.WithLabelValues("Batch").Add(float64(len(split.indices)))
	mt.refs.holdUntilCompletion(func() {
		defer reservation.Release()
		secondaryResults := make([]table.Result, len(split.secondaryOps))
		out := <-submit(mt.secondary, ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, mt.secondaryTable.Batch(ctx, split.secondaryOps, secondaryResults)
		})()
		if out.Err != nil {
			wrapped := wrapBackendErr("Secondary", out.Err)
			for i := range secondaryResults {
				secondaryResults[i] = table.ErrResult(wrapped)
			}
		}
		for j, idx := range split.indices {
			mt.reportBatchVerification(split.originalOps[j], primary[idx], secondaryResults[j])
		}
	})
}
