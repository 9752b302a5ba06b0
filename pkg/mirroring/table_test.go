package mirroring_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mirrorkv/mirrorkv/pkg/backends/memory"
	"github.com/mirrorkv/mirrorkv/pkg/mirroring"
	"github.com/mirrorkv/mirrorkv/pkg/table"
)

func TestPutReplicatesToSecondary(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary})

	require.NoError(t, mt.Put(ctx, table.Put{
		Row:   []byte("r1"),
		Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v")}},
	}))
	require.NoError(t, mt.Close(ctx))

	row, err := secondary.Get(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	require.Len(t, row.Cells, 1)
	require.Equal(t, []byte("v"), row.Cells[0].Value)
}

func TestPrimaryFailureNeverReachesSecondary(t *testing.T) {
	ctx := context.Background()
	boom := status.Error(codes.Internal, "primary down")
	primary := &stubTable{Table: memory.New(), putFunc: func(ctx context.Context, put table.Put) error {
		return boom
	}}
	secondary := memory.New()
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary})

	err := mt.Put(ctx, table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v")}}})
	require.Error(t, err)
	require.Equal(t, codes.Internal, status.Code(err))
	require.NoError(t, mt.Close(ctx))

	found, err := secondary.Exists(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	require.False(t, found, "secondary must never see an operation the primary rejected")
}

func TestGetSampledVerificationReportsMismatch(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	detector := &fakeMismatchDetector{}
	mt := mirroring.NewMirroringTable(mirroring.Options{
		Primary:          primary,
		Secondary:        secondary,
		ReadSampler:      mirroring.AlwaysSample,
		MismatchDetector: detector,
	})

	require.NoError(t, primary.Put(ctx, table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("primary-value")}}}))
	require.NoError(t, secondary.Put(ctx, table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("secondary-value")}}}))

	row, err := mt.Get(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	require.Equal(t, []byte("primary-value"), row.Cells[0].Value, "caller must always see the primary's value")

	require.NoError(t, mt.Close(ctx))

	gets := detector.snapshotGets()
	require.Len(t, gets, 1)
	require.Equal(t, []byte("primary-value"), gets[0].primary.Cells[0].Value)
	require.Equal(t, []byte("secondary-value"), gets[0].secondary.Cells[0].Value)
	require.NoError(t, gets[0].secondaryErr)
}

func TestGetSampledVerificationMatch(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	detector := &fakeMismatchDetector{}
	mt := mirroring.NewMirroringTable(mirroring.Options{
		Primary:          primary,
		Secondary:        secondary,
		ReadSampler:      mirroring.AlwaysSample,
		MismatchDetector: detector,
	})

	require.NoError(t, primary.Put(ctx, table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v")}}}))
	require.NoError(t, secondary.Put(ctx, table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v")}}}))

	_, err := mt.Get(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	require.NoError(t, mt.Close(ctx))

	gets := detector.snapshotGets()
	require.Len(t, gets, 1)
	require.Equal(t, gets[0].primary.Cells[0].Value, gets[0].secondary.Cells[0].Value)
}

func TestUnsampledReadSkipsVerification(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	detector := &fakeMismatchDetector{}
	mt := mirroring.NewMirroringTable(mirroring.Options{
		Primary:          primary,
		Secondary:        secondary,
		ReadSampler:      mirroring.NeverSample,
		MismatchDetector: detector,
	})

	require.NoError(t, primary.Put(ctx, table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v")}}}))
	_, err := mt.Get(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	require.NoError(t, mt.Close(ctx))

	require.Empty(t, detector.snapshotGets())
}

func TestAppendRewriteIsIdempotentAcrossTwoAppends(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary})

	_, err := mt.Append(ctx, table.Append{Row: []byte("r1"), Family: "cf", Qualifier: []byte("c"), Value: []byte("foo")})
	require.NoError(t, err)
	_, err = mt.Append(ctx, table.Append{Row: []byte("r1"), Family: "cf", Qualifier: []byte("c"), Value: []byte("bar")})
	require.NoError(t, err)
	require.NoError(t, mt.Close(ctx))

	primaryRow, err := primary.Get(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	secondaryRow, err := secondary.Get(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)

	require.Equal(t, []byte("foobar"), primaryRow.Cells[0].Value)
	require.Equal(t, primaryRow.Cells[0].Value, secondaryRow.Cells[0].Value, "secondary must end up with the primary's merged value, not a doubled append")
}

func TestIncrementRewriteCarriesPrimaryValue(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary})

	_, err := mt.Increment(ctx, table.Increment{Row: []byte("r1"), Family: "cf", Qualifier: []byte("n"), Delta: 5})
	require.NoError(t, err)
	n, err := mt.Increment(ctx, table.Increment{Row: []byte("r1"), Family: "cf", Qualifier: []byte("n"), Delta: 3})
	require.NoError(t, err)
	require.Equal(t, int64(8), n)
	require.NoError(t, mt.Close(ctx))

	secondaryRow, err := secondary.Get(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	secN, err := secondary.Increment(ctx, table.Increment{Row: []byte("r1"), Family: "cf", Qualifier: []byte("n"), Delta: 0})
	require.NoError(t, err)
	require.Equal(t, int64(8), secN)
	require.Len(t, secondaryRow.Cells, 1)
}

func TestCheckAndMutatePredicateMissSkipsSecondary(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary})

	require.NoError(t, primary.Put(ctx, table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("old")}}}))

	applied, err := mt.CheckAndMutate(ctx, table.CheckAndMutate{
		Row: []byte("r1"), Family: "cf", Qualifier: []byte("c"), Value: []byte("not-old"),
		Mutation: table.RowMutations{Row: []byte("r1"), Mutations: []table.Operation{
			table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("new")}}},
		}},
	})
	require.NoError(t, err)
	require.False(t, applied)
	require.NoError(t, mt.Close(ctx))

	found, err := secondary.Exists(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	require.False(t, found)
}

func TestCheckAndMutatePredicateMatchReplicatesMutation(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary})

	require.NoError(t, primary.Put(ctx, table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("old")}}}))
	require.NoError(t, secondary.Put(ctx, table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("old")}}}))

	applied, err := mt.CheckAndMutate(ctx, table.CheckAndMutate{
		Row: []byte("r1"), Family: "cf", Qualifier: []byte("c"), Value: []byte("old"),
		Mutation: table.RowMutations{Row: []byte("r1"), Mutations: []table.Operation{
			table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("new")}}},
		}},
	})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, mt.Close(ctx))

	row, err := secondary.Get(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	require.Equal(t, []byte("new"), row.Cells[0].Value)
}

func TestAdmissionDeniedWriteReportedToSink(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	sink := &fakeWriteErrorSink{}
	mt := mirroring.NewMirroringTable(mirroring.Options{
		Primary:        primary,
		Secondary:      secondary,
		FlowController: &fakeFlowController{deny: true},
		WriteErrorSink: sink,
	})

	put := table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v")}}}
	require.NoError(t, mt.Put(ctx, put))
	require.NoError(t, mt.Close(ctx))

	found, err := secondary.Exists(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	require.False(t, found)

	calls := sink.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, table.KindPut, calls[0].kind)
	require.Equal(t, codes.ResourceExhausted, status.Code(calls[0].err))
	require.Equal(t, []table.Operation{put}, calls[0].ops)
}

func TestSecondaryWriteFailureReportedWithOriginalOperation(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	boom := status.Error(codes.Unavailable, "secondary down")
	secondary := &stubTable{Table: memory.New(), putFunc: func(ctx context.Context, put table.Put) error {
		return boom
	}}
	sink := &fakeWriteErrorSink{}
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary, WriteErrorSink: sink})

	put := table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v")}}}
	require.NoError(t, mt.Put(ctx, put))
	require.NoError(t, mt.Close(ctx))

	calls := sink.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, []table.Operation{put}, calls[0].ops)
	require.Equal(t, codes.Unavailable, status.Code(calls[0].err))
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: memory.New(), Secondary: memory.New()})
	require.NoError(t, mt.Close(ctx))
	require.NoError(t, mt.Close(ctx))
}

func TestBatchSequentialPartialPrimaryFailure(t *testing.T) {
	ctx := context.Background()
	boom := status.Error(codes.Internal, "position 1 failed")
	primary := &stubTable{Table: memory.New(), batchFunc: func(ctx context.Context, ops []table.Operation, results []table.Result) error {
		real := memory.New()
		_ = real.Batch(ctx, ops, results)
		results[1] = table.ErrResult(boom)
		return boom
	}}
	secondary := memory.New()
	sink := &fakeWriteErrorSink{}
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary, WriteErrorSink: sink})

	ops := []table.Operation{
		table.Put{Row: []byte("r0"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v0")}}},
		table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v1")}}},
		table.Put{Row: []byte("r2"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v2")}}},
	}
	results := make([]table.Result, len(ops))
	err := mt.Batch(ctx, ops, results)
	require.Error(t, err)
	require.True(t, results[0].Ok())
	require.False(t, results[1].Ok())
	require.True(t, results[2].Ok())

	require.NoError(t, mt.Close(ctx))

	found, err := secondary.Exists(ctx, table.Get{Row: []byte("r0")})
	require.NoError(t, err)
	require.True(t, found, "the successful sibling at position 0 must still replicate")

	found, err = secondary.Exists(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	require.False(t, found, "the primary-failed position must never reach the secondary")

	found, err = secondary.Exists(ctx, table.Get{Row: []byte("r2")})
	require.NoError(t, err)
	require.True(t, found)

	require.Empty(t, sink.snapshot(), "a primary-side failure is not a secondary divergence")
}

func TestBatchSequentialSecondaryFailureReportedToSink(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	boom := status.Error(codes.Unavailable, "secondary batch down")
	secondary := &stubTable{Table: memory.New(), batchFunc: func(ctx context.Context, ops []table.Operation, results []table.Result) error {
		return boom
	}}
	sink := &fakeWriteErrorSink{}
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary, WriteErrorSink: sink})

	put := table.Put{Row: []byte("r0"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v0")}}}
	ops := []table.Operation{put}
	results := make([]table.Result, len(ops))
	require.NoError(t, mt.Batch(ctx, ops, results))
	require.True(t, results[0].Ok())

	require.NoError(t, mt.Close(ctx))

	calls := sink.snapshot()
	require.Len(t, calls, 1)
	require.Equal(t, []table.Operation{put}, calls[0].ops)
	require.Equal(t, codes.Unavailable, status.Code(calls[0].err))
}

func TestBatchCheckAndMutatePredicateMissNotReplicated(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	require.NoError(t, primary.Put(ctx, table.Put{Row: []byte("r0"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("old")}}}))

	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary})

	ops := []table.Operation{
		table.CheckAndMutate{
			Row: []byte("r0"), Family: "cf", Qualifier: []byte("c"), Value: []byte("not-old"),
			Mutation: table.RowMutations{Row: []byte("r0"), Mutations: []table.Operation{
				table.Put{Row: []byte("r0"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("new")}}},
			}},
		},
	}
	results := make([]table.Result, len(ops))
	require.NoError(t, mt.Batch(ctx, ops, results))
	require.True(t, results[0].Ok(), "a predicate miss is a successful no-op, not a batch error")
	require.Equal(t, false, results[0].Value)

	require.NoError(t, mt.Close(ctx))

	found, err := secondary.Exists(ctx, table.Get{Row: []byte("r0")})
	require.NoError(t, err)
	require.False(t, found, "a CheckAndMutate predicate miss inside a batch must produce zero secondary submissions")
}

func TestBatchCheckAndMutatePredicateMatchReplicatesMutation(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	require.NoError(t, primary.Put(ctx, table.Put{Row: []byte("r0"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("old")}}}))

	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary})

	ops := []table.Operation{
		table.CheckAndMutate{
			Row: []byte("r0"), Family: "cf", Qualifier: []byte("c"), Value: []byte("old"),
			Mutation: table.RowMutations{Row: []byte("r0"), Mutations: []table.Operation{
				table.Put{Row: []byte("r0"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("new")}}},
			}},
		},
	}
	results := make([]table.Result, len(ops))
	require.NoError(t, mt.Batch(ctx, ops, results))
	require.True(t, results[0].Ok())
	require.Equal(t, true, results[0].Value)

	require.NoError(t, mt.Close(ctx))

	row, err := secondary.Get(ctx, table.Get{Row: []byte("r0")})
	require.NoError(t, err)
	require.Equal(t, []byte("new"), row.Cells[0].Value)
}

func TestBatchAdmissionDeniedGroupsBySpecificKind(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	sink := &fakeWriteErrorSink{}
	mt := mirroring.NewMirroringTable(mirroring.Options{
		Primary:        primary,
		Secondary:      secondary,
		FlowController: &fakeFlowController{deny: true},
		WriteErrorSink: sink,
	})

	put := table.Put{Row: []byte("r0"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v")}}}
	del := table.Delete{Row: []byte("r1"), Family: "cf", Qualifier: []byte("c")}
	ops := []table.Operation{put, del}
	results := make([]table.Result, len(ops))
	require.NoError(t, mt.Batch(ctx, ops, results))
	require.True(t, results[0].Ok())
	require.True(t, results[1].Ok())

	require.NoError(t, mt.Close(ctx))

	calls := sink.snapshot()
	require.Len(t, calls, 2, "a denied batch mixing kinds must be reported once per actual kind")
	byKind := map[table.OperationKind][]table.Operation{}
	for _, c := range calls {
		byKind[c.kind] = c.ops
	}
	require.Equal(t, []table.Operation{put}, byKind[table.KindPut])
	require.Equal(t, []table.Operation{del}, byKind[table.KindDelete])
}

func TestBatchConcurrentModeReplicates(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	mt := mirroring.NewMirroringTable(mirroring.Options{
		Primary:              primary,
		Secondary:            secondary,
		AllowConcurrentBatch: true,
	})

	ops := []table.Operation{
		table.Put{Row: []byte("r0"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v0")}}},
		table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v1")}}},
	}
	results := make([]table.Result, len(ops))
	require.NoError(t, mt.Batch(ctx, ops, results))
	require.True(t, results[0].Ok())
	require.True(t, results[1].Ok())
	require.NoError(t, mt.Close(ctx))

	for _, key := range []string{"r0", "r1"} {
		found, err := secondary.Exists(ctx, table.Get{Row: []byte(key)})
		require.NoError(t, err)
		require.True(t, found, "concurrent-batch mode must still replicate every successful op to the secondary")
	}
}

func TestBatchConcurrentModeDeniedByFlowControllerFailsWholeBatch(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	mt := mirroring.NewMirroringTable(mirroring.Options{
		Primary:              primary,
		Secondary:            secondary,
		AllowConcurrentBatch: true,
		FlowController:       &fakeFlowController{deny: true},
	})

	ops := []table.Operation{
		table.Put{Row: []byte("r0"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v0")}}},
	}
	results := make([]table.Result, len(ops))
	err := mt.Batch(ctx, ops, results)
	require.Error(t, err, "concurrent mode denies admission for the whole batch up front, before the primary runs")
	require.Equal(t, codes.ResourceExhausted, status.Code(err))
	require.NoError(t, mt.Close(ctx))

	found, err := primary.Exists(ctx, table.Get{Row: []byte("r0")})
	require.NoError(t, err)
	require.False(t, found, "the primary must never run once admission is denied in concurrent mode")
}

func TestScannerReportsRowMismatches(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	detector := &fakeMismatchDetector{}
	mt := mirroring.NewMirroringTable(mirroring.Options{
		Primary:          primary,
		Secondary:        secondary,
		ReadSampler:      mirroring.AlwaysSample,
		MismatchDetector: detector,
	})

	for _, key := range []string{"a", "b"} {
		require.NoError(t, primary.Put(ctx, table.Put{Row: []byte(key), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("q"), Value: []byte("primary-" + key)}}}))
	}
	require.NoError(t, secondary.Put(ctx, table.Put{Row: []byte("a"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("q"), Value: []byte("primary-a")}}}))
	require.NoError(t, secondary.Put(ctx, table.Put{Row: []byte("b"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("q"), Value: []byte("stale-b")}}}))

	scanner, err := mt.GetScanner(ctx, table.Scan{})
	require.NoError(t, err)

	var rows []table.Row
	for {
		row, ok, err := scanner.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	require.Len(t, rows, 2)
	require.NoError(t, scanner.Close())

	scanRows := detector.snapshotScanRows()
	require.Len(t, scanRows, 2)
	require.Equal(t, []byte("primary-a"), scanRows[0].primary.Cells[0].Value)
	require.Equal(t, []byte("primary-a"), scanRows[0].secondary.Cells[0].Value)
	require.Equal(t, []byte("primary-b"), scanRows[1].primary.Cells[0].Value)
	require.Equal(t, []byte("stale-b"), scanRows[1].secondary.Cells[0].Value)

	require.NoError(t, mt.Close(ctx))
}

func TestCloseBlocksUntilSlowSecondaryWriteCompletes(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	real := memory.New()
	started := make(chan struct{})
	release := make(chan struct{})
	secondary := &stubTable{Table: real, putFunc: func(ctx context.Context, put table.Put) error {
		close(started)
		<-release
		return real.Put(ctx, put)
	}}
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary})

	put := table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v")}}}
	require.NoError(t, mt.Put(ctx, put))
	<-started

	closeDone := make(chan error, 1)
	go func() { closeDone <- mt.Close(ctx) }()

	select {
	case <-closeDone:
		t.Fatal("Close returned before the slow secondary write finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-closeDone)

	found, err := real.Exists(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	require.True(t, found, "the secondary write must have completed before Close returned")
}

func TestIncrementColumnValueDelegatesToIncrement(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary})

	n, err := mt.IncrementColumnValue(ctx, []byte("r1"), "cf", []byte("n"), 4)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)
	require.NoError(t, mt.Close(ctx))

	secN, err := secondary.Increment(ctx, table.Increment{Row: []byte("r1"), Family: "cf", Qualifier: []byte("n"), Delta: 0})
	require.NoError(t, err)
	require.Equal(t, int64(4), secN)
}

func TestCheckAndPutReplicatesOnMatch(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary})

	require.NoError(t, primary.Put(ctx, table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("old")}}}))
	require.NoError(t, secondary.Put(ctx, table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("old")}}}))

	applied, err := mt.CheckAndPut(ctx, []byte("r1"), "cf", []byte("c"), []byte("old"),
		table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("new")}}})
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, mt.Close(ctx))

	row, err := secondary.Get(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	require.Equal(t, []byte("new"), row.Cells[0].Value)
}

func TestCheckAndDeletePredicateMissSkipsSecondary(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary})

	require.NoError(t, primary.Put(ctx, table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("old")}}}))
	require.NoError(t, secondary.Put(ctx, table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("old")}}}))

	applied, err := mt.CheckAndDelete(ctx, []byte("r1"), "cf", []byte("c"), []byte("not-old"),
		table.Delete{Row: []byte("r1"), Family: "cf", Qualifier: []byte("c")})
	require.NoError(t, err)
	require.False(t, applied)
	require.NoError(t, mt.Close(ctx))

	found, err := secondary.Exists(ctx, table.Get{Row: []byte("r1")})
	require.NoError(t, err)
	require.True(t, found, "a predicate miss must leave the secondary's row untouched")
}

func TestBatchCallbackFiresAfterFinalResults(t *testing.T) {
	ctx := context.Background()
	primary := memory.New()
	secondary := memory.New()
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: primary, Secondary: secondary})

	ops := []table.Operation{
		table.Put{Row: []byte("r0"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v0")}}},
		table.Put{Row: []byte("r1"), Cells: []table.Cell{{Family: "cf", Qualifier: []byte("c"), Value: []byte("v1")}}},
	}
	results := make([]table.Result, len(ops))
	var seen []int
	err := mt.BatchCallback(ctx, ops, results, func(index int, result table.Result) {
		seen = append(seen, index)
		require.True(t, result.Ok())
	})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, seen)
	require.NoError(t, mt.Close(ctx))
}

func TestAddOnCloseListenerFiresOnClose(t *testing.T) {
	ctx := context.Background()
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: memory.New(), Secondary: memory.New()})

	var fired bool
	mt.AddOnCloseListener(func() { fired = true })
	require.NoError(t, mt.Close(ctx))
	require.True(t, fired)
}

func TestAddOnCloseListenerRegisteredAfterCloseNeverFires(t *testing.T) {
	ctx := context.Background()
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: memory.New(), Secondary: memory.New()})
	require.NoError(t, mt.Close(ctx))

	var fired bool
	mt.AddOnCloseListener(func() { fired = true })
	require.False(t, fired)
}

func TestUnsupportedAccessorsReturnNotSupported(t *testing.T) {
	mt := mirroring.NewMirroringTable(mirroring.Options{Primary: memory.New(), Secondary: memory.New()})
	accessors, ok := mt.(table.UnsupportedAccessors)
	require.True(t, ok)
	require.Error(t, accessors.GetConfiguration())
	require.Error(t, accessors.GetTableDescriptor())
	require.Error(t, accessors.Coprocessor("foo"))
	require.Error(t, accessors.GetWriteBufferSize())
	require.Error(t, accessors.GetOperationTimeout())
}
