package mirroring

import (
	"context"
	"sync"

	"github.com/mirrorkv/mirrorkv/pkg/mirrorutil"
	"github.com/mirrorkv/mirrorkv/pkg/table"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// verifyTask pairs a primary row with its position in the stream, so
// a verification that completes out of submission order still reports
// against the right secondary row (the secondary scanner itself is
// only ever advanced by the single verifier goroutine, so "position"
// here is really just "which call to secondary.Next this is").
type verifyTask struct {
	index int
	row   table.Row
}

// mirroringScanner is the streaming scan of §4.4: it reads rows from
// the primary scanner synchronously and, when the scan was sampled,
// advances a secondary scanner from a single dedicated goroutine so
// that lockstep ordering is preserved without needing to serialize on
// a mutex shared with the Secondary Async Adapter's pool.
type mirroringScanner struct {
	mt      *mirroringTable
	scan    table.Scan
	primary table.Scanner
	id      string

	sampled   bool
	secondary table.Scanner
	index     int

	releaseTableReservation func()
	verifyCh                chan verifyTask
	workerWG                sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// GetScanner opens a primary scanner synchronously and, if the scan is
// sampled, a secondary scanner plus the background verifier that
// drives it (§4.4). A sampled scan holds one reference on the table's
// Reference Counter for its entire lifetime, the same pattern the
// Secondary Async Adapter uses, so Close() on the table cannot
// complete while a scanner opened before it is still open.
func (mt *mirroringTable) GetScanner(ctx context.Context, scan table.Scan) (scanner table.Scanner, err error) {
	ctx, span := mt.tracer.Start(ctx, "mirroring.GetScanner")
	defer func() { span.End(err) }()

	primaryScanner, err := mt.primary.GetScanner(ctx, scan)
	if err != nil {
		return nil, err
	}
	s := &mirroringScanner{
		mt:      mt,
		scan:    scan,
		primary: primaryScanner,
		sampled: mt.readSampler.ShouldNextReadOperationBeSampled(),
		id:      uuid.NewString(),
	}
	span.SetAttributes(attribute.String("mirroring.scan_id", s.id))
	if s.sampled {
		if secondaryScanner, err := mt.secondaryTable.GetScanner(ctx, scan); err == nil {
			s.secondary = secondaryScanner
		}
		s.releaseTableReservation = mt.refs.hold()
		s.verifyCh = make(chan verifyTask, 64)
		s.workerWG.Add(1)
		go s.runVerifier(ctx)
	}
	return s, nil
}

// Next returns the next primary row and, on a sampled scan, enqueues a
// verification for it. The verification runs after Next has already
// returned to the caller, matching the read-with-verification pipeline
// of §4.2.
func (s *mirroringScanner) Next(ctx context.Context) (table.Row, bool, error) {
	row, ok, err := s.primary.Next(ctx)
	if err != nil || !ok {
		return row, ok, err
	}
	if s.sampled {
		idx := s.index
		s.index++
		s.verifyCh <- verifyTask{index: idx, row: row}
	}
	return row, true, nil
}

func (s *mirroringScanner) runVerifier(ctx context.Context) {
	defer s.workerWG.Done()
	for task := range s.verifyCh {
		s.verifyRow(ctx, task)
	}
}

func (s *mirroringScanner) verifyRow(ctx context.Context, task verifyTask) {
	desc := table.DescribeOperations([]table.Operation{table.Put{Row: task.row.Key, Cells: task.row.Cells}})
	reservation, ok, err := s.mt.flowController.Acquire(ctx, desc)
	if err != nil || !ok {
		admissionDenials.WithLabelValues("Scan").Inc()
		// Still advance the secondary past this row, so that later
		// rows stay paired with their secondary counterparts.
		if s.secondary != nil {
			_, _, _ = s.secondary.Next(ctx)
		}
		return
	}
	defer reservation.Release()
	secondarySubmissions.WithLabelValues("Scan").Inc()

	var secondaryRow table.Row
	var secErr error
	if s.secondary != nil {
		secondaryRow, _, secErr = s.secondary.Next(ctx)
		secErr = wrapBackendErr("Secondary", secErr)
	} else {
		secErr = status.Error(codes.Unavailable, "secondary scanner unavailable")
	}
	s.mt.mismatchDetector.ScanRow(s.scan, task.index, task.row, secondaryRow, secErr)
}

// Close is idempotent (§4.4): it closes the primary scanner
// synchronously, then — for a sampled scan — stops accepting new
// verification work, waits for every already-queued verification to
// drain, closes the secondary scanner, and releases the table
// reservation. Close must not be called concurrently with Next.
func (s *mirroringScanner) Close() error {
	s.closeOnce.Do(func() {
		primaryErr := s.primary.Close()
		if s.sampled {
			close(s.verifyCh)
			s.workerWG.Wait()
			if s.secondary != nil {
				_ = s.secondary.Close()
			}
			s.releaseTableReservation()
		}
		if primaryErr != nil {
			s.closeErr = mirrorutil.StatusWrap(primaryErr, "Primary")
		}
	})
	return s.closeErr
}

var _ table.Scanner = (*mirroringScanner)(nil)
