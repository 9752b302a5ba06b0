package mirroring

import (
	"fmt"

	"github.com/mirrorkv/mirrorkv/pkg/mirrorutil"
	"github.com/mirrorkv/mirrorkv/pkg/table"
)

// WriteErrorSink receives secondary-write failures, together with the
// original (un-rewritten) operations that failed (§6, §7 taxonomy #2
// and #3). Consume must not block the caller's dispatch path for long;
// implementations that need to do expensive work should hand off
// internally.
type WriteErrorSink interface {
	Consume(kind table.OperationKind, ops []table.Operation, err error)
}

// loggingWriteErrorSink is the default WriteErrorSink, grounded on
// bb-storage's util.ErrorLogger: log and move on. It never surfaces
// anything to the caller, matching §7's "secondary errors are never
// surfaced to the caller".
type loggingWriteErrorSink struct {
	errorLogger mirrorutil.ErrorLogger
}

// NewLoggingWriteErrorSink returns a WriteErrorSink that logs every
// failed secondary write through the given ErrorLogger.
func NewLoggingWriteErrorSink(errorLogger mirrorutil.ErrorLogger) WriteErrorSink {
	return loggingWriteErrorSink{errorLogger: errorLogger}
}

func (s loggingWriteErrorSink) Consume(kind table.OperationKind, ops []table.Operation, err error) {
	writeErrorSinkOperationsLost.WithLabelValues(kind.String()).Add(float64(len(ops)))
	s.errorLogger.Log(fmt.Errorf("secondary write failed (%s, %d operation(s)): %w", kind, len(ops), err))
}
