package mirroring

import (
	"fmt"
	"reflect"

	"github.com/mirrorkv/mirrorkv/pkg/mirrorutil"
	"github.com/mirrorkv/mirrorkv/pkg/table"
)

// MismatchDetector is the collaborator invoked with the primary and
// secondary results of a sampled read, once per read kind (§6). It is
// also invoked with (primaryResult, secondaryError) when the secondary
// fails after being admitted — a mismatch report carrying the
// secondary's error as the discrepancy (§4.1's error-surfaces list,
// §7 taxonomy #4).
//
// Reporting is always a side effect; none of these methods return an
// error, since a mismatch is by definition never caller-visible.
type MismatchDetector interface {
	Exists(get table.Get, primary, secondary bool, secondaryErr error)
	Get(get table.Get, primary, secondary table.Row, secondaryErr error)
	GetList(gets []table.Get, primary, secondary []table.Row, secondaryErr error)
	ScanRow(scan table.Scan, index int, primary, secondary table.Row, secondaryErr error)
}

// loggingMismatchDetector is the default MismatchDetector: it logs
// divergences and otherwise does nothing, matching §7's "mismatch ...
// delivered to the Mismatch Detector; never caller-visible".
type loggingMismatchDetector struct {
	errorLogger mirrorutil.ErrorLogger
}

// NewLoggingMismatchDetector returns a MismatchDetector that logs
// every mismatch through the given ErrorLogger.
func NewLoggingMismatchDetector(errorLogger mirrorutil.ErrorLogger) MismatchDetector {
	return loggingMismatchDetector{errorLogger: errorLogger}
}

func (d loggingMismatchDetector) Exists(get table.Get, primary, secondary bool, secondaryErr error) {
	if secondaryErr != nil {
		mismatchDetectorMismatches.WithLabelValues("Exists").Inc()
		d.errorLogger.Log(fmt.Errorf("secondary Exists(%q) failed during verification: %w", get.Row, secondaryErr))
		return
	}
	if primary != secondary {
		mismatchDetectorMismatches.WithLabelValues("Exists").Inc()
		d.errorLogger.Log(fmt.Errorf("mismatch on Exists(%q): primary=%v secondary=%v", get.Row, primary, secondary))
	}
}

func (d loggingMismatchDetector) Get(get table.Get, primary, secondary table.Row, secondaryErr error) {
	if secondaryErr != nil {
		mismatchDetectorMismatches.WithLabelValues("Get").Inc()
		d.errorLogger.Log(fmt.Errorf("secondary Get(%q) failed during verification: %w", get.Row, secondaryErr))
		return
	}
	if !rowsEqual(primary, secondary) {
		mismatchDetectorMismatches.WithLabelValues("Get").Inc()
		d.errorLogger.Log(fmt.Errorf("mismatch on Get(%q): primary=%+v secondary=%+v", get.Row, primary, secondary))
	}
}

func (d loggingMismatchDetector) GetList(gets []table.Get, primary, secondary []table.Row, secondaryErr error) {
	if secondaryErr != nil {
		mismatchDetectorMismatches.WithLabelValues("GetList").Add(float64(len(gets)))
		d.errorLogger.Log(fmt.Errorf("secondary GetList(%d rows) failed during verification: %w", len(gets), secondaryErr))
		return
	}
	for i := range gets {
		if i >= len(secondary) || !rowsEqual(primary[i], secondary[i]) {
			mismatchDetectorMismatches.WithLabelValues("GetList").Inc()
			d.errorLogger.Log(fmt.Errorf("mismatch on GetList(%q)[%d]", gets[i].Row, i))
		}
	}
}

func (d loggingMismatchDetector) ScanRow(scan table.Scan, index int, primary, secondary table.Row, secondaryErr error) {
	if secondaryErr != nil {
		mismatchDetectorMismatches.WithLabelValues("Scan").Inc()
		d.errorLogger.Log(fmt.Errorf("secondary scan row %d failed during verification: %w", index, secondaryErr))
		return
	}
	if !rowsEqual(primary, secondary) {
		mismatchDetectorMismatches.WithLabelValues("Scan").Inc()
		d.errorLogger.Log(fmt.Errorf("mismatch on scan row %d (key %q)", index, primary.Key))
	}
}

func rowsEqual(a, b table.Row) bool {
	return reflect.DeepEqual(a, b)
}
