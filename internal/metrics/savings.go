package metrics

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// SavingsSummary is a human-readable token/byte savings report, in the
// style of the teacher's own savings report formatting.
type SavingsSummary struct {
	OriginalBytes   int64
	StoredBytes     int64
	OperationsCount int64
}

// BytesSaved is OriginalBytes minus StoredBytes, floored at zero.
func (s SavingsSummary) BytesSaved() int64 {
	if s.StoredBytes >= s.OriginalBytes {
		return 0
	}
	return s.OriginalBytes - s.StoredBytes
}

// PercentSaved is the savings expressed as a percentage of OriginalBytes.
func (s SavingsSummary) PercentSaved() float64 {
	if s.OriginalBytes == 0 {
		return 0
	}
	return (float64(s.BytesSaved()) / float64(s.OriginalBytes)) * 100
}

// String renders a one-line human-readable summary, e.g.
// "42 operations, 1.2 MB -> 340 kB (71.7% saved)".
func (s SavingsSummary) String() string {
	return fmt.Sprintf("%d operations, %s -> %s (%.1f%% saved)",
		s.OperationsCount,
		humanize.Bytes(uint64(s.OriginalBytes)),
		humanize.Bytes(uint64(s.StoredBytes)),
		s.PercentSaved(),
	)
}
