package policy

import (
	"image-optimizer/internal/imagetypes"
)

// Reason strings persisted in a record's skip_reason field.
const (
	ReasonBelowSizeFloor      = "source below minimum size floor"
	ReasonInsufficientSavings = "no candidate met the savings threshold"
)

// Config holds the thresholds that govern retention decisions.
type Config struct {
	// MinSavingsPct is the minimum percentage a candidate must shave off
	// the original to be worth keeping.
	MinSavingsPct float64

	// MinSourceSizeBytes is the size floor: smaller sources are skipped
	// outright, before any conversion is attempted.
	MinSourceSizeBytes int64
}

// Decision is the outcome of evaluating a set of candidate encodings.
type Decision struct {
	// Retain lists the formats worth keeping, in no particular order.
	Retain []imagetypes.Format

	// Reason explains why nothing was retained. Empty when Retain is
	// non-empty.
	Reason string
}

// ShouldAttempt reports whether conversion should run at all for a source
// of the given size. Sources under the floor are skipped as policy, with
// no converter calls made.
func ShouldAttempt(originalSize int64, cfg Config) bool {
	return originalSize >= cfg.MinSourceSizeBytes
}

// SavingsPct computes the percentage saved by a candidate relative to the
// original. Returns 0 for a non-positive original size.
func SavingsPct(originalSize, candidateSize int64) float64 {
	if originalSize <= 0 {
		return 0
	}
	return float64(originalSize-candidateSize) / float64(originalSize) * 100
}

// Evaluate decides which candidate encodings are worth retaining.
//
// A source under the size floor rejects everything regardless of achieved
// savings. Otherwise each candidate is retained iff it is strictly smaller
// than the original and its savings meet MinSavingsPct; a candidate equal
// in size to the original is never kept, even at a zero threshold. An
// empty result is a successful evaluation with a negative outcome, not an
// error; callers record it as skipped.
func Evaluate(originalSize int64, candidates map[imagetypes.Format]int64, cfg Config) Decision {
	if !ShouldAttempt(originalSize, cfg) {
		return Decision{Reason: ReasonBelowSizeFloor}
	}

	var retain []imagetypes.Format
	for format, size := range candidates {
		if size < originalSize && SavingsPct(originalSize, size) >= cfg.MinSavingsPct {
			retain = append(retain, format)
		}
	}

	if len(retain) == 0 {
		return Decision{Reason: ReasonInsufficientSavings}
	}
	return Decision{Retain: retain}
}

// Best picks the serve-time winner from a candidate set: smallest size,
// with ties broken by format priority (avif > webp > re-encoded original).
// ok is false for an empty set.
func Best(candidates map[imagetypes.Format]int64) (format imagetypes.Format, size int64, ok bool) {
	for f, s := range candidates {
		switch {
		case !ok,
			s < size,
			s == size && imagetypes.Priority(f) < imagetypes.Priority(format):
			format, size, ok = f, s, true
		}
	}
	return format, size, ok
}
