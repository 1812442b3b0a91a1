package store

import (
	"time"

	"image-optimizer/internal/imagetypes"
	"image-optimizer/internal/policy"
)

// Status is the lifecycle state of a conversion record.
type Status string

const (
	// StatusPending means the asset has a record but no completed
	// evaluation yet.
	StatusPending Status = "pending"
	// StatusOptimized means at least one derived encoding was retained.
	StatusOptimized Status = "optimized"
	// StatusSkipped means the asset was evaluated and no candidate met
	// the retention policy. Skipped is terminal; re-processing requires
	// deleting the record.
	StatusSkipped Status = "skipped"
	// StatusFailed means conversion errored. Failed assets are retried
	// on later runs until the attempt cap is reached.
	StatusFailed Status = "failed"
)

// Candidate is one retained derived encoding.
type Candidate struct {
	URL       string `json:"url"`
	SizeBytes int64  `json:"sizeBytes"`
}

// Record is the persisted conversion state for one asset.
type Record struct {
	AssetID           string                             `json:"assetId"`
	OriginalFormat    imagetypes.Format                  `json:"originalFormat"`
	OriginalSizeBytes int64                              `json:"originalSizeBytes"`
	OriginalURL       string                             `json:"originalUrl"`
	Candidates        map[imagetypes.Format]Candidate    `json:"candidates,omitempty"`
	Status            Status                             `json:"status"`
	SkipReason        string                             `json:"skipReason,omitempty"`
	FailureReason     string                             `json:"failureReason,omitempty"`
	Attempts          int                                `json:"attempts"`
	CreatedAt         time.Time                          `json:"createdAt"`
	UpdatedAt         time.Time                          `json:"updatedAt"`
}

// BestCandidate returns the smallest retained candidate, breaking size
// ties by serve-time format priority.
func (r *Record) BestCandidate() (imagetypes.Format, Candidate, bool) {
	if len(r.Candidates) == 0 {
		return imagetypes.FormatUnknown, Candidate{}, false
	}
	sizes := make(map[imagetypes.Format]int64, len(r.Candidates))
	for f, c := range r.Candidates {
		sizes[f] = c.SizeBytes
	}
	best, _, ok := policy.Best(sizes)
	if !ok {
		return imagetypes.FormatUnknown, Candidate{}, false
	}
	return best, r.Candidates[best], true
}

// BytesSaved returns the savings of the best candidate against the
// original, or 0 when nothing was retained.
func (r *Record) BytesSaved() int64 {
	_, best, ok := r.BestCandidate()
	if !ok {
		return 0
	}
	if saved := r.OriginalSizeBytes - best.SizeBytes; saved > 0 {
		return saved
	}
	return 0
}

// AggregateStats summarizes the whole conversion table.
type AggregateStats struct {
	TotalOptimized  int64            `json:"totalOptimized"`
	TotalSkipped    int64            `json:"totalSkipped"`
	TotalFailed     int64            `json:"totalFailed"`
	PendingAssets   int64            `json:"pendingAssets"`
	BytesSaved      int64            `json:"bytesSaved"`
	AvgSavingsPct   float64          `json:"avgSavingsPct"`
	PerFormatCounts map[string]int64 `json:"perFormatCounts"`
}
