package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"image-optimizer/internal/blob"
	"image-optimizer/internal/catalog"
	"image-optimizer/internal/convert"
	"image-optimizer/internal/logging"
	"image-optimizer/internal/memory"
	"image-optimizer/internal/metrics"
	"image-optimizer/internal/policy"
	"image-optimizer/internal/probe"
	"image-optimizer/internal/store"
)

// State is the lifecycle of a batch run.
type State string

const (
	// StateIdle means no run has started since process start.
	StateIdle State = "idle"
	// StateRunning means a run is in progress.
	StateRunning State = "running"
	// StateCompleted means the last run drained the pending set.
	StateCompleted State = "completed"
	// StateCancelled means the last run was cancelled; in-flight
	// conversions were allowed to finish before it stopped.
	StateCancelled State = "cancelled"
	// StateFailed means the last run aborted on a store or catalog
	// error before draining the pending set. Progress carries the error.
	StateFailed State = "failed"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is active.
	ErrAlreadyRunning = errors.New("a batch run is already active")

	// ErrNothingToProcess is returned by Start when the pending set
	// is empty.
	ErrNothingToProcess = errors.New("no pending assets to process")
)

// Config tunes a batch run.
type Config struct {
	// BatchSize is how many pending assets are pulled per chunk.
	BatchSize int
	// Workers is the conversion pool size.
	Workers int
	// AVIFQuality and WebPQuality are encoder quality settings (1-100).
	AVIFQuality int
	WebPQuality int
	// ReencodeQuality is used when re-encoding an oversized original
	// in its own format.
	ReencodeQuality int
	// ConversionTimeout bounds each individual format conversion.
	ConversionTimeout time.Duration
	// PreserveOriginals keeps source blobs untouched. When false, a
	// retained downscaled re-encode replaces the source blob in place.
	PreserveOriginals bool
}

// Progress is a point-in-time snapshot of the current or last run.
type Progress struct {
	State           State     `json:"state"`
	TotalCandidates int64     `json:"totalCandidates"`
	Processed       int64     `json:"processed"`
	Optimized       int64     `json:"optimized"`
	Skipped         int64     `json:"skipped"`
	Failed          int64     `json:"failed"`
	Cursor          int       `json:"cursor"`
	StartedAt       time.Time `json:"startedAt,omitzero"`
	CompletedAt     time.Time `json:"completedAt,omitzero"`

	// EstimatedRemainingSeconds extrapolates from the rolling average
	// per-asset duration. Zero until at least one asset completes.
	EstimatedRemainingSeconds float64 `json:"estimatedRemainingSeconds"`

	// Error is set when State is failed.
	Error string `json:"error,omitempty"`
}

// Scheduler orchestrates batch optimization over the pending set. One
// run is active at a time; per-asset work fans out to a worker pool.
type Scheduler struct {
	store   *store.Store
	catalog catalog.Catalog
	blobs   blob.Store
	conv    *convert.Converter
	probe   *probe.Probe
	monitor *memory.Monitor
	policy  policy.Config
	cfg     Config

	mu              sync.Mutex
	state           State
	stop            chan struct{}
	startedAt       time.Time
	completedAt     time.Time
	totalCandidates int64
	cursor          int
	runErr          string

	processed atomic.Int64
	optimized atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64

	durTotalNanos atomic.Int64
	durCount      atomic.Int64

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}
}

// New creates a Scheduler. monitor may be nil when memory backpressure
// is not configured.
func New(st *store.Store, cat catalog.Catalog, blobs blob.Store, conv *convert.Converter, pr *probe.Probe, monitor *memory.Monitor, pol policy.Config, cfg Config) *Scheduler {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 50
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Scheduler{
		store:    st,
		catalog:  cat,
		blobs:    blobs,
		conv:     conv,
		probe:    pr,
		monitor:  monitor,
		policy:   pol,
		cfg:      cfg,
		state:    StateIdle,
		inFlight: make(map[string]struct{}),
	}
}

// Start begins a batch run, resuming from the persisted cursor. It
// returns once the run is launched; progress is observed via Progress.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		return ErrAlreadyRunning
	}

	pending, err := s.store.CountPending(ctx)
	if err != nil {
		return err
	}
	if pending == 0 {
		return ErrNothingToProcess
	}

	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		return err
	}

	s.state = StateRunning
	s.stop = make(chan struct{})
	s.startedAt = time.Now()
	s.completedAt = time.Time{}
	s.totalCandidates = pending
	s.cursor = cursor
	s.runErr = ""
	s.processed.Store(0)
	s.optimized.Store(0)
	s.skipped.Store(0)
	s.failed.Store(0)
	s.durTotalNanos.Store(0)
	s.durCount.Store(0)

	metrics.BatchRunsTotal.Inc()
	metrics.BatchIsRunning.Set(1)
	logging.Info("Batch run starting: %d pending assets, cursor %d, %d workers", pending, cursor, s.cfg.Workers)

	go s.run()
	return nil
}

// Cancel requests that the active run stop. New conversions are no
// longer launched; in-flight ones finish and are recorded. Cancelling
// when no run is active is a no-op.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
		logging.Info("Batch run cancellation requested")
	}
}

// Progress returns a snapshot of the current or last run.
func (s *Scheduler) Progress() Progress {
	s.mu.Lock()
	state := s.state
	total := s.totalCandidates
	cursor := s.cursor
	startedAt := s.startedAt
	completedAt := s.completedAt
	runErr := s.runErr
	s.mu.Unlock()

	processed := s.processed.Load()
	p := Progress{
		State:           state,
		TotalCandidates: total,
		Processed:       processed,
		Optimized:       s.optimized.Load(),
		Skipped:         s.skipped.Load(),
		Failed:          s.failed.Load(),
		Cursor:          cursor,
		StartedAt:       startedAt,
		CompletedAt:     completedAt,
		Error:           runErr,
	}
	if state == StateRunning {
		if remaining := total - processed; remaining > 0 {
			p.EstimatedRemainingSeconds = s.estimatePerAsset().Seconds() * float64(remaining)
		}
	}
	return p
}

// estimatePerAsset returns the rolling average asset duration.
func (s *Scheduler) estimatePerAsset() time.Duration {
	count := s.durCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.durTotalNanos.Load() / count)
}

func (s *Scheduler) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// run drives the chunk loop. It deliberately uses a background context
// so the run outlives the HTTP request that started it.
func (s *Scheduler) run() {
	ctx := context.Background()
	caps := s.probe.Probe()
	logging.Info("Batch run capabilities: avif=%v webp=%v fallback=%v ceiling=%d",
		caps.AVIFSupported, caps.WebPSupported, caps.FallbackTranscoderAvailable, caps.MemoryCeilingBytes)

	s.mu.Lock()
	offset := s.cursor
	s.mu.Unlock()

	for {
		if s.stopped() {
			s.finish(StateCancelled)
			return
		}

		assets, next, err := s.store.ListPending(ctx, s.cfg.BatchSize, offset)
		if err != nil {
			logging.Error("Batch run aborting: %v", err)
			s.mu.Lock()
			s.runErr = err.Error()
			s.mu.Unlock()
			s.finish(StateFailed)
			return
		}
		if len(assets) == 0 && next == -1 {
			s.persistCursor(ctx, 0)
			s.finish(StateCompleted)
			return
		}

		s.processChunk(ctx, assets, caps)

		if s.stopped() {
			// Keep the cursor where it was so the next run resumes
			// at this chunk; completed assets inside it are filtered
			// out by the pending query.
			s.finish(StateCancelled)
			return
		}
		if next == -1 {
			s.persistCursor(ctx, 0)
			s.finish(StateCompleted)
			return
		}
		offset = next
		s.persistCursor(ctx, next)
	}
}

// processChunk fans a chunk out to the worker pool and waits for it to
// drain. Cancellation stops dispatch but lets picked-up assets finish.
func (s *Scheduler) processChunk(ctx context.Context, assets []catalog.Asset, caps probe.Capabilities) {
	jobs := make(chan catalog.Asset)
	var wg sync.WaitGroup

	n := s.cfg.Workers
	if n > len(assets) {
		n = len(assets)
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for asset := range jobs {
				if s.monitor != nil {
					s.monitor.WaitIfPaused()
				}
				start := time.Now()
				status := s.processAsset(ctx, &asset, caps)
				s.recordOutcome(status, time.Since(start))
			}
		}()
	}

dispatch:
	for _, a := range assets {
		select {
		case <-s.stop:
			break dispatch
		case jobs <- a:
		}
	}
	close(jobs)
	wg.Wait()
}

func (s *Scheduler) recordOutcome(status store.Status, elapsed time.Duration) {
	s.processed.Add(1)
	s.durTotalNanos.Add(int64(elapsed))
	s.durCount.Add(1)

	switch status {
	case store.StatusOptimized:
		s.optimized.Add(1)
		metrics.BatchAssetsProcessed.WithLabelValues("optimized").Inc()
	case store.StatusSkipped:
		s.skipped.Add(1)
		metrics.BatchAssetsProcessed.WithLabelValues("skipped").Inc()
	default:
		s.failed.Add(1)
		metrics.BatchAssetsProcessed.WithLabelValues("failed").Inc()
	}
}

func (s *Scheduler) persistCursor(ctx context.Context, cursor int) {
	s.mu.Lock()
	s.cursor = cursor
	s.mu.Unlock()
	if err := s.store.SetCursor(ctx, cursor); err != nil {
		logging.Warn("Failed to persist batch cursor %d: %v", cursor, err)
	}
}

func (s *Scheduler) finish(state State) {
	s.mu.Lock()
	s.state = state
	s.completedAt = time.Now()
	elapsed := s.completedAt.Sub(s.startedAt)
	s.mu.Unlock()

	metrics.BatchIsRunning.Set(0)
	metrics.BatchLastRunDuration.Set(elapsed.Seconds())
	metrics.BatchLastRunTimestamp.Set(float64(time.Now().Unix()))

	logging.Info("Batch run %s: processed=%d optimized=%d skipped=%d failed=%d in %v",
		state, s.processed.Load(), s.optimized.Load(), s.skipped.Load(), s.failed.Load(), elapsed.Round(time.Millisecond))
}

// Drain blocks until no run is active, for graceful shutdown. It
// cancels the active run first.
func (s *Scheduler) Drain(timeout time.Duration) {
	s.Cancel()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		running := s.state == StateRunning
		s.mu.Unlock()
		if !running {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	logging.Warn("Batch run did not drain within %v", timeout)
}
