package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"image-optimizer/internal/catalog"
	"image-optimizer/internal/convert"
	"image-optimizer/internal/imagetypes"
	"image-optimizer/internal/logging"
	"image-optimizer/internal/metrics"
	"image-optimizer/internal/policy"
	"image-optimizer/internal/probe"
	"image-optimizer/internal/store"
)

// ErrAssetBusy is returned by ProcessOne when the asset is already
// being converted by the batch pool.
var ErrAssetBusy = errors.New("asset is already being processed")

// ProcessOne runs the full conversion pipeline for a single asset
// synchronously and returns its resulting record. It does not touch
// batch run state, so it is usable while a run is active as long as
// the asset itself is not in flight.
func (s *Scheduler) ProcessOne(ctx context.Context, assetID string) (*store.Record, error) {
	asset, err := s.catalog.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}

	caps := s.probe.Probe()
	if status := s.processAsset(ctx, asset, caps); status == "" {
		return nil, ErrAssetBusy
	}
	return s.store.Get(ctx, assetID)
}

// tryAcquire marks an asset in flight. Returns false when another
// worker already holds it.
func (s *Scheduler) tryAcquire(assetID string) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	if _, busy := s.inFlight[assetID]; busy {
		return false
	}
	s.inFlight[assetID] = struct{}{}
	return true
}

func (s *Scheduler) release(assetID string) {
	s.inFlightMu.Lock()
	delete(s.inFlight, assetID)
	s.inFlightMu.Unlock()
}

// processAsset runs the full pipeline for one asset and persists the
// outcome. It returns the recorded status, or "" when the asset was
// already in flight and nothing was done.
func (s *Scheduler) processAsset(ctx context.Context, asset *catalog.Asset, caps probe.Capabilities) store.Status {
	if !s.tryAcquire(asset.ID) {
		logging.Debug("Asset %s already in flight, skipping", asset.ID)
		return ""
	}
	defer s.release(asset.ID)

	attempts := 0
	if prev, err := s.store.Get(ctx, asset.ID); err == nil && prev.Status == store.StatusFailed {
		attempts = prev.Attempts
	}

	src, err := s.blobs.Read(ctx, asset.SourcePath)
	if err != nil {
		return s.recordFailure(ctx, asset, imagetypes.FormatUnknown, 0, attempts+1,
			fmt.Sprintf("source unreadable: %v", err))
	}

	srcFormat := asset.Format()
	if srcFormat == imagetypes.FormatUnknown {
		srcFormat = imagetypes.Sniff(src)
	}

	rec := &store.Record{
		AssetID:           asset.ID,
		OriginalFormat:    srcFormat,
		OriginalSizeBytes: int64(len(src)),
		OriginalURL:       s.blobs.URL(asset.SourcePath),
		Attempts:          attempts,
	}

	if !policy.ShouldAttempt(rec.OriginalSizeBytes, s.policy) {
		rec.Status = store.StatusSkipped
		rec.SkipReason = policy.ReasonBelowSizeFloor
		s.upsert(ctx, rec)
		return rec.Status
	}

	outcome := s.convertAll(ctx, asset, src, srcFormat, caps)
	if outcome.err != nil {
		s.cleanupBlobs(ctx, outcome.pathList()...)
		return s.recordFailure(ctx, asset, srcFormat, rec.OriginalSizeBytes, attempts+1, outcome.err.Error())
	}

	decision := policy.Evaluate(rec.OriginalSizeBytes, outcome.sizes, s.policy)
	if len(decision.Retain) == 0 {
		s.cleanupBlobs(ctx, outcome.pathList()...)
		rec.Status = store.StatusSkipped
		rec.SkipReason = decision.Reason
		s.upsert(ctx, rec)
		return rec.Status
	}

	retained := make(map[imagetypes.Format]bool, len(decision.Retain))
	for _, f := range decision.Retain {
		retained[f] = true
	}

	rec.Status = store.StatusOptimized
	rec.Candidates = make(map[imagetypes.Format]store.Candidate)
	for format, size := range outcome.sizes {
		if !retained[format] {
			s.cleanupBlobs(ctx, outcome.paths[format])
			continue
		}
		rec.Candidates[format] = store.Candidate{URL: outcome.urls[format], SizeBytes: size}
		metrics.ConversionSavingsPct.WithLabelValues(string(format)).
			Observe(policy.SavingsPct(rec.OriginalSizeBytes, size))
	}

	if outcome.reencode != nil {
		s.applyReencode(ctx, asset, rec, outcome.reencode)
	}

	s.upsert(ctx, rec)
	return rec.Status
}

// convertOutcome accumulates per-format conversion results.
type convertOutcome struct {
	sizes map[imagetypes.Format]int64
	urls  map[imagetypes.Format]string
	paths map[imagetypes.Format]string

	// reencode is a downscaled re-encode of the original format that
	// should replace the source blob instead of becoming a candidate.
	// Only set when originals are not preserved.
	reencode *convert.EncodedImage

	err error
}

func (o *convertOutcome) pathList() []string {
	out := make([]string, 0, len(o.paths))
	for _, p := range o.paths {
		out = append(out, p)
	}
	return out
}

// convertAll produces every supported candidate encoding. Any single
// conversion or storage error fails the whole asset; partial results
// are reported back for cleanup.
func (s *Scheduler) convertAll(ctx context.Context, asset *catalog.Asset, src []byte, srcFormat imagetypes.Format, caps probe.Capabilities) convertOutcome {
	out := convertOutcome{
		sizes: make(map[imagetypes.Format]int64),
		urls:  make(map[imagetypes.Format]string),
		paths: make(map[imagetypes.Format]string),
	}

	type target struct {
		format  imagetypes.Format
		quality int
	}
	var targets []target
	for _, f := range caps.TargetFormats() {
		q := s.cfg.WebPQuality
		if f == imagetypes.FormatAVIF {
			q = s.cfg.AVIFQuality
		}
		targets = append(targets, target{f, q})
	}

	// Oversized jpeg/png sources additionally get a downscaled
	// re-encode in their own format as a last-resort candidate.
	reencodeIdx := -1
	if (srcFormat == imagetypes.FormatJPEG || srcFormat == imagetypes.FormatPNG) && s.conv.NeedsDownscale(src) {
		reencodeIdx = len(targets)
		targets = append(targets, target{srcFormat, s.cfg.ReencodeQuality})
	}

	for i, tgt := range targets {
		timeout := s.cfg.ConversionTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		encoded, err := s.conv.Convert(cctx, src, srcFormat, tgt.format, tgt.quality)
		cancel()
		if err != nil {
			out.err = fmt.Errorf("%s: %s", tgt.format, convert.Reason(err))
			return out
		}

		if i == reencodeIdx && !s.cfg.PreserveOriginals {
			out.reencode = encoded
			continue
		}

		path := derivedPath(asset, tgt.format, i == reencodeIdx)
		url, err := s.blobs.Write(ctx, path, encoded.Data)
		if err != nil {
			out.err = fmt.Errorf("%s: storing candidate: %v", tgt.format, err)
			return out
		}
		out.sizes[tgt.format] = encoded.Size()
		out.urls[tgt.format] = url
		out.paths[tgt.format] = path
	}
	return out
}

// applyReencode replaces the source blob with its downscaled re-encode
// when that actually shrinks it. The recorded original size keeps the
// pre-replacement value so savings stay measured against what was there.
func (s *Scheduler) applyReencode(ctx context.Context, asset *catalog.Asset, rec *store.Record, encoded *convert.EncodedImage) {
	if encoded.Size() >= rec.OriginalSizeBytes {
		return
	}
	if _, err := s.blobs.Write(ctx, asset.SourcePath, encoded.Data); err != nil {
		logging.Warn("Failed to replace oversized original %s: %v", asset.ID, err)
		return
	}
	logging.Info("Replaced oversized original %s: %d -> %d bytes", asset.ID, rec.OriginalSizeBytes, encoded.Size())
}

func (s *Scheduler) recordFailure(ctx context.Context, asset *catalog.Asset, srcFormat imagetypes.Format, size int64, attempts int, reason string) store.Status {
	rec := &store.Record{
		AssetID:           asset.ID,
		OriginalFormat:    srcFormat,
		OriginalSizeBytes: size,
		OriginalURL:       s.blobs.URL(asset.SourcePath),
		Status:            store.StatusFailed,
		FailureReason:     reason,
		Attempts:          attempts,
	}
	s.upsert(ctx, rec)
	logging.Warn("Asset %s failed (attempt %d): %s", asset.ID, attempts, reason)
	return rec.Status
}

func (s *Scheduler) upsert(ctx context.Context, rec *store.Record) {
	if err := s.store.Upsert(ctx, rec); err != nil {
		logging.Error("Failed to persist record for %s: %v", rec.AssetID, err)
	}
}

func (s *Scheduler) cleanupBlobs(ctx context.Context, paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, p); err != nil {
			logging.Warn("Failed to delete rejected candidate %s: %v", p, err)
		}
	}
}

// derivedPath names a candidate blob next to its source. A webp
// candidate for "photos/a.jpg" lands at "photos/a.jpg.webp"; a
// preserved downscale re-encode at "photos/a.jpg.optimized.jpg".
func derivedPath(asset *catalog.Asset, format imagetypes.Format, reencode bool) string {
	if reencode {
		return asset.SourcePath + imagetypes.DerivedMarker + imagetypes.Extension(format)
	}
	return asset.SourcePath + imagetypes.Extension(format)
}
