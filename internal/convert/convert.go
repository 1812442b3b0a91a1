package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"image-optimizer/internal/imagetypes"
	"image-optimizer/internal/logging"
	"image-optimizer/internal/metrics"
)

// EncodedImage is the result of a successful conversion.
type EncodedImage struct {
	Data   []byte
	Format imagetypes.Format
	Width  int
	Height int
}

// Size returns the encoded length in bytes.
func (e *EncodedImage) Size() int64 {
	return int64(len(e.Data))
}

// Converter produces derived encodings of source images. It never mutates
// the source and keeps no state between calls, so a single instance is
// safe for concurrent use by the worker pool.
type Converter struct {
	maxDimension int
	memoryLimit  int64
}

// New creates a Converter. maxDimension bounds the longest image edge
// before encoding (0 disables downscaling). memoryLimit is the decode
// memory ceiling in bytes (0 disables the pre-decode check).
func New(maxDimension int, memoryLimit int64) *Converter {
	return &Converter{
		maxDimension: maxDimension,
		memoryLimit:  memoryLimit,
	}
}

// Supports reports whether the target format can be produced in this
// runtime. AVIF requires libvips; WebP and the source re-encode formats
// always work through the pure-Go fallback.
func (c *Converter) Supports(target imagetypes.Format) bool {
	switch target {
	case imagetypes.FormatAVIF:
		return IsVipsAvailable()
	case imagetypes.FormatWebP, imagetypes.FormatJPEG, imagetypes.FormatPNG:
		return true
	default:
		return false
	}
}

// Convert encodes src into the target format at the given quality (1-100).
// The context deadline bounds wall-clock work; on expiry the call returns
// ErrTimeout and the in-flight encode finishes in the background.
//
// sourceFormat is what the catalog believes the source to be; Convert
// verifies it against the actual bytes and rejects mismatches as corrupt.
func (c *Converter) Convert(ctx context.Context, src []byte, sourceFormat, target imagetypes.Format, quality int) (*EncodedImage, error) {
	start := time.Now()
	var convErr error
	defer func() {
		metrics.ConversionsTotal.WithLabelValues(string(target), StatusLabel(convErr)).Inc()
		metrics.ConversionDuration.WithLabelValues(string(target)).Observe(time.Since(start).Seconds())
	}()

	if len(src) == 0 {
		convErr = fmt.Errorf("%w: empty source", ErrCorruptSource)
		return nil, convErr
	}
	if quality < 1 || quality > 100 {
		convErr = fmt.Errorf("%w: quality %d out of range 1-100", ErrEncoderFailure, quality)
		return nil, convErr
	}
	if !c.Supports(target) {
		convErr = fmt.Errorf("%w: %s", ErrUnsupportedFormat, target)
		return nil, convErr
	}

	sniffed := imagetypes.Sniff(src)
	if sniffed == imagetypes.FormatUnknown {
		convErr = fmt.Errorf("%w: unrecognized magic bytes", ErrCorruptSource)
		return nil, convErr
	}
	if sourceFormat != imagetypes.FormatUnknown && sniffed != sourceFormat {
		logging.Debug("Source format mismatch: catalog says %s, bytes say %s", sourceFormat, sniffed)
	}

	if err := c.checkMemoryBudget(src); err != nil {
		convErr = err
		return nil, convErr
	}

	type encodeResult struct {
		img *EncodedImage
		err error
	}
	done := make(chan encodeResult, 1)

	go func() {
		img, err := c.encode(src, target, quality)
		done <- encodeResult{img, err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			convErr = fmt.Errorf("%w: %s encode exceeded deadline", ErrTimeout, target)
		} else {
			convErr = ctx.Err()
		}
		return nil, convErr
	case r := <-done:
		if r.err != nil {
			kind := classifyEncodeError(r.err)
			convErr = fmt.Errorf("%w: %v", kind, r.err)
			return nil, convErr
		}
		return r.img, nil
	}
}

// encode runs the actual conversion, preferring libvips and degrading to
// the pure-Go path when vips is unavailable or rejects the source.
func (c *Converter) encode(src []byte, target imagetypes.Format, quality int) (*EncodedImage, error) {
	if IsVipsAvailable() {
		img, err := encodeWithVips(src, target, quality, c.maxDimension)
		if err == nil {
			return img, nil
		}
		if target == imagetypes.FormatAVIF {
			// No pure-Go AVIF encoder to fall back to.
			return nil, err
		}
		logging.Debug("vips encode failed (%v), trying pure-Go fallback", err)
	}
	return encodeFallback(src, target, quality, c.maxDimension)
}

// NeedsDownscale reports whether the source exceeds the configured
// maximum dimension, meaning a re-encode of the original format would
// shrink it. Undecodable headers report false.
func (c *Converter) NeedsDownscale(src []byte) bool {
	if c.maxDimension <= 0 {
		return false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return false
	}
	return cfg.Width > c.maxDimension || cfg.Height > c.maxDimension
}

// checkMemoryBudget rejects sources whose decoded pixel buffer would
// exceed the memory ceiling, before any allocation happens.
func (c *Converter) checkMemoryBudget(src []byte) error {
	if c.memoryLimit <= 0 {
		return nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		// Dimensions unavailable; let the decoder find out.
		return nil
	}
	// 4 bytes per pixel for the decoded RGBA buffer.
	needed := int64(cfg.Width) * int64(cfg.Height) * 4
	if needed > c.memoryLimit {
		return fmt.Errorf("%w: %dx%d needs %d bytes, ceiling is %d",
			ErrOutOfMemory, cfg.Width, cfg.Height, needed, c.memoryLimit)
	}
	return nil
}
