package probe

import (
	"runtime/debug"

	"image-optimizer/internal/convert"
	"image-optimizer/internal/imagetypes"
	"image-optimizer/internal/memory"
)

// Capabilities reports what the current process can produce. It is a
// point-in-time snapshot; callers re-probe at the start of each batch
// run rather than caching it across runs.
type Capabilities struct {
	// AVIFSupported is true when the vips encoder initialized.
	AVIFSupported bool `json:"avifSupported"`

	// WebPSupported is true whenever a WebP encoder is available.
	// The pure-Go encoder is always compiled in, so this only goes
	// false if a future build tags it out.
	WebPSupported bool `json:"webpSupported"`

	// FallbackTranscoderAvailable is true when ffmpeg can rescue
	// sources the native decoders reject.
	FallbackTranscoderAvailable bool `json:"fallbackTranscoderAvailable"`

	// MemoryCeilingBytes is the per-conversion memory budget, or 0
	// when no limit is configured.
	MemoryCeilingBytes int64 `json:"memoryCeilingBytes"`
}

// TargetFormats returns the derived formats this process can encode,
// in serve-time priority order.
func (c Capabilities) TargetFormats() []imagetypes.Format {
	var out []imagetypes.Format
	for _, f := range imagetypes.TargetFormats {
		if c.Supports(f) {
			out = append(out, f)
		}
	}
	return out
}

// Supports reports whether the given target format can be encoded.
func (c Capabilities) Supports(f imagetypes.Format) bool {
	switch f {
	case imagetypes.FormatAVIF:
		return c.AVIFSupported
	case imagetypes.FormatWebP:
		return c.WebPSupported
	case imagetypes.FormatJPEG, imagetypes.FormatPNG:
		return true
	default:
		return false
	}
}

// Probe inspects the process environment for conversion capabilities.
// Probing is a pure query: it never mutates state and never fails.
type Probe struct {
	monitor *memory.Monitor
}

// New creates a Probe. The monitor may be nil when no memory
// monitoring is configured.
func New(monitor *memory.Monitor) *Probe {
	return &Probe{monitor: monitor}
}

// Probe returns the current capability snapshot.
func (p *Probe) Probe() Capabilities {
	return Capabilities{
		AVIFSupported:               convert.IsVipsAvailable(),
		WebPSupported:               true,
		FallbackTranscoderAvailable: convert.FFmpegAvailable(),
		MemoryCeilingBytes:          p.memoryCeiling(),
	}
}

func (p *Probe) memoryCeiling() int64 {
	if p.monitor != nil {
		return p.monitor.Limit()
	}
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < int64(^uint64(0)>>2) {
		return limit
	}
	return 0
}
