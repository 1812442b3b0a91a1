// Package convert produces derived encodings (AVIF, WebP, and re-encoded
// originals) of source images.
//
// Two encode paths exist. The primary path uses libvips via govips, which
// handles every target format and does decode-time shrinking. When libvips
// is not initialized, or rejects a source, the pure-Go fallback decodes
// with the standard registered decoders (rescued by ffmpeg for exotic
// sources) and encodes WebP/JPEG/PNG; AVIF is unavailable on this path and
// the capability probe reports it accordingly.
//
// Failures map onto a small sentinel taxonomy (ErrUnsupportedFormat,
// ErrTimeout, ErrCorruptSource, ErrEncoderFailure, ErrOutOfMemory) checked
// with errors.Is; Reason converts them to stable strings for persistence.
// A Convert call never retries and never mutates its input.
package convert
