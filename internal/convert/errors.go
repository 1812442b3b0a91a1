package convert

import (
	"errors"
	"strings"
)

// Conversion failures are classified into a small taxonomy so the batch
// scheduler can record a stable reason string without parsing encoder
// output. All of them are non-retryable within a single Convert call;
// retry policy lives with the caller.
var (
	// ErrUnsupportedFormat means the target format is not available in this
	// runtime. Callers are expected to pre-filter via the capability probe,
	// but Convert re-checks and fails safely.
	ErrUnsupportedFormat = errors.New("target format not supported")

	// ErrTimeout means the call exceeded its context deadline.
	ErrTimeout = errors.New("conversion timed out")

	// ErrCorruptSource means the source bytes could not be decoded.
	ErrCorruptSource = errors.New("source image is corrupt")

	// ErrEncoderFailure is a generic transcoder error; the wrapped message
	// carries the diagnostic detail.
	ErrEncoderFailure = errors.New("encoder failure")

	// ErrOutOfMemory means decoding the source would exceed (or did exceed)
	// the configured memory ceiling.
	ErrOutOfMemory = errors.New("conversion exceeded memory budget")
)

// Reason returns a short stable string for persisting in a conversion
// record's failure_reason field.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCorruptSource):
		return "corrupt_source"
	case errors.Is(err, ErrOutOfMemory):
		return "out_of_memory"
	case errors.Is(err, ErrEncoderFailure):
		return "encoder_failure"
	default:
		return "error"
	}
}

// StatusLabel maps an error to the metric status label used by
// ConversionsTotal.
func StatusLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported"
	default:
		return "error"
	}
}

// classifyEncodeError maps a raw decoder/encoder error onto the taxonomy.
// libvips reports allocation failures as plain error strings, so matching
// on the message is the only signal available.
func classifyEncodeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "out of memory"),
		strings.Contains(msg, "cannot allocate"),
		strings.Contains(msg, "memory allocation"):
		return ErrOutOfMemory
	case strings.Contains(msg, "unexpected eof"),
		strings.Contains(msg, "invalid format"),
		strings.Contains(msg, "unknown image format"),
		strings.Contains(msg, "bad header"),
		strings.Contains(msg, "premature end"),
		strings.Contains(msg, "corrupt"),
		strings.Contains(msg, "truncated"):
		return ErrCorruptSource
	default:
		return ErrEncoderFailure
	}
}
