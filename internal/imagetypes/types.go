package imagetypes

import (
	"path/filepath"
	"strings"
)

// Format identifies an image encoding.
type Format string

const (
	// FormatAVIF is the preferred modern codec.
	FormatAVIF Format = "avif"
	// FormatWebP is the second-priority modern codec.
	FormatWebP Format = "webp"
	// FormatJPEG is a source encoding.
	FormatJPEG Format = "jpeg"
	// FormatPNG is a source encoding.
	FormatPNG Format = "png"
	// FormatGIF is a source encoding.
	FormatGIF Format = "gif"
	// FormatTIFF is a source encoding.
	FormatTIFF Format = "tiff"
	// FormatBMP is a source encoding.
	FormatBMP Format = "bmp"
	// FormatUnknown is reported when detection fails.
	FormatUnknown Format = "unknown"
)

// TargetFormats lists the derived encodings the converter can produce,
// in serve-time priority order (smallest-size ties resolve in this order).
var TargetFormats = []Format{FormatAVIF, FormatWebP}

// Priority returns the tie-break rank of a format at serve time.
// Lower is better. Unknown formats rank last.
func Priority(f Format) int {
	switch f {
	case FormatAVIF:
		return 0
	case FormatWebP:
		return 1
	default:
		return 2
	}
}

// sourceExtensions maps file extensions to source formats the
// optimizer accepts as conversion input.
var sourceExtensions = map[string]Format{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".gif":  FormatGIF,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".bmp":  FormatBMP,
}

// mimeTypes maps formats to their MIME types.
var mimeTypes = map[Format]string{
	FormatAVIF: "image/avif",
	FormatWebP: "image/webp",
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatGIF:  "image/gif",
	FormatTIFF: "image/tiff",
	FormatBMP:  "image/bmp",
}

// FromExtension returns the source format for a file path, or
// FormatUnknown if the extension is not a supported source.
func FromExtension(path string) Format {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := sourceExtensions[ext]; ok {
		return f
	}
	return FormatUnknown
}

// FromMime maps a MIME type to a Format.
func FromMime(mime string) Format {
	// Strip any parameters (e.g. "image/jpeg; charset=binary").
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	for f, m := range mimeTypes {
		if m == mime {
			return f
		}
	}
	return FormatUnknown
}

// MimeType returns the MIME type for a format, or
// "application/octet-stream" when unknown.
func MimeType(f Format) string {
	if m, ok := mimeTypes[f]; ok {
		return m
	}
	return "application/octet-stream"
}

// Extension returns the canonical file extension (with dot) for a format.
func Extension(f Format) string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatUnknown:
		return ""
	default:
		return "." + string(f)
	}
}

// DerivedMarker tags blobs the optimizer wrote itself. A preserved
// re-encode of "a.jpg" lands at "a.jpg.optimized.jpg".
const DerivedMarker = ".optimized"

// IsDerived reports whether a path names optimizer output rather than
// an original, by the marker preceding its extension.
func IsDerived(path string) bool {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.HasSuffix(strings.ToLower(stem), DerivedMarker)
}

// IsSource reports whether a path has a supported source-image extension.
// The optimizer's own re-encodes carry source extensions but are never
// sources themselves; admitting them would re-catalog derived output as
// fresh pending assets on every scan.
func IsSource(path string) bool {
	return !IsDerived(path) && FromExtension(path) != FormatUnknown
}
