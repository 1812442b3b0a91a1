// Package imagetypes provides shared format definitions and detection
// helpers for the image optimizer.
//
// It is a dependency-free foundation importable by every other package
// without creating import cycles: format constants, the serve-time
// priority order, extension and MIME tables, and magic-byte sniffing.
//
// # Formats
//
// The two derived encodings the converter produces are AVIF and WebP, in
// that priority order; the remaining constants name accepted source
// encodings:
//
//	imagetypes.FormatAVIF // derived, priority 1
//	imagetypes.FormatWebP // derived, priority 2
//	imagetypes.FormatJPEG // source
//	imagetypes.FormatPNG  // source
//
// # Detection
//
// Use FromExtension for cheap path-based classification and Sniff when
// the first bytes of the file are available:
//
//	if imagetypes.IsSource(path) {
//	    format := imagetypes.Sniff(head)
//	}
package imagetypes
