// Package blob abstracts the blob storage that holds originals and
// derived encodings, with a local filesystem implementation.
package blob
