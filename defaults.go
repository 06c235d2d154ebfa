package skycache

import "time"

const (
	// DefaultDocumentID identifies the shared document when Options does
	// not name one. One logical row per deployment.
	DefaultDocumentID = "shared"

	defaultMaxWriteAttempts = 5
	defaultRetryBackoff     = 50 * time.Millisecond
	defaultMaxRetryBackoff  = 2 * time.Second
	defaultSnapshotTTL      = 15 * time.Second
)

// coalesce returns def when v is the zero value of T, otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
