package sloghook

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/skycache"
)

type Options struct {
	// Sampling for conflict retries, which flood under contention;
	// 0/1 = log all.
	ConflictEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	conflictCtr atomic.Uint64
}

var _ skycache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) ConflictRetried(category, key string, attempt int) {
	if h.l == nil || !sample(h.opts.ConflictEvery, &h.conflictCtr) {
		return
	}
	h.l.Debug("skycache.conflict_retried",
		"category", category,
		"key", h.redact(key),
		"attempt", attempt)
}

func (h *Hooks) WriteAbandoned(category, key string, attempts int, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("skycache.write_abandoned",
		"category", category,
		"key", h.redact(key),
		"attempts", attempts,
		"err", err)
}

func (h *Hooks) DocumentCorrupt(documentID string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("skycache.document_corrupt",
		"document_id", documentID,
		"err", err)
}

func (h *Hooks) StoreError(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("skycache.store_error",
		"op", op,
		"err", err)
}

func (h *Hooks) SnapshotDropped(documentID, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("skycache.snapshot_dropped",
		"document_id", documentID,
		"reason", reason)
}
