// Package store defines the document model and the backend contract the
// cache managers run on. A backend holds one shared document per deployment
// plus one document per caller identity; the only synchronization primitive
// it must offer is the conditional write on the shared document's version.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrVersionConflict reports that a conditional write lost the race: the
	// stored version no longer equals the caller's expected version. This is
	// an expected outcome consumed by the retry loop, not a fault.
	ErrVersionConflict = errors.New("skycache: version conflict")

	// ErrUnavailable reports a transient backend failure (network, I/O,
	// throttling). Callers may retry the whole operation at a higher layer.
	ErrUnavailable = errors.New("skycache: store unavailable")
)

// Entry is one cached value. Replaced wholesale on write; never merged
// field-by-field. ExpiresAt is epoch seconds across every backend;
// ExpiresAt <= 0 means the entry never expires.
type Entry struct {
	Payload   map[string]any `json:"payload"`
	ExpiresAt int64          `json:"expiresAt"`
}

// NewEntry stamps payload with an expiry of now+ttl. A non-positive ttl
// produces an entry that never expires.
func NewEntry(payload map[string]any, ttl time.Duration, now time.Time) Entry {
	e := Entry{Payload: payload}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl).Unix()
	}
	return e
}

// Expired reports whether the entry is logically absent at now. Readers apply
// this uniformly; physical reclamation is left to overwrites or backend
// sweeps.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt > 0 && now.Unix() > e.ExpiresAt
}

// Clone deep-copies the entry so callers never alias stored state.
func (e Entry) Clone() Entry {
	return Entry{Payload: CloneValues(e.Payload), ExpiresAt: e.ExpiresAt}
}

// SharedDocument is the single logical row holding every shared cache
// category. Version increases by exactly 1 on each accepted write and never
// decreases; a document that was never written reads as Version 0 with empty
// entries.
type SharedDocument struct {
	ID      string                      `json:"documentId"`
	Version int64                       `json:"version"`
	Entries map[string]map[string]Entry `json:"entries"`
}

// NewSharedDocument returns an empty document at version 0.
func NewSharedDocument(id string) *SharedDocument {
	return &SharedDocument{ID: id, Entries: make(map[string]map[string]Entry)}
}

// Entry looks up entries[category][key].
func (d *SharedDocument) Entry(category, key string) (Entry, bool) {
	e, ok := d.Entries[category][key]
	return e, ok
}

// SetEntry stores entries[category][key] = e, allocating nested maps as
// needed.
func (d *SharedDocument) SetEntry(category, key string, e Entry) {
	if d.Entries == nil {
		d.Entries = make(map[string]map[string]Entry)
	}
	m, ok := d.Entries[category]
	if !ok {
		m = make(map[string]Entry)
		d.Entries[category] = m
	}
	m[key] = e
}

// Clone deep-copies the document, payloads included.
func (d *SharedDocument) Clone() *SharedDocument {
	if d == nil {
		return nil
	}
	out := &SharedDocument{ID: d.ID, Version: d.Version}
	if d.Entries != nil {
		out.Entries = make(map[string]map[string]Entry, len(d.Entries))
		for cat, keys := range d.Entries {
			m := make(map[string]Entry, len(keys))
			for k, e := range keys {
				m[k] = e.Clone()
			}
			out.Entries[cat] = m
		}
	}
	return out
}

// MaxExpiresAt returns the latest expiry stamped on any entry, or 0 when no
// entry expires. Backends with native sweeps may reclaim the physical row
// after this point.
func (d *SharedDocument) MaxExpiresAt() int64 {
	var max int64
	for _, keys := range d.Entries {
		for _, e := range keys {
			if e.ExpiresAt > max {
				max = e.ExpiresAt
			}
		}
	}
	return max
}

// IdentityDocument holds one caller's settings. No version field: writers for
// the same identity are serialized by the calling context, so writes replace
// unconditionally.
type IdentityDocument struct {
	Identity string         `json:"identity"`
	Settings map[string]any `json:"settings"`
}

// Clone deep-copies the document.
func (d *IdentityDocument) Clone() *IdentityDocument {
	if d == nil {
		return nil
	}
	return &IdentityDocument{Identity: d.Identity, Settings: CloneValues(d.Settings)}
}

// CloneValues deep-copies a payload map: nested map[string]any and []any are
// copied recursively, everything else is treated as an immutable scalar.
func CloneValues(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneValues(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Store is the backend contract. Implementations must not alias returned
// documents with internal state, must report malformed stored bytes as
// not-found (logged, never fatal), and must wrap transient failures with
// ErrUnavailable.
type Store interface {
	// FetchShared returns the current shared document. found=false means the
	// document was never written; callers treat that as version 0 with empty
	// entries.
	FetchShared(ctx context.Context, id string) (*SharedDocument, bool, error)

	// StoreSharedIf persists doc with version expectedVersion+1, but only if
	// the stored version still equals expectedVersion at write time (a
	// missing document counts as version 0). Returns ErrVersionConflict when
	// the precondition fails.
	StoreSharedIf(ctx context.Context, doc *SharedDocument, expectedVersion int64) error

	// FetchIdentity returns one identity's document, or found=false.
	FetchIdentity(ctx context.Context, identity string) (*IdentityDocument, bool, error)

	// StoreIdentity replaces the identity document unconditionally.
	StoreIdentity(ctx context.Context, doc *IdentityDocument) error

	// Close releases backend resources. Safe to call once after all other
	// calls complete.
	Close(ctx context.Context) error
}
