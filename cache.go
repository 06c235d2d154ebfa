package skycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/skycache/codec"
	"github.com/unkn0wn-root/skycache/store"
)

// sharedCache owns the one logical shared document. All writers in the fleet
// race on it; the only synchronization primitive is the store's conditional
// write, so every put re-reads authoritative state before merging.
type sharedCache struct {
	store store.Store
	docID string
	log   Logger
	hooks Hooks

	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	defaultTTL  time.Duration

	snap *docSnapshot // nil when snapshots are off

	now func() time.Time
}

func newSharedCache(opts Options) *sharedCache {
	sc := &sharedCache{
		store:       opts.Store,
		docID:       coalesce(opts.DocumentID, DefaultDocumentID),
		log:         coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:       coalesce[Hooks](opts.Hooks, NopHooks{}),
		maxAttempts: coalesce(opts.MaxWriteAttempts, defaultMaxWriteAttempts),
		backoffBase: coalesce(opts.RetryBackoff, defaultRetryBackoff),
		backoffMax:  coalesce(opts.MaxRetryBackoff, defaultMaxRetryBackoff),
		defaultTTL:  opts.DefaultTTL,
		now:         time.Now,
	}
	if opts.Snapshot != nil {
		sc.snap = newDocSnapshot(opts, sc.docID, sc.log, sc.hooks)
	}
	return sc
}

// get returns the live payload under (category, key). Expired entries are
// treated as absent regardless of physical persistence.
func (sc *sharedCache) get(ctx context.Context, cat Category, key string) (map[string]any, bool, error) {
	doc, found, err := sc.fetch(ctx)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	entry, ok := doc.Entry(string(cat), key)
	if !ok || entry.Expired(sc.now()) {
		return nil, false, nil
	}
	return entry.Payload, true, nil
}

// fetch reads the shared document, preferring the snapshot when one is
// configured and fresh.
func (sc *sharedCache) fetch(ctx context.Context) (*store.SharedDocument, bool, error) {
	if sc.snap != nil {
		if doc, ok := sc.snap.get(ctx, sc.now()); ok {
			return doc, true, nil
		}
	}
	doc, found, err := sc.store.FetchShared(ctx, sc.docID)
	if err != nil {
		sc.hooks.StoreError("fetch shared", err)
		return nil, false, err
	}
	if found && sc.snap != nil {
		sc.snap.put(ctx, doc, sc.now())
	}
	return doc, found, nil
}

// put runs the read-merge-conditional-write loop. Every retry re-reads the
// now-current document so the new entry is layered on top of the latest
// entries map; merging on a stale map would silently clobber concurrent
// writers' unrelated keys.
func (sc *sharedCache) put(ctx context.Context, cat Category, key string, payload map[string]any, ttl time.Duration) error {
	norm, err := c.Normalize(payload)
	if err != nil {
		return fmt.Errorf("skycache: put %s/%q: %w", cat, key, err)
	}

	var lastConflict error
	for attempt := 0; attempt < sc.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, retryDelay(sc.backoffBase, sc.backoffMax, attempt-1)); err != nil {
				return fmt.Errorf("skycache: put %s/%q: %w", cat, key, err)
			}
		}

		// authoritative read; the snapshot is never trusted for writes
		doc, found, err := sc.store.FetchShared(ctx, sc.docID)
		if err != nil {
			sc.hooks.StoreError("fetch shared", err)
			return fmt.Errorf("skycache: put %s/%q: %w", cat, key, err)
		}
		if !found {
			doc = store.NewSharedDocument(sc.docID)
		}

		expected := doc.Version
		doc.SetEntry(string(cat), key, store.NewEntry(norm, ttl, sc.now()))

		err = sc.store.StoreSharedIf(ctx, doc, expected)
		if err == nil {
			sc.refreshSnapshot(ctx, doc, expected+1)
			return nil
		}
		if errors.Is(err, store.ErrVersionConflict) {
			lastConflict = err
			sc.hooks.ConflictRetried(string(cat), key, attempt+1)
			sc.dropSnapshot(ctx, "conflict")
			sc.log.Debug("skycache: version conflict, retrying", Fields{
				"category": string(cat),
				"key":      key,
				"attempt":  attempt + 1,
			})
			continue
		}
		// transport failure: surfaced to the caller, not worth the
		// remaining retry budget
		sc.hooks.StoreError("store shared", err)
		return fmt.Errorf("skycache: put %s/%q: %w", cat, key, err)
	}

	sc.hooks.WriteAbandoned(string(cat), key, sc.maxAttempts, lastConflict)
	sc.dropSnapshot(ctx, "abandoned")
	return &WriteFailedError{
		Category: cat,
		Key:      key,
		Attempts: sc.maxAttempts,
		Err:      lastConflict,
	}
}

func (sc *sharedCache) refreshSnapshot(ctx context.Context, doc *store.SharedDocument, version int64) {
	if sc.snap == nil {
		return
	}
	next := doc.Clone()
	next.Version = version
	sc.snap.put(ctx, next, sc.now())
}

func (sc *sharedCache) dropSnapshot(ctx context.Context, reason string) {
	if sc.snap == nil {
		return
	}
	sc.snap.drop(ctx, reason)
}
