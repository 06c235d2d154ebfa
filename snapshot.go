package skycache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/skycache/codec"
	"github.com/unkn0wn-root/skycache/internal/wire"
	pr "github.com/unkn0wn-root/skycache/provider"
	"github.com/unkn0wn-root/skycache/store"
)

// docSnapshot keeps the last known shared document in an in-process byte
// cache. Strictly a read-side shortcut: writes always fetch authoritative
// state from the store. Every hit decodes fresh bytes, so callers never
// share a document value.
//
// The envelope carries its own write time because not every provider honors
// per-entry TTLs (bigcache); staleness is enforced here, on read.
type docSnapshot struct {
	prov  pr.Provider
	codec c.Codec[store.SharedDocument]
	ttl   time.Duration
	docID string
	key   string
	log   Logger
	hooks Hooks
}

func newDocSnapshot(opts Options, docID string, log Logger, hooks Hooks) *docSnapshot {
	cod := opts.SnapshotCodec
	if cod == nil {
		cod = c.JSONCodec[store.SharedDocument]{}
	}
	return &docSnapshot{
		prov:  opts.Snapshot,
		codec: cod,
		ttl:   coalesce(opts.SnapshotTTL, defaultSnapshotTTL),
		docID: docID,
		key:   "snapshot:" + docID,
		log:   log,
		hooks: hooks,
	}
}

func (s *docSnapshot) get(ctx context.Context, now time.Time) (*store.SharedDocument, bool) {
	raw, ok, err := s.prov.Get(ctx, s.key)
	if err != nil {
		s.log.Debug("skycache: snapshot read failed", Fields{"err": err.Error()})
		return nil, false
	}
	if !ok {
		return nil, false
	}

	storedAt, body, err := wire.Decode(raw)
	if err != nil {
		s.hooks.DocumentCorrupt(s.docID, err)
		s.drop(ctx, "corrupt")
		return nil, false
	}
	if now.Sub(time.Unix(0, storedAt)) > s.ttl {
		s.drop(ctx, "stale")
		return nil, false
	}

	doc, err := s.codec.Decode(body)
	if err != nil {
		s.hooks.DocumentCorrupt(s.docID, err)
		s.drop(ctx, "corrupt")
		return nil, false
	}
	doc.ID = s.docID
	return &doc, true
}

// put refreshes the snapshot. Best effort: a rejected or failed Set only
// costs the next reader a store fetch.
func (s *docSnapshot) put(ctx context.Context, doc *store.SharedDocument, now time.Time) {
	body, err := s.codec.Encode(*doc)
	if err != nil {
		s.log.Debug("skycache: snapshot encode failed", Fields{"err": err.Error()})
		return
	}
	env := wire.Encode(now.UnixNano(), body)
	ok, err := s.prov.Set(ctx, s.key, env, int64(len(env)), s.ttl)
	if err != nil {
		s.log.Debug("skycache: snapshot write failed", Fields{"err": err.Error()})
		return
	}
	if !ok {
		s.log.Debug("skycache: snapshot write rejected", nil)
	}
}

func (s *docSnapshot) drop(ctx context.Context, reason string) {
	_ = s.prov.Del(ctx, s.key)
	s.hooks.SnapshotDropped(s.docID, reason)
}
