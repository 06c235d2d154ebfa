// Package badger implements Store on an embedded BadgerDB. Each document is
// one codec-encoded value; the conditional write runs its version check and
// put inside a single transaction, so badger's SSI gives the compare-and-set.
package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/unkn0wn-root/skycache/codec"
	"github.com/unkn0wn-root/skycache/internal/util"
	"github.com/unkn0wn-root/skycache/store"
)

var ErrNilDB = errors.New("badger store: nil db")

var _ store.Store = (*Store)(nil)

const (
	sharedKeyPrefix   = "shared:"
	identityKeyPrefix = "identity:"
)

type Config struct {
	DB *badgerdb.DB
	// CloseDB true only if this store exclusively owns the handle.
	CloseDB bool
	// SharedCodec/IdentityCodec encode document bodies. Default JSON. A
	// store must keep the same codecs for its lifetime.
	SharedCodec   codec.Codec[store.SharedDocument]
	IdentityCodec codec.Codec[store.IdentityDocument]
	// Logger reports recovered corruption. Nil means NopLogger.
	Logger store.Logger
}

type Store struct {
	db       *badgerdb.DB
	closeDB  bool
	shared   codec.Codec[store.SharedDocument]
	identity codec.Codec[store.IdentityDocument]
	log      store.Logger
}

func New(cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, ErrNilDB
	}
	s := &Store{
		db:       cfg.DB,
		closeDB:  cfg.CloseDB,
		shared:   cfg.SharedCodec,
		identity: cfg.IdentityCodec,
		log:      cfg.Logger,
	}
	if s.shared == nil {
		s.shared = codec.JSONCodec[store.SharedDocument]{}
	}
	if s.identity == nil {
		s.identity = codec.JSONCodec[store.IdentityDocument]{}
	}
	if s.log == nil {
		s.log = store.NopLogger{}
	}
	return s, nil
}

func sharedKey(id string) []byte         { return []byte(sharedKeyPrefix + util.Segment(id)) }
func identityKey(identity string) []byte { return []byte(identityKeyPrefix + util.Segment(identity)) }

func (s *Store) FetchShared(_ context.Context, id string) (*store.SharedDocument, bool, error) {
	var (
		doc   store.SharedDocument
		found bool
	)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(sharedKey(id))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			d, err := s.shared.Decode(val)
			if err != nil {
				// version lives inside the body here, so a corrupt value
				// reads as absent and the next write recreates the document
				s.log.Warn("skycache: malformed shared document, treating as absent", store.Fields{
					"documentId": id,
					"err":        err.Error(),
				})
				return nil
			}
			doc = d
			found = true
			return nil
		})
	})
	if err != nil {
		return nil, false, s.unavailable("fetch shared", err)
	}
	if !found {
		return nil, false, nil
	}
	doc.ID = id
	return &doc, true, nil
}

func (s *Store) StoreSharedIf(_ context.Context, doc *store.SharedDocument, expected int64) error {
	next := *doc
	next.Version = expected + 1
	body, err := s.shared.Encode(next)
	if err != nil {
		return fmt.Errorf("badger store: encode shared %q: %w", doc.ID, err)
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		var current int64
		item, err := txn.Get(sharedKey(doc.ID))
		switch {
		case errors.Is(err, badgerdb.ErrKeyNotFound):
			current = 0
		case err != nil:
			return err
		default:
			if verr := item.Value(func(val []byte) error {
				d, derr := s.shared.Decode(val)
				if derr != nil {
					s.log.Warn("skycache: malformed shared document, overwriting", store.Fields{
						"documentId": doc.ID,
						"err":        derr.Error(),
					})
					return nil
				}
				current = d.Version
				return nil
			}); verr != nil {
				return verr
			}
		}
		if current != expected {
			return store.ErrVersionConflict
		}

		e := badgerdb.NewEntry(sharedKey(doc.ID), body)
		if max := doc.MaxExpiresAt(); max > 0 {
			ttl := time.Until(time.Unix(max, 0))
			if ttl < time.Second {
				ttl = time.Second
			}
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrVersionConflict):
		return fmt.Errorf("badger store: store shared %q: %w", doc.ID, store.ErrVersionConflict)
	case errors.Is(err, badgerdb.ErrConflict):
		// a competing transaction committed first, so our read was stale
		return fmt.Errorf("badger store: store shared %q: %w: %w", doc.ID, store.ErrVersionConflict, err)
	default:
		return s.unavailable("store shared", err)
	}
}

func (s *Store) FetchIdentity(_ context.Context, identity string) (*store.IdentityDocument, bool, error) {
	var (
		doc   store.IdentityDocument
		found bool
	)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(identityKey(identity))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			d, err := s.identity.Decode(val)
			if err != nil {
				s.log.Warn("skycache: malformed identity document", store.Fields{
					"identity": identity,
					"err":      err.Error(),
				})
				return nil
			}
			doc = d
			found = true
			return nil
		})
	})
	if err != nil {
		return nil, false, s.unavailable("fetch identity", err)
	}
	if !found {
		return nil, false, nil
	}
	if doc.Identity == "" {
		doc.Identity = identity
	}
	return &doc, true, nil
}

func (s *Store) StoreIdentity(_ context.Context, doc *store.IdentityDocument) error {
	body, err := s.identity.Encode(*doc)
	if err != nil {
		return fmt.Errorf("badger store: encode identity %q: %w", doc.Identity, err)
	}
	err = s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(identityKey(doc.Identity), body)
	})
	if err != nil {
		return s.unavailable("store identity", err)
	}
	return nil
}

// Close releases the underlying handle only when this store owns it.
func (s *Store) Close(context.Context) error {
	if s.closeDB {
		return s.db.Close()
	}
	return nil
}

func (s *Store) unavailable(op string, err error) error {
	return fmt.Errorf("badger store: %s: %w: %w", op, store.ErrUnavailable, err)
}
