// Package redis implements Store on Redis. The shared document lives in one
// hash holding a version field and a codec-encoded body, so a fetch is a
// single HGETALL and the conditional write is a Lua script, which Redis runs
// atomically. Identity documents are plain string keys.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/skycache/codec"
	"github.com/unkn0wn-root/skycache/internal/util"
	"github.com/unkn0wn-root/skycache/store"
)

var ErrNilClient = errors.New("redis store: nil client")

var _ store.Store = (*Store)(nil)

const (
	fieldVersion = "version"
	fieldBody    = "body"

	defaultNamespace = "skycache"
)

// storeSharedScript compares the hash's version field with the expected
// version (ARGV[1]) and, on match, writes the new version (ARGV[2]) and body
// (ARGV[3]). A missing hash or an unparseable version field counts as version
// 0 so a corrupt hash heals on the next create. ARGV[4] > 0 schedules the
// key's native expiry at the document's latest entry expiry.
var storeSharedScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if not cur or not tonumber(cur) then cur = '0' end
if cur ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'body', ARGV[3])
if tonumber(ARGV[4]) > 0 then
  redis.call('EXPIREAT', KEYS[1], ARGV[4])
else
  redis.call('PERSIST', KEYS[1])
end
return 1
`)

type Config struct {
	Client goredis.UniversalClient
	// Namespace prefixes every key, isolating deployments that share a
	// server. Empty means "skycache".
	Namespace string
	// CloseClient true only if this store exclusively owns the client.
	CloseClient bool
	// SharedCodec/IdentityCodec encode document bodies. Default JSON. A
	// store must keep the same codecs for its lifetime.
	SharedCodec   codec.Codec[store.SharedDocument]
	IdentityCodec codec.Codec[store.IdentityDocument]
	// Logger reports recovered corruption. Nil means NopLogger.
	Logger store.Logger
}

type Store struct {
	rdb         goredis.UniversalClient
	ns          string
	closeClient bool
	shared      codec.Codec[store.SharedDocument]
	identity    codec.Codec[store.IdentityDocument]
	log         store.Logger
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	s := &Store{
		rdb:         cfg.Client,
		ns:          cfg.Namespace,
		closeClient: cfg.CloseClient,
		shared:      cfg.SharedCodec,
		identity:    cfg.IdentityCodec,
		log:         cfg.Logger,
	}
	if s.ns == "" {
		s.ns = defaultNamespace
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

func (s *Store) sharedKey(id string) string         { return s.ns + ":shared:" + util.Segment(id) }
func (s *Store) identityKey(identity string) string { return s.ns + ":identity:" + util.Segment(identity) }

func (s *Store) FetchShared(ctx context.Context, id string) (*store.SharedDocument, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, s.sharedKey(id)).Result()
	if err != nil {
		return nil, false, s.unavailable("fetch shared", err)
	}
	if len(vals) == 0 {
		return nil, false, nil
	}

	ver, verErr := strconv.ParseInt(vals[fieldVersion], 10, 64)
	doc, decErr := s.shared.Decode([]byte(vals[fieldBody]))
	if decErr != nil {
		// keep the hash version if it parses, so the next write replaces the
		// corrupt body at the right expected version
		s.log.Warn("skycache: malformed shared body, treating entries as empty", store.Fields{
			"documentId": id,
			"err":        decErr.Error(),
		})
		if verErr != nil || ver <= 0 {
			return nil, false, nil
		}
		fresh := store.NewSharedDocument(id)
		fresh.Version = ver
		return fresh, true, nil
	}
	if verErr == nil && ver > 0 {
		doc.Version = ver
	}
	doc.ID = id
	return &doc, true, nil
}

func (s *Store) StoreSharedIf(ctx context.Context, doc *store.SharedDocument, expected int64) error {
	next := *doc
	next.Version = expected + 1
	body, err := s.shared.Encode(next)
	if err != nil {
		return fmt.Errorf("redis store: encode shared %q: %w", doc.ID, err)
	}

	res, err := storeSharedScript.Run(ctx, s.rdb, []string{s.sharedKey(doc.ID)},
		strconv.FormatInt(expected, 10),
		strconv.FormatInt(expected+1, 10),
		body,
		strconv.FormatInt(doc.MaxExpiresAt(), 10),
	).Int()
	if err != nil {
		return s.unavailable("store shared", err)
	}
	if res == 0 {
		return fmt.Errorf("redis store: store shared %q: %w", doc.ID, store.ErrVersionConflict)
	}
	return nil
}

func (s *Store) FetchIdentity(ctx context.Context, identity string) (*store.IdentityDocument, bool, error) {
	b, err := s.rdb.Get(ctx, s.identityKey(identity)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.unavailable("fetch identity", err)
	}
	doc, err := s.identity.Decode(b)
	if err != nil {
		s.log.Warn("skycache: malformed identity body", store.Fields{
			"identity": identity,
			"err":      err.Error(),
		})
		return nil, false, nil
	}
	if doc.Identity == "" {
		doc.Identity = identity
	}
	return &doc, true, nil
}

func (s *Store) StoreIdentity(ctx context.Context, doc *store.IdentityDocument) error {
	b, err := s.identity.Encode(*doc)
	if err != nil {
		return fmt.Errorf("redis store: encode identity %q: %w", doc.Identity, err)
	}
	if err := s.rdb.Set(ctx, s.identityKey(doc.Identity), b, 0).Err(); err != nil {
		return s.unavailable("store identity", err)
	}
	return nil
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func (s *Store) unavailable(op string, err error) error {
	return fmt.Errorf("redis store: %s: %w: %w", op, store.ErrUnavailable, err)
}
