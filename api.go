package skycache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/skycache/codec"
	pr "github.com/unkn0wn-root/skycache/provider"
	"github.com/unkn0wn-root/skycache/store"
)

// Handler is the only surface callers depend on. It is backend-agnostic: the
// store adapter is chosen once, at construction, and injected; calling code
// never changes when the backend does.
//
// Reads never fail: every cache-side error degrades to a miss (logged).
// Writes return errors, but an abandoned write (*WriteFailedError) is soft;
// callers must tolerate a miss on subsequent reads.
type Handler interface {
	Enabled() bool
	Close(ctx context.Context) error

	// Category-typed wrappers. TTL is whole days; ttlDays <= 0 applies
	// Options.DefaultTTL.
	GetLocation(ctx context.Context, key string) (map[string]any, bool)
	PutLocation(ctx context.Context, key string, payload map[string]any, ttlDays int) error
	GetStation(ctx context.Context, key string) (map[string]any, bool)
	PutStation(ctx context.Context, key string, payload map[string]any, ttlDays int) error
	GetZone(ctx context.Context, key string) (map[string]any, bool)
	PutZone(ctx context.Context, key string, payload map[string]any, ttlDays int) error

	// Generic entry points the wrappers delegate to. ttl <= 0 applies
	// Options.DefaultTTL; a zero DefaultTTL means the entry never expires.
	Get(ctx context.Context, category Category, key string) (map[string]any, bool)
	Put(ctx context.Context, category Category, key string, payload map[string]any, ttl time.Duration) error

	// Per-identity settings. GetSettings never fails: on any error it
	// returns DefaultSettings merged with nothing, logged. SetSettings
	// replaces the identity's settings wholesale.
	GetSettings(ctx context.Context, identity string) map[string]any
	SetSettings(ctx context.Context, identity string, settings map[string]any) error
}

// Options tune the cache. Only Store is required (unless Disabled); others
// have sensible defaults.
type Options struct {
	// Required. The backing document store (store/memory, store/file,
	// store/dynamo, store/redis, store/badger).
	Store store.Store

	DocumentID      string         // shared document identity; "" => DefaultDocumentID
	Logger          Logger         // nil => NopLogger
	Hooks           Hooks          // nil => NopHooks
	DefaultTTL      time.Duration  // applied when a put passes no positive TTL; 0 => never expires
	DefaultSettings map[string]any // served for unset per-identity settings keys

	MaxWriteAttempts int           // conditional-write attempts per put; 0 => 5
	RetryBackoff     time.Duration // first retry pause; 0 => 50ms
	MaxRetryBackoff  time.Duration // backoff cap; 0 => 2s

	// Disabled produces a handler whose gets miss and whose puts succeed as
	// no-ops. Store may be nil in this mode.
	Disabled bool

	// Snapshot, if set, keeps the encoded shared document in an in-process
	// byte cache (provider/ristretto, provider/bigcache) for SnapshotTTL.
	// Reads consult it first; writes always fetch authoritative state.
	Snapshot      pr.Provider
	SnapshotTTL   time.Duration                 // 0 => 15s
	SnapshotCodec c.Codec[store.SharedDocument] // nil => JSON
}

// New constructs a Handler over the injected store.
func New(opts Options) (Handler, error) {
	return newHandler(opts)
}
