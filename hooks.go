package skycache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A conditional write lost the version race and will be retried.
	// attempt is 1-based.
	ConflictRetried(category, key string, attempt int)

	// Every write attempt lost the race; the put was abandoned.
	WriteAbandoned(category, key string, attempts int, err error)

	// A stored document or snapshot failed to decode and was treated as
	// absent.
	DocumentCorrupt(documentID string, err error)

	// The backing store failed outside the conflict path. op is one of
	// "fetch shared", "store shared", "fetch identity", "store identity".
	StoreError(op string, err error)

	// The in-process document snapshot was invalidated. reason is one of
	// "stale", "conflict", "abandoned", "corrupt".
	SnapshotDropped(documentID, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) ConflictRetried(string, string, int)       {}
func (NopHooks) WriteAbandoned(string, string, int, error) {}
func (NopHooks) DocumentCorrupt(string, error)             {}
func (NopHooks) StoreError(string, error)                  {}
func (NopHooks) SnapshotDropped(string, string)            {}
