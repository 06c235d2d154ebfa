package skycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/skycache/store"
	"github.com/unkn0wn-root/skycache/store/memory"
)

// ====== shared test fakes ======

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingHooks struct {
	mu        sync.Mutex
	conflicts int
	abandoned int
	corrupt   int
	storeErrs []string
	snapDrops []string
}

func (h *recordingHooks) ConflictRetried(string, string, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conflicts++
}

func (h *recordingHooks) WriteAbandoned(string, string, int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.abandoned++
}

func (h *recordingHooks) DocumentCorrupt(string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.corrupt++
}

func (h *recordingHooks) StoreError(op string, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.storeErrs = append(h.storeErrs, op)
}

func (h *recordingHooks) SnapshotDropped(_, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapDrops = append(h.snapDrops, reason)
}

func (h *recordingHooks) conflictCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conflicts
}

func (h *recordingHooks) abandonedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.abandoned
}

func (h *recordingHooks) dropReasons() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.snapDrops))
	copy(out, h.snapDrops)
	return out
}

type testLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *testLogger) Debug(string, Fields) {}
func (l *testLogger) Info(string, Fields)  {}
func (l *testLogger) Error(string, Fields) {}

func (l *testLogger) Warn(msg string, _ Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *testLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

// conflictStore forces StoreSharedIf to lose the version race a fixed number
// of times. onConflict, when set, runs before each forced loss so tests can
// slip a real concurrent write underneath the retry.
type conflictStore struct {
	store.Store
	mu         sync.Mutex
	remaining  int
	onConflict func()
}

func (s *conflictStore) StoreSharedIf(ctx context.Context, doc *store.SharedDocument, expected int64) error {
	s.mu.Lock()
	force := s.remaining > 0
	if force {
		s.remaining--
	}
	fn := s.onConflict
	s.mu.Unlock()

	if force {
		if fn != nil {
			fn()
		}
		return fmt.Errorf("forced: %w", store.ErrVersionConflict)
	}
	return s.Store.StoreSharedIf(ctx, doc, expected)
}

// failingStore refuses every operation with a transport error.
type failingStore struct {
	mu      sync.Mutex
	fetches int
}

func (s *failingStore) fail(op string) error {
	return fmt.Errorf("failing store: %s: %w: %w", op, store.ErrUnavailable, errors.New("dial tcp: connection refused"))
}

func (s *failingStore) FetchShared(context.Context, string) (*store.SharedDocument, bool, error) {
	s.mu.Lock()
	s.fetches++
	s.mu.Unlock()
	return nil, false, s.fail("fetch shared")
}

func (s *failingStore) StoreSharedIf(context.Context, *store.SharedDocument, int64) error {
	return s.fail("store shared")
}

func (s *failingStore) FetchIdentity(context.Context, string) (*store.IdentityDocument, bool, error) {
	return nil, false, s.fail("fetch identity")
}

func (s *failingStore) StoreIdentity(context.Context, *store.IdentityDocument) error {
	return s.fail("store identity")
}

func (s *failingStore) Close(context.Context) error { return nil }

func (s *failingStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// countingStore counts authoritative reads so snapshot tests can tell a
// byte-cache hit from a store fetch.
type countingStore struct {
	store.Store
	mu      sync.Mutex
	fetches int
}

func (s *countingStore) FetchShared(ctx context.Context, id string) (*store.SharedDocument, bool, error) {
	s.mu.Lock()
	s.fetches++
	s.mu.Unlock()
	return s.Store.FetchShared(ctx, id)
}

func (s *countingStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// newTestHandler builds an enabled handler over the given store with fast
// backoff and an injected clock.
func newTestHandler(t *testing.T, opts Options) (*handler, *fakeClock) {
	t.Helper()

	if opts.Store == nil {
		opts.Store = memory.New()
	}
	opts.RetryBackoff = coalesce(opts.RetryBackoff, time.Millisecond)
	opts.MaxRetryBackoff = coalesce(opts.MaxRetryBackoff, 4*time.Millisecond)

	h, err := newHandler(opts)
	if err != nil {
		t.Fatalf("newHandler: %v", err)
	}
	clk := newFakeClock()
	h.shared.now = clk.Now
	return h, clk
}

// ====== OCC write loop ======

func TestPutThenGetReturnsValue(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHandler(t, Options{})

	payload := map[string]any{"lat": 30.27, "lon": -97.74, "name": "Austin"}
	if err := h.Put(ctx, CategoryLocation, "austin_texas", payload, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok := h.Get(ctx, CategoryLocation, "austin_texas")
	if !ok {
		t.Fatal("get after put missed")
	}
	if got["lat"] != 30.27 || got["name"] != "Austin" {
		t.Errorf("get = %v, want original payload", got)
	}
}

func TestConcurrentPutsLoseNothing(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHandler(t, Options{
		MaxWriteAttempts: 25,
		RetryBackoff:     200 * time.Microsecond,
		MaxRetryBackoff:  2 * time.Millisecond,
	})

	categories := []Category{CategoryLocation, CategoryStation, CategoryZone}
	const perCategory = 4

	var wg sync.WaitGroup
	errs := make(chan error, len(categories)*perCategory)
	for _, cat := range categories {
		for i := 0; i < perCategory; i++ {
			wg.Add(1)
			go func(cat Category, i int) {
				defer wg.Done()
				key := fmt.Sprintf("%s-key-%d", cat, i)
				errs <- h.Put(ctx, cat, key, map[string]any{"n": float64(i)}, time.Hour)
			}(cat, i)
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent put: %v", err)
		}
	}

	for _, cat := range categories {
		for i := 0; i < perCategory; i++ {
			key := fmt.Sprintf("%s-key-%d", cat, i)
			got, ok := h.Get(ctx, cat, key)
			if !ok {
				t.Fatalf("%s/%s lost", cat, key)
			}
			if got["n"] != float64(i) {
				t.Errorf("%s/%s = %v, want %v", cat, key, got["n"], float64(i))
			}
		}
	}
}

func TestExpiredEntriesReadAsMisses(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	h, clk := newTestHandler(t, Options{Store: mem})

	if err := h.Put(ctx, CategoryStation, "KAUS", map[string]any{"icao": "KAUS"}, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok := h.Get(ctx, CategoryStation, "KAUS"); !ok {
		t.Fatal("fresh entry missed")
	}

	clk.Advance(2 * time.Hour)

	if _, ok := h.Get(ctx, CategoryStation, "KAUS"); ok {
		t.Fatal("expired entry served")
	}

	// expiry is a read-side rule; the bytes are still in the store
	doc, found, err := mem.FetchShared(ctx, DefaultDocumentID)
	if err != nil || !found {
		t.Fatalf("raw fetch: found=%v err=%v", found, err)
	}
	if _, ok := doc.Entry(string(CategoryStation), "KAUS"); !ok {
		t.Error("expired entry physically deleted")
	}
}

func TestForcedConflictRetriesAndPreservesConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	hooks := &recordingHooks{}

	cs := &conflictStore{Store: mem, remaining: 1}
	cs.onConflict = func() {
		// a competing writer lands between this writer's read and write
		doc, _, err := mem.FetchShared(ctx, DefaultDocumentID)
		if err != nil {
			t.Errorf("competing fetch: %v", err)
			return
		}
		if doc == nil {
			doc = store.NewSharedDocument(DefaultDocumentID)
		}
		expected := doc.Version
		doc.SetEntry(string(CategoryStation), "KAUS", store.NewEntry(map[string]any{"icao": "KAUS"}, time.Hour, time.Now()))
		if err := mem.StoreSharedIf(ctx, doc, expected); err != nil {
			t.Errorf("competing store: %v", err)
		}
	}

	h, _ := newTestHandler(t, Options{Store: cs, Hooks: hooks})

	if err := h.Put(ctx, CategoryLocation, "austin_texas", map[string]any{"lat": 30.27}, time.Hour); err != nil {
		t.Fatalf("put through forced conflict: %v", err)
	}

	if got := hooks.conflictCount(); got != 1 {
		t.Errorf("conflict hook fired %d times, want 1", got)
	}

	// the retry re-read the latest document, so both keys survive
	if _, ok := h.Get(ctx, CategoryLocation, "austin_texas"); !ok {
		t.Error("retried write lost")
	}
	if _, ok := h.Get(ctx, CategoryStation, "KAUS"); !ok {
		t.Error("concurrent write clobbered by retry")
	}
}

func TestWriteAbandonedAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	hooks := &recordingHooks{}
	cs := &conflictStore{Store: memory.New(), remaining: 1 << 30}

	h, _ := newTestHandler(t, Options{Store: cs, Hooks: hooks, MaxWriteAttempts: 3})

	err := h.Put(ctx, CategoryZone, "TXZ192", map[string]any{"zone": "TXZ192"}, time.Hour)
	if err == nil {
		t.Fatal("put under permanent contention succeeded")
	}

	var wf *WriteFailedError
	if !errors.As(err, &wf) {
		t.Fatalf("error type = %T, want *WriteFailedError", err)
	}
	if wf.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", wf.Attempts)
	}
	if wf.Category != CategoryZone || wf.Key != "TXZ192" {
		t.Errorf("coordinates = %s/%q", wf.Category, wf.Key)
	}
	if !errors.Is(err, ErrWriteFailed) {
		t.Error("not Is(ErrWriteFailed)")
	}
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Error("last conflict not wrapped")
	}

	if got := hooks.abandonedCount(); got != 1 {
		t.Errorf("abandoned hook fired %d times, want 1", got)
	}
	// retried after every attempt except the last
	if got := hooks.conflictCount(); got != 3 {
		t.Errorf("conflict hook fired %d times, want 3", got)
	}
}

func TestUnavailableStoreSurfacesWithoutRetries(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{}
	hooks := &recordingHooks{}

	h, _ := newTestHandler(t, Options{Store: fs, Hooks: hooks})

	err := h.Put(ctx, CategoryLocation, "austin_texas", map[string]any{"lat": 30.27}, time.Hour)
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("put error = %v, want ErrUnavailable", err)
	}
	if errors.Is(err, ErrWriteFailed) {
		t.Error("transport failure misreported as abandoned write")
	}
	// one fetch, no retry budget consumed
	if got := fs.fetchCount(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
	if got := hooks.conflictCount(); got != 0 {
		t.Errorf("conflict hook fired %d times on a transport error", got)
	}
}

func TestCanceledContextAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cs := &conflictStore{Store: memory.New(), remaining: 1 << 30}
	cs.onConflict = cancel // cancel while the first attempt is losing

	h, _ := newTestHandler(t, Options{
		Store:           cs,
		RetryBackoff:    time.Hour, // unreachable unless the sleep honors ctx
		MaxRetryBackoff: 2 * time.Hour,
	})

	start := time.Now()
	err := h.Put(ctx, CategoryLocation, "austin_texas", map[string]any{"lat": 30.27}, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("put error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("put blocked %v after cancellation", elapsed)
	}
}

func TestPutRejectsUnsupportedPayload(t *testing.T) {
	ctx := context.Background()
	h, _ := newTestHandler(t, Options{})

	err := h.Put(ctx, CategoryLocation, "austin_texas", map[string]any{"ch": make(chan int)}, time.Hour)
	if err == nil {
		t.Fatal("channel payload accepted")
	}
	if errors.Is(err, ErrWriteFailed) {
		t.Error("encode failure misreported as abandoned write")
	}
}
