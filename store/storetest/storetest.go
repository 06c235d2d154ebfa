// Package storetest exercises the store.Store contract. Every adapter runs
// the same suite so backends stay interchangeable: identical call sequences
// must produce identical observable results.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/skycache/store"
)

// Factory returns a fresh, empty Store. Cleanup belongs on t (t.Cleanup or
// t.TempDir inside the factory).
type Factory func(t *testing.T) store.Store

// Run drives the conformance suite against the adapter under test.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("fetch missing shared", func(t *testing.T) {
		s := newStore(t)
		d, found, err := s.FetchShared(context.Background(), "nope")
		if err != nil {
			t.Fatalf("FetchShared: %v", err)
		}
		if found || d != nil {
			t.Fatalf("expected miss, got found=%v doc=%+v", found, d)
		}
	})

	t.Run("lazy create stores version 1", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		doc := store.NewSharedDocument("shared")
		doc.SetEntry("location", "austin_texas", store.Entry{
			Payload:   map[string]any{"lat": 30.27, "lon": -97.74},
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		})
		if err := s.StoreSharedIf(ctx, doc, 0); err != nil {
			t.Fatalf("StoreSharedIf(create): %v", err)
		}

		got := mustFetchShared(t, s, "shared")
		if got.Version != 1 {
			t.Fatalf("Version = %d, want 1", got.Version)
		}
		if _, ok := got.Entry("location", "austin_texas"); !ok {
			t.Fatalf("entry missing after create")
		}
	})

	t.Run("version increments by exactly one", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := int64(0); i < 3; i++ {
			doc := store.NewSharedDocument("shared")
			doc.SetEntry("station", "KAUS", store.Entry{Payload: map[string]any{"n": float64(i)}})
			if err := s.StoreSharedIf(ctx, doc, i); err != nil {
				t.Fatalf("write %d: %v", i, err)
			}
			got := mustFetchShared(t, s, "shared")
			if got.Version != i+1 {
				t.Fatalf("after write %d: Version = %d, want %d", i, got.Version, i+1)
			}
		}
	})

	t.Run("stale expected version conflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		doc := store.NewSharedDocument("shared")
		if err := s.StoreSharedIf(ctx, doc, 0); err != nil {
			t.Fatalf("create: %v", err)
		}
		err := s.StoreSharedIf(ctx, store.NewSharedDocument("shared"), 0)
		if !errors.Is(err, store.ErrVersionConflict) {
			t.Fatalf("stale write error = %v, want ErrVersionConflict", err)
		}
		if errors.Is(err, store.ErrUnavailable) {
			t.Fatalf("conflict must not read as unavailable")
		}
		// losing write must not have bumped anything
		if got := mustFetchShared(t, s, "shared"); got.Version != 1 {
			t.Fatalf("Version after lost race = %d, want 1", got.Version)
		}
	})

	t.Run("entries replaced wholesale", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		doc := store.NewSharedDocument("shared")
		doc.SetEntry("location", "a", store.Entry{Payload: map[string]any{"v": "old"}})
		doc.SetEntry("station", "b", store.Entry{Payload: map[string]any{"v": "keep?"}})
		if err := s.StoreSharedIf(ctx, doc, 0); err != nil {
			t.Fatalf("create: %v", err)
		}

		// the adapter persists exactly what it is given; merging is the
		// manager's job
		next := store.NewSharedDocument("shared")
		next.SetEntry("location", "a", store.Entry{Payload: map[string]any{"v": "new"}})
		if err := s.StoreSharedIf(ctx, next, 1); err != nil {
			t.Fatalf("replace: %v", err)
		}

		got := mustFetchShared(t, s, "shared")
		e, ok := got.Entry("location", "a")
		if !ok || e.Payload["v"] != "new" {
			t.Fatalf("replaced entry = %+v ok=%v", e, ok)
		}
		if _, ok := got.Entry("station", "b"); ok {
			t.Fatalf("entry outside the stored document survived the replace")
		}
	})

	t.Run("payload fidelity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		exp := time.Now().Add(35 * 24 * time.Hour).Unix()
		doc := store.NewSharedDocument("shared")
		doc.SetEntry("zone", "TXZ192", store.Entry{
			Payload: map[string]any{
				"name":   "Travis",
				"lat":    30.5,
				"active": true,
				"nested": map[string]any{"k": "v"},
				"list":   []any{"x", "y"},
			},
			ExpiresAt: exp,
		})
		if err := s.StoreSharedIf(ctx, doc, 0); err != nil {
			t.Fatalf("create: %v", err)
		}

		got := mustFetchShared(t, s, "shared")
		e, ok := got.Entry("zone", "TXZ192")
		if !ok {
			t.Fatalf("entry missing")
		}
		if e.ExpiresAt != exp {
			t.Fatalf("ExpiresAt = %d, want %d", e.ExpiresAt, exp)
		}
		if e.Payload["name"] != "Travis" || e.Payload["active"] != true {
			t.Fatalf("scalar payload mismatch: %+v", e.Payload)
		}
		if lat, ok := e.Payload["lat"].(float64); !ok || lat != 30.5 {
			t.Fatalf("numeric payload mismatch: %[1]v (%[1]T)", e.Payload["lat"])
		}
		nested, ok := e.Payload["nested"].(map[string]any)
		if !ok || nested["k"] != "v" {
			t.Fatalf("nested payload mismatch: %+v", e.Payload["nested"])
		}
		list, ok := e.Payload["list"].([]any)
		if !ok || len(list) != 2 || list[0] != "x" {
			t.Fatalf("list payload mismatch: %+v", e.Payload["list"])
		}
	})

	t.Run("expired entries remain physically fetchable", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		doc := store.NewSharedDocument("shared")
		doc.SetEntry("location", "stale", store.Entry{
			Payload:   map[string]any{"v": 1.0},
			ExpiresAt: time.Now().Add(-time.Hour).Unix(),
		})
		doc.SetEntry("location", "live", store.Entry{
			Payload:   map[string]any{"v": 2.0},
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		})
		if err := s.StoreSharedIf(ctx, doc, 0); err != nil {
			t.Fatalf("create: %v", err)
		}

		// adapters return physical state; logical expiry is evaluated by
		// readers above the contract
		got := mustFetchShared(t, s, "shared")
		if _, ok := got.Entry("location", "stale"); !ok {
			t.Fatalf("expired entry reclaimed eagerly by the adapter")
		}
	})

	t.Run("fetched documents do not alias stored state", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		doc := store.NewSharedDocument("shared")
		doc.SetEntry("location", "a", store.Entry{Payload: map[string]any{"v": "orig"}})
		if err := s.StoreSharedIf(ctx, doc, 0); err != nil {
			t.Fatalf("create: %v", err)
		}

		first := mustFetchShared(t, s, "shared")
		e, _ := first.Entry("location", "a")
		e.Payload["v"] = "mutated"

		second := mustFetchShared(t, s, "shared")
		e2, _ := second.Entry("location", "a")
		if e2.Payload["v"] != "orig" {
			t.Fatalf("mutating a fetched document leaked into the store")
		}
	})

	t.Run("identity missing", func(t *testing.T) {
		s := newStore(t)
		d, found, err := s.FetchIdentity(context.Background(), "ghost")
		if err != nil {
			t.Fatalf("FetchIdentity: %v", err)
		}
		if found || d != nil {
			t.Fatalf("expected miss, got found=%v doc=%+v", found, d)
		}
	})

	t.Run("identity roundtrip and wholesale replace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.StoreIdentity(ctx, &store.IdentityDocument{
			Identity: "user-1",
			Settings: map[string]any{"rate": float64(120), "units": "metric"},
		}); err != nil {
			t.Fatalf("StoreIdentity: %v", err)
		}

		got, found, err := s.FetchIdentity(ctx, "user-1")
		if err != nil || !found {
			t.Fatalf("FetchIdentity: found=%v err=%v", found, err)
		}
		if got.Identity != "user-1" || got.Settings["units"] != "metric" {
			t.Fatalf("roundtrip mismatch: %+v", got)
		}

		// replace drops keys absent from the new document
		if err := s.StoreIdentity(ctx, &store.IdentityDocument{
			Identity: "user-1",
			Settings: map[string]any{"rate": float64(60)},
		}); err != nil {
			t.Fatalf("replace: %v", err)
		}
		got, _, err = s.FetchIdentity(ctx, "user-1")
		if err != nil {
			t.Fatalf("FetchIdentity: %v", err)
		}
		if _, ok := got.Settings["units"]; ok {
			t.Fatalf("replace kept stale key: %+v", got.Settings)
		}
		if got.Settings["rate"] != float64(60) {
			t.Fatalf("replace value mismatch: %+v", got.Settings)
		}
	})

	t.Run("concurrent writers lose no keys", func(t *testing.T) {
		s := newStore(t)
		const writers = 8

		var wg sync.WaitGroup
		errCh := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				key := fmt.Sprintf("k%02d", n)
				ctx := context.Background()
				for {
					doc, found, err := s.FetchShared(ctx, "shared")
					if err != nil {
						errCh <- fmt.Errorf("writer %d fetch: %w", n, err)
						return
					}
					if !found {
						doc = store.NewSharedDocument("shared")
					}
					doc.SetEntry("location", key, store.Entry{Payload: map[string]any{"n": float64(n)}})
					err = s.StoreSharedIf(ctx, doc, doc.Version)
					if err == nil {
						return
					}
					if !errors.Is(err, store.ErrVersionConflict) {
						errCh <- fmt.Errorf("writer %d store: %w", n, err)
						return
					}
				}
			}(i)
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			t.Fatal(err)
		}

		got := mustFetchShared(t, s, "shared")
		if got.Version != writers {
			t.Fatalf("Version = %d, want %d (one bump per accepted write)", got.Version, writers)
		}
		for i := 0; i < writers; i++ {
			key := fmt.Sprintf("k%02d", i)
			e, ok := got.Entry("location", key)
			if !ok {
				t.Fatalf("lost update: %s missing", key)
			}
			if e.Payload["n"] != float64(i) {
				t.Fatalf("key %s payload = %v, want %d", key, e.Payload["n"], i)
			}
		}
	})
}

func mustFetchShared(t *testing.T, s store.Store, id string) *store.SharedDocument {
	t.Helper()
	d, found, err := s.FetchShared(context.Background(), id)
	if err != nil {
		t.Fatalf("FetchShared(%q): %v", id, err)
	}
	if !found {
		t.Fatalf("FetchShared(%q): not found", id)
	}
	return d
}
