package asynchook

import (
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/skycache"
)

type countingHooks struct {
	mu     sync.Mutex
	events int
}

var _ skycache.Hooks = (*countingHooks)(nil)

func (h *countingHooks) bump() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events++
}

func (h *countingHooks) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events
}

func (h *countingHooks) ConflictRetried(string, string, int)       { h.bump() }
func (h *countingHooks) WriteAbandoned(string, string, int, error) { h.bump() }
func (h *countingHooks) DocumentCorrupt(string, error)             { h.bump() }
func (h *countingHooks) StoreError(string, error)                  { h.bump() }
func (h *countingHooks) SnapshotDropped(string, string)            { h.bump() }

// blockingHooks stalls every delivery until released.
type blockingHooks struct {
	countingHooks
	release chan struct{}
}

func (h *blockingHooks) StoreError(string, error) {
	<-h.release
	h.bump()
}

func TestDeliversAllEventKinds(t *testing.T) {
	inner := &countingHooks{}
	h := New(inner, 2, 64)

	h.ConflictRetried("Location", "austin_texas", 1)
	h.WriteAbandoned("Zone", "TXZ192", 5, nil)
	h.DocumentCorrupt("shared", nil)
	h.StoreError("fetch shared", nil)
	h.SnapshotDropped("shared", "stale")

	h.Close() // drains the queue
	if got := inner.count(); got != 5 {
		t.Fatalf("delivered %d events, want 5", got)
	}
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	inner := &blockingHooks{release: make(chan struct{})}
	h := New(inner, 1, 1)

	done := make(chan struct{})
	go func() {
		// worker stalls on the first event, the queue holds one more,
		// everything else must drop without blocking the caller
		for i := 0; i < 100; i++ {
			h.StoreError("fetch shared", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("emitting on a full queue blocked")
	}

	close(inner.release)
	h.Close()

	if got := inner.count(); got >= 100 {
		t.Errorf("delivered %d events, expected drops", got)
	}
	if got := inner.count(); got == 0 {
		t.Error("everything dropped, expected at least the in-flight event")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h := New(&countingHooks{}, 1, 8)
	h.Close()
	h.Close()
}
