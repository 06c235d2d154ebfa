// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/skycache"
//	"github.com/unkn0wn-root/skycache/hooks/async"
//	"github.com/unkn0wn-root/skycache/hooks/sloghook"
//	"github.com/unkn0wn-root/skycache/store/dynamo"
//
// )
//
//	raw := sloghook.New(slog.Default(), sloghook.Options{
//	    ConflictEvery: 10, // sample logs: ~every 10th conflict retry
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := skycache.New(skycache.Options{
//	    Store: dynamoStore,
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/skycache"
)

type Hooks struct {
	inner skycache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ skycache.Hooks = (*Hooks)(nil)

func New(inner skycache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) ConflictRetried(cat, key string, attempt int) {
	h.try(func() { h.inner.ConflictRetried(cat, key, attempt) })
}
func (h *Hooks) WriteAbandoned(cat, key string, attempts int, err error) {
	h.try(func() { h.inner.WriteAbandoned(cat, key, attempts, err) })
}
func (h *Hooks) DocumentCorrupt(id string, err error) {
	h.try(func() { h.inner.DocumentCorrupt(id, err) })
}
func (h *Hooks) StoreError(op string, err error) { h.try(func() { h.inner.StoreError(op, err) }) }
func (h *Hooks) SnapshotDropped(id, reason string) {
	h.try(func() { h.inner.SnapshotDropped(id, reason) })
}
