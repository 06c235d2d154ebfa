package skycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/skycache/store"
)

type handler struct {
	shared   *sharedCache
	identity *identityCache
	st       store.Store
	defaults map[string]any
	log      Logger
	enabled  bool
}

func newHandler(opts Options) (*handler, error) {
	if opts.Disabled {
		return &handler{
			defaults: opts.DefaultSettings,
			log:      coalesce[Logger](opts.Logger, NopLogger{}),
			enabled:  false,
		}, nil
	}
	if opts.Store == nil {
		return nil, ErrNilStore
	}

	return &handler{
		shared:   newSharedCache(opts),
		identity: newIdentityCache(opts),
		st:       opts.Store,
		defaults: opts.DefaultSettings,
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		enabled:  true,
	}, nil
}

func (h *handler) Enabled() bool { return h.enabled }

// Close releases the injected store and, when configured, the snapshot
// provider. The handler owns both for its lifetime.
func (h *handler) Close(ctx context.Context) error {
	if !h.enabled {
		return nil
	}
	var errs []error
	if h.shared.snap != nil {
		if err := h.shared.snap.prov.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.st.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ====== category-typed wrappers ======

func (h *handler) GetLocation(ctx context.Context, key string) (map[string]any, bool) {
	return h.Get(ctx, CategoryLocation, key)
}

func (h *handler) PutLocation(ctx context.Context, key string, payload map[string]any, ttlDays int) error {
	return h.Put(ctx, CategoryLocation, key, payload, daysTTL(ttlDays))
}

func (h *handler) GetStation(ctx context.Context, key string) (map[string]any, bool) {
	return h.Get(ctx, CategoryStation, key)
}

func (h *handler) PutStation(ctx context.Context, key string, payload map[string]any, ttlDays int) error {
	return h.Put(ctx, CategoryStation, key, payload, daysTTL(ttlDays))
}

func (h *handler) GetZone(ctx context.Context, key string) (map[string]any, bool) {
	return h.Get(ctx, CategoryZone, key)
}

func (h *handler) PutZone(ctx context.Context, key string, payload map[string]any, ttlDays int) error {
	return h.Put(ctx, CategoryZone, key, payload, daysTTL(ttlDays))
}

func daysTTL(days int) time.Duration {
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}

// ====== generic entry points ======

func (h *handler) Get(ctx context.Context, cat Category, key string) (map[string]any, bool) {
	if !h.enabled {
		return nil, false
	}
	if !cat.Valid() {
		h.log.Warn("skycache: get with unknown category", Fields{"category": string(cat), "key": key})
		return nil, false
	}
	v, ok, err := h.shared.get(ctx, cat, key)
	if err != nil {
		// cache errors never break callers; a miss costs one upstream fetch
		h.log.Warn("skycache: get degraded to miss", Fields{
			"category": string(cat),
			"key":      key,
			"err":      err.Error(),
		})
		return nil, false
	}
	return v, ok
}

func (h *handler) Put(ctx context.Context, cat Category, key string, payload map[string]any, ttl time.Duration) error {
	if !h.enabled {
		return nil
	}
	if !cat.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, cat)
	}
	if ttl <= 0 {
		ttl = h.shared.defaultTTL
	}
	err := h.shared.put(ctx, cat, key, payload, ttl)
	if err == nil {
		return nil
	}
	var wf *WriteFailedError
	if errors.As(err, &wf) {
		h.log.Warn("skycache: write abandoned", Fields{
			"category": string(cat),
			"key":      key,
			"attempts": wf.Attempts,
		})
	} else {
		h.log.Warn("skycache: put failed", Fields{
			"category": string(cat),
			"key":      key,
			"err":      err.Error(),
		})
	}
	return err
}

// ====== per-identity settings ======

func (h *handler) GetSettings(ctx context.Context, identity string) map[string]any {
	if !h.enabled {
		// the kill switch must not change the settings shape callers see
		merged := store.CloneValues(h.defaults)
		if merged == nil {
			merged = map[string]any{}
		}
		return merged
	}
	return h.identity.settings(ctx, identity)
}

func (h *handler) SetSettings(ctx context.Context, identity string, settings map[string]any) error {
	if !h.enabled {
		return nil
	}
	err := h.identity.setSettings(ctx, identity, settings)
	if err != nil {
		h.log.Warn("skycache: set settings failed", Fields{
			"identity": identity,
			"err":      err.Error(),
		})
	}
	return err
}
