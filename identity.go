package skycache

import (
	"context"
	"fmt"

	c "github.com/unkn0wn-root/skycache/codec"
	"github.com/unkn0wn-root/skycache/store"
)

// identityCache manages one document per caller identity. No OCC: a given
// identity's operations are serialized by the calling context, so writes
// replace wholesale.
type identityCache struct {
	store    store.Store
	defaults map[string]any
	log      Logger
	hooks    Hooks
}

func newIdentityCache(opts Options) *identityCache {
	return &identityCache{
		store:    opts.Store,
		defaults: opts.DefaultSettings,
		log:      coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:    coalesce[Hooks](opts.Hooks, NopHooks{}),
	}
}

// settings returns the identity's stored settings merged over the defaults:
// stored keys win, unset keys fall back. Never fails; store errors degrade
// to defaults.
func (ic *identityCache) settings(ctx context.Context, identity string) map[string]any {
	merged := store.CloneValues(ic.defaults)
	if merged == nil {
		merged = map[string]any{}
	}

	doc, found, err := ic.store.FetchIdentity(ctx, identity)
	if err != nil {
		ic.hooks.StoreError("fetch identity", err)
		ic.log.Warn("skycache: settings fetch failed, serving defaults", Fields{
			"identity": identity,
			"err":      err.Error(),
		})
		return merged
	}
	if !found {
		return merged
	}
	for k, v := range store.CloneValues(doc.Settings) {
		merged[k] = v
	}
	return merged
}

func (ic *identityCache) setSettings(ctx context.Context, identity string, settings map[string]any) error {
	norm, err := c.Normalize(settings)
	if err != nil {
		return fmt.Errorf("skycache: set settings %q: %w", identity, err)
	}
	doc := &store.IdentityDocument{Identity: identity, Settings: norm}
	if err := ic.store.StoreIdentity(ctx, doc); err != nil {
		ic.hooks.StoreError("store identity", err)
		return fmt.Errorf("skycache: set settings %q: %w", identity, err)
	}
	return nil
}
