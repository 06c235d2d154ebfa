package memory

import (
	"testing"

	"github.com/unkn0wn-root/skycache/store"
	"github.com/unkn0wn-root/skycache/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
