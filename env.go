package skycache

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverlay mirrors the Options fields an operator may tune without a
// deploy. Store construction stays explicit; env never picks a backend.
type envOverlay struct {
	DocumentID       string        `env:"SKYCACHE_DOCUMENT_ID"`
	MaxWriteAttempts int           `env:"SKYCACHE_MAX_WRITE_ATTEMPTS"`
	RetryBackoff     time.Duration `env:"SKYCACHE_RETRY_BACKOFF"`
	MaxRetryBackoff  time.Duration `env:"SKYCACHE_MAX_RETRY_BACKOFF"`
	DefaultTTLDays   int           `env:"SKYCACHE_DEFAULT_TTL_DAYS"`
	SnapshotTTL      time.Duration `env:"SKYCACHE_SNAPSHOT_TTL"`
	Disabled         bool          `env:"SKYCACHE_DISABLED"`
}

// OptionsFromEnv overlays SKYCACHE_* variables onto opts. Unset variables
// leave the corresponding field untouched. SKYCACHE_DISABLED can only turn
// the cache off, never back on.
func OptionsFromEnv(opts Options) (Options, error) {
	var ov envOverlay
	if err := env.Parse(&ov); err != nil {
		return opts, fmt.Errorf("skycache: parse env: %w", err)
	}
	if ov.DocumentID != "" {
		opts.DocumentID = ov.DocumentID
	}
	if ov.MaxWriteAttempts > 0 {
		opts.MaxWriteAttempts = ov.MaxWriteAttempts
	}
	if ov.RetryBackoff > 0 {
		opts.RetryBackoff = ov.RetryBackoff
	}
	if ov.MaxRetryBackoff > 0 {
		opts.MaxRetryBackoff = ov.MaxRetryBackoff
	}
	if ov.DefaultTTLDays > 0 {
		opts.DefaultTTL = time.Duration(ov.DefaultTTLDays) * 24 * time.Hour
	}
	if ov.SnapshotTTL > 0 {
		opts.SnapshotTTL = ov.SnapshotTTL
	}
	if ov.Disabled {
		opts.Disabled = true
	}
	return opts, nil
}
