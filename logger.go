package skycache

import "github.com/unkn0wn-root/skycache/store"

// Fields is a minimal structured field map for logs.
type Fields = store.Fields

// Logger is a tiny leveled logger. Provide an adapter around your logging
// stack (see log/zap, log/logrus, log/slog). If Logger is nil in Options,
// logging is disabled.
//
// Aliased from the store package so one adapter serves both the facade and
// the store backends.
type Logger = store.Logger

// NopLogger discards everything.
type NopLogger = store.NopLogger
