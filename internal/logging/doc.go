// Package logging provides structured logging for the pacer scheduler.
//
// This package wraps Go's log/slog to provide JSON-formatted logs. It is the
// scheduler's optional diagnostic sink: every component accepts a *Logger and
// falls back to [NopLogger] when none is supplied, so the core degrades to
// silent operation.
//
// # Tiers
//
// The scheduler reports through three tiers:
//
//   - [Logger.Critical]: callback failures and discarded persisted state
//   - [Logger.Info]: lifecycle (restore, save, config reload)
//   - [Logger.Debug]: per-pass details (budget denials, drops, evictions)
//
// Warn and Error are also available for host code. CRITICAL is a custom slog
// level above ERROR and renders as "CRITICAL" in the JSON output.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/state", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	dirtyLog := logger.WithComponent("dirty")
//	dirtyLog.Debug("pass complete", "processed", 5, "remaining", 7)
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package logging
