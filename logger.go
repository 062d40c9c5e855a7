package gpures

import (
	"log/slog"
	"sync/atomic"
)

// silent discards every record; its handler reports every level disabled,
// so log call sites skip building attributes.
var silent = slog.New(slog.DiscardHandler)

// current is read by pool and shader sweep goroutines while the owner may
// swap it, so it lives behind an atomic pointer.
var current atomic.Pointer[slog.Logger]

func init() { current.Store(silent) }

// SetLogger routes log output of gpures and its sub-packages to l.
// Nothing is logged until SetLogger is called; a nil l silences output again.
//
// Levels:
//   - [slog.LevelDebug]: allocations, reuse hits, evictions, compiles
//   - [slog.LevelInfo]: lifecycle events such as a monitor-triggered shrink
//   - [slog.LevelWarn]: tolerated misuse, for example releasing a handle the
//     pool never handed out
//
// To see pool traffic on stderr:
//
//	gpures.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = silent
	}
	current.Store(l)
}

// Logger returns the logger installed with SetLogger.
func Logger() *slog.Logger {
	return current.Load()
}
