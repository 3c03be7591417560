// Package logging is the process-wide structured logger, built on
// log/slog. Packages grab a component-tagged logger at import time with
// L("component"); once the process has parsed its configuration, Init
// swaps the sink underneath every logger already handed out, so the
// var-initialization ordering between packages and main never matters.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Field keys shared across packages so log queries can correlate one
// session's (or one user's) records regardless of which component wrote
// them.
const (
	KeyComponent = "component"
	KeySessionID = "sessionId"
	KeyUserID    = "userId"
)

// sink holds the handler every logger in the process routes through.
// Init replaces it; loggers created earlier keep working because they
// only hold indirection (deferredHandler) to it, never the handler
// itself.
var sink atomic.Pointer[slog.Handler]

func init() {
	var h slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	sink.Store(&h)
	slog.SetDefault(slog.New(deferredHandler{}))
}

// deferredHandler resolves the process sink at every call instead of
// capturing it at construction. With/WithGroup state accumulates in the
// chain slice and is replayed onto the current sink per record, keeping
// the type a valid slog.Handler while the sink stays swappable.
type deferredHandler struct {
	chain []chainLink
}

type chainLink struct {
	attrs []slog.Attr
	group string
}

func (d deferredHandler) resolve() slog.Handler {
	h := *sink.Load()
	for _, link := range d.chain {
		if link.group != "" {
			h = h.WithGroup(link.group)
		}
		if len(link.attrs) > 0 {
			h = h.WithAttrs(link.attrs)
		}
	}
	return h
}

func (d deferredHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return d.resolve().Enabled(ctx, level)
}

func (d deferredHandler) Handle(ctx context.Context, record slog.Record) error {
	return d.resolve().Handle(ctx, record)
}

func (d deferredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	chain := make([]chainLink, len(d.chain), len(d.chain)+1)
	copy(chain, d.chain)
	return deferredHandler{chain: append(chain, chainLink{attrs: attrs})}
}

func (d deferredHandler) WithGroup(name string) slog.Handler {
	chain := make([]chainLink, len(d.chain), len(d.chain)+1)
	copy(chain, d.chain)
	return deferredHandler{chain: append(chain, chainLink{group: name})}
}

// Init installs the configured sink: format "json" or "text" (anything
// else means text), level one of debug/info/warn/error (default info),
// output defaulting to stdout. Loggers obtained from L before this call
// start writing through the new sink immediately.
func Init(format, level string, output io.Writer) {
	if output == nil {
		output = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(output, opts)
	} else {
		h = slog.NewTextHandler(output, opts)
	}
	sink.Store(&h)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns a logger tagged with the given component name, safe to call
// from package var initializers.
func L(component string) *slog.Logger {
	return slog.New(deferredHandler{}).With(slog.String(KeyComponent, component))
}

// WithSession tags a logger with session (and, when known, user)
// correlation fields.
func WithSession(logger *slog.Logger, sessionID, userID string) *slog.Logger {
	if userID == "" {
		return logger.With(slog.String(KeySessionID, sessionID))
	}
	return logger.With(slog.String(KeySessionID, sessionID), slog.String(KeyUserID, userID))
}
