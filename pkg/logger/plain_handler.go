package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// plainHandler prints the message prefixed by the intention icon and appends
// key=value pairs, without time/level decorations.
type plainHandler struct {
	w       io.Writer
	attrs   []slog.Attr
	mu      *sync.Mutex
	leveler slog.Leveler
}

func newPlainHandler(w io.Writer, leveler slog.Leveler) slog.Handler {
	return &plainHandler{w: w, leveler: leveler, mu: &sync.Mutex{}}
}

// consoleHiddenKeys are meta fields kept out of console lines.
var consoleHiddenKeys = map[string]bool{
	"intention": true,
	"time":      true,
	"level":     true,
	"msg":       true,
	"component": true,
}

// Enabled implements slog.Handler by checking level
func (h *plainHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	if h.leveler == nil {
		return true
	}
	return lvl >= h.leveler.Level()
}

// Handle prints the message and key=value pairs without time/level prefixes
func (h *plainHandler) Handle(_ context.Context, r slog.Record) error {
	var flat []slog.Attr
	for _, a := range h.attrs {
		flat = appendFlattened(flat, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		flat = appendFlattened(flat, a)
		return true
	})

	intention := ""
	for _, a := range flat {
		if a.Key == "intention" {
			intention = a.Value.String()
		}
	}

	var b strings.Builder
	if intention != "" {
		b.WriteString(iconFor(Intention(intention)))
		b.WriteByte(' ')
	}
	b.WriteString(r.Message)
	for _, a := range flat {
		if consoleHiddenKeys[a.Key] {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, b.String())
	return err
}

func appendFlattened(dst []slog.Attr, a slog.Attr) []slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		return append(dst, a.Value.Group()...)
	}
	return append(dst, a)
}

// WithAttrs returns a new handler with additional attributes bound
func (h *plainHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

// WithGroup groups attributes; for plain output we encode as a group attr
func (h *plainHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), slog.Group(name))
	return &nh
}
