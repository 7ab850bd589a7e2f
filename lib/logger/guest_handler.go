// Package logger provides slog context helpers and per-guest log files.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// GuestKey is the attribute that routes a record to a guest log file.
const GuestKey = "guest"

// GuestLogHandler wraps an slog.Handler and additionally appends records
// carrying a "guest" attribute to that guest's synth.log.
//
// Shared state across WithAttrs/WithGroup follows the slog handler guide:
// https://pkg.go.dev/golang.org/x/example/slog-handler-guide
type GuestLogHandler struct {
	slog.Handler
	logPathFunc func(guest string) (string, error)
	preAttrs    []slog.Attr
}

// NewGuestLogHandler wraps the given handler. logPathFunc maps a guest name
// to its log file; an error skips the per-guest write.
func NewGuestLogHandler(wrapped slog.Handler, logPathFunc func(guest string) (string, error)) *GuestLogHandler {
	return &GuestLogHandler{
		Handler:     wrapped,
		logPathFunc: logPathFunc,
	}
}

// Handle passes the record to the wrapped handler, then to the guest log.
func (h *GuestLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}

	var guest string
	for _, a := range h.preAttrs {
		if a.Key == GuestKey {
			guest = a.Value.String()
			break
		}
	}
	// record attrs override pre-bound ones
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == GuestKey {
			guest = a.Value.String()
			return false
		}
		return true
	})

	if guest != "" {
		h.writeToGuestLog(guest, r)
	}
	return nil
}

// formatLine renders "timestamp LEVEL message key=value ..." without the guest attr.
func (h *GuestLogHandler) formatLine(r slog.Record) string {
	var b strings.Builder
	b.WriteString(r.Time.Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(r.Level.String())
	b.WriteByte(' ')
	b.WriteString(r.Message)

	write := func(a slog.Attr) {
		if a.Key == GuestKey {
			return
		}
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	for _, a := range h.preAttrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})
	b.WriteByte('\n')
	return b.String()
}

func (h *GuestLogHandler) writeToGuestLog(guest string, r slog.Record) {
	logPath, err := h.logPathFunc(guest)
	if err != nil || logPath == "" {
		return
	}

	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		// package-level slog has no guest attr, so this does not recurse
		slog.Warn("failed to create guest log directory", "path", dir, "error", err)
		return
	}

	// open per write so nothing is cached across guests
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Warn("failed to open guest log file", "path", logPath, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(h.formatLine(r)); err != nil {
		slog.Warn("failed to write guest log file", "path", logPath, "error", err)
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *GuestLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.Handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes.
// Attrs are tracked locally so a guest bound via With() is still found.
func (h *GuestLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newPreAttrs := make([]slog.Attr, len(h.preAttrs), len(h.preAttrs)+len(attrs))
	copy(newPreAttrs, h.preAttrs)
	newPreAttrs = append(newPreAttrs, attrs...)

	return &GuestLogHandler{
		Handler:     h.Handler.WithAttrs(attrs),
		logPathFunc: h.logPathFunc,
		preAttrs:    newPreAttrs,
	}
}

// WithGroup returns a new handler with the given group name.
// Guest names are only looked up at the top level.
func (h *GuestLogHandler) WithGroup(name string) slog.Handler {
	return &GuestLogHandler{
		Handler:     h.Handler.WithGroup(name),
		logPathFunc: h.logPathFunc,
		preAttrs:    h.preAttrs,
	}
}
