package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger is the global logger instance configured for the application.
var Logger *slog.Logger

// InitLogger configures the global logger with a console handler suited to a
// one-shot CLI: a colored level tag followed by the message and any attrs.
func InitLogger(level string, w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	handler := &consoleHandler{
		w:     w,
		mu:    &sync.Mutex{},
		level: parseLevel(level),
	}
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// GetLogger returns the global logger instance.
func GetLogger() *slog.Logger {
	return Logger
}

// Section prints a banner separating the major phases of a run.
func Section(w io.Writer, title string) {
	if w == nil {
		w = os.Stdout
	}
	bar := strings.Repeat("=", 42)
	fmt.Fprintf(w, "\n%s\n%s\n%s\n\n", bar, title, bar)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

const (
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorRed    = "\033[0;31m"
	colorBlue   = "\033[0;34m"
	colorReset  = "\033[0m"
)

type consoleHandler struct {
	w     io.Writer
	mu    *sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	var sb strings.Builder
	sb.WriteString(levelTag(record.Level))
	sb.WriteByte(' ')
	sb.WriteString(record.Message)

	for _, attr := range h.attrs {
		writeAttr(&sb, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&sb, attr)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &consoleHandler{
		w:     h.w,
		mu:    h.mu,
		level: h.level,
		attrs: merged,
	}
}

func (h *consoleHandler) WithGroup(string) slog.Handler {
	return h
}

func writeAttr(sb *strings.Builder, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(attr.Key)
	sb.WriteByte('=')
	sb.WriteString(attr.Value.String())
}

func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed + "[ERROR]" + colorReset
	case level >= slog.LevelWarn:
		return colorYellow + "[WARN]" + colorReset
	case level >= slog.LevelInfo:
		return colorGreen + "[INFO]" + colorReset
	default:
		return colorBlue + "[DEBUG]" + colorReset
	}
}
