package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func newTestHandler(buf *bytes.Buffer, level slog.Level) *consoleHandler {
	return &consoleHandler{w: buf, mu: &sync.Mutex{}, level: level}
}

func TestHandlerFormatsLevelTagAndAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(newTestHandler(&buf, slog.LevelDebug))

	logger.Info("configuring bridge", slog.String("bridge", "br-abc"), slog.Int("rules", 3))

	out := buf.String()
	if !strings.Contains(out, "[INFO]") {
		t.Errorf("missing level tag: %q", out)
	}
	if !strings.Contains(out, "configuring bridge bridge=br-abc rules=3") {
		t.Errorf("unexpected format: %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("missing trailing newline: %q", out)
	}
}

func TestHandlerRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(newTestHandler(&buf, slog.LevelWarn))

	logger.Info("should be suppressed")
	logger.Debug("also suppressed")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Errorf("sub-level records written: %q", out)
	}
	if !strings.Contains(out, "[WARN]") || !strings.Contains(out, "kept") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestHandlerWithAttrs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(newTestHandler(&buf, slog.LevelInfo))

	logger.With(slog.String("component", "iptables")).Info("rule applied", slog.String("chain", "FORWARD"))

	if !strings.Contains(buf.String(), "rule applied component=iptables chain=FORWARD") {
		t.Errorf("bound attrs not rendered: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "warning", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "bogus", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSection(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	Section(&buf, "network topology")

	out := buf.String()
	if !strings.Contains(out, "network topology") {
		t.Errorf("missing title: %q", out)
	}
	if strings.Count(out, strings.Repeat("=", 42)) != 2 {
		t.Errorf("expected two banner bars: %q", out)
	}
}
