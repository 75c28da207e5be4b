package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "turboshare", "warn")

	logger.Info("hidden")
	logger.Warn("shown", "peer_id", "A1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line written at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "app=turboshare") || !strings.Contains(out, "peer_id=A1") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestPionFactory(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "turboshare", "debug")
	pl := PionFactory{Logger: logger}.NewLogger("ice")

	pl.Warnf("candidate %d failed", 3)
	pl.Debug("gathering")

	out := buf.String()
	if !strings.Contains(out, "candidate 3 failed") {
		t.Errorf("missing warn line: %s", out)
	}
	if !strings.Contains(out, "scope=pion/ice") {
		t.Errorf("missing scope attribute: %s", out)
	}
	if !strings.Contains(out, "gathering") {
		t.Errorf("missing debug line: %s", out)
	}
}
