package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	var l Logger = New(&buf, "warn")
	l.Info("hidden")
	l.Error("shown", "offset", "0x088")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "offset=0x088") {
		t.Fatalf("unexpected log output: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("ParseLevel mismatch")
	}
	OrNop(nil).Info("no panic")
}
