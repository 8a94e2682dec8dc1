package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	initWithWriter(&buf, "warn")
	t.Cleanup(func() { initWithWriter(&bytes.Buffer{}, "info") })

	Debug("debug %d", 1)
	Info("info %d", 2)
	Warn("warn %d", 3)
	Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("messages below warn leaked: %s", out)
	}
	if !strings.Contains(out, "warn 3") || !strings.Contains(out, "error 4") {
		t.Errorf("expected warn and error lines, got: %s", out)
	}
}

func TestSetField(t *testing.T) {
	var buf bytes.Buffer
	initWithWriter(&buf, "debug")
	t.Cleanup(func() { initWithWriter(&bytes.Buffer{}, "info") })

	SetField("run_id", "abc123")
	Info("cycle started")

	if !strings.Contains(buf.String(), `"run_id":"abc123"`) {
		t.Errorf("run_id field missing: %s", buf.String())
	}
}

func TestSetFieldReplacesValue(t *testing.T) {
	var buf bytes.Buffer
	initWithWriter(&buf, "info")
	t.Cleanup(func() { initWithWriter(&bytes.Buffer{}, "info") })

	SetField("run_id", "run1")
	SetField("run_id", "run2")
	SetField("run_id", "run3")
	buf.Reset()
	Info("cycle")

	line := buf.String()
	if n := strings.Count(line, `"run_id"`); n != 1 {
		t.Fatalf("expected one run_id field, got %d: %s", n, line)
	}
	if !strings.Contains(line, `"run_id":"run3"`) {
		t.Errorf("expected latest run_id, got: %s", line)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "debug",
		"INFO":    "info",
		"warn":    "warn",
		"error":   "error",
		"verbose": "info",
	}
	for in, want := range tests {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
