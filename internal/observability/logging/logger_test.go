package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/config"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	l.Info("hello", "key", "value")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected valid JSON line, got error: %v (line: %s)", err, buf.String())
	}
	if record["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", record["msg"])
	}
	if record["key"] != "value" {
		t.Errorf("key = %v, want value", record["key"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestWithAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	scoped := base.With("component", "mqtt")
	scoped.Info("connected")

	if !strings.Contains(buf.String(), `"component":"mqtt"`) {
		t.Errorf("expected scoped attribute in output, got: %s", buf.String())
	}
}

func TestDefaultDoesNotPanic(t *testing.T) {
	l := Default()
	if l == nil || l.Logger == nil {
		t.Fatal("Default() returned a nil logger")
	}
}

func TestNewRespectsOutputAndFormat(t *testing.T) {
	l := New(config.LoggingConfig{Level: "debug", Format: "text", Output: "stdout"}, "1.2.3")
	if l == nil {
		t.Fatal("New returned nil")
	}
}
