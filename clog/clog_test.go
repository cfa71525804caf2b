package clog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, level string, opts ...Option) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	logger, err := New(&Config{Level: level, Format: "json", Output: "buffer"}, append(opts, withBuffer(buf))...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return logger, buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

// TestNew 测试 Logger 创建
func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "valid config", config: &Config{Level: "info", Format: "console", Output: "stdout"}},
		{name: "nil config", config: nil},
		{name: "invalid level", config: &Config{Level: "invalid"}, wantErr: true},
		{name: "invalid format", config: &Config{Level: "info", Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger on success")
			}
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newBufferLogger(t, "warn")

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	lines := decodeLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), buf.String())
	}
	if lines[0]["level"] != "WARN" || lines[1]["level"] != "ERROR" {
		t.Errorf("unexpected levels: %v, %v", lines[0]["level"], lines[1]["level"])
	}
}

func TestLoggerSetLevel(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	logger.Debug("hidden")
	if err := logger.SetLevel(DebugLevel); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	logger.Debug("visible")

	lines := decodeLines(t, buf)
	if len(lines) != 1 || lines[0]["msg"] != "visible" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestLoggerFieldsAndNamespace(t *testing.T) {
	logger, buf := newBufferLogger(t, "debug", WithNamespace("filelock"))

	child := logger.WithNamespace("soft").With(String("path", "/tmp/a.lock"))
	child.Info("acquired", Int("counter", 1), Error(errors.New("boom")), Error(nil))

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	line := lines[0]
	if line[NamespaceKey] != "filelock.soft" {
		t.Errorf("namespace = %v", line[NamespaceKey])
	}
	if line["path"] != "/tmp/a.lock" {
		t.Errorf("path = %v", line["path"])
	}
	if line["counter"] != float64(1) {
		t.Errorf("counter = %v", line["counter"])
	}
	if line["err_msg"] != "boom" {
		t.Errorf("err_msg = %v", line["err_msg"])
	}
	if _, ok := line[""]; ok {
		t.Error("nil error field should be dropped")
	}
}

func TestLoggerWith_DerivedLoggerDoesNotMutateSiblings(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")

	base := logger.With(String("a", "1"))
	left := base.With(String("b", "2"))
	right := base.With(String("c", "3"))
	left.Info("left")
	right.Info("right")

	lines := decodeLines(t, buf)
	if _, ok := lines[1]["b"]; ok {
		t.Error("right logger leaked field from left logger")
	}
	if lines[1]["c"] != "3" || lines[1]["a"] != "1" {
		t.Errorf("unexpected right fields: %v", lines[1])
	}
}

func TestLoggerWithContext(t *testing.T) {
	type ctxKey string
	logger, buf := newBufferLogger(t, "info", WithContextField(ctxKey("holder"), "holder"))

	ctx := context.WithValue(context.Background(), ctxKey("holder"), "h-1")
	logger.InfoContext(ctx, "with holder")
	logger.InfoContext(context.Background(), "without holder")

	lines := decodeLines(t, buf)
	if lines[0]["holder"] != "h-1" {
		t.Errorf("holder = %v", lines[0]["holder"])
	}
	if _, ok := lines[1]["holder"]; ok {
		t.Error("holder should be absent when ctx has no value")
	}
}

func TestErrorWithCodeField(t *testing.T) {
	logger, buf := newBufferLogger(t, "info")
	logger.Error("failed", ErrorWithCode(errors.New("busy"), "timeout"))

	lines := decodeLines(t, buf)
	group, ok := lines[0]["error"].(map[string]any)
	if !ok {
		t.Fatalf("error group missing: %v", lines[0])
	}
	if group["code"] != "timeout" || group["msg"] != "busy" {
		t.Errorf("unexpected error group: %v", group)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"Warn", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"verbose", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
		if !tt.wantErr && levelFromSlog(got.slogLevel()) != got {
			t.Errorf("slog level round trip failed for %v", got)
		}
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.With(String("k", "v")).WithNamespace("x").Info("nothing")
	if err := logger.SetLevel(DebugLevel); err != nil {
		t.Errorf("SetLevel() error = %v", err)
	}
	logger.Flush()
}
