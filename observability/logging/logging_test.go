package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestHandlerRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("hello", "component", "clearing")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "component"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing %q in %v", key, line)
		}
	}
	if line["severity"] != "INFO" || line["message"] != "hello" {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, ParseLevel("warn")))
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info emitted at warn level: %s", buf.String())
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unknown level should default to info")
	}
}

func TestSetupWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "clearingd.log")
	logger, err := SetupWithOptions("clearingd", "test", Options{Level: "debug", File: &FileOptions{Path: path, MaxSizeMB: 1}})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	logger.Debug("written")
}

func TestMaskField(t *testing.T) {
	if got := MaskField("authorization", "Bearer abc"); got.Value.String() != RedactedValue {
		t.Fatalf("authorization not redacted: %v", got)
	}
	if got := MaskField("operation", "write"); got.Value.String() != "write" {
		t.Fatalf("allowlisted key redacted: %v", got)
	}
}
