package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: HumanFormat, Level: WarnLevel, Output: &buf})

	logger.Debug("debug msg", nil)
	logger.Info("info msg", nil)
	logger.Warn("warn msg", nil)
	logger.Error("error msg", nil)

	out := buf.String()
	if strings.Contains(out, "debug msg") || strings.Contains(out, "info msg") {
		t.Errorf("below-threshold messages logged:\n%s", out)
	}
	if !strings.Contains(out, "warn msg") || !strings.Contains(out, "error msg") {
		t.Errorf("at-threshold messages missing:\n%s", out)
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: JSONFormat, Level: InfoLevel, Output: &buf})

	logger.Info("indexing started", map[string]interface{}{"chunks": 42})

	var entry struct {
		Timestamp string                 `json:"timestamp"`
		Level     string                 `json:"level"`
		Message   string                 `json:"message"`
		Fields    map[string]interface{} `json:"fields"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if entry.Level != "info" || entry.Message != "indexing started" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Fields["chunks"] != float64(42) {
		t.Errorf("fields = %v", entry.Fields)
	}
	if entry.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestHumanOutputSortsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: HumanFormat, Level: InfoLevel, Output: &buf})

	logger.Info("run complete", map[string]interface{}{
		"vectors":  10,
		"embedded": 3,
		"removed":  1,
	})

	out := buf.String()
	i, j, k := strings.Index(out, "embedded="), strings.Index(out, "removed="), strings.Index(out, "vectors=")
	if i < 0 || j < 0 || k < 0 {
		t.Fatalf("fields missing:\n%s", out)
	}
	if !(i < j && j < k) {
		t.Errorf("fields not sorted:\n%s", out)
	}
}

func TestWithAttachesBaseFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Format: JSONFormat, Level: InfoLevel, Output: &buf})

	child := logger.With(map[string]interface{}{"component": "watcher"})
	child.Info("started", map[string]interface{}{"root": "/src"})

	var entry struct {
		Fields map[string]interface{} `json:"fields"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.Fields["component"] != "watcher" {
		t.Errorf("base field missing: %v", entry.Fields)
	}
	if entry.Fields["root"] != "/src" {
		t.Errorf("call field missing: %v", entry.Fields)
	}

	// The parent is unaffected.
	buf.Reset()
	logger.Info("parent", nil)
	if strings.Contains(buf.String(), "component") {
		t.Errorf("With mutated the parent logger:\n%s", buf.String())
	}

	// Call-site fields override base fields.
	buf.Reset()
	child.Info("override", map[string]interface{}{"component": "indexer"})
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.Fields["component"] != "indexer" {
		t.Errorf("call field did not override base: %v", entry.Fields)
	}
}
