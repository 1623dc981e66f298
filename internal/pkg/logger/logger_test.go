package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestNewRejectsUnknownSettings(t *testing.T) {
	tests := []struct {
		name string
		cfg  LogConfig
	}{
		{"bad level", LogConfig{Level: "loud"}},
		{"bad format", LogConfig{Format: "xml"}},
		{"bad output", LogConfig{Output: "socket"}},
		{"file without path", LogConfig{Output: "file"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Errorf("Expected error for %+v", tt.cfg)
			}
		})
	}
}

func TestNewFileOutput(t *testing.T) {
	log, err := New(LogConfig{Level: "debug", Output: "file", File: filepath.Join(t.TempDir(), "app.log")})
	if err != nil {
		t.Fatalf("Failed to create file logger: %v", err)
	}
	log.Info("written to file", "k", "v")
}

func TestKeyValueFields(t *testing.T) {
	log, err := New(LogConfig{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	var buf bytes.Buffer
	log.base.SetOutput(&buf)

	log.With("session_id", "s-1").Info("Stage changed", "stage", "researching", "dangling")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q", buf.String())
	}

	if entry["session_id"] != "s-1" {
		t.Errorf("Expected bound session_id, got %v", entry["session_id"])
	}
	if entry["stage"] != "researching" {
		t.Errorf("Expected stage field, got %v", entry["stage"])
	}
	if entry["dangling"] != "MISSING" {
		t.Errorf("Expected odd key to be marked MISSING, got %v", entry["dangling"])
	}
}

func TestLogServiceLevels(t *testing.T) {
	log, _ := New(LogConfig{Level: "debug"})
	var buf bytes.Buffer
	log.base.SetOutput(&buf)

	log.LogService("redis", "get", 5*time.Millisecond, map[string]interface{}{"key": "k"}, errors.New("boom"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q", buf.String())
	}
	if entry["level"] != "error" {
		t.Errorf("Expected error level, got %v", entry["level"])
	}
	if entry["service"] != "redis" || entry["key"] != "k" {
		t.Errorf("Expected service and custom fields, got %v", entry)
	}
}
