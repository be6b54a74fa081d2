package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_Environments(t *testing.T) {
	tests := []struct {
		env     string
		wantErr bool
		debug   bool
	}{
		{"prod", false, false},
		{"local", false, true},
		{"dev", false, true},
		{"staging", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			l, err := NewLogger(tt.env, Options{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}
			if got := l.Core().Enabled(zapcore.DebugLevel); got != tt.debug {
				t.Errorf("debug enabled = %v, want %v", got, tt.debug)
			}
		})
	}
}

func TestNewLogger_LevelOverride(t *testing.T) {
	l, err := NewLogger("local", Options{Level: "warn"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if l.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}

	if _, err := NewLogger("local", Options{Level: "loud"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNewLogger_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	l, err := NewLogger("prod", Options{File: &FileOptions{Path: path, MaxSizeMB: 1}})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	l.Info("feed polled", zap.String("source", "reuters"))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(data))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", line)
	}
	if entry["msg"] != "feed polled" || entry["source"] != "reuters" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Errorf("missing timestamp key: %v", entry)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected nop logger")
	}
	l := zap.NewExample()
	if got := FromContext(ContextWithLogger(context.Background(), l)); got != l {
		t.Error("expected stored logger")
	}
}
