package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewMultiCore_Development(t *testing.T) {
	var consoleBuf, fileBuf bytes.Buffer

	core := NewMultiCore(zapcore.InfoLevel, zapcore.AddSync(&consoleBuf), zapcore.AddSync(&fileBuf), true)
	logger := zap.New(core)
	logger.Info("request sent", zap.Int("index", 3))
	_ = logger.Sync()

	if strings.HasPrefix(strings.TrimSpace(consoleBuf.String()), "{") {
		t.Errorf("development console output should not be JSON: %q", consoleBuf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(fileBuf.Bytes(), &entry); err != nil {
		t.Fatalf("file output is not JSON: %v", err)
	}
	if entry["index"] != float64(3) {
		t.Errorf("index = %v, want 3", entry["index"])
	}
}

func TestNewMultiCore_ProductionLevelFiltering(t *testing.T) {
	var consoleBuf, fileBuf bytes.Buffer

	core := NewMultiCore(zapcore.WarnLevel, zapcore.AddSync(&consoleBuf), zapcore.AddSync(&fileBuf), false)
	logger := zap.New(core)
	logger.Info("filtered")
	logger.Warn("kept")
	_ = logger.Sync()

	for name, buf := range map[string]*bytes.Buffer{"console": &consoleBuf, "file": &fileBuf} {
		out := buf.String()
		if strings.Contains(out, "filtered") {
			t.Errorf("%s output contains info entry below warn level", name)
		}
		if !strings.Contains(out, `"message":"kept"`) {
			t.Errorf("%s output = %q, want JSON warn entry", name, out)
		}
	}
}
