package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultFileWriterConfig(t *testing.T) {
	cfg := DefaultFileWriterConfig()
	if cfg.MaxSizeMB != DefaultMaxSizeMB || cfg.MaxBackups != DefaultMaxBackups || cfg.MaxAgeDays != DefaultMaxAgeDays {
		t.Errorf("DefaultFileWriterConfig() = %+v", cfg)
	}
	if !cfg.Compress {
		t.Error("Compress should default to true")
	}
}

func TestApplyFileWriterDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   FileWriterConfig
		want FileWriterConfig
	}{
		{
			name: "zero values get defaults",
			in:   FileWriterConfig{},
			want: FileWriterConfig{MaxSizeMB: DefaultMaxSizeMB, MaxBackups: DefaultMaxBackups, MaxAgeDays: DefaultMaxAgeDays},
		},
		{
			name: "negative values get defaults",
			in:   FileWriterConfig{MaxSizeMB: -1, MaxBackups: -1, MaxAgeDays: -1, Compress: true},
			want: FileWriterConfig{MaxSizeMB: DefaultMaxSizeMB, MaxBackups: DefaultMaxBackups, MaxAgeDays: DefaultMaxAgeDays, Compress: true},
		},
		{
			name: "explicit values kept",
			in:   FileWriterConfig{MaxSizeMB: 5, MaxBackups: 1, MaxAgeDays: 2},
			want: FileWriterConfig{MaxSizeMB: 5, MaxBackups: 1, MaxAgeDays: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := applyFileWriterDefaults(tt.in); got != tt.want {
				t.Errorf("applyFileWriterDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewFileWriterWithConfig_CreatesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotate.log")
	w := NewFileWriterWithConfig(path, FileWriterConfig{MaxSizeMB: 1})

	if _, err := w.Write([]byte("line\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "line\n" {
		t.Errorf("file content = %q", data)
	}
}
