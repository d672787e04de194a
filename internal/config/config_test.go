package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadConfigurationFromFile("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.ServerPort != DefaultServerPort {
		t.Errorf("Expected default port %d, got %d", DefaultServerPort, cfg.ServerPort)
	}
	if cfg.FlushIntervalMillis != DefaultFlushIntervalMillis {
		t.Errorf("Expected default flush interval, got %d", cfg.FlushIntervalMillis)
	}
	if cfg.WALFilePath != "kv.index.wal" {
		t.Errorf("WAL path should derive from the index path, got %q", cfg.WALFilePath)
	}
	if !cfg.PreloadOnOpen {
		t.Error("Preload should default to on")
	}
	if cfg.MaxMemoryKeys != 0 {
		t.Error("Cache should default to unbounded")
	}
}

func TestLoadFile(t *testing.T) {
	content := `{"server_port": 9090, "max_memory_keys": 100, "index_file_path": "custom.index"}`
	tmpfile := filepath.Join(t.TempDir(), "test_config.json")
	os.WriteFile(tmpfile, []byte(content), 0644)

	cfg, err := LoadConfigurationFromFile(tmpfile)
	if err != nil {
		t.Fatalf("Failed to load file: %v", err)
	}

	if cfg.ServerPort != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.ServerPort)
	}
	if cfg.MaxMemoryKeys != 100 {
		t.Errorf("Expected cache cap 100, got %d", cfg.MaxMemoryKeys)
	}
	if cfg.WALFilePath != "custom.index.wal" {
		t.Errorf("WAL path should follow the custom index path, got %q", cfg.WALFilePath)
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("DURAKV_SERVER_PORT", "7171")
	t.Setenv("DURAKV_SYNC_ON_WRITE", "true")

	cfg, err := LoadConfigurationFromFile("")
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	if cfg.ServerPort != 7171 {
		t.Errorf("Environment port override lost, got %d", cfg.ServerPort)
	}
	if !cfg.SyncOnWrite {
		t.Error("Environment bool override lost")
	}
}
