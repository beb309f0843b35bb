package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FileName != "my_weektodo_data.json" || cfg.FolderName != "wurk2do-tasks" {
		t.Errorf("unexpected names %+v", cfg)
	}
	if cfg.AutoSyncInterval != 8*time.Hour {
		t.Errorf("expected 8h auto-sync, got %s", cfg.AutoSyncInterval)
	}
	if cfg.MimeType != "application/json" || cfg.EncryptionSalt != "wurk2do-encryption-salt-v1" || cfg.KDFIterations != 100000 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if !cfg.UseFolder || cfg.WireFormat != "plain" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "folder_name: planner\nauto_sync_interval: 30m\nwire_format: envelope\ncompress: true\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FolderName != "planner" || cfg.AutoSyncInterval != 30*time.Minute {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.WireFormat != "envelope" || !cfg.Compress {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.FileName != "my_weektodo_data.json" {
		t.Errorf("expected default file name kept, got %q", cfg.FileName)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WURK2DO_FILE_NAME", "env.json")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FileName != "env.json" {
		t.Errorf("expected env override, got %q", cfg.FileName)
	}
}

func TestLoadRejectsInvalidInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("auto_sync_interval: 0s\n"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.FolderName = "elsewhere"
	cfg.AutoSyncInterval = 2 * time.Hour

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	b, _ := os.ReadFile(path)
	if !strings.Contains(string(b), "auto_sync_interval: 2h0m0s") {
		t.Errorf("expected duration string in yaml, got:\n%s", b)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.FolderName != "elsewhere" || loaded.AutoSyncInterval != 2*time.Hour {
		t.Errorf("unexpected reloaded config %+v", loaded)
	}
}
