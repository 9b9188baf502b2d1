package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PARTSTORE_CONFIG_DIR", dir)
	t.Setenv("PARTSTORE_DB", "")
	t.Setenv("PARTSTORE_PARTS_DIR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ProtectionWindowMinutes != DefaultProtectionWindowMinutes {
		t.Fatalf("expected default protection window, got %d", cfg.ProtectionWindowMinutes)
	}
	if cfg.UploadReuseWindowHours != DefaultUploadReuseWindowHours {
		t.Fatalf("expected default reuse window, got %d", cfg.UploadReuseWindowHours)
	}
	if cfg.DBPath == "" || cfg.PartsDir == "" {
		t.Fatalf("expected derived paths, got db=%q parts=%q", cfg.DBPath, cfg.PartsDir)
	}
	if cfg.ProtectionWindow() != 10*time.Minute {
		t.Fatalf("protection window duration mismatch: %s", cfg.ProtectionWindow())
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PARTSTORE_CONFIG_DIR", dir)
	t.Setenv("PARTSTORE_DB", "")
	t.Setenv("PARTSTORE_PARTS_DIR", "")

	content := `
db_path = "/var/lib/partstore/meta.db"
parts_dir = "/var/lib/partstore/parts"
protection_window_minutes = 5
upload_reuse_window_hours = 24

[gc]
trim_on_collect = true
`
	if err := os.WriteFile(filepath.Join(dir, ".partstore.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/var/lib/partstore/meta.db" {
		t.Fatalf("db_path mismatch: %q", cfg.DBPath)
	}
	if cfg.PartsDir != "/var/lib/partstore/parts" {
		t.Fatalf("parts_dir mismatch: %q", cfg.PartsDir)
	}
	if cfg.ProtectionWindowMinutes != 5 || cfg.UploadReuseWindowHours != 24 {
		t.Fatalf("windows mismatch: %+v", cfg)
	}
	if !cfg.GC.TrimOnCollect {
		t.Fatal("gc.trim_on_collect must be set")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PARTSTORE_CONFIG_DIR", dir)
	if err := os.WriteFile(filepath.Join(dir, ".partstore.toml"), []byte(`db_path = "/from/file.db"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PARTSTORE_DB", "/from/env.db")
	t.Setenv("PARTSTORE_PARTS_DIR", "/from/env-parts")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/from/env.db" {
		t.Fatalf("env must win over file: %q", cfg.DBPath)
	}
	if cfg.PartsDir != "/from/env-parts" {
		t.Fatalf("env parts dir must win: %q", cfg.PartsDir)
	}
}

func TestSetKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".partstore.toml")

	if err := SetKey(path, "protection_window_minutes", "20"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	if err := SetKey(path, "gc.trim_on_collect", "true"); err != nil {
		t.Fatalf("set nested key: %v", err)
	}

	var cfg Config
	if err := loadFile(path, &cfg); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.ProtectionWindowMinutes != 20 {
		t.Fatalf("protection window not persisted: %d", cfg.ProtectionWindowMinutes)
	}
	if !cfg.GC.TrimOnCollect {
		t.Fatal("gc.trim_on_collect not persisted")
	}
}

func TestSetKeyRejectsUnknownAndInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".partstore.toml")

	if err := SetKey(path, "nonsense", "1"); err == nil {
		t.Fatal("unknown key must be rejected")
	}
	if err := SetKey(path, "protection_window_minutes", "-3"); err == nil {
		t.Fatal("negative window must be rejected")
	}
	if err := SetKey(path, "gc.trim_on_collect", "maybe"); err == nil {
		t.Fatal("non-boolean must be rejected")
	}
}

func TestGetKnownKeys(t *testing.T) {
	cfg := Default()
	cfg.DBPath = "/x.db"

	for _, key := range AllowedKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
	}
	if _, err := cfg.Get("nope"); err == nil {
		t.Fatal("unknown key must error")
	}
}
