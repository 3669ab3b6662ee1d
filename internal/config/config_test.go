package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Production != DefaultProductionConfig() {
		t.Fatalf("expected default production config, got %+v", cfg.Production)
	}
	if cfg.Server.Port != 8082 || cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", cfg.Database.Driver)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PRODUCTION_DEFAULT_BATCH_CAPACITY", "250")
	t.Setenv("PRODUCTION_AUTO_BIND_SPOOL", "false")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Production.DefaultBatchCapacity != 250 {
		t.Fatalf("expected capacity 250, got %v", cfg.Production.DefaultBatchCapacity)
	}
	if cfg.Production.AutoBindSpool {
		t.Fatal("expected auto bind disabled")
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.Database.Driver)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "configs"), 0o755); err != nil {
		t.Fatal(err)
	}
	yaml := "production:\n  default_batch_capacity: 75\n  label_prefix: SPL\nlog:\n  format: json\n"
	if err := os.WriteFile(filepath.Join(dir, "configs", "config.yaml"), []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Production.DefaultBatchCapacity != 75 || cfg.Production.LabelPrefix != "SPL" {
		t.Fatalf("file values not applied: %+v", cfg.Production)
	}
	// 文件未设置的项保持默认
	if cfg.Production.BatchPrefix != "ROLL" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected merge result: %+v %+v", cfg.Production, cfg.Log)
	}
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("NIMO_PRINT_TEST_KEY", "")
	if got := GetEnvOrDefault("NIMO_PRINT_TEST_KEY", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("NIMO_PRINT_TEST_KEY", "set")
	if got := GetEnvOrDefault("NIMO_PRINT_TEST_KEY", "fallback"); got != "set" {
		t.Fatalf("expected set, got %q", got)
	}
}
