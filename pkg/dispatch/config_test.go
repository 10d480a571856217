package dispatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.HTTPServer.Port != 8080 {
		t.Errorf("HTTPServer.Port = %d, want 8080", cfg.HTTPServer.Port)
	}
	if cfg.Manager.MaxWorkers != 4 {
		t.Errorf("Manager.MaxWorkers = %d, want 4", cfg.Manager.MaxWorkers)
	}
	if cfg.Manager.WorkerTimeout != 2000*time.Millisecond {
		t.Errorf("Manager.WorkerTimeout = %v, want 2s", cfg.Manager.WorkerTimeout)
	}
	if cfg.Worker.BodyCodec != "json" {
		t.Errorf("Worker.BodyCodec = %q, want json", cfg.Worker.BodyCodec)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("manager:\n  max_workers: 16\n  fast_workers: true\nhttp_server:\n  port: 9191\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Manager.MaxWorkers != 16 {
		t.Errorf("Manager.MaxWorkers = %d, want 16", cfg.Manager.MaxWorkers)
	}
	if !cfg.Manager.FastWorkers {
		t.Error("Manager.FastWorkers = false, want true")
	}
	if cfg.HTTPServer.Port != 9191 {
		t.Errorf("HTTPServer.Port = %d, want 9191", cfg.HTTPServer.Port)
	}
	// Defaults not present in the file still apply.
	if cfg.Manager.NumInitWorkers != 1 {
		t.Errorf("Manager.NumInitWorkers = %d, want 1", cfg.Manager.NumInitWorkers)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	os.Setenv("INFERD_MANAGER_MAX_WORKERS", "32")
	defer os.Unsetenv("INFERD_MANAGER_MAX_WORKERS")

	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Manager.MaxWorkers != 32 {
		t.Errorf("Manager.MaxWorkers = %d, want 32 from env override", cfg.Manager.MaxWorkers)
	}
}
