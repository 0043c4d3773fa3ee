package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsUsableGeometry(t *testing.T) {
	cfg := Default()
	if cfg.Cache.PageSize&(cfg.Cache.PageSize-1) != 0 {
		t.Fatalf("default page size %d is not a power of two", cfg.Cache.PageSize)
	}
	if cfg.Cache.PageSize < cfg.Cache.BlockSize {
		t.Fatalf("default page size %d smaller than block size %d", cfg.Cache.PageSize, cfg.Cache.BlockSize)
	}
	if cfg.Device.Kind != "mem" {
		t.Fatalf("Device.Kind = %q, want mem", cfg.Device.Kind)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.yaml")
	body := `
cache:
  length: 1048576
  page_size: 8192
  block_size: 1024
device:
  kind: file
  path: /tmp/blocks.img
server:
  http_addr: ":9000"
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.PageSize != 8192 {
		t.Fatalf("Cache.PageSize = %d, want 8192", cfg.Cache.PageSize)
	}
	if cfg.Device.Kind != "file" || cfg.Device.Path != "/tmp/blocks.img" {
		t.Fatalf("Device = %+v, want kind=file path=/tmp/blocks.img", cfg.Device)
	}
	if cfg.Server.HTTPAddr != ":9000" {
		t.Fatalf("Server.HTTPAddr = %q, want :9000", cfg.Server.HTTPAddr)
	}
	// Fields the fixture didn't mention keep their defaults.
	if cfg.Server.MaintenanceCron != Default().Server.MaintenanceCron {
		t.Fatalf("MaintenanceCron = %q, want default preserved", cfg.Server.MaintenanceCron)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatal("expected an error loading a nonexistent config file")
	}
}
