package config

import (
	"path/filepath"
	"testing"
)

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(DataDirEnv, "/tmp/rv-data")
	t.Setenv(CacheDirEnv, "/tmp/rv-cache")
	t.Setenv(GemServerEnv, "https://gems.internal.example")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != "/tmp/rv-data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.CacheDir != "/tmp/rv-cache" {
		t.Errorf("CacheDir = %q", cfg.CacheDir)
	}
	if cfg.GemServer != "https://gems.internal.example" {
		t.Errorf("GemServer = %q", cfg.GemServer)
	}
	if cfg.DownloadWorkers != DefaultDownloadWorkers {
		t.Errorf("DownloadWorkers = %d", cfg.DownloadWorkers)
	}
}

func TestDerivedDirs(t *testing.T) {
	cfg := &Config{DataDir: "/data/rv"}
	if got := cfg.RubiesDir(); got != filepath.Join("/data/rv", "rubies") {
		t.Errorf("RubiesDir = %q", got)
	}
	if got := cfg.ToolPrefix("rails", "7.0.4"); got != filepath.Join("/data/rv", "tools", "rails@7.0.4") {
		t.Errorf("ToolPrefix = %q", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(DataDirEnv, "")
	t.Setenv(CacheDirEnv, "")
	t.Setenv(GemServerEnv, "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GemServer != DefaultGemServer {
		t.Errorf("GemServer = %q", cfg.GemServer)
	}
	if filepath.Base(cfg.DataDir) != "rv" || filepath.Base(cfg.CacheDir) != "rv" {
		t.Errorf("dirs = %q, %q", cfg.DataDir, cfg.CacheDir)
	}
}
