package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/cli/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "cli.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.BaseURL != config.DefaultBaseURL || cfg.Timeout != config.DefaultTimeout || cfg.PrettyJSON == nil || !*cfg.PrettyJSON {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cli.yaml")
	body := "baseURL: \"http://sandbox:9000\"\ntimeout: 30s\noperator: \"7\"\nprettyJSON: false\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.BaseURL != "http://sandbox:9000" || cfg.Timeout != 30*time.Second || cfg.Operator != "7" || *cfg.PrettyJSON {
		t.Fatalf("overrides lost: %+v", cfg)
	}
	if cfg.HistoryPath != config.DefaultHistoryPath {
		t.Fatalf("expected default history path")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cli.yaml")
	if err := os.WriteFile(path, []byte("timeout: [\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
