package main

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s failed: %v", path, err)
	}
}

func readYAML(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s failed: %v", path, err)
	}
	var out map[string]interface{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("parse %s failed: %v", path, err)
	}
	return out
}

func TestGenerateAppliesOverridesAndShared(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sandbox_service.yaml"), `
server:
  addr: "0.0.0.0:8090"
  requestTimeout: 2m
logger:
  level: "info"
minio:
  endpoint: "old:9000"
  bucket: "problem-archives"
`)
	writeFile(t, filepath.Join(dir, "cli.yaml"), `
baseURL: "http://127.0.0.1:8090"
operator: "admin"
`)
	writeFile(t, filepath.Join(dir, "profile.yaml"), `
outputDir: "out"
shared:
  httpAddr: "0.0.0.0:9100"
  redisAddr: "redis:6379"
  minio:
    endpoint: "minio:9000"
services:
  sandbox-service:
    base: "sandbox_service.yaml"
    overrides:
      logger:
        level: "debug"
  cli:
    base: "cli.yaml"
    output: "cli-dev.yaml"
`)

	if err := generate(filepath.Join(dir, "profile.yaml"), ""); err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	svc := readYAML(t, filepath.Join(dir, "out", "sandbox_service.yaml"))
	server := svc["server"].(map[string]interface{})
	if server["addr"] != "0.0.0.0:9100" || server["requestTimeout"] != "2m" {
		t.Fatalf("unexpected server section: %v", server)
	}
	if level := svc["logger"].(map[string]interface{})["level"]; level != "debug" {
		t.Fatalf("override lost, level=%v", level)
	}
	minio := svc["minio"].(map[string]interface{})
	if minio["endpoint"] != "minio:9000" || minio["bucket"] != "problem-archives" {
		t.Fatalf("unexpected minio section: %v", minio)
	}
	if addr := svc["redis"].(map[string]interface{})["addr"]; addr != "redis:6379" {
		t.Fatalf("expected redis section to be created, got %v", addr)
	}

	cli := readYAML(t, filepath.Join(dir, "out", "cli-dev.yaml"))
	if cli["baseURL"] != "http://127.0.0.1:9100" || cli["operator"] != "admin" {
		t.Fatalf("unexpected cli config: %v", cli)
	}
}

func TestGenerateRejectsMissingBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "profile.yaml"), `
outputDir: "out"
services:
  cli: {}
`)
	if err := generate(filepath.Join(dir, "profile.yaml"), ""); err == nil {
		t.Fatalf("expected error for service without base")
	}
}

func TestBaseURL(t *testing.T) {
	cases := map[string]string{
		"0.0.0.0:8090":  "http://127.0.0.1:8090",
		"10.0.0.5:8090": "http://10.0.0.5:8090",
		":8090":         "http://127.0.0.1:8090",
		"sandbox.local": "http://sandbox.local",
		"[::]:8090":     "http://127.0.0.1:8090",
	}
	for in, want := range cases {
		if got := baseURL(in); got != want {
			t.Fatalf("baseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
