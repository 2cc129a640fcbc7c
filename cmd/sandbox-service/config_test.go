package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sandbox_service.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
minio:
  endpoint: "127.0.0.1:9000"
  accessKey: "minio"
  secretKey: "minio123"
  bucket: "problem-archives"
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Server.RequestTimeout != defaultRequestTimeout {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Build.Bucket != "problem-archives" || cfg.Build.Timeout != defaultBuildTimeout {
		t.Fatalf("unexpected build defaults: %+v", cfg.Build)
	}
	if cfg.Port.Min != 30000 || cfg.Port.Max != 40000 || cfg.Port.Attempts != 20 || cfg.Port.MaxRetries != 3 {
		t.Fatalf("unexpected port defaults: %+v", cfg.Port)
	}
	if cfg.Provision.DefaultExposedPort != "22/tcp" || cfg.Provision.LockWait != defaultLockWait {
		t.Fatalf("unexpected provision defaults: %+v", cfg.Provision)
	}
	if cfg.Reconcile.Schedule != "@every 1m" || cfg.Kafka.Topic != defaultEventTopic {
		t.Fatalf("unexpected reconcile or kafka defaults")
	}
	if cfg.Redis.PoolSize != 0 {
		t.Fatalf("redis defaults must not apply without an addr")
	}
	if cfg.Server.RateLimit.Enabled() || cfg.Server.RateLimit.Window != defaultRateWindow {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.Server.RateLimit)
	}
}

func TestLoadAppConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9999"
  requestTimeout: 45s
  rateLimit:
    userMax: 5
    window: 30s
minio:
  endpoint: "127.0.0.1:9000"
  accessKey: "minio"
  secretKey: "minio123"
redis:
  addr: "127.0.0.1:6379"
kafka:
  brokers: ["127.0.0.1:9092"]
  requiredAcks: -1
  compression: zstd
port:
  min: 31000
  max: 31010
  maxRetries: -1
credential:
  mode: simple
build:
  bucket: "archives"
  maxConcurrent: 2
provision:
  fallbackCommand: "/usr/sbin/sshd -D"
reconcile:
  schedule: "*/5 * * * *"
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" || cfg.Server.RequestTimeout != 45*time.Second {
		t.Fatalf("server overrides lost: %+v", cfg.Server)
	}
	if rl := cfg.Server.RateLimit; !rl.Enabled() || rl.UserMax != 5 || rl.Window != 30*time.Second || rl.RedisTimeout != defaultRateTimeout {
		t.Fatalf("rate limit overrides lost: %+v", rl)
	}
	if cfg.Port.Min != 31000 || cfg.Port.Max != 31010 || cfg.Port.MaxRetries != -1 {
		t.Fatalf("port overrides lost: %+v", cfg.Port)
	}
	if cfg.Redis.PoolSize == 0 {
		t.Fatalf("expected redis defaults applied")
	}
	if cfg.Build.Bucket != "archives" || cfg.Build.MaxConcurrent != 2 || cfg.Credential.Mode != "simple" {
		t.Fatalf("unexpected build or credential config")
	}
	mqCfg := cfg.Kafka.toMQConfig()
	if mqCfg.RequiredAcks != kafka.RequireAll || mqCfg.Compression != kafka.Zstd {
		t.Fatalf("unexpected kafka config: %+v", mqCfg)
	}
}

func TestLoadAppConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing minio": `
build:
  bucket: "archives"
`,
		"missing bucket": `
minio:
  endpoint: "127.0.0.1:9000"
`,
		"inverted range": `
minio:
  endpoint: "127.0.0.1:9000"
  bucket: "archives"
port:
  min: 40000
  max: 30000
`,
	}
	for name, body := range cases {
		if _, err := loadAppConfig(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := loadAppConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestConnTimeoutsCoverLongRoutes(t *testing.T) {
	path := writeConfig(t, `
server:
  readTimeout: 5s
  writeTimeout: 3m
  requestTimeout: 2m
minio:
  endpoint: "127.0.0.1:9000"
  bucket: "problem-archives"
build:
  timeout: 10m
  cleanupTimeout: 30s
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load config failed: %v", err)
	}
	if cfg.Server.UploadTimeout != defaultUploadTimeout {
		t.Fatalf("expected default upload timeout, got %v", cfg.Server.UploadTimeout)
	}
	readHeader, read, write := cfg.connTimeouts()
	if readHeader != 5*time.Second {
		t.Fatalf("expected header read bounded by readTimeout, got %v", readHeader)
	}
	if read < cfg.Server.UploadTimeout {
		t.Fatalf("body read %v cuts off uploads bounded by %v", read, cfg.Server.UploadTimeout)
	}
	if write <= cfg.Build.Timeout+cfg.Build.CleanupTimeout {
		t.Fatalf("write timeout %v ends before a build can answer", write)
	}
	if len(cfg.routeTimeouts()) != 2 {
		t.Fatalf("expected build and upload route timeouts")
	}
}
