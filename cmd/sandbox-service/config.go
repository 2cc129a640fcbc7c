package main

import (
	"fmt"
	"os"
	"time"

	"github.com/ExxiDauS/CyberCTF/internal/common/cache"
	commonmw "github.com/ExxiDauS/CyberCTF/internal/common/http/middleware"
	"github.com/ExxiDauS/CyberCTF/internal/common/mq"
	"github.com/ExxiDauS/CyberCTF/internal/common/storage"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/controller"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/engine"
	"github.com/ExxiDauS/CyberCTF/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 3 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultRequestTimeout  = 2 * time.Minute
	defaultUploadTimeout   = 10 * time.Minute
	defaultResponseGrace   = 30 * time.Second
	defaultRateWindow      = time.Minute
	defaultRateTimeout     = 200 * time.Millisecond
	defaultShutdownTimeout = 10 * time.Second

	defaultPortMin        = 30000
	defaultPortMax        = 40000
	defaultPortAttempts   = 20
	defaultMaxPortRetries = 3

	defaultBuildTimeout   = 10 * time.Minute
	defaultCleanupTimeout = 30 * time.Second
	defaultStopTimeout    = 10 * time.Second
	defaultExposedPort    = "22/tcp"

	defaultLockTTL  = 30 * time.Second
	defaultLockWait = 5 * time.Second
	defaultIndexTTL = 24 * time.Hour

	defaultReconcileSchedule = "@every 1m"
	defaultReconcileTimeout  = 30 * time.Second
	defaultEventTopic        = "sandbox.lifecycle"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// ReadTimeout bounds reading request headers and small bodies.
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	// RequestTimeout bounds every handler except image builds and archive uploads.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	// UploadTimeout bounds an archive upload, body included. Builds use build.timeout.
	UploadTimeout time.Duration `yaml:"uploadTimeout"`
	// RateLimit guards provision, resume, build and upload. Needs redis.
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig holds fixed-window limits for the heavy routes.
type RateLimitConfig struct {
	commonmw.RateLimitPolicy `yaml:",inline"`
	RedisTimeout             time.Duration `yaml:"redisTimeout"`
}

// KafkaConfig holds lifecycle event producer settings. No brokers disables events.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
	Compression  string        `yaml:"compression"`
	Topic        string        `yaml:"topic"`
}

// PortConfig holds host port allocation settings.
type PortConfig struct {
	Min        int    `yaml:"min"`
	Max        int    `yaml:"max"`
	Attempts   int    `yaml:"attempts"`
	MaxRetries int    `yaml:"maxRetries"`
	ProbeHost  string `yaml:"probeHost"`
}

// CredentialConfig selects the credential mode: simple or hardened.
type CredentialConfig struct {
	Mode string `yaml:"mode"`
}

// BuildConfig holds image build settings.
type BuildConfig struct {
	Bucket         string        `yaml:"bucket"`
	Timeout        time.Duration `yaml:"timeout"`
	CleanupTimeout time.Duration `yaml:"cleanupTimeout"`
	// MaxConcurrent caps parallel engine builds; zero means unbounded.
	MaxConcurrent int `yaml:"maxConcurrent"`
}

// ProvisionConfig holds container and orchestration settings.
type ProvisionConfig struct {
	HostIP             string        `yaml:"hostIP"`
	StopTimeout        time.Duration `yaml:"stopTimeout"`
	FallbackCommand    string        `yaml:"fallbackCommand"`
	DefaultExposedPort string        `yaml:"defaultExposedPort"`
	CleanupTimeout     time.Duration `yaml:"cleanupTimeout"`
	LockTTL            time.Duration `yaml:"lockTTL"`
	LockWait           time.Duration `yaml:"lockWait"`
	IndexTTL           time.Duration `yaml:"indexTTL"`
}

// ReconcileConfig holds index reconciliation settings.
type ReconcileConfig struct {
	Disabled bool          `yaml:"disabled"`
	Schedule string        `yaml:"schedule"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AppConfig holds sandbox-service config.
type AppConfig struct {
	Server     ServerConfig        `yaml:"server"`
	Logger     logger.Config       `yaml:"logger"`
	MinIO      storage.MinIOConfig `yaml:"minio"`
	Redis      cache.RedisConfig   `yaml:"redis"`
	Kafka      KafkaConfig         `yaml:"kafka"`
	Docker     engine.DockerConfig `yaml:"docker"`
	Port       PortConfig          `yaml:"port"`
	Credential CredentialConfig    `yaml:"credential"`
	Build      BuildConfig         `yaml:"build"`
	Provision  ProvisionConfig     `yaml:"provision"`
	Reconcile  ReconcileConfig     `yaml:"reconcile"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.MinIO.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Build.Bucket == "" {
		cfg.Build.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Build.Bucket == "" {
		return nil, fmt.Errorf("build bucket is required")
	}
	if cfg.Redis.Addr != "" {
		cfg.Redis.ApplyDefaults()
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Server.UploadTimeout == 0 {
		cfg.Server.UploadTimeout = defaultUploadTimeout
	}
	if cfg.Server.RateLimit.Window == 0 {
		cfg.Server.RateLimit.Window = defaultRateWindow
	}
	if cfg.Server.RateLimit.RedisTimeout == 0 {
		cfg.Server.RateLimit.RedisTimeout = defaultRateTimeout
	}

	if cfg.Port.Min == 0 {
		cfg.Port.Min = defaultPortMin
	}
	if cfg.Port.Max == 0 {
		cfg.Port.Max = defaultPortMax
	}
	if cfg.Port.Min > cfg.Port.Max {
		return nil, fmt.Errorf("invalid port range [%d, %d]", cfg.Port.Min, cfg.Port.Max)
	}
	if cfg.Port.Attempts <= 0 {
		cfg.Port.Attempts = defaultPortAttempts
	}
	if cfg.Port.MaxRetries == 0 {
		cfg.Port.MaxRetries = defaultMaxPortRetries
	}

	if cfg.Build.Timeout == 0 {
		cfg.Build.Timeout = defaultBuildTimeout
	}
	if cfg.Build.CleanupTimeout == 0 {
		cfg.Build.CleanupTimeout = defaultCleanupTimeout
	}

	if cfg.Provision.StopTimeout == 0 {
		cfg.Provision.StopTimeout = defaultStopTimeout
	}
	if cfg.Provision.DefaultExposedPort == "" {
		cfg.Provision.DefaultExposedPort = defaultExposedPort
	}
	if cfg.Provision.CleanupTimeout == 0 {
		cfg.Provision.CleanupTimeout = defaultCleanupTimeout
	}
	if cfg.Provision.LockTTL == 0 {
		cfg.Provision.LockTTL = defaultLockTTL
	}
	if cfg.Provision.LockWait == 0 {
		cfg.Provision.LockWait = defaultLockWait
	}
	if cfg.Provision.IndexTTL == 0 {
		cfg.Provision.IndexTTL = defaultIndexTTL
	}

	if cfg.Reconcile.Schedule == "" {
		cfg.Reconcile.Schedule = defaultReconcileSchedule
	}
	if cfg.Reconcile.Timeout == 0 {
		cfg.Reconcile.Timeout = defaultReconcileTimeout
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = defaultEventTopic
	}
	return &cfg, nil
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  mq.ParseCompression(k.Compression),
	}
}

// routeTimeouts gives the build and upload routes their own handler deadline.
func (c *AppConfig) routeTimeouts() []commonmw.TimeoutOption {
	return []commonmw.TimeoutOption{
		commonmw.WithRouteTimeout(controller.BuildImagePath, c.Build.Timeout+c.Build.CleanupTimeout),
		commonmw.WithRouteTimeout(controller.UploadArchivePath, c.Server.UploadTimeout),
	}
}

// connTimeouts widens the connection limits so the long routes can read and answer.
func (c *AppConfig) connTimeouts() (readHeader, read, write time.Duration) {
	readHeader = c.Server.ReadTimeout
	read = max(c.Server.ReadTimeout, c.Server.UploadTimeout)
	write = max(
		c.Server.WriteTimeout,
		c.Build.Timeout+c.Build.CleanupTimeout+defaultResponseGrace,
		c.Server.UploadTimeout+defaultResponseGrace,
	)
	return readHeader, read, write
}
