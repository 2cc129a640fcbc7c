package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ExxiDauS/CyberCTF/internal/common/cache"
	commonmw "github.com/ExxiDauS/CyberCTF/internal/common/http/middleware"
	"github.com/ExxiDauS/CyberCTF/internal/common/mq"
	"github.com/ExxiDauS/CyberCTF/internal/common/storage"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/container"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/controller"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/credential"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/engine"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/image"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/port"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/repository"
	"github.com/ExxiDauS/CyberCTF/internal/sandbox/service"
	"github.com/ExxiDauS/CyberCTF/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/sandbox_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "sandbox service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	eng, err := engine.NewDockerEngine(appCfg.Docker)
	if err != nil {
		return fmt.Errorf("init docker engine failed: %w", err)
	}
	if err := eng.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker engine failed: %w", err)
	}

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		return fmt.Errorf("init minio failed: %w", err)
	}

	locker := repository.NewChainLocker(repository.NewLocalLocker())
	var index service.SandboxIndex
	var sandboxIndex *repository.SandboxIndex
	var guarded []gin.HandlerFunc
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		locker = repository.NewChainLocker(
			repository.NewLocalLocker(),
			repository.NewRedisLocker(redisCache, repository.RedisLockerOptions{
				TTL:  appCfg.Provision.LockTTL,
				Wait: appCfg.Provision.LockWait,
			}),
		)
		sandboxIndex = repository.NewSandboxIndex(redisCache, appCfg.Provision.IndexTTL)
		index = sandboxIndex
		if appCfg.Server.RateLimit.Enabled() {
			limiter := repository.NewRateLimiter(redisCache, appCfg.Server.RateLimit.Window, appCfg.Server.RateLimit.RedisTimeout)
			guarded = append(guarded, commonmw.RateLimitMiddleware(limiter, appCfg.Server.RateLimit.RateLimitPolicy))
		}
	} else {
		logger.Warn(ctx, "redis not configured, using in-process locks and no sandbox index")
		if appCfg.Server.RateLimit.Enabled() {
			logger.Warn(ctx, "rate limit configured without redis, skipping")
		}
	}

	var publisher repository.EventPublisher
	if len(appCfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka.toMQConfig())
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = producer.Close()
		}()
		publisher = repository.NewMQEventPublisher(producer, appCfg.Kafka.Topic)
	}

	manager, err := container.NewManager(eng, container.Options{
		HostIP:             appCfg.Provision.HostIP,
		StopTimeout:        appCfg.Provision.StopTimeout,
		FallbackCommand:    appCfg.Provision.FallbackCommand,
		DefaultExposedPort: appCfg.Provision.DefaultExposedPort,
	})
	if err != nil {
		return fmt.Errorf("init container manager failed: %w", err)
	}

	sandboxSvc, err := service.NewService(service.Config{
		Ports:  port.NewAllocator(port.WithProber(port.NewTCPProber(appCfg.Port.ProbeHost))),
		Issuer: credential.NewIssuer(credential.ParseMode(appCfg.Credential.Mode), nil),
		Builder: image.NewBuilder(eng, objStorage, image.Options{
			Bucket:         appCfg.Build.Bucket,
			Timeout:        appCfg.Build.Timeout,
			CleanupTimeout: appCfg.Build.CleanupTimeout,
			MaxConcurrent:  appCfg.Build.MaxConcurrent,
		}),
		Containers:     manager,
		Locker:         locker,
		Index:          index,
		Publisher:      publisher,
		PortMin:        appCfg.Port.Min,
		PortMax:        appCfg.Port.Max,
		PortAttempts:   appCfg.Port.Attempts,
		MaxPortRetries: appCfg.Port.MaxRetries,
		CleanupTimeout: appCfg.Provision.CleanupTimeout,
	})
	if err != nil {
		return fmt.Errorf("init sandbox service failed: %w", err)
	}

	if sandboxIndex != nil && !appCfg.Reconcile.Disabled {
		reconciler := service.NewReconciler(sandboxSvc, appCfg.Reconcile.Schedule, appCfg.Reconcile.Timeout)
		if _, err := reconciler.RunOnce(ctx); err != nil {
			logger.Warn(ctx, "initial sandbox reindex failed", zap.Error(err))
		}
		if err := reconciler.Start(); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			reconciler.Stop(stopCtx)
		}()
	}

	httpServer := buildHTTPServer(appCfg, controller.NewSandboxController(sandboxSvc), guarded...)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "sandbox http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server stopped: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}

func buildHTTPServer(cfg *AppConfig, sandboxController *controller.SandboxController, guarded ...gin.HandlerFunc) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.AccessLogMiddleware())
	router.Use(commonmw.TimeoutMiddleware(cfg.Server.RequestTimeout, cfg.routeTimeouts()...))
	router.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	sandboxController.RegisterRoutes(router, guarded...)

	readHeader, read, write := cfg.connTimeouts()
	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: readHeader,
		ReadTimeout:       read,
		WriteTimeout:      write,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}
