package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/jwtauth/v5"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/simple-device/pkg/audit"
	"github.com/tendant/simple-device/pkg/config"
	"github.com/tendant/simple-device/pkg/device"
	"github.com/tendant/simple-device/pkg/device/api"
	"github.com/tendant/simple-device/pkg/metrics"
	"github.com/tendant/simple-device/pkg/notice"
	"github.com/tendant/simple-device/pkg/ratelimit"
	"github.com/tendant/simple-device/pkg/router"
)

type Config struct {
	AppConfig       app.AppConfig
	DatabaseConfig  config.DatabaseConfig
	DeviceConfig    config.DeviceConfig
	RedisConfig     config.RedisConfig
	EmailConfig     config.EmailConfig
	JWTConfig       config.JWTConfig
	RateLimitConfig config.RateLimitConfig
	AuditConfig     config.AuditConfig
	PrefixConfig    router.PrefixConfig
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true}))
	slog.SetDefault(logger)

	cfg := Config{}
	if err := config.Load(&cfg, ".env"); err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	for name, validate := range map[string]func() error{
		"device": cfg.DeviceConfig.Validate,
		"jwt":    cfg.JWTConfig.Validate,
		"email":  cfg.EmailConfig.Validate,
		"redis":  cfg.RedisConfig.Validate,
	} {
		if err := validate(); err != nil {
			slog.Error("Invalid config", "section", name, "err", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()

	repoConfig := device.RepositoryConfig{
		DataDir:     cfg.DeviceConfig.DataDir,
		LockTimeout: cfg.DeviceConfig.LockTimeout,
	}
	if cfg.DeviceConfig.Persistence == "postgres" || cfg.DeviceConfig.Persistence == "postgresql" {
		dbConfig := cfg.DatabaseConfig.ToDbConfig()
		pool, err := dbutils.NewDbPool(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User, "err", err)
			os.Exit(-1)
		}
		defer pool.Close()
		repoConfig.DB = pool
	}

	repo, err := device.NewDeviceRepository(cfg.DeviceConfig.Persistence, repoConfig)
	if err != nil {
		slog.Error("Failed creating device repository", "persistence", cfg.DeviceConfig.Persistence, "err", err)
		os.Exit(1)
	}
	slog.Info("Device repository ready", "persistence", cfg.DeviceConfig.Persistence, "cap", cfg.DeviceConfig.Cap)

	var blockCache device.BlockCache = device.NoOpBlockCache{}
	var rdb *redis.Client
	if cfg.RedisConfig.Enabled() {
		rdb, err = device.ConnectRedis(ctx, cfg.RedisConfig.URL)
		if err != nil {
			slog.Error("Failed to connect to redis", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis unreachable, blocked-user cache will fall through to the store", "err", err)
		}
		blockCache = device.NewRedisBlockCache(rdb, cfg.RedisConfig.BlockedTTL)
	}

	deviceService := device.NewDeviceServiceWithOptions(repo, device.DeviceServiceOptions{
		DeviceCap:  cfg.DeviceConfig.Cap,
		Scorer:     cfg.DeviceConfig.Scorer(),
		BlockCache: blockCache,
	})

	m := metrics.New()
	handlerOpts := []api.Option{api.WithMetrics(m)}
	if cfg.EmailConfig.NoticesEnabled() {
		manager, err := notice.NewNotificationManager(cfg.EmailConfig)
		if err != nil {
			slog.Error("Failed creating notification manager", "err", err)
			os.Exit(1)
		}
		handlerOpts = append(handlerOpts, api.WithBlockNotifier(notice.NewService(manager, cfg.EmailConfig.AdminAddress)))
	}
	deviceHandler := api.NewDeviceHandler(deviceService, handlerOpts...)

	limiter := ratelimit.NewMiddleware(cfg.RateLimitConfig)
	defer limiter.Close()

	var auditMiddleware *audit.Middleware
	if cfg.AuditConfig.Enabled {
		var sink audit.Sink = audit.LogSink{Logger: logger.With("component", "audit")}
		if rdb != nil {
			sink = audit.MultiSink{sink, audit.NewRedisStreamSink(rdb, cfg.AuditConfig.Stream, cfg.AuditConfig.StreamMaxLen)}
		}
		auditMiddleware, err = audit.NewMiddleware(audit.Config{
			Source:      cfg.AuditConfig.Source,
			EventType:   cfg.AuditConfig.EventType,
			Sink:        sink,
			SendTimeout: cfg.AuditConfig.SendTimeout,
		})
		if err != nil {
			slog.Error("Failed creating audit middleware", "err", err)
			os.Exit(1)
		}
	}

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	router.SetupRoutes(server.R, router.Config{
		PrefixConfig: cfg.PrefixConfig,
		DeviceHandle: deviceHandler,
		TokenAuth:    jwtauth.New("HS256", []byte(cfg.JWTConfig.Secret), nil),
		Metrics:      m,
		Limiter:      limiter,
		Audit:        auditMiddleware,
	})

	server.Run()
}
