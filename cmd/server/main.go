package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guildchat/internal/api"
	"guildchat/internal/auth"
	"guildchat/internal/config"
	"guildchat/internal/db"
	"guildchat/internal/gateway"
	"guildchat/internal/logging"
	"guildchat/internal/redis"
	"guildchat/internal/snowflake"
	"guildchat/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting_server", "service", "guildchat", "http_addr", cfg.HTTPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	dbConn, err := db.New(ctx, cfg.DBDSN)
	if err != nil {
		logger.Error("db_connect_failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := dbConn.Migrate(ctx); err != nil {
		logger.Error("db_migrate_failed", "error", err)
		os.Exit(1)
	}

	// Connect to Redis
	redisClient, err := redis.New(cfg.RedisDSN)
	if err != nil {
		logger.Error("redis_connect_failed", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Attachment storage: S3-compatible bucket when configured, in-memory
	// otherwise (single-process deployments and local development).
	var store storage.Client
	if cfg.S3Bucket != "" {
		s3Client, err := storage.NewS3Client(ctx, storage.S3Config{
			Endpoint: cfg.S3Endpoint,
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
		})
		if err != nil {
			logger.Error("s3_init_failed", "error", err)
			os.Exit(1)
		}
		store = s3Client
	} else {
		logger.Warn("s3_not_configured", "fallback", "in_memory_storage")
		store = storage.NewMemory()
	}

	node, err := snowflake.NewNode(cfg.WorkerID, cfg.ProcessID)
	if err != nil {
		logger.Error("snowflake_init_failed", "error", err)
		os.Exit(1)
	}

	gate := auth.NewGate(cfg.TokenSecret, dbConn, logger)
	issuer := auth.NewIssuer(cfg.TokenSecret)

	hubCfg := gateway.DefaultConfig()
	if cfg.GatewayQueueDepth > 0 {
		hubCfg.QueueDepth = cfg.GatewayQueueDepth
	}
	if cfg.GatewayPongWait > 0 {
		hubCfg.PongWait = cfg.GatewayPongWait
	}
	hub := gateway.NewHub(logger, hubCfg, gate, dbConn, redisClient)

	srv := api.NewServer(logger, dbConn, redisClient, store, hub, gate, issuer, node, cfg)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_listen_failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("server_started", "addr", cfg.HTTPAddr)

	// graceful shutdown
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// stop accepting new http requests, then drain the gateway
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	} else {
		logger.Info("http_server_stopped")
	}

	hub.Shutdown(shutdownCtx)
	logger.Info("gateway_stopped")

	if err := redisClient.Close(); err != nil {
		logger.Warn("redis_close_error", "error", err)
	} else {
		logger.Info("redis_closed")
	}

	dbConn.Close()
	logger.Info("db_closed")

	logger.Info("server_stopped")
}
