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

	"github.com/VENIZIA-AI/ignis-sub007/internal/common/cache"
	"github.com/VENIZIA-AI/ignis-sub007/internal/common/db"
	"github.com/VENIZIA-AI/ignis-sub007/internal/model"
	"github.com/VENIZIA-AI/ignis-sub007/internal/repository"
	"github.com/VENIZIA-AI/ignis-sub007/internal/rest"
	"github.com/VENIZIA-AI/ignis-sub007/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/ignis.yaml"

func main() {
	path := defaultConfigPath
	if env := os.Getenv(configPathEnv); env != "" {
		path = env
	}
	configPath := flag.String("config", path, "Path to config file")
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
	defer func() { _ = logger.Sync() }()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "ignis server stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	registry, err := model.LoadFile(appCfg.Models)
	if err != nil {
		return fmt.Errorf("load models failed: %w", err)
	}

	database, err := db.Open(&appCfg.Database)
	if err != nil {
		return fmt.Errorf("open database failed: %w", err)
	}
	defer func() { _ = database.Close() }()
	logger.Info(ctx, "database connected", zap.String("driver", string(database.Driver())))

	var opts []repository.Option
	if appCfg.Transaction.DefaultIsolation != "" {
		level, err := db.ParseIsolationLevel(appCfg.Transaction.DefaultIsolation)
		if err != nil {
			return err
		}
		opts = append(opts, repository.WithDefaultIsolation(level))
	}
	if appCfg.Cache.Enabled {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Cache.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() { _ = redisCache.Close() }()
		opts = append(opts, repository.WithCache(redisCache, appCfg.Cache.TTL, appCfg.Cache.EmptyTTL))
	}

	ds, err := repository.NewDataSource(db.NewStaticProvider(database), registry, opts...)
	if err != nil {
		return fmt.Errorf("init data source failed: %w", err)
	}

	router, err := rest.NewRouter(ds, appCfg.HTTP)
	if err != nil {
		return fmt.Errorf("build router failed: %w", err)
	}
	httpServer := &http.Server{
		Addr:           appCfg.Server.Addr,
		Handler:        router,
		ReadTimeout:    appCfg.Server.ReadTimeout,
		WriteTimeout:   appCfg.Server.WriteTimeout,
		IdleTimeout:    appCfg.Server.IdleTimeout,
		MaxHeaderBytes: appCfg.Server.MaxHeaderBytes,
	}

	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "ignis http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.Strings("entities", registry.Names()),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return nil
}
