package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"textmark/internal/config"
	"textmark/internal/handler"
	"textmark/internal/rejections"
	"textmark/internal/repository"
	"textmark/internal/service"
	"textmark/internal/taxonomy"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("starting textmark annotation store")

	cfg, err := config.LoadConfig("configs/config.yml")
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	trees, err := taxonomy.LoadFile(cfg.Taxonomy.Path)
	if err != nil {
		logger.Fatal("failed to load taxonomy", zap.Error(err))
	}

	os.MkdirAll("./data", 0755)

	repo, err := repository.New(cfg.Database.Path, logger)
	if err != nil {
		logger.Fatal("failed to initialize repository", zap.Error(err))
	}
	defer repo.Close()

	var rejected rejections.Store
	if cfg.Redis.URL != "" {
		redisStore, err := rejections.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		rejected = redisStore
		logger.Info("rejection store: redis")
	} else {
		rejected = rejections.NewMemoryStore()
		logger.Info("rejection store: in-memory")
	}
	defer rejected.Close()

	svc := service.New(repo, rejected, trees, logger)
	apiHandler := handler.NewHandler(svc, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()
	apiHandler.RegisterRoutes(router)

	serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	srv := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("annotation store is running",
		zap.String("port", cfg.Server.Port),
		zap.Int("taxonomies", len(trees)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
