package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"videoinsight/internal/api"
	"videoinsight/internal/auth"
	"videoinsight/internal/config"
	"videoinsight/internal/logging"
	"videoinsight/internal/media"
	"videoinsight/internal/ratelimit"
	"videoinsight/internal/redis"
	"videoinsight/internal/service/ai"
	"videoinsight/internal/service/analysis"
	"videoinsight/internal/service/history"
	"videoinsight/internal/service/registrar"
	"videoinsight/internal/storage"
	"videoinsight/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		return err
	}
	logger := logging.NewLogger(cfg.BasicConfig.LogLevel)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		return err
	}
	basic := cfg.BasicConfig
	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		recorder    analysis.Recorder
		historyRepo api.History
	)
	if basic.HistoryDB != "" {
		db, err := storage.Open(basic.HistoryDB, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := storage.Migrate(db, basic.HistoryDB); err != nil {
			return err
		}
		svc := history.NewService(db)
		recorder, historyRepo = svc, svc
		logger.Info("history enabled", "driver", basic.HistoryDB)
	}

	limiter, closeLimiter, err := newLimiter(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLimiter()

	gemini := cfg.Gemini()
	client, err := ai.NewClient(ctx, gemini.APIKey)
	if err != nil {
		return err
	}
	agent, err := ai.NewGeminiAgent(ctx, client, gemini, cfg.Search, logger)
	if err != nil {
		return err
	}
	reg, err := registrar.New(client, time.Duration(basic.UploadPollSeconds)*time.Second, logger)
	if err != nil {
		return err
	}

	store := newMediaStore(ctx, cfg, logger)
	workflow := analysis.NewWorkflow(store, reg, agent, analysis.Options{
		Timeout:      time.Duration(basic.AnalysisTimeout) * time.Second,
		DeleteRemote: basic.DeleteRemoteMedia,
		Recorder:     recorder,
		Logger:       logger,
	})

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  basic.MinWorkers,
		MaxWorkers:  basic.MaxWorkers,
		QueueSize:   basic.QueueSize,
		IdleTimeout: time.Duration(basic.WorkerIdleTimeout) * time.Second,
		Logger:      logger,
	})
	defer dispatcher.Close()

	handler := api.NewHandler(workflow, dispatcher, api.Options{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Limiter:        limiter,
		History:        historyRepo,
		Auth:           auth.NewService(basic.AccessToken, logger),
		Logger:         logger,
	})
	server := &http.Server{
		Addr:              basic.ServerAddress,
		Handler:           api.NewRouter(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", basic.ServerAddress, "model", gemini.Model)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return err
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// newLimiter prefers the shared redis counter when redis is configured.
func newLimiter(cfg *config.Config, logger *slog.Logger) (ratelimit.Limiter, func(), error) {
	window := time.Duration(cfg.BasicConfig.RateWindowSeconds) * time.Second
	if !redis.Enabled(cfg) {
		return ratelimit.NewMemory(cfg.BasicConfig.RateLimit, window), func() {}, nil
	}
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("redis rate limiter enabled", "host", cfg.Redis.Host)
	return ratelimit.NewRedis(rdb, cfg.BasicConfig.RateLimit, window), func() { _ = rdb.Close() }, nil
}

func newMediaStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) *media.Store {
	basic := cfg.BasicConfig
	store := media.NewStore(basic.ScratchDir, cfg.MaxUploadBytes(), logger)
	store.StartSweeper(ctx,
		time.Duration(basic.ScratchSweepInterval)*time.Minute,
		time.Duration(basic.ScratchFileTTL)*time.Minute)
	logger.Info("scratch dir ready", "dir", logging.SanitizePath(store.Dir()))
	return store
}
