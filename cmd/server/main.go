// Package main runs the quiz API server with graceful shutdown. When Redis is
// configured it also runs the question import worker unless RUN_IMPORT_WORKER=false.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quiz-trove/backend/config"
	"github.com/quiz-trove/backend/internal/auth"
	"github.com/quiz-trove/backend/internal/middleware"
	"github.com/quiz-trove/backend/internal/quizzes"
	"github.com/quiz-trove/backend/internal/worker"
	"github.com/quiz-trove/backend/pkg/database"
	"github.com/quiz-trove/backend/pkg/queue"
	"github.com/quiz-trove/backend/pkg/redis"
	"github.com/quiz-trove/backend/pkg/response"
	"github.com/quiz-trove/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			ImagesBucket:    cfg.AWS.ImagesBucket,
			ImportsBucket:   cfg.AWS.ImportsBucket,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled, images stored inline", zap.Error(err))
			s3Client = nil
		}
	}

	var images quizzes.ImageStore = quizzes.InlineImages{}
	if s3Client != nil {
		images = quizzes.NewS3Images(s3Client)
	}
	svc := quizzes.NewService(quizzes.NewRepository(pool), images, quizzes.Limits{
		MaxImageBytes:   cfg.Quiz.MaxImageBytes,
		DefaultPageSize: cfg.Quiz.DefaultPageSize,
		MaxPageSize:     cfg.Quiz.MaxPageSize,
	}, logger)

	handlerCfg := quizzes.HandlerConfig{MaxSheetBytes: cfg.Quiz.MaxSheetBytes}
	var processor *worker.ImportProcessor
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()

		jobQueue := queue.NewQueue(rdb.Client, logger)
		handlerCfg.Imports = jobQueue
		var objects worker.ObjectReader
		if s3Client != nil {
			handlerCfg.Sheets = s3Client
			objects = s3Client
		}
		if cfg.Server.RunWorker {
			processor = worker.NewImportProcessor(svc, objects, jobQueue, logger)
		}
	} else {
		logger.Info("REDIS_ADDR not set, background imports disabled")
	}
	quizHandler := quizzes.NewHandler(svc, handlerCfg, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) {
		if err := pool.Ping(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, "database unavailable")
			return
		}
		response.OK(c, gin.H{"status": "ok"})
	})

	// Reads are public; writes need an admin token.
	quizHandler.Routes(router.Group("/api/v1"),
		middleware.JWT(jwtService),
		middleware.RequireRole(auth.RoleSuperAdmin, auth.RoleAdmin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workerDone := make(chan struct{})
	if processor != nil {
		go func() {
			defer close(workerDone)
			processor.Run(workerCtx)
		}()
		logger.Info("import worker started")
	} else {
		close(workerDone)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	workerCancel()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("import worker did not stop in time")
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
