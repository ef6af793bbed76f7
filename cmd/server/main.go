package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskhub/uploadgate/internal/api"
	"github.com/taskhub/uploadgate/internal/config"
	"github.com/taskhub/uploadgate/internal/database"
	"github.com/taskhub/uploadgate/internal/middleware"
	"github.com/taskhub/uploadgate/internal/observability"
	"github.com/taskhub/uploadgate/internal/storage"
	"github.com/taskhub/uploadgate/internal/upload"
	"github.com/taskhub/uploadgate/internal/uploader"
	"github.com/taskhub/uploadgate/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := observability.InitLogger(cfg.DevMode)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitTracerProvider(ctx, logger)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer observability.ShutdownTracerProvider(context.Background(), tp, logger)

	metrics, err := observability.NewUploadMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	db, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	fs := afero.NewOsFs()
	store, err := storage.NewStore(fs, cfg.UploadDir, logger)
	if err != nil {
		logger.Fatal("failed to init storage", zap.Error(err))
	}

	var sniffer upload.MimeSniffer = upload.ContentSniffer{}
	if !cfg.SniffContent {
		logger.Warn("content sniffing disabled, checking declared MIME types only")
		sniffer = upload.DeclaredOnlySniffer{}
	}

	policy := cfg.Policy()
	classifier := upload.NewClassifier(sniffer)
	scanner := upload.NewScanner(logger)
	validator := upload.NewValidator(policy, classifier, scanner, fs, logger)
	limiter := upload.NewLimiter(cfg.RateLimits())

	up := uploader.New(policy, limiter, validator, store, metrics, logger)

	if cfg.CleanupIntervalSec > 0 {
		cleanup := worker.NewCleanupWorker(store, db,
			time.Duration(cfg.CleanupIntervalSec)*time.Second, logger)
		cleanup.Start(ctx)
		defer cleanup.Stop()
	}

	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger))
	api.NewHandler(up, store, db, logger).Register(router)

	server := &http.Server{Addr: cfg.ListenAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return observability.StartMetricsServer(cfg.MetricsAddr, logger)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
