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
	"github.com/rs/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/flexbatt/flexbatt/internal/api/handlers"
	"github.com/flexbatt/flexbatt/internal/baseline"
	"github.com/flexbatt/flexbatt/internal/benefit"
	"github.com/flexbatt/flexbatt/internal/config"
	"github.com/flexbatt/flexbatt/internal/feature"
	"github.com/flexbatt/flexbatt/internal/importer"
	"github.com/flexbatt/flexbatt/internal/ml"
	"github.com/flexbatt/flexbatt/internal/repository"
	"github.com/flexbatt/flexbatt/pkg/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting flexbatt", zap.String("port", cfg.ServerPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := repository.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	logger.Info("Database migrated successfully")

	extraction, err := config.LoadExtraction(cfg.ExtractionConfig)
	if err != nil {
		logger.Fatal("Failed to load extraction config", zap.Error(err))
	}

	clientRepo := repository.NewClientRepository(db)
	runRepo := repository.NewRunRepository(db)
	configRepo := repository.NewConfigRepository(db)
	kpiRepo := repository.NewKPIRepository(db)

	resolver := baseline.NewResolver(configRepo, kpiRepo, logger)
	calculator := benefit.NewCalculator(runRepo, configRepo, kpiRepo, resolver, logger)

	store, err := feature.NewStore(cfg.FeatureStoreDir)
	if err != nil {
		logger.Fatal("Failed to open feature store", zap.Error(err))
	}
	registry, err := ml.NewRegistry(cfg.ModelRegistryDir)
	if err != nil {
		logger.Fatal("Failed to open model registry", zap.Error(err))
	}

	wsHub := ws.NewHub(logger)
	go wsHub.Run()

	pipeline := feature.NewPipeline(configRepo, kpiRepo, store, extraction, wsHub, logger, cfg.BatchSize)
	wsHub.SetInitDataProvider(func() interface{} {
		return pipeline.Status()
	})

	trainer := ml.NewTrainer(store, registry, logger)
	predictor := ml.NewPredictor(registry, logger)
	imp := importer.New(clientRepo, runRepo, configRepo, kpiRepo, logger)

	// Pull remote simulation outputs into the data root before serving.
	if cfg.S3Bucket != "" {
		mirror, err := importer.NewMirror(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region, logger)
		if err != nil {
			logger.Fatal("Failed to create S3 mirror", zap.Error(err))
		}
		if _, err := mirror.Sync(ctx, cfg.DataRoot); err != nil {
			logger.Error("S3 mirror sync failed", zap.Error(err))
		}
	}

	handler := handlers.NewHandler(
		logger,
		clientRepo,
		runRepo,
		configRepo,
		kpiRepo,
		calculator,
		pipeline,
		store,
		trainer,
		predictor,
		registry,
		ml.NewFeatureBuilder(extraction),
		imp,
		cfg.DataRoot,
		extraction.TargetKPIs,
		wsHub,
	)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: cors.AllowAll().Handler(router),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}
