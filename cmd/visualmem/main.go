package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/visualmem/internal/config"
	"github.com/kailas-cloud/visualmem/internal/db"
	dbRedis "github.com/kailas-cloud/visualmem/internal/db/redis"
	"github.com/kailas-cloud/visualmem/internal/domain"
	"github.com/kailas-cloud/visualmem/internal/domain/query"
	"github.com/kailas-cloud/visualmem/internal/domain/rank"
	logpkg "github.com/kailas-cloud/visualmem/internal/logger"
	"github.com/kailas-cloud/visualmem/internal/metrics"
	"github.com/kailas-cloud/visualmem/internal/repository/embcache"
	framesrepo "github.com/kailas-cloud/visualmem/internal/repository/frames"
	searchrepo "github.com/kailas-cloud/visualmem/internal/repository/search"
	"github.com/kailas-cloud/visualmem/internal/transport/httpapi"
	openaiTransport "github.com/kailas-cloud/visualmem/internal/transport/openai"
	rerankTransport "github.com/kailas-cloud/visualmem/internal/transport/rerank"
	answeruc "github.com/kailas-cloud/visualmem/internal/usecase/answer"
	healthuc "github.com/kailas-cloud/visualmem/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/visualmem/internal/usecase/ingest"
	rerankuc "github.com/kailas-cloud/visualmem/internal/usecase/rerank"
	retrievaluc "github.com/kailas-cloud/visualmem/internal/usecase/retrieval"
	timelineuc "github.com/kailas-cloud/visualmem/internal/usecase/timeline"
	understanduc "github.com/kailas-cloud/visualmem/internal/usecase/understand"
	"github.com/kailas-cloud/visualmem/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting visualmem API server",
		zap.String("build", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		DB:       cfg.Database.DB,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register model metrics explicitly (no init())
	metrics.RegisterModelMetrics()

	encoder := buildEncoder(&cfg, store, logger)
	logger.Info("Encoder created",
		zap.String("model", cfg.Encoder.Model),
		zap.Int("dimensions", cfg.Encoder.Dimensions),
	)

	llm := openaiTransport.NewLLM(&openaiTransport.LLMConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		VisionModel: cfg.LLM.VisionModel,
		MaxImages:   cfg.LLM.MaxImagesToLLM,
		Logger:      logger,
	})

	frameRepo := framesrepo.New(store, framesrepo.Options{
		KeyPrefix:       cfg.Storage.KeyPrefix,
		IndexName:       cfg.Storage.IndexName,
		VectorDim:       cfg.Encoder.Dimensions,
		HNSWM:           cfg.Storage.HNSWM,
		HNSWEFConstruct: cfg.Storage.HNSWEFConstruct,
	})
	if err := frameRepo.EnsureIndex(ctx); err != nil {
		logger.Fatal("Failed to ensure frame index", zap.Error(err))
	}
	logger.Info("Frame index ready", zap.String("index", cfg.Storage.IndexName))

	recallRepo := searchrepo.New(store, cfg.Storage.IndexName, cfg.Storage.KeyPrefix+"frame:")

	rankCfg := rank.Config{
		TopK:             cfg.Retrieval.TopK,
		CoarseMultiplier: cfg.Retrieval.CoarseMultiplier,
		Strategy:         rank.Strategy(cfg.Retrieval.Strategy),
		RRFConstant:      cfg.Retrieval.RRFConstant,
		DenseWeight:      cfg.Retrieval.DenseWeight,
		SparseWeight:     cfg.Retrieval.SparseWeight,
	}

	var scorer rerankuc.Scorer
	if cfg.Rerank.BaseURL != "" {
		scorer = rerankTransport.New(rerankTransport.Config{
			BaseURL: cfg.Rerank.BaseURL,
			APIKey:  cfg.Rerank.APIKey,
			Model:   cfg.Rerank.Model,
			Timeout: time.Duration(cfg.Rerank.TimeoutSec) * time.Second,
		})
	}

	rewriteCount := cfg.LLM.RewriteCount
	if !cfg.LLM.EnableRewrite {
		rewriteCount = 0
	}

	answerSvc := answeruc.New(
		understanduc.New(llm, rewriteCount),
		map[query.SearchType]retrievaluc.Retriever{
			query.Text:  retrievaluc.NewTextRetriever(recallRepo, encoder),
			query.Image: retrievaluc.NewImageRetriever(recallRepo, encoder),
		},
		rerankuc.New(scorer),
		llm,
		rankCfg,
		cfg.LLM.MaxEvidence,
	)
	ingestSvc := ingestuc.New(
		frameRepo, encoder, logger,
		cfg.Ingest.BatchSize, time.Duration(cfg.Ingest.FlushIntervalSec)*time.Second,
	)
	timelineSvc := timelineuc.New(frameRepo, cfg.Ingest.CaptureIntervalSec)
	healthSvc := healthuc.New(store, healthChecker(encoder), llm)

	defaults := httpapi.Defaults{
		EnableHybrid: cfg.Retrieval.EnableHybrid,
		EnableRerank: cfg.Retrieval.EnableRerank,
	}
	server := httpapi.NewServer(answerSvc, ingestSvc, timelineSvc, healthSvc, defaults, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Routes(cfg.Auth.APIKeys),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	// Flush any buffered frames before the store closes.
	ingestSvc.Stop(shutdownCtx)

	logger.Info("Server stopped gracefully")
}

// buildEncoder assembles the decorator chain: OpenAI-compatible -> Cached.
func buildEncoder(cfg *config.Config, store db.Store, logger *zap.Logger) domain.Encoder {
	base := openaiTransport.NewEncoder(&openaiTransport.EncoderConfig{
		APIKey:     cfg.Encoder.APIKey,
		BaseURL:    cfg.Encoder.BaseURL,
		Model:      cfg.Encoder.Model,
		Dimensions: cfg.Encoder.Dimensions,
		Logger:     logger,
	})

	ttl := time.Duration(cfg.Storage.CacheTTLSec) * time.Second
	return embcache.New(base, store, cfg.Storage.KeyPrefix, ttl, metrics.EncoderCacheTotal, logger)
}

// healthChecker extracts the optional health probe from the encoder chain.
func healthChecker(encoder domain.Encoder) healthuc.ProviderChecker {
	if hc, ok := encoder.(domain.HealthChecker); ok {
		return hc
	}
	return nil
}
