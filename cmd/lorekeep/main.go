package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lorekeep/lorekeep/internal/config"
	"github.com/lorekeep/lorekeep/internal/db"
	dbRedis "github.com/lorekeep/lorekeep/internal/db/redis"
	"github.com/lorekeep/lorekeep/internal/domain"
	logpkg "github.com/lorekeep/lorekeep/internal/logger"
	"github.com/lorekeep/lorekeep/internal/metrics"
	"github.com/lorekeep/lorekeep/internal/repository/embcache"
	passagerepo "github.com/lorekeep/lorekeep/internal/repository/passage"
	querylogrepo "github.com/lorekeep/lorekeep/internal/repository/querylog"
	chiTransport "github.com/lorekeep/lorekeep/internal/transport/chi"
	openaiTransport "github.com/lorekeep/lorekeep/internal/transport/openai"
	answeruc "github.com/lorekeep/lorekeep/internal/usecase/answer"
	healthuc "github.com/lorekeep/lorekeep/internal/usecase/health"
	raguc "github.com/lorekeep/lorekeep/internal/usecase/rag"
	retrievaluc "github.com/lorekeep/lorekeep/internal/usecase/retrieval"
	"github.com/lorekeep/lorekeep/internal/version"
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

	logger.Info("Starting lorekeep API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("passages_addrs", cfg.Passages.Addrs),
	)

	// Passage index store
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Passages.Addrs,
		Password: cfg.Passages.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create passage store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Passages.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Passage store not ready", zap.Error(err))
	}
	logger.Info("Connected to passage store")

	ensurePassageIndex(ctx, store, cfg, logger)

	// Durable store: campaigns and the query log
	pool, err := querylogrepo.NewPool(ctx, cfg.Postgres.URL,
		cfg.Postgres.MaxConns, time.Duration(cfg.Postgres.ConnTimeout)*time.Second)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	logRepo := querylogrepo.New(pool)
	if err := logRepo.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to ensure query log schema", zap.Error(err))
	}
	logger.Info("Connected to postgres")

	// Register service metrics explicitly (no init())
	metrics.RegisterRAGMetrics()

	// Providers
	baseEmbedder := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   "openai",
		Logger:     logger,
	})
	queryEmbedder := buildEmbedder(baseEmbedder, store, cfg.Embedding, logger)
	logger.Info("Embedder created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	generator := openaiTransport.NewGenerator(&openaiTransport.GeneratorConfig{
		APIKey:      cfg.Generation.APIKey,
		BaseURL:     cfg.Generation.BaseURL,
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
		Logger:      logger,
	})
	logger.Info("Generator created", zap.String("model", cfg.Generation.Model))

	// Repositories and use case services
	passageRepo := passagerepo.New(store)

	retrievalSvc := retrievaluc.New(passageRepo, logRepo, queryEmbedder)
	answerSvc := answeruc.New(generator)
	ragSvc := raguc.New(retrievalSvc, answerSvc, logRepo, cfg.Generation.Model)
	healthSvc := healthuc.New(store, pool, baseEmbedder, generator)

	server := chiTransport.NewServer(ragSvc, retrievalSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// ensurePassageIndex creates the FT index on first boot. Ingestion writes the
// passage hashes; this service owns the index definition.
func ensurePassageIndex(ctx context.Context, store db.Store, cfg config.Config, logger *zap.Logger) {
	exists, err := store.IndexExists(ctx, passagerepo.IndexName)
	if err != nil {
		logger.Fatal("Failed to check passage index", zap.Error(err))
	}
	if exists {
		return
	}

	def := passagerepo.IndexDefinition(cfg.Embedding.Dimensions,
		cfg.Passages.HNSWM, cfg.Passages.HNSWEFConstruct)
	if err := store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		logger.Fatal("Failed to create passage index", zap.Error(err))
	}
	logger.Info("Passage index created",
		zap.String("index", passagerepo.IndexName),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instruction.
func buildEmbedder(
	base domain.Embedder,
	store db.Store,
	cfg config.EmbeddingConfig,
	logger *zap.Logger,
) domain.Embedder {
	embedder := base
	if store != nil {
		ttl := time.Duration(cfg.CacheTTLHours) * time.Hour
		embedder = embcache.New(base, store, ttl, metrics.EmbeddingCacheTotal, logger)
	}

	// Instruction prefix (outermost — cache key includes instruction)
	if cfg.QueryInstruction != "" {
		return domain.NewInstructionEmbedder(embedder, cfg.QueryInstruction)
	}

	return embedder
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
