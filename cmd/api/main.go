// Package main implements the AskBase QA API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AskBaseAI/askbase/engine/domain"
	"github.com/AskBaseAI/askbase/engine/qa"
	"github.com/AskBaseAI/askbase/engine/semantic"
	"github.com/AskBaseAI/askbase/pkg/embedcache"
	"github.com/AskBaseAI/askbase/pkg/metrics"
	"github.com/AskBaseAI/askbase/pkg/mid"
	"github.com/AskBaseAI/askbase/pkg/natsutil"
	"github.com/AskBaseAI/askbase/pkg/ollama"
	"github.com/AskBaseAI/askbase/pkg/resilience"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/time/rate"
)

// Config holds all environment-based configuration.
type Config struct {
	Port        string
	OllamaURL   string
	OllamaModel string
	QdrantURL   string
	Collection  string
	VectorDim   int     // 0 means take the dimension from the warmup probe
	MinScore    float32 // similarity threshold for search
	RedisURL    string  // empty disables the embedding cache
	CacheTTL    time.Duration
	NATSURL     string // empty disables record events
	CORSOrigin  string
	RateRPS     float64
	RateBurst   int
}

func loadConfig() Config {
	return Config{
		Port:        envOr("PORT", "8080"),
		OllamaURL:   envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel: envOr("OLLAMA_MODEL", "nomic-embed-text"),
		QdrantURL:   envOr("QDRANT_URL", "localhost:6334"),
		Collection:  envOr("QDRANT_COLLECTION", "qa_collection"),
		VectorDim:   envInt("VECTOR_DIM", 0),
		MinScore:    float32(envFloat("SCORE_THRESHOLD", 0.31)),
		RedisURL:    os.Getenv("REDIS_URL"),
		CacheTTL:    envDuration("EMBED_CACHE_TTL", 24*time.Hour),
		NATSURL:     os.Getenv("NATS_URL"),
		CORSOrigin:  envOr("CORS_ORIGIN", "*"),
		RateRPS:     envFloat("RATE_LIMIT_RPS", 50),
		RateBurst:   envInt("RATE_LIMIT_BURST", 100),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func main() {
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Embedding provider ---
	// The first embedding pulls the model into memory, so warmup gets a
	// generous deadline; a provider that cannot initialize fails startup.
	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaModel)

	warmupCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	dims, err := ollamaClient.Warmup(warmupCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("embedding provider init: %w", err)
	}
	if cfg.VectorDim > 0 && cfg.VectorDim != dims {
		return fmt.Errorf("model %s produces %d dims, VECTOR_DIM says %d", cfg.OllamaModel, dims, cfg.VectorDim)
	}
	logger.Info("embedding provider ready", "model", cfg.OllamaModel, "dims", dims)

	var embedder qa.Embedder = &breakerEmbedder{
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		inner:   ollamaClient,
	}

	if cfg.RedisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer rdb.Close()
		embedder = embedcache.New(embedder, rdb, "emb:"+cfg.OllamaModel+":", cfg.CacheTTL, logger)
		logger.Info("embedding cache enabled", "redis", cfg.RedisURL)
	}

	// --- Vector store ---
	store, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	ensureCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = store.EnsureCollection(ensureCtx, dims)
	cancel()
	if err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	// --- Record events ---
	var events qa.Events
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		events = &natsEvents{nc: nc, logger: logger}
		logger.Info("record events enabled", "nats", cfg.NATSURL)
	}

	// --- QA service ---
	reg := metrics.New()
	opts := qa.DefaultOptions()
	opts.MinScore = cfg.MinScore
	opts.Metrics = reg
	svc := qa.New(embedder, store, events, opts, logger)

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("POST /add", handleAdd(svc))
	mux.HandleFunc("POST /search", handleSearch(svc))
	mux.HandleFunc("GET /all", handleAll(svc))
	mux.HandleFunc("POST /delete", handleDelete(svc))
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /metrics", reg.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel("askbase-api"),
		mid.CORS(cfg.CORSOrigin),
		mid.RateLimit(rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst)),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "collection", cfg.Collection)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Adapters ---

// breakerEmbedder runs embeddings through a circuit breaker so a dead
// provider sheds load fast instead of queueing slow requests.
type breakerEmbedder struct {
	breaker *resilience.Breaker
	inner   qa.Embedder
}

func (b *breakerEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := b.breaker.Call(ctx, func(ctx context.Context) error {
		v, err := b.inner.Embed(ctx, text)
		vec = v
		return err
	})
	return vec, err
}

// natsEvents publishes record notifications; failures are logged, never
// surfaced to the caller.
type natsEvents struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func (e *natsEvents) RecordAdded(ctx context.Context, rec domain.QARecord) {
	if err := natsutil.Publish(ctx, e.nc, "qa.record.added", rec); err != nil {
		e.logger.Warn("event publish failed", "subject", "qa.record.added", "err", err)
	}
}

type deletedEvent struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Deleted  int    `json:"deleted"`
}

func (e *natsEvents) RecordDeleted(ctx context.Context, question, answer string, removed int) {
	ev := deletedEvent{Question: question, Answer: answer, Deleted: removed}
	if err := natsutil.Publish(ctx, e.nc, "qa.record.deleted", ev); err != nil {
		e.logger.Warn("event publish failed", "subject", "qa.record.deleted", "err", err)
	}
}
