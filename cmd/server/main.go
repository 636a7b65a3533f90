// Command server runs the Discourse Lens HTTP API, Job Manager, and
// per-item pipeline worker pools as a single process. Grounded on
// codeready-toolchain-tarsy's cmd/tarsy/main.go (godotenv + config load +
// gin.SetMode + router.Run shape), extended with graceful shutdown since
// this process owns long-lived worker pools that must drain on exit.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jasonmaxxxon/discourse-lens/internal/breaker"
	"github.com/jasonmaxxxon/discourse-lens/internal/collaborators/anthropicllm"
	"github.com/jasonmaxxxon/discourse-lens/internal/collaborators/fakes"
	"github.com/jasonmaxxxon/discourse-lens/internal/config"
	"github.com/jasonmaxxxon/discourse-lens/internal/fingerprint"
	"github.com/jasonmaxxxon/discourse-lens/internal/httpapi"
	"github.com/jasonmaxxxon/discourse-lens/internal/jobmanager"
	"github.com/jasonmaxxxon/discourse-lens/internal/models"
	"github.com/jasonmaxxxon/discourse-lens/internal/notify"
	"github.com/jasonmaxxxon/discourse-lens/internal/phenomenon"
	"github.com/jasonmaxxxon/discourse-lens/internal/pipeline"
	"github.com/jasonmaxxxon/discourse-lens/internal/store"
	"github.com/jasonmaxxxon/discourse-lens/internal/version"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	envPath := flag.String("env-file", getEnv("ENV_FILE", ".env"), "path to a .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		log.Printf("warning: could not load %s: %v (continuing with process environment)", *envPath, err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	slog.Info("starting discourse-lens", "version", version.Full())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, store.Config{
		DSN:             cfg.Database.DSN(),
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer db.Close()
	slog.Info("connected to postgres and applied migrations")

	phenomenaStore := store.NewPhenomenaStore(db)

	// The scraper, vision, OCR, object-store, and raw embedding
	// collaborators are deliberately out of scope (spec §1): wired here
	// as in-memory fakes so the pipeline's stage machine is fully
	// exercised end to end without a production network dependency.
	// anthropicllm.Client is the one collaborator enriched with a real
	// SDK-backed implementation, since the LLM analyst call is the
	// system's central external dependency and the examples already
	// vet anthropic-sdk-go for it.
	scraperClient := &fakes.Scraper{}
	visionClient := &fakes.Vision{}
	ocrClient := &fakes.OCR{}
	rawEmbedder := &fakes.Embedding{Dim: cfg.Phenomenon.EmbeddingDim}

	llmClient := anthropicllm.New(anthropicllm.Config{
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.AnthropicModel,
		BreakerName: "anthropic-llm",
	})

	embedBreaker := breaker.New(breaker.DefaultConfig("embedding-provider"))
	wrappedEmbedder := fingerprint.NewEmbedder(rawEmbedder, embedBreaker)

	registry := phenomenon.New(phenomenaStore, wrappedEmbedder, phenomenon.Config{
		MatchThreshold: cfg.Phenomenon.MatchThreshold,
		MatchTopK:      cfg.Phenomenon.MatchTopK,
	})

	pl := pipeline.New(scraperClient, visionClient, ocrClient, llmClient, rawEmbedder, db, registry, pipeline.Config{
		VisionMode:         models.ParseVisionMode(cfg.Vision.Mode),
		VisionThreshold:    cfg.Vision.Threshold,
		PersistAssignments: cfg.Phenomenon.PersistAssignments,
	})

	manager := jobmanager.New(db, pl, cfg.Queue, cfg.Cache)

	notifier := notify.NewService(notify.ServiceConfig{
		Token:        cfg.SlackToken,
		Channel:      cfg.SlackChannelID,
		DashboardURL: cfg.DashboardURL,
	})
	manager.SetNotifier(notifier)

	if err := jobmanager.CleanupStartupOrphans(ctx, db, cfg.Queue.StaleThreshold); err != nil {
		slog.Error("startup orphan cleanup failed", "error", err)
	}

	router := httpapi.New(manager, db, phenomenaStore, registry, cfg.GinMode)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		slog.Info("http server listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server exited", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	manager.StopAll()
	slog.Info("shutdown complete")
}
