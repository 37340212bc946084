package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/postloom/postloom-backend/internal/config"
	"github.com/postloom/postloom-backend/internal/db"
	"github.com/postloom/postloom-backend/internal/generation"
	"github.com/postloom/postloom-backend/internal/links"
	"github.com/postloom/postloom-backend/internal/observability"
	"github.com/postloom/postloom-backend/internal/platform/envutil"
	"github.com/postloom/postloom-backend/internal/platform/gcs"
	"github.com/postloom/postloom-backend/internal/platform/llm"
	"github.com/postloom/postloom-backend/internal/platform/logger"
	"github.com/postloom/postloom-backend/internal/repos"
)

// The worker runs one generation batch per invocation: the payload comes from
// a file argument or stdin, the finalized drafts go to stdout as JSON. Job
// dispatch and transport are owned by the surrounding infrastructure.
func main() {
	log, err := logger.New(envutil.GetEnv("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(context.Background(), log); err != nil {
		log.Fatal("generation worker failed", "error", err)
	}
}

func run(ctx context.Context, log *logger.Logger) error {
	cfg, err := config.Load(envutil.GetEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		return err
	}

	metrics, err := observability.New()
	if err != nil {
		log.Warn("metrics init failed, continuing without", "error", err)
	} else {
		observability.SetCurrent(metrics)
	}

	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		return fmt.Errorf("postgres migration: %w", err)
	}
	thePG := postgresService.DB()

	accountRepo := repos.NewAccountRepo(thePG, log)
	recommendationRepo := repos.NewRecommendationRepo(thePG, log)
	postRepo := repos.NewPostRepo(thePG, log)
	aiCallLogRepo := repos.NewAICallLogRepo(thePG, log)

	archive, err := gcs.NewArchive(log)
	if err != nil {
		log.Warn("archive init failed, call audit disabled", "error", err)
		archive = gcs.NopArchive{}
	}

	provider, err := llm.FromConfig(ctx, log, archive, cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm provider init: %w", err)
	}

	var cache *redis.Client
	if addr := envutil.GetEnv("REDIS_ADDR", ""); addr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: envutil.GetEnv("REDIS_PASSWORD", ""),
		})
		if err := cache.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, link cache disabled", "error", err)
			cache = nil
		}
	}
	linkValidator := links.NewValidator(log, cache)

	orchestrator := generation.NewOrchestrator(
		log, provider, cfg.LLM, linkValidator,
		accountRepo, recommendationRepo, postRepo, aiCallLogRepo,
	)

	raw, err := readPayload()
	if err != nil {
		return err
	}
	payload, platform, err := generation.ParsePayload(raw)
	if err != nil {
		return err
	}

	posts, err := orchestrator.Generate(ctx, payload, platform)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(posts)
}

func readPayload() ([]byte, error) {
	if len(os.Args) > 1 {
		raw, err := os.ReadFile(os.Args[1])
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		return raw, nil
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read payload from stdin: %w", err)
	}
	return raw, nil
}
