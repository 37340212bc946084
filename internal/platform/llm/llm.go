// Package llm is the provider abstraction over chat, web-search-augmented and
// image generation endpoints. Two variants exist (OpenAI-like, Gemini-like)
// behind one capability contract; selection is a pure mapping from
// configuration, never string dispatch inside business logic.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/postloom/postloom-backend/internal/platform/ctxutil"
	"github.com/postloom/postloom-backend/internal/platform/gcs"
	"github.com/postloom/postloom-backend/internal/platform/logger"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Usage is the normalized token accounting shape shared by both variants.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the common call envelope. Exactly one of Output/Err is
// populated; Err mirrors the returned error so the audit record is complete
// on failures too.
type Response struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Input    string `json:"input"`
	Output   string `json:"output,omitempty"`
	Usage    *Usage `json:"usage,omitempty"`
	Err      string `json:"error,omitempty"`
}

type Provider interface {
	Name() string

	// Chat is a single request/response with no retry wrapper: completion
	// failures are usually deterministic (bad prompt) and surfaced fast.
	Chat(ctx context.Context, message string, model string) (Response, error)

	// WebSearch is retried with backoff; the upstream search infrastructure
	// rate-limits aggressively.
	WebSearch(ctx context.Context, model string, message string) (Response, error)

	// Image returns a hosted URL for the generated image. Failures are fatal
	// for the draft, no retry.
	Image(ctx context.Context, prompt string, model string) (string, error)
}

type Config struct {
	Provider    string `yaml:"provider"`
	ChatModel   string `yaml:"chat_model"`
	SearchModel string `yaml:"search_model"`
	ImageModel  string `yaml:"image_model"`
}

// FromConfig maps the configured provider tag to a variant.
func FromConfig(ctx context.Context, log *logger.Logger, archive gcs.Archive, cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		return NewOpenAIProvider(log, archive, cfg)
	case ProviderGemini:
		return NewGeminiProvider(ctx, log, archive, cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// auditCall hands the full call payload to the archive, keyed by account and
// timestamp. Fire-and-forget: storage failures are logged and never fail the
// generation.
func auditCall(ctx context.Context, log *logger.Logger, archive gcs.Archive, operation string, resp Response) {
	if archive == nil {
		return
	}
	account := ctxutil.AccountID(ctx)
	key := fmt.Sprintf("accounts/%s/llm/%d-%s.json", account, time.Now().UTC().UnixNano(), operation)

	payload, err := json.Marshal(resp)
	if err != nil {
		log.Warn("audit payload marshal failed", "operation", operation, "error", err)
		return
	}

	bg := context.WithoutCancel(ctx)
	go func() {
		putCtx, cancel := context.WithTimeout(bg, 30*time.Second)
		defer cancel()
		if err := archive.Put(putCtx, key, string(payload)); err != nil {
			log.Warn("audit upload failed", "key", key, "error", err)
		}
	}()
}
