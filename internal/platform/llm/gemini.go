package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/postloom/postloom-backend/internal/observability"
	"github.com/postloom/postloom-backend/internal/pkg/backoff"
	"github.com/postloom/postloom-backend/internal/pkg/httpx"
	"github.com/postloom/postloom-backend/internal/platform/ctxutil"
	"github.com/postloom/postloom-backend/internal/platform/gcs"
	"github.com/postloom/postloom-backend/internal/platform/logger"
)

const geminiSearchBackoffCap = 5 * time.Second

type geminiProvider struct {
	log     *logger.Logger
	archive gcs.Archive
	client  *genai.Client
	cfg     Config
	retry   backoff.Policy
}

func NewGeminiProvider(ctx context.Context, log *logger.Logger, archive gcs.Archive, cfg Config) (Provider, error) {
	apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &geminiProvider{
		log:     log.With("service", "GeminiProvider"),
		archive: archive,
		client:  client,
		cfg:     cfg,
		retry:   backoff.NewPolicy().WithMaxDelay(geminiSearchBackoffCap),
	}, nil
}

func (p *geminiProvider) Name() string { return ProviderGemini }

func geminiRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return httpx.IsRetryableHTTPStatus(apiErr.Code)
	}
	return httpx.IsRetryableError(err)
}

func geminiStatus(err error) string {
	if err == nil {
		return "200"
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return strconv.Itoa(apiErr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

func geminiUsage(resp *genai.GenerateContentResponse) *Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return nil
	}
	u := Usage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	if u.TotalTokens == 0 {
		return nil
	}
	return &u
}

func (p *geminiProvider) generate(ctx context.Context, operation, model, message string, cfg *genai.GenerateContentConfig, retried bool) (Response, error) {
	envelope := Response{Provider: p.Name(), Model: model, Input: message}
	start := time.Now()

	var resp *genai.GenerateContentResponse
	op := func() error {
		var err error
		resp, err = p.client.Models.GenerateContent(ctx, model, genai.Text(message), cfg)
		return err
	}

	var err error
	if retried {
		err = backoff.Do(ctx, p.retry, op, geminiRetryable)
	} else {
		err = op()
	}
	if err == nil && strings.TrimSpace(resp.Text()) == "" {
		err = errors.New("empty gemini response")
	}

	if err != nil {
		envelope.Err = err.Error()
		p.observe(operation, geminiStatus(err), start, nil)
		auditCall(ctx, p.log, p.archive, operation, envelope)
		return envelope, err
	}

	envelope.Output = resp.Text()
	envelope.Usage = geminiUsage(resp)
	p.observe(operation, "200", start, envelope.Usage)
	auditCall(ctx, p.log, p.archive, operation, envelope)
	return envelope, nil
}

func (p *geminiProvider) Chat(ctx context.Context, message string, model string) (Response, error) {
	if strings.TrimSpace(model) == "" {
		model = p.cfg.ChatModel
	}
	return p.generate(ctx, "chat", model, message, nil, false)
}

func (p *geminiProvider) WebSearch(ctx context.Context, model string, message string) (Response, error) {
	if strings.TrimSpace(model) == "" {
		model = p.cfg.SearchModel
	}
	cfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	return p.generate(ctx, "web_search", model, message, cfg, true)
}

func (p *geminiProvider) Image(ctx context.Context, prompt string, model string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("image prompt required")
	}
	if strings.TrimSpace(model) == "" {
		model = p.cfg.ImageModel
	}
	if strings.TrimSpace(model) == "" {
		return "", errors.New("image model not configured")
	}

	start := time.Now()
	envelope := Response{Provider: p.Name(), Model: model, Input: prompt}

	resp, err := p.client.Models.GenerateImages(ctx, model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		envelope.Err = err.Error()
		p.observe("image", geminiStatus(err), start, nil)
		auditCall(ctx, p.log, p.archive, "image", envelope)
		return "", err
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil || len(resp.GeneratedImages[0].Image.ImageBytes) == 0 {
		err := errors.New("no image returned")
		envelope.Err = err.Error()
		p.observe("image", geminiStatus(err), start, nil)
		auditCall(ctx, p.log, p.archive, "image", envelope)
		return "", err
	}

	img := resp.GeneratedImages[0].Image
	mime := strings.TrimSpace(img.MIMEType)
	if mime == "" {
		mime = "image/png"
	}
	key := fmt.Sprintf("accounts/%s/images/%s.png", ctxutil.AccountID(ctx), uuid.New())
	url, err := p.archive.PutBytes(ctx, key, mime, img.ImageBytes)
	if err != nil {
		return "", fmt.Errorf("store generated image: %w", err)
	}

	envelope.Output = url
	p.observe("image", "200", start, nil)
	auditCall(ctx, p.log, p.archive, "image", envelope)
	return url, nil
}

func (p *geminiProvider) observe(operation, status string, start time.Time, usage *Usage) {
	metrics := observability.Current()
	if metrics == nil {
		return
	}
	in, out := 0, 0
	if usage != nil {
		in, out = usage.PromptTokens, usage.CompletionTokens
	}
	metrics.ObserveLLMRequest(p.Name(), operation, status, time.Since(start), in, out)
}
