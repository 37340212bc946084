package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/postloom/postloom-backend/internal/observability"
	"github.com/postloom/postloom-backend/internal/pkg/backoff"
	"github.com/postloom/postloom-backend/internal/pkg/httpx"
	"github.com/postloom/postloom-backend/internal/platform/ctxutil"
	"github.com/postloom/postloom-backend/internal/platform/gcs"
	"github.com/postloom/postloom-backend/internal/platform/logger"
)

const openAISearchBackoffCap = 10 * time.Second

type openAIProvider struct {
	log        *logger.Logger
	archive    gcs.Archive
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cfg        Config
	retry      backoff.Policy
}

func NewOpenAIProvider(log *logger.Logger, archive gcs.Archive, cfg Config) (Provider, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := 180
	if v := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	return &openAIProvider{
		log:        log.With("service", "OpenAIProvider"),
		archive:    archive,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		cfg:        cfg,
		retry:      backoff.NewPolicy().WithMaxDelay(openAISearchBackoffCap),
	}, nil
}

func (p *openAIProvider) Name() string { return ProviderOpenAI }

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

type responsesRequest struct {
	Model string           `json:"model"`
	Input []responsesInput `json:"input"`
	Tools []map[string]any `json:"tools,omitempty"`
}

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
	Usage   struct {
		InputTokens      int `json:"input_tokens"`
		OutputTokens     int `json:"output_tokens"`
		TotalTokens      int `json:"total_tokens"`
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

// normalizeUsage maps whichever token field pair the endpoint returned onto
// the common shape.
func normalizeUsage(resp responsesResponse) *Usage {
	u := Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		u.PromptTokens = resp.Usage.PromptTokens
		u.CompletionTokens = resp.Usage.CompletionTokens
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	if u.TotalTokens == 0 {
		return nil
	}
	return &u
}

func (p *openAIProvider) doOnce(ctx context.Context, method, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if uErr := json.Unmarshal(raw, out); uErr != nil {
		return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
	}
	return nil
}

func (p *openAIProvider) complete(ctx context.Context, operation string, req responsesRequest, retried bool) (Response, error) {
	envelope := Response{Provider: p.Name(), Model: req.Model, Input: req.Input[len(req.Input)-1].Content}
	start := time.Now()

	var resp responsesResponse
	op := func() error { return p.doOnce(ctx, "POST", "/v1/responses", req, &resp) }

	var err error
	if retried {
		err = backoff.Do(ctx, p.retry, op, httpx.IsRetryableError)
	} else {
		err = op()
	}

	if err == nil && strings.TrimSpace(resp.Refusal) != "" {
		err = fmt.Errorf("model refused: %s", resp.Refusal)
	}
	if err == nil && strings.TrimSpace(extractOutputText(resp)) == "" {
		err = errors.New("no output_text found in response")
	}

	if err != nil {
		envelope.Err = err.Error()
		p.observe(operation, statusFromErr(err), start, envelope.Usage)
		auditCall(ctx, p.log, p.archive, operation, envelope)
		return envelope, err
	}

	envelope.Output = extractOutputText(resp)
	envelope.Usage = normalizeUsage(resp)
	p.observe(operation, "200", start, envelope.Usage)
	auditCall(ctx, p.log, p.archive, operation, envelope)
	return envelope, nil
}

func (p *openAIProvider) Chat(ctx context.Context, message string, model string) (Response, error) {
	if strings.TrimSpace(model) == "" {
		model = p.cfg.ChatModel
	}
	req := responsesRequest{
		Model: model,
		Input: []responsesInput{{Role: "user", Content: message}},
	}
	return p.complete(ctx, "chat", req, false)
}

func (p *openAIProvider) WebSearch(ctx context.Context, model string, message string) (Response, error) {
	if strings.TrimSpace(model) == "" {
		model = p.cfg.SearchModel
	}
	req := responsesRequest{
		Model: model,
		Input: []responsesInput{{Role: "user", Content: message}},
		Tools: []map[string]any{{"type": "web_search_preview"}},
	}
	return p.complete(ctx, "web_search", req, true)
}

type imagesGenerationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

type imagesGenerationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

func (p *openAIProvider) Image(ctx context.Context, prompt string, model string) (string, error) {
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

	req := imagesGenerationRequest{
		Model:          model,
		Prompt:         prompt,
		N:              1,
		Size:           "1024x1024",
		ResponseFormat: "url",
	}

	start := time.Now()
	envelope := Response{Provider: p.Name(), Model: model, Input: prompt}

	var resp imagesGenerationResponse
	if err := p.doOnce(ctx, "POST", "/v1/images/generations", req, &resp); err != nil {
		envelope.Err = err.Error()
		p.observe("image", statusFromErr(err), start, nil)
		auditCall(ctx, p.log, p.archive, "image", envelope)
		return "", err
	}
	if len(resp.Data) == 0 {
		err := errors.New("no image returned")
		envelope.Err = err.Error()
		p.observe("image", statusFromErr(err), start, nil)
		auditCall(ctx, p.log, p.archive, "image", envelope)
		return "", err
	}

	item := resp.Data[0]
	url := strings.TrimSpace(item.URL)
	if url == "" && strings.TrimSpace(item.B64JSON) != "" {
		raw, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil || len(raw) == 0 {
			return "", fmt.Errorf("decode image base64: %w", err)
		}
		key := fmt.Sprintf("accounts/%s/images/%s.png", ctxutil.AccountID(ctx), uuid.New())
		url, err = p.archive.PutBytes(ctx, key, "image/png", raw)
		if err != nil {
			return "", fmt.Errorf("store generated image: %w", err)
		}
	}
	if url == "" {
		err := errors.New("image response missing url and b64_json")
		envelope.Err = err.Error()
		p.observe("image", statusFromErr(err), start, nil)
		auditCall(ctx, p.log, p.archive, "image", envelope)
		return "", err
	}

	envelope.Output = url
	p.observe("image", "200", start, nil)
	auditCall(ctx, p.log, p.archive, "image", envelope)
	return url, nil
}

func (p *openAIProvider) observe(operation, status string, start time.Time, usage *Usage) {
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

func statusFromErr(err error) string {
	var httpErr *openAIHTTPError
	if errors.As(err, &httpErr) {
		return strconv.Itoa(httpErr.StatusCode)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
