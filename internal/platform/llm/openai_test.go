package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postloom/postloom-backend/internal/platform/gcs"
	"github.com/postloom/postloom-backend/internal/platform/logger"
)

const responsesOK = `{
	"output": [{
		"type": "message",
		"role": "assistant",
		"content": [{"type": "output_text", "text": "hello from the model"}]
	}],
	"usage": {"input_tokens": 5, "output_tokens": 7, "total_tokens": 12}
}`

func newTestProvider(t *testing.T, srv *httptest.Server) Provider {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", srv.URL)

	p, err := NewOpenAIProvider(logger.NewNop(), gcs.NopArchive{}, Config{
		ChatModel:   "chat-model",
		SearchModel: "search-model",
	})
	require.NoError(t, err)
	return p
}

func TestChatParsesOutputAndUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, responsesOK)
	}))
	defer srv.Close()

	resp, err := newTestProvider(t, srv).Chat(context.Background(), "hi", "")
	require.NoError(t, err)

	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, "chat-model", resp.Model)
	assert.Equal(t, "hello from the model", resp.Output)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 5, resp.Usage.PromptTokens)
	assert.Equal(t, 7, resp.Usage.CompletionTokens)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestChatDoesNotRetryServerErrors(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	resp, err := newTestProvider(t, srv).Chat(context.Background(), "hi", "")
	require.Error(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits), "chat fails fast, no retry")
	assert.NotEmpty(t, resp.Err, "error envelope mirrors the failure for audit")
	assert.Empty(t, resp.Output)
}

func TestWebSearchRetriesRateLimits(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, responsesOK)
	}))
	defer srv.Close()

	resp, err := newTestProvider(t, srv).WebSearch(context.Background(), "", "find sources")
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&hits), "429 is retried with backoff")
	assert.Equal(t, "search-model", resp.Model)
	assert.Equal(t, "hello from the model", resp.Output)
}

func TestWebSearchSurfacesTerminal4xx(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestProvider(t, srv).WebSearch(context.Background(), "", "find sources")
	require.Error(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits), "4xx other than 429 is terminal")

	var httpErr *openAIHTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
}

func TestChatEmptyOutputIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"output": [], "usage": {}}`)
	}))
	defer srv.Close()

	_, err := newTestProvider(t, srv).Chat(context.Background(), "hi", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output_text")
}

func TestImageEmptyDataIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		fmt.Fprint(w, `{"data": []}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	_, err := p.Image(context.Background(), "a robot", "img-model")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image returned")
}

func TestImageMissingURLAndPayloadIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": [{"url": "", "b64_json": ""}]}`)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv)
	_, err := p.Image(context.Background(), "a robot", "img-model")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing url and b64_json")
}

func TestNormalizeUsageFallsBackToLegacyFields(t *testing.T) {
	var resp responsesResponse
	resp.Usage.PromptTokens = 3
	resp.Usage.CompletionTokens = 4

	u := normalizeUsage(resp)
	require.NotNil(t, u)
	assert.Equal(t, 3, u.PromptTokens)
	assert.Equal(t, 4, u.CompletionTokens)
	assert.Equal(t, 7, u.TotalTokens)

	assert.Nil(t, normalizeUsage(responsesResponse{}), "absent usage maps to nil")
}

func TestStatusFromErr(t *testing.T) {
	assert.Equal(t, "429", statusFromErr(&openAIHTTPError{StatusCode: 429}))
	assert.Equal(t, "canceled", statusFromErr(context.Canceled))
	assert.Equal(t, "timeout", statusFromErr(context.DeadlineExceeded))
	assert.Equal(t, "error", statusFromErr(fmt.Errorf("other")))
}
