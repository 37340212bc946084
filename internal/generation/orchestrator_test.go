package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/postloom/postloom-backend/internal/links"
	"github.com/postloom/postloom-backend/internal/platform/llm"
	"github.com/postloom/postloom-backend/internal/platform/logger"
	"github.com/postloom/postloom-backend/internal/repos"
	"github.com/postloom/postloom-backend/internal/types"
)

type fakeProvider struct {
	mu          sync.Mutex
	chatCalls   int32
	chatPrompts []string

	chatFn   func(call int) (llm.Response, error)
	searchFn func() (llm.Response, error)
	imageFn  func() (string, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Chat(ctx context.Context, message, model string) (llm.Response, error) {
	call := int(atomic.AddInt32(&f.chatCalls, 1))
	f.mu.Lock()
	f.chatPrompts = append(f.chatPrompts, message)
	f.mu.Unlock()
	return f.chatFn(call)
}

func (f *fakeProvider) WebSearch(ctx context.Context, model, message string) (llm.Response, error) {
	if f.searchFn == nil {
		return llm.Response{Provider: "fake", Output: "not json"}, nil
	}
	return f.searchFn()
}

func (f *fakeProvider) Image(ctx context.Context, prompt, model string) (string, error) {
	if f.imageFn == nil {
		return "https://cdn.fake/img.png", nil
	}
	return f.imageFn()
}

type fakeAccounts struct{ account *types.Account }

func (f *fakeAccounts) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Account, error) {
	return f.account, nil
}

type fakeRecs struct{ rec *types.Recommendation }

func (f *fakeRecs) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Recommendation, error) {
	if f.rec == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return f.rec, nil
}

type fakePosts struct {
	mu        sync.Mutex
	drafts    []*types.Post
	finalized map[uuid.UUID]repos.FinalDraft
	failedMsg string

	// createErr, when set, is consulted per CreateDraft call (1-based).
	createErr func(call int) error
	creates   int
}

func newFakePosts() *fakePosts {
	return &fakePosts{finalized: make(map[uuid.UUID]repos.FinalDraft)}
}

func (f *fakePosts) CreateDraft(ctx context.Context, tx *gorm.DB, accountID, batchID uuid.UUID, platform types.Platform) (*types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		if err := f.createErr(f.creates); err != nil {
			return nil, err
		}
	}
	post := &types.Post{
		ID:        uuid.New(),
		AccountID: accountID,
		BatchID:   batchID,
		Status:    types.PostStatusDrafted,
		Platform:  platform,
	}
	f.drafts = append(f.drafts, post)
	return post, nil
}

func (f *fakePosts) FinalizeDraft(ctx context.Context, tx *gorm.DB, draftID uuid.UUID, final repos.FinalDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized[draftID] = final
	return nil
}

func (f *fakePosts) MarkBatchFailed(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failedMsg = reason
	return nil
}

func (f *fakePosts) GetByBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]*types.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drafts, nil
}

type fakeCallLogs struct {
	mu   sync.Mutex
	logs []*types.AICallLog
}

func (f *fakeCallLogs) Create(ctx context.Context, tx *gorm.DB, logs []*types.AICallLog) ([]*types.AICallLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, logs...)
	return logs, nil
}

func chatJSON(t *testing.T, fields map[string]any) llm.Response {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return llm.Response{Provider: "fake", Model: "m", Output: string(raw)}
}

func testOrchestrator(provider llm.Provider, posts *fakePosts, calls *fakeCallLogs, recs repos.RecommendationRepo) *Orchestrator {
	account := &types.Account{ID: uuid.New(), Name: "Brand"}
	if recs == nil {
		recs = &fakeRecs{}
	}
	return NewOrchestrator(
		logger.NewNop(),
		provider,
		llm.Config{ChatModel: "m", SearchModel: "s", ImageModel: "i"},
		links.NewValidator(logger.NewNop(), nil),
		&fakeAccounts{account: account},
		recs,
		posts,
		calls,
	)
}

func blogPayload(count int) *Payload {
	return &Payload{
		AccountID: uuid.New(),
		BatchID:   uuid.New(),
		Topic:     "industrial automation",
		Platform:  "blog",
		PostCount: count,
	}
}

const authoritativeBody = `<p>According to a 2024 industry report, adoption grew 42%.</p>` +
	`<p>See <a href="https://real-site.io/report">the study</a>.</p>`

const vagueBody = `<p>Things are going well and this product is nice.</p>`

func TestGenerateRetriesOnceThenAcceptsFailure(t *testing.T) {
	provider := &fakeProvider{
		chatFn: func(call int) (llm.Response, error) {
			// Every attempt fails validation; the retry-once policy must
			// stop after one regeneration and accept the second result.
			return chatJSON(t, map[string]any{
				"title":   "Vague post",
				"content": vagueBody,
			}), nil
		},
	}
	posts := newFakePosts()
	o := testOrchestrator(provider, posts, &fakeCallLogs{}, nil)

	out, err := o.Generate(context.Background(), blogPayload(1), types.PlatformBlog)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, int32(2), atomic.LoadInt32(&provider.chatCalls),
		"one initial attempt plus exactly one regeneration")
	assert.Len(t, posts.finalized, 1, "failed-twice content is still accepted")
	assert.Empty(t, posts.failedMsg)
}

func TestGenerateNoRetryWhenValidationPasses(t *testing.T) {
	provider := &fakeProvider{
		chatFn: func(call int) (llm.Response, error) {
			return chatJSON(t, map[string]any{
				"title":   "Solid post",
				"content": authoritativeBody,
			}), nil
		},
	}
	posts := newFakePosts()
	o := testOrchestrator(provider, posts, &fakeCallLogs{}, nil)

	_, err := o.Generate(context.Background(), blogPayload(1), types.PlatformBlog)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.chatCalls))
}

func TestGenerateListicleStructuralRepairInsteadOfRegeneration(t *testing.T) {
	body := `<h2>1. Acme Robotics</h2><p>a</p>` +
		`<h2>2. another vague option</h2><p>b</p>` +
		`<h2>3. DataForge</h2><p>c</p>`
	provider := &fakeProvider{
		chatFn: func(call int) (llm.Response, error) {
			return chatJSON(t, map[string]any{
				"title":   "Top 3 automation companies",
				"content": body,
			}), nil
		},
	}
	posts := newFakePosts()
	o := testOrchestrator(provider, posts, &fakeCallLogs{}, nil)

	payload := blogPayload(1)
	payload.Platform = "listicle"
	_, err := o.Generate(context.Background(), payload, types.PlatformListicle)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.chatCalls),
		"listicle failures are repaired locally, not regenerated")

	require.Len(t, posts.finalized, 1)
	for _, final := range posts.finalized {
		assert.Equal(t, "Top 2 automation companies", final.Title)
		assert.Contains(t, final.Body, "<h2>2. DataForge</h2>")
		assert.NotContains(t, final.Body, "another vague option")
	}
}

func TestGenerateDraftCreationFailureMarksBatchFailed(t *testing.T) {
	boom := errors.New("insert rejected")
	provider := &fakeProvider{
		chatFn: func(call int) (llm.Response, error) {
			return llm.Response{}, errors.New("unexpected generation")
		},
	}
	posts := newFakePosts()
	posts.createErr = func(call int) error {
		if call == 2 {
			return boom
		}
		return nil
	}
	o := testOrchestrator(provider, posts, &fakeCallLogs{}, nil)

	_, err := o.Generate(context.Background(), blogPayload(2), types.PlatformBlog)
	require.Error(t, err)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, int32(0), atomic.LoadInt32(&provider.chatCalls),
		"no generation starts when draft creation fails")
	assert.Contains(t, posts.failedMsg, "insert rejected",
		"drafts created before the failure must be marked failed, not left drafted")
}

func TestGenerateListicleWithoutSectionsAcceptedWithoutRegeneration(t *testing.T) {
	provider := &fakeProvider{
		chatFn: func(call int) (llm.Response, error) {
			return chatJSON(t, map[string]any{
				"title":   "A listicle with no list",
				"content": "<p>just prose, no numbered headings</p>",
			}), nil
		},
	}
	posts := newFakePosts()
	o := testOrchestrator(provider, posts, &fakeCallLogs{}, nil)

	payload := blogPayload(1)
	payload.Platform = "listicle"
	_, err := o.Generate(context.Background(), payload, types.PlatformListicle)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&provider.chatCalls),
		"unrepairable listicle is accepted as-is, never regenerated")
	require.Len(t, posts.finalized, 1)
	for _, final := range posts.finalized {
		assert.Equal(t, "A listicle with no list", final.Title)
		assert.Contains(t, final.Body, "just prose")
	}
}

func TestGenerateBatchFailureOnProviderError(t *testing.T) {
	boom := errors.New("provider exploded")
	provider := &fakeProvider{
		chatFn: func(call int) (llm.Response, error) {
			return llm.Response{Provider: "fake", Err: boom.Error()}, boom
		},
	}
	posts := newFakePosts()
	o := testOrchestrator(provider, posts, &fakeCallLogs{}, nil)

	_, err := o.Generate(context.Background(), blogPayload(2), types.PlatformBlog)
	require.Error(t, err)
	require.ErrorIs(t, err, boom)

	assert.Contains(t, posts.failedMsg, "provider exploded")
	assert.Empty(t, posts.finalized)
}

func TestGenerateBatchFailureOnUnparseableOutput(t *testing.T) {
	provider := &fakeProvider{
		chatFn: func(call int) (llm.Response, error) {
			return llm.Response{Provider: "fake", Output: "total garbage, no json"}, nil
		},
	}
	posts := newFakePosts()
	o := testOrchestrator(provider, posts, &fakeCallLogs{}, nil)

	_, err := o.Generate(context.Background(), blogPayload(1), types.PlatformBlog)
	require.Error(t, err)
	assert.NotEmpty(t, posts.failedMsg)
}

func TestGenerateImageFailureFailsBatch(t *testing.T) {
	provider := &fakeProvider{
		chatFn: func(call int) (llm.Response, error) {
			return chatJSON(t, map[string]any{
				"title":        "Solid post",
				"content":      authoritativeBody,
				"image_prompt": "a robot in a field",
			}), nil
		},
		imageFn: func() (string, error) {
			return "", errors.New("image backend down")
		},
	}
	posts := newFakePosts()
	o := testOrchestrator(provider, posts, &fakeCallLogs{}, nil)

	_, err := o.Generate(context.Background(), blogPayload(1), types.PlatformBlog)
	require.Error(t, err)
	assert.Contains(t, posts.failedMsg, "image backend down")
}

func TestGenerateAttachesImageURL(t *testing.T) {
	provider := &fakeProvider{
		chatFn: func(call int) (llm.Response, error) {
			return chatJSON(t, map[string]any{
				"title":        "Solid post",
				"content":      authoritativeBody,
				"image_prompt": "a robot in a field",
			}), nil
		},
	}
	posts := newFakePosts()
	o := testOrchestrator(provider, posts, &fakeCallLogs{}, nil)

	_, err := o.Generate(context.Background(), blogPayload(1), types.PlatformBlog)
	require.NoError(t, err)

	require.Len(t, posts.finalized, 1)
	for _, final := range posts.finalized {
		assert.Equal(t, "https://cdn.fake/img.png", final.ImageURL)
	}
}

func TestGenerateUsesRecommendationSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sources, err := json.Marshal([]links.Candidate{{URL: srv.URL + "/report", Title: "Report"}})
	require.NoError(t, err)
	recID := uuid.New()
	recs := &fakeRecs{rec: &types.Recommendation{ID: recID, Sources: sources}}

	provider := &fakeProvider{
		chatFn: func(call int) (llm.Response, error) {
			return chatJSON(t, map[string]any{
				"title":   "Solid post",
				"content": authoritativeBody,
			}), nil
		},
	}
	posts := newFakePosts()
	o := testOrchestrator(provider, posts, &fakeCallLogs{}, recs)

	payload := blogPayload(1)
	payload.RecommendationID = &recID
	_, err = o.Generate(context.Background(), payload, types.PlatformBlog)
	require.NoError(t, err)

	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Len(t, provider.chatPrompts, 1)
	assert.Contains(t, provider.chatPrompts[0], srv.URL+"/report",
		"validated sources are embedded in the draft prompt")
}

func TestGenerateRecordsCallLogs(t *testing.T) {
	provider := &fakeProvider{
		chatFn: func(call int) (llm.Response, error) {
			return chatJSON(t, map[string]any{
				"title":   "Solid post",
				"content": authoritativeBody,
			}), nil
		},
	}
	posts := newFakePosts()
	callLogs := &fakeCallLogs{}
	o := testOrchestrator(provider, posts, callLogs, nil)

	_, err := o.Generate(context.Background(), blogPayload(1), types.PlatformBlog)
	require.NoError(t, err)

	callLogs.mu.Lock()
	defer callLogs.mu.Unlock()
	// One web-search discovery call plus one chat call.
	require.Len(t, callLogs.logs, 2)
	ops := []string{callLogs.logs[0].Operation, callLogs.logs[1].Operation}
	assert.Contains(t, ops, "web_search")
	assert.Contains(t, ops, "chat")
}
