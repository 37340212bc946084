// Package generation coordinates the full draft pipeline: prompt assembly,
// provider calls, repair, normalization, validation and the retry-once
// policy, ending in a persistence handoff.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/postloom/postloom-backend/internal/content"
	"github.com/postloom/postloom-backend/internal/links"
	"github.com/postloom/postloom-backend/internal/platform/ctxutil"
	"github.com/postloom/postloom-backend/internal/platform/llm"
	"github.com/postloom/postloom-backend/internal/platform/logger"
	"github.com/postloom/postloom-backend/internal/repos"
	"github.com/postloom/postloom-backend/internal/types"
)

type Orchestrator struct {
	log      *logger.Logger
	provider llm.Provider
	models   llm.Config
	linkVal  *links.Validator

	accounts repos.AccountRepo
	recs     repos.RecommendationRepo
	posts    repos.PostRepo
	aiLogs   repos.AICallLogRepo
}

func NewOrchestrator(
	baseLog *logger.Logger,
	provider llm.Provider,
	models llm.Config,
	linkVal *links.Validator,
	accounts repos.AccountRepo,
	recs repos.RecommendationRepo,
	posts repos.PostRepo,
	aiLogs repos.AICallLogRepo,
) *Orchestrator {
	return &Orchestrator{
		log:      baseLog.With("component", "Orchestrator"),
		provider: provider,
		models:   models,
		linkVal:  linkVal,
		accounts: accounts,
		recs:     recs,
		posts:    posts,
		aiLogs:   aiLogs,
	}
}

// batchState is the mutable state of one generation batch. It lives on the
// stack of a single Generate call, never on the Orchestrator, so concurrent
// batches cannot observe each other's retry bookkeeping.
type batchState struct {
	mu      sync.Mutex
	retried map[uuid.UUID]bool
	calls   []*types.AICallLog
}

func (s *batchState) markRetried(draftID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retried[draftID] {
		return false
	}
	s.retried[draftID] = true
	return true
}

func (s *batchState) record(accountID uuid.UUID, operation string, resp llm.Response) {
	entry := &types.AICallLog{
		AccountID: accountID,
		Provider:  resp.Provider,
		Model:     resp.Model,
		Operation: operation,
		Error:     resp.Err,
	}
	if resp.Usage != nil {
		entry.PromptTokens = resp.Usage.PromptTokens
		entry.CompletionTokens = resp.Usage.CompletionTokens
		entry.TotalTokens = resp.Usage.TotalTokens
	}
	s.mu.Lock()
	s.calls = append(s.calls, entry)
	s.mu.Unlock()
}

// Generate runs one batch end to end. The N drafts are created up front and
// generated concurrently; validation failures are absorbed by the retry-once
// policy, while any unexpected error marks the whole batch failed and is
// returned to the caller. Partial success is never exposed.
func (o *Orchestrator) Generate(ctx context.Context, payload *Payload, platform types.Platform) ([]*types.Post, error) {
	account, err := o.accounts.GetByID(ctx, nil, payload.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", payload.AccountID, err)
	}
	ctx = ctxutil.WithAccountID(ctx, account.ID)

	log := o.log.With("account_id", account.ID, "batch_id", payload.BatchID, "platform", platform)
	brand := newBrandContext(account)

	state := &batchState{retried: make(map[uuid.UUID]bool)}

	drafts := make([]*types.Post, 0, payload.PostCount)
	for i := 0; i < payload.PostCount; i++ {
		draft, err := o.posts.CreateDraft(ctx, nil, account.ID, payload.BatchID, platform)
		if err != nil {
			// Drafts created before the failure must not linger in-progress.
			return nil, o.failBatch(ctx, log, payload.BatchID, state, fmt.Errorf("create draft: %w", err))
		}
		drafts = append(drafts, draft)
	}

	sources, err := o.resolveSources(ctx, state, payload, account)
	if err != nil {
		return nil, o.failBatch(ctx, log, payload.BatchID, state, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, draft := range drafts {
		i, draft := i, draft
		g.Go(func() error {
			return o.generateDraft(gctx, log, state, brand, payload, platform, sources, draft, i)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, o.failBatch(ctx, log, payload.BatchID, state, err)
	}

	o.flushCallLogs(ctx, log, state)

	finalized, err := o.posts.GetByBatch(ctx, nil, payload.BatchID)
	if err != nil {
		return nil, fmt.Errorf("load finalized batch %s: %w", payload.BatchID, err)
	}
	log.Info("generation batch finalized", "drafts", len(finalized))
	return finalized, nil
}

// resolveSources picks the source list in priority order: payload-provided,
// then the referenced recommendation's stored sources, then a fresh
// web-search discovery pass. Whatever the origin, candidates go through the
// link validator before any of them reach a prompt.
func (o *Orchestrator) resolveSources(ctx context.Context, state *batchState, payload *Payload, account *types.Account) (*links.Result, error) {
	candidates := payload.Sources

	if len(candidates) == 0 && payload.RecommendationID != nil {
		rec, err := o.recs.GetByID(ctx, nil, *payload.RecommendationID)
		if err != nil {
			return nil, fmt.Errorf("load recommendation %s: %w", *payload.RecommendationID, err)
		}
		candidates = decodeRecommendationSources(rec)
	}

	if len(candidates) == 0 {
		resp, err := o.provider.WebSearch(ctx, o.models.SearchModel, buildSearchPrompt(payload.Topic))
		state.record(payload.AccountID, "web_search", resp)
		if err != nil {
			return nil, fmt.Errorf("discover sources: %w", err)
		}
		doc, err := content.Repair(resp.Output)
		if err != nil {
			// Discovery output that cannot be parsed just means no sources.
			o.log.Warn("unparseable web search output, continuing without sources", "error", err)
		} else {
			candidates = parseSearchSources(doc)
		}
	}

	if len(candidates) == 0 {
		return &links.Result{}, nil
	}
	return o.linkVal.Validate(ctx, candidates, decodeStringList(account.Domains))
}

func decodeRecommendationSources(rec *types.Recommendation) []links.Candidate {
	if len(rec.Sources) == 0 {
		return nil
	}
	var out []links.Candidate
	if err := json.Unmarshal(rec.Sources, &out); err != nil {
		return nil
	}
	return out
}

// generateDraft runs one draft through chat → repair → normalize → validate
// with the retry-once policy. Returned errors are unexpected failures that
// abort the batch.
func (o *Orchestrator) generateDraft(
	ctx context.Context,
	log *logger.Logger,
	state *batchState,
	brand brandContext,
	payload *Payload,
	platform types.Platform,
	sources *links.Result,
	draft *types.Post,
	ordinal int,
) error {
	log = log.With("draft_id", draft.ID)
	prompt := buildDraftPrompt(brand, payload, platform, sources, ordinal)

	gc, verdict, err := o.produce(ctx, state, payload.AccountID, prompt, platform)
	if err != nil {
		return err
	}

	if !verdict.Pass {
		gc, verdict, err = o.handleFailedValidation(ctx, log, state, payload.AccountID, prompt, platform, draft.ID, gc, verdict)
		if err != nil {
			return err
		}
	}

	final := repos.FinalDraft{
		Title:           gc.Title,
		Body:            gc.Content,
		Tags:            gc.Tags,
		SlugText:        gc.Slug,
		MetaDescription: gc.MetaDescription,
		FocusKeyphrase:  gc.FocusKeyphrase,
	}

	if !platform.IsSocial() && gc.ImagePrompt != "" {
		imageURL, err := o.provider.Image(ctx, gc.ImagePrompt, o.models.ImageModel)
		if err != nil {
			return fmt.Errorf("generate image for draft %s: %w", draft.ID, err)
		}
		final.ImageURL = imageURL
	}

	if err := o.posts.FinalizeDraft(ctx, nil, draft.ID, final); err != nil {
		return fmt.Errorf("finalize draft %s: %w", draft.ID, err)
	}
	log.Info("draft finalized", "score", verdict.Score, "pass", verdict.Pass)
	return nil
}

// produce performs one chat call plus repair, normalization and validation.
func (o *Orchestrator) produce(ctx context.Context, state *batchState, accountID uuid.UUID, prompt string, platform types.Platform) (content.GeneratedContent, content.Verdict, error) {
	resp, err := o.provider.Chat(ctx, prompt, o.models.ChatModel)
	state.record(accountID, "chat", resp)
	if err != nil {
		return content.GeneratedContent{}, content.Verdict{}, fmt.Errorf("chat completion: %w", err)
	}

	doc, err := content.Repair(resp.Output)
	if err != nil {
		return content.GeneratedContent{}, content.Verdict{}, err
	}

	gc := content.FromDocument(doc)
	content.Normalize(&gc, platform)

	return gc, o.validateContent(gc, platform), nil
}

func (o *Orchestrator) validateContent(gc content.GeneratedContent, platform types.Platform) content.Verdict {
	switch {
	case platform.IsListicle():
		return content.ValidateListicle(gc.Title, gc.Content)
	case platform.IsBlog():
		return content.ValidateBlog(gc.Title, gc.Content, gc.FocusKeyphrase)
	default:
		// Social posts have no authority rubric.
		return content.Verdict{Pass: true, Score: 100}
	}
}

// handleFailedValidation applies the retry-once policy. Listicles get a
// cheaper structural repair before any regeneration is considered. The second
// verdict is terminal either way: retried content is accepted even when it
// still fails, with a warning.
func (o *Orchestrator) handleFailedValidation(
	ctx context.Context,
	log *logger.Logger,
	state *batchState,
	accountID uuid.UUID,
	prompt string,
	platform types.Platform,
	draftID uuid.UUID,
	gc content.GeneratedContent,
	verdict content.Verdict,
) (content.GeneratedContent, content.Verdict, error) {
	// Listicle failures never regenerate: either the structural repair
	// succeeds, or the original content is accepted as-is.
	if platform.IsListicle() {
		title, body, ok := content.RepairListicle(gc.Title, gc.Content, verdict.InvalidItems)
		if ok {
			log.Info("listicle structurally repaired",
				"dropped_items", verdict.InvalidItems, "score", verdict.Score)
			gc.Title = title
			gc.Content = body
			return gc, o.validateContent(gc, platform), nil
		}
		log.Warn("listicle repair impossible, accepting original content",
			"invalid_items", verdict.InvalidItems, "score", verdict.Score)
		return gc, verdict, nil
	}

	if !state.markRetried(draftID) {
		log.Warn("draft already retried, accepting content as-is",
			"score", verdict.Score, "issues", len(verdict.Issues))
		return gc, verdict, nil
	}

	log.Info("validation failed, regenerating once",
		"score", verdict.Score, "issues", len(verdict.Issues))

	retryGC, retryVerdict, err := o.produce(ctx, state, accountID, prompt, platform)
	if err != nil {
		return content.GeneratedContent{}, content.Verdict{}, err
	}
	if !retryVerdict.Pass {
		log.Warn("retried draft still fails validation, accepting anyway",
			"score", retryVerdict.Score, "issues", len(retryVerdict.Issues))
	}
	return retryGC, retryVerdict, nil
}

// failBatch marks every draft in the batch failed with the captured message
// and returns the original error for upstream job tracking.
func (o *Orchestrator) failBatch(ctx context.Context, log *logger.Logger, batchID uuid.UUID, state *batchState, cause error) error {
	log.Error("generation batch failed", "error", cause)
	o.flushCallLogs(ctx, log, state)
	if err := o.posts.MarkBatchFailed(ctx, nil, batchID, cause.Error()); err != nil {
		log.Error("failed to mark batch failed", "error", err)
	}
	return cause
}

func (o *Orchestrator) flushCallLogs(ctx context.Context, log *logger.Logger, state *batchState) {
	state.mu.Lock()
	calls := state.calls
	state.calls = nil
	state.mu.Unlock()
	if len(calls) == 0 {
		return
	}
	if _, err := o.aiLogs.Create(ctx, nil, calls); err != nil {
		log.Warn("failed to persist ai call logs", "count", len(calls), "error", err)
	}
}
