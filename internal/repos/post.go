package repos

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/postloom/postloom-backend/internal/platform/logger"
	"github.com/postloom/postloom-backend/internal/types"
)

// FinalDraft is the finalized content attached to a drafted post.
type FinalDraft struct {
	Title           string
	Body            string
	Tags            []string
	SlugText        string
	MetaDescription string
	FocusKeyphrase  string
	ImageURL        string
}

type PostRepo interface {
	// CreateDraft inserts an in-progress row before generation starts so the
	// draft identity exists for the whole pipeline.
	CreateDraft(ctx context.Context, tx *gorm.DB, accountID, batchID uuid.UUID, platform types.Platform) (*types.Post, error)
	FinalizeDraft(ctx context.Context, tx *gorm.DB, draftID uuid.UUID, final FinalDraft) error
	MarkBatchFailed(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, reason string) error
	GetByBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]*types.Post, error)
}

type postRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostRepo(db *gorm.DB, baseLog *logger.Logger) PostRepo {
	return &postRepo{db: db, log: baseLog.With("repo", "PostRepo")}
}

func (r *postRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *postRepo) CreateDraft(ctx context.Context, tx *gorm.DB, accountID, batchID uuid.UUID, platform types.Platform) (*types.Post, error) {
	post := &types.Post{
		AccountID: accountID,
		BatchID:   batchID,
		Status:    types.PostStatusDrafted,
		Platform:  platform,
	}
	if err := r.conn(tx).WithContext(ctx).Create(post).Error; err != nil {
		return nil, err
	}
	return post, nil
}

func (r *postRepo) FinalizeDraft(ctx context.Context, tx *gorm.DB, draftID uuid.UUID, final FinalDraft) error {
	tags, err := json.Marshal(final.Tags)
	if err != nil {
		return err
	}
	updates := map[string]any{
		"status":           types.PostStatusGenerated,
		"title":            final.Title,
		"body":             final.Body,
		"tags":             datatypes.JSON(tags),
		"slug_text":        final.SlugText,
		"meta_description": final.MetaDescription,
		"focus_keyphrase":  final.FocusKeyphrase,
		"image_url":        final.ImageURL,
	}
	return r.conn(tx).WithContext(ctx).
		Model(&types.Post{}).
		Where("id = ?", draftID).
		Updates(updates).Error
}

func (r *postRepo) MarkBatchFailed(ctx context.Context, tx *gorm.DB, batchID uuid.UUID, reason string) error {
	return r.conn(tx).WithContext(ctx).
		Model(&types.Post{}).
		Where("batch_id = ?", batchID).
		Updates(map[string]any{
			"status":        types.PostStatusFailed,
			"error_message": reason,
		}).Error
}

func (r *postRepo) GetByBatch(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]*types.Post, error) {
	var posts []*types.Post
	if err := r.conn(tx).WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at asc").
		Find(&posts).Error; err != nil {
		return nil, err
	}
	return posts, nil
}
