package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PostStatus string

const (
	// PostStatusDrafted rows are created before generation starts so external
	// observers can see in-progress state.
	PostStatusDrafted   PostStatus = "drafted"
	PostStatusGenerated PostStatus = "generated"
	PostStatusFailed    PostStatus = "failed"
)

type Post struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	AccountID uuid.UUID `gorm:"type:uuid;not null;index" json:"account_id"`
	Account   *Account  `gorm:"constraint:OnDelete:CASCADE;foreignKey:AccountID;references:ID" json:"account,omitempty"`

	BatchID uuid.UUID `gorm:"type:uuid;not null;index" json:"batch_id"`

	Status   PostStatus `gorm:"not null;default:'drafted';index" json:"status"`
	Platform Platform   `gorm:"not null" json:"platform"`

	Title string `json:"title"`
	Body  string `gorm:"type:text" json:"body"`

	Tags datatypes.JSON `gorm:"type:jsonb" json:"tags"`

	SlugText        string `json:"slug_text"`
	MetaDescription string `json:"meta_description"`
	FocusKeyphrase  string `json:"focus_keyphrase"`

	ImageURL     string `json:"image_url"`
	ErrorMessage string `gorm:"type:text" json:"error_message"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Post) TableName() string { return "post" }
