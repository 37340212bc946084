package types

import (
	"time"

	"github.com/google/uuid"
)

type AICallLog struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	AccountID uuid.UUID `gorm:"type:uuid;not null;index" json:"account_id"`

	Provider  string `gorm:"not null" json:"provider"`
	Model     string `json:"model"`
	Operation string `gorm:"not null" json:"operation"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	Error string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (AICallLog) TableName() string { return "ai_call_log" }
