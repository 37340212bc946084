package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account carries the brand context consumed verbatim when building prompts.
// Core logic never mutates these fields.
type Account struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	Name  string `gorm:"not null" json:"name"`
	About string `gorm:"type:text" json:"about"`
	Tone  string `json:"tone"`

	Values      datatypes.JSON `gorm:"type:jsonb" json:"values"`
	KeyFeatures datatypes.JSON `gorm:"type:jsonb" json:"key_features"`
	Domains     datatypes.JSON `gorm:"type:jsonb" json:"domains"`

	PostGuidelines string `gorm:"type:text" json:"post_guidelines"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Account) TableName() string { return "account" }
