package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Recommendation is a previously researched topic whose source URLs seed the
// link validation pass of a new generation.
type Recommendation struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	AccountID uuid.UUID `gorm:"type:uuid;not null;index" json:"account_id"`
	Account   *Account  `gorm:"constraint:OnDelete:CASCADE;foreignKey:AccountID;references:ID" json:"account,omitempty"`

	Topic   string         `gorm:"not null" json:"topic"`
	Sources datatypes.JSON `gorm:"type:jsonb" json:"sources"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Recommendation) TableName() string { return "recommendation" }
