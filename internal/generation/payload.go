package generation

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/postloom/postloom-backend/internal/links"
	"github.com/postloom/postloom-backend/internal/types"
)

var validate = validator.New()

// Payload is one user-initiated generation request. Immutable after parsing
// except for source attachment, which the orchestrator owns.
type Payload struct {
	AccountID uuid.UUID `json:"account_id" validate:"required"`
	BatchID   uuid.UUID `json:"batch_id"`

	Topic    string `json:"topic" validate:"required"`
	Prompt   string `json:"prompt"`
	Platform string `json:"platform" validate:"required"`
	Style    string `json:"style"`

	PostCount int `json:"post_count" validate:"gte=0,lte=10"`

	RecommendationID *uuid.UUID        `json:"recommendation_id,omitempty"`
	Sources          []links.Candidate `json:"sources,omitempty"`
}

// ParsePayload decodes and validates a raw request body, filling defaults:
// a fresh batch ID when absent and a post count of 1.
func ParsePayload(data []byte) (*Payload, types.Platform, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, "", fmt.Errorf("decode generation payload: %w", err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, "", fmt.Errorf("invalid generation payload: %w", err)
	}
	platform, ok := types.ParsePlatform(p.Platform)
	if !ok {
		return nil, "", fmt.Errorf("invalid generation payload: unknown platform %q", p.Platform)
	}
	if p.BatchID == uuid.Nil {
		p.BatchID = uuid.New()
	}
	if p.PostCount == 0 {
		p.PostCount = 1
	}
	return &p, platform, nil
}
