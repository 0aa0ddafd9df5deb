// Package querylog holds the durable audit record of an answered query.
package querylog

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/lorekeep/lorekeep/internal/domain"
)

// MaxCommentLength bounds feedback comments.
const MaxCommentLength = 500

// ChunkRef records one retrieved chunk id and its fused score, in retrieval
// order, for auditability.
type ChunkRef struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// Record is the persisted query log row. Written exactly once per completed
// query; Rating and Comment are the only fields mutated afterwards.
type Record struct {
	ID               string
	CampaignID       string
	UserID           string
	Question         string
	Chunks           []ChunkRef
	Answer           string
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMs        int64
	ConversationID   string
	Rating           *int
	Comment          *string
	CreatedAt        time.Time
}

// ValidateFeedback checks a rating/comment pair before it touches the store.
func ValidateFeedback(rating int, comment *string) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5, got %d", domain.ErrInvalidRequest, rating)
	}
	if comment != nil && utf8.RuneCountInString(*comment) > MaxCommentLength {
		return fmt.Errorf("%w: comment exceeds %d characters", domain.ErrInvalidRequest, MaxCommentLength)
	}
	return nil
}
