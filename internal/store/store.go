// Package store persists answer feedback received by the chat API emulator.
package store

import (
	"context"
	"time"

	"github.com/book-search-labs/bsl-chat/internal/model/chat"
)

// FeedbackRecord is a stored feedback submission.
type FeedbackRecord struct {
	ID                int64
	SessionID         string
	MessageID         string
	Rating            chat.Rating
	ReasonCode        string
	Comment           string
	FlagHallucination *bool
	FlagInsufficient  *bool
	CreatedAt         time.Time
}

// FeedbackRepository stores feedback records.
type FeedbackRepository interface {
	// SaveFeedback inserts fb and returns the new record id.
	SaveFeedback(ctx context.Context, fb chat.Feedback) (int64, error)

	// ListFeedback returns the records of a session, oldest first.
	ListFeedback(ctx context.Context, sessionID string) ([]FeedbackRecord, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
