package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/book-search-labs/bsl-chat/internal/model/chat"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "feedback.db"))
	if err != nil {
		t.Fatalf("NewSQLite err: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndListFeedback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	flag := true
	first, err := s.SaveFeedback(ctx, chat.Feedback{
		SessionID:         "session-1",
		MessageID:         "answer-1",
		Rating:            chat.RatingDown,
		ReasonCode:        "wrong_book",
		FlagHallucination: &flag,
	})
	if err != nil {
		t.Fatalf("SaveFeedback err: %v", err)
	}
	if _, err := s.SaveFeedback(ctx, chat.Feedback{SessionID: "session-1", MessageID: "answer-2", Rating: chat.RatingUp}); err != nil {
		t.Fatalf("SaveFeedback err: %v", err)
	}
	if _, err := s.SaveFeedback(ctx, chat.Feedback{SessionID: "other", MessageID: "answer-3", Rating: chat.RatingUp}); err != nil {
		t.Fatalf("SaveFeedback err: %v", err)
	}

	records, err := s.ListFeedback(ctx, "session-1")
	if err != nil {
		t.Fatalf("ListFeedback err: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	got := records[0]
	if got.ID != first || got.MessageID != "answer-1" || got.Rating != chat.RatingDown || got.ReasonCode != "wrong_book" {
		t.Fatalf("unexpected first record %+v", got)
	}
	if got.FlagHallucination == nil || !*got.FlagHallucination {
		t.Fatalf("expected hallucination flag, got %v", got.FlagHallucination)
	}
	if got.FlagInsufficient != nil {
		t.Fatalf("unset flag should stay nil, got %v", *got.FlagInsufficient)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected created_at")
	}
}

func TestPing(t *testing.T) {
	s := openTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping err: %v", err)
	}
}
