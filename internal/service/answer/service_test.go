package answer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/book-search-labs/bsl-chat/internal/model/catalog"
	"github.com/book-search-labs/bsl-chat/internal/model/chat"
)

func duneInput() Input {
	store := catalog.NewMemoryStore(catalog.Seed())
	return Input{Question: "Tell me about Dune", Hits: store.Search("dune", 2)}
}

func TestEchoServiceStreamsComposedAnswer(t *testing.T) {
	svc := NewEchoService()
	if svc.Model() != EchoModel {
		t.Fatalf("unexpected model %q", svc.Model())
	}

	stream, err := svc.Stream(context.Background(), duneInput())
	if err != nil {
		t.Fatalf("Stream err: %v", err)
	}
	defer stream.Close()

	var builder strings.Builder
	chunks := 0
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv err: %v", err)
		}
		chunks++
		builder.WriteString(msg.Content)
	}

	if chunks < 2 {
		t.Fatalf("expected the answer in several chunks, got %d", chunks)
	}
	if got, want := builder.String(), Compose(duneInput()); got != want {
		t.Fatalf("reassembled answer mismatch:\n got %q\nwant %q", got, want)
	}
	if !strings.Contains(builder.String(), "[S1]") {
		t.Fatalf("answer should cite S1: %q", builder.String())
	}
}

func TestStreamRequiresEvidence(t *testing.T) {
	_, err := NewEchoService().Stream(context.Background(), Input{Question: "anything"})
	if !errors.Is(err, ErrNoEvidence) {
		t.Fatalf("expected ErrNoEvidence, got %v", err)
	}
}

func TestCitationsFollowSourceOrder(t *testing.T) {
	sources := []chat.Source{{CitationKey: "S1"}, {CitationKey: "S2"}, {CitationKey: "S3"}}

	got := Citations("Both [S3] and [S1] apply, S2 is not bracketed.", sources)
	if strings.Join(got, ",") != "S1,S3" {
		t.Fatalf("unexpected citations %v", got)
	}
}

func TestSystemPromptListsSources(t *testing.T) {
	prompt := NewPromptBuilder().SystemPrompt(duneInput().Hits)
	if !strings.Contains(prompt, "[S1] Dune, Frank Herbert (1965)") {
		t.Fatalf("prompt missing source block:\n%s", prompt)
	}
	if !strings.Contains(prompt, "insufficient_evidence") {
		t.Fatalf("prompt missing fallback rule:\n%s", prompt)
	}
}

func TestHistoryMessagesKeepRoles(t *testing.T) {
	history := historyMessages([]chat.Turn{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "hello"},
		{Role: "system", Content: "dropped"},
	})
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Content != "hi" || history[1].Content != "hello" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestCacheEvictsOldest(t *testing.T) {
	cache := NewCache(2)
	cache.Put("First question", Entry{Content: "one"})
	cache.Put("second question", Entry{Content: "two"})
	cache.Put("  FIRST   question ", Entry{Content: "one again"})
	cache.Put("third", Entry{Content: "three"})

	if _, ok := cache.Get("first question"); ok {
		t.Fatal("oldest entry should be evicted")
	}
	if entry, ok := cache.Get("Second Question"); !ok || entry.Content != "two" {
		t.Fatalf("unexpected entry %+v %v", entry, ok)
	}
	if _, ok := cache.Get("third"); !ok {
		t.Fatal("expected newest entry")
	}
}
