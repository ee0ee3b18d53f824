package answer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/book-search-labs/bsl-chat/internal/config"
	"github.com/book-search-labs/bsl-chat/internal/model/catalog"
	"github.com/book-search-labs/bsl-chat/internal/model/chat"
)

// EchoModel is reported as the model name when no Ark model is configured.
const EchoModel = "echo"

var ErrNoEvidence = errors.New("no catalog evidence for question")

// Input is everything needed to answer one question.
type Input struct {
	Question string
	History  []chat.Turn
	Hits     []catalog.Hit
}

// Service generates grounded answers, either through an eino chain over
// an Ark model or with a deterministic composer.
type Service struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	cfg    config.AIConfig
	prompt *PromptBuilder
}

// NewService compiles the answer chain for the configured model.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile answer chain: %w", err)
	}

	return &Service{chain: runnable, cfg: cfg, prompt: NewPromptBuilder()}, nil
}

// NewEchoService returns a Service that composes answers from catalog
// summaries without calling a model.
func NewEchoService() *Service {
	return &Service{prompt: NewPromptBuilder()}
}

// Model names the backing model.
func (s *Service) Model() string {
	if s.chain == nil {
		return EchoModel
	}
	return s.cfg.Model
}

// Stream yields the answer for in as message chunks.
func (s *Service) Stream(ctx context.Context, in Input) (*schema.StreamReader[*schema.Message], error) {
	if len(in.Hits) == 0 {
		return nil, ErrNoEvidence
	}

	if s.chain == nil {
		return schema.StreamReaderFromArray(chunkMessages(Compose(in))), nil
	}

	input := s.buildChainInput(in)
	if !s.cfg.StreamResponse {
		response, err := s.chain.Invoke(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to run answer chain: %w", err)
		}
		log.Printf("[answer] generated response model=%s length=%d", s.cfg.Model, len(response.Content))
		return schema.StreamReaderFromArray([]*schema.Message{response}), nil
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream answer chain output: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(in Input) map[string]any {
	return map[string]any{
		"system":  s.prompt.SystemPrompt(in.Hits),
		"history": historyMessages(in.History),
		"query":   in.Question,
	}
}

func historyMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}

// Compose writes a short answer citing every hit.
func Compose(in Input) string {
	var builder strings.Builder
	if len(in.Hits) == 1 {
		builder.WriteString("I found one title in the catalog that matches. ")
	} else {
		fmt.Fprintf(&builder, "I found %d titles in the catalog that match. ", len(in.Hits))
	}

	for i, hit := range in.Hits {
		book := hit.Book
		fmt.Fprintf(&builder, "%s by %s (%d): %s [%s] ", book.Title, book.Author, book.Year, book.Summary, catalog.CitationKey(i))
	}
	return strings.TrimSpace(builder.String())
}

// chunkMessages splits text after every space so the answer streams word
// by word.
func chunkMessages(text string) []*schema.Message {
	parts := strings.SplitAfter(text, " ")
	chunks := make([]*schema.Message, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		chunks = append(chunks, schema.AssistantMessage(part, nil))
	}
	return chunks
}

// Citations returns the keys of sources referenced as [Sx] in content,
// in source order.
func Citations(content string, sources []chat.Source) []string {
	cited := make([]string, 0, len(sources))
	for _, source := range sources {
		if strings.Contains(content, "["+source.CitationKey+"]") {
			cited = append(cited, source.CitationKey)
		}
	}
	return cited
}
