package catalog

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/book-search-labs/bsl-chat/internal/model/chat"
)

// Hit is a search match with its relevance score.
type Hit struct {
	Book  Book
	Score int
}

// Store exposes catalog retrieval to the emulator.
type Store interface {
	List() []Book
	FindByID(id string) (Book, bool)
	Search(query string, limit int) []Hit
}

// MemoryStore implements Store over an in-memory slice.
type MemoryStore struct {
	items []Book
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied books.
func NewMemoryStore(items []Book) *MemoryStore {
	return &MemoryStore{items: append([]Book(nil), items...)}
}

// List returns every book.
func (s *MemoryStore) List() []Book {
	return append([]Book(nil), s.items...)
}

// FindByID looks up a book by identifier.
func (s *MemoryStore) FindByID(id string) (Book, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Book{}, false
}

// Search ranks books by how many query terms appear in their title,
// author, tags and summary. Title and author matches weigh more.
func (s *MemoryStore) Search(query string, limit int) []Hit {
	terms := tokenize(query)
	if len(terms) == 0 || limit <= 0 {
		return nil
	}

	hits := make([]Hit, 0, len(s.items))
	for _, book := range s.items {
		if score := scoreBook(book, terms); score > 0 {
			hits = append(hits, Hit{Book: book, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Sources converts hits into citation records keyed S1, S2, ...
func Sources(hits []Hit) []chat.Source {
	sources := make([]chat.Source, 0, len(hits))
	for i, hit := range hits {
		sources = append(sources, chat.Source{
			CitationKey: CitationKey(i),
			DocID:       hit.Book.ID,
			ChunkID:     hit.Book.ID + "#summary",
			Title:       hit.Book.Title,
			URL:         "/books/" + hit.Book.ID,
			Snippet:     hit.Book.Summary,
		})
	}
	return sources
}

// CitationKey returns the key of the i-th source.
func CitationKey(i int) string {
	return fmt.Sprintf("S%d", i+1)
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "about": {}, "book": {}, "books": {}, "what": {},
	"who": {}, "which": {}, "like": {}, "any": {}, "can": {}, "you": {}, "recommend": {}, "tell": {},
	"wrote": {}, "does": {}, "this": {}, "that": {}, "some": {}, "are": {}, "was": {}, "there": {},
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	terms := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if len([]rune(field)) < 3 {
			continue
		}
		if _, skip := stopWords[field]; skip {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		terms = append(terms, field)
	}
	return terms
}

func scoreBook(book Book, terms []string) int {
	title := strings.ToLower(book.Title)
	author := strings.ToLower(book.Author)
	tags := strings.ToLower(strings.Join(book.Tags, " "))
	summary := strings.ToLower(book.Summary)

	score := 0
	for _, term := range terms {
		if strings.Contains(title, term) || strings.Contains(author, term) {
			score += 3
		}
		if strings.Contains(tags, term) {
			score += 2
		}
		if strings.Contains(summary, term) {
			score++
		}
	}
	return score
}
