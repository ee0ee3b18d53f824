package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/book-search-labs/bsl-chat/internal/handler/books"
	"github.com/book-search-labs/bsl-chat/internal/handler/chat"
	"github.com/book-search-labs/bsl-chat/internal/model/catalog"
	"github.com/book-search-labs/bsl-chat/internal/service/answer"
	chatservice "github.com/book-search-labs/bsl-chat/internal/service/chat"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestAPIRouter(health Pinger) http.Handler {
	books := catalog.NewMemoryStore(catalog.Seed())
	chatHandler := chat.New(chatservice.NewService(), answer.NewEchoService(), books, nil, chat.Options{RateLimit: 10, RateBurst: 10})
	return NewAPIRouter(chatHandler, booksHandler(books), health, []string{"*"})
}

func booksHandler(store catalog.Store) *books.Handler {
	return books.New(store)
}

func TestHealthOK(t *testing.T) {
	r := newTestAPIRouter(pingerFunc(func(context.Context) error { return nil }))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestHealthReportsStorageFailure(t *testing.T) {
	r := newTestAPIRouter(pingerFunc(func(context.Context) error { return errors.New("locked") }))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestPreflightAnswered(t *testing.T) {
	r := newTestAPIRouter(nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "https://shop.example.com" {
		t.Fatalf("missing allow origin header: %v", resp.Header())
	}
}

func TestCatalogMounted(t *testing.T) {
	r := newTestAPIRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/books/bk-hobbit", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}
