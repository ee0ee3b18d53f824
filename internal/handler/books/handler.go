package books

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/book-search-labs/bsl-chat/internal/model/catalog"
	"github.com/book-search-labs/bsl-chat/pkg/utils"
)

const defaultSearchLimit = 5

// Handler serves the catalog that answers are grounded on. Citation URLs
// emitted in meta frames point here.
type Handler struct {
	books catalog.Store
}

// New creates a catalog handler.
func New(books catalog.Store) *Handler {
	return &Handler{books: books}
}

// RegisterRoutes mounts the catalog routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/books", h.handleList)
	r.Get("/books/search", h.handleSearch)
	r.Get("/books/{id}", h.handleGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.books.List())
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	book, ok := h.books.FindByID(chi.URLParam(r, "id"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "book not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, book)
}

type searchResult struct {
	Book  catalog.Book `json:"book"`
	Score int          `json:"score"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		utils.RespondError(w, http.StatusBadRequest, "q is required")
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	hits := h.books.Search(query, limit)
	results := make([]searchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, searchResult{Book: hit.Book, Score: hit.Score})
	}
	utils.RespondJSON(w, http.StatusOK, results)
}
