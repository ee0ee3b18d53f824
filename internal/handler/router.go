package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/book-search-labs/bsl-chat/internal/handler/books"
	"github.com/book-search-labs/bsl-chat/internal/handler/chat"
	"github.com/book-search-labs/bsl-chat/internal/handler/widget"
	middlewarePkg "github.com/book-search-labs/bsl-chat/internal/middleware"
	"github.com/book-search-labs/bsl-chat/pkg/utils"
)

// Pinger reports dependency health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewAPIRouter wires the chat API emulator routes. health may be nil.
func NewAPIRouter(chatHandler *chat.Handler, booksHandler *books.Handler, health Pinger, allowedOrigins []string) http.Handler {
	r := newBaseRouter(allowedOrigins)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		booksHandler.RegisterRoutes(api)
		api.Get("/health", healthHandler(health))
	})

	return r
}

// NewWidgetRouter wires the widget socket bridge and launcher routes.
func NewWidgetRouter(widgetHandler *widget.Handler, allowedOrigins []string) http.Handler {
	r := newBaseRouter(allowedOrigins)

	widgetHandler.RegisterRoutes(r)
	r.Get("/api/health", healthHandler(nil))

	return r
}

func newBaseRouter(allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(allowedOrigins))

	return r
}

func healthHandler(health Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := health.Ping(ctx); err != nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "storage unavailable")
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
