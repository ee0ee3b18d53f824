package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/book-search-labs/bsl-chat/internal/config"
	"github.com/book-search-labs/bsl-chat/internal/conversation"
	"github.com/book-search-labs/bsl-chat/internal/handler"
	widgetHandler "github.com/book-search-labs/bsl-chat/internal/handler/widget"
	"github.com/book-search-labs/bsl-chat/internal/service/feedback"
	"github.com/book-search-labs/bsl-chat/internal/stream"
	"github.com/book-search-labs/bsl-chat/internal/transport"
	"github.com/book-search-labs/bsl-chat/internal/widget"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	router, err := transport.NewRouter(&http.Client{}, cfg.Upstream.PrimaryURL, cfg.Upstream.SecondaryURL)
	if err != nil {
		log.Fatalf("failed to create upstream router: %v", err)
	}

	// Paths stay relative so the router can rebase them onto either target.
	client := stream.NewClient(router, cfg.Upstream.ChatPath, cfg.Upstream.StreamTimeout)
	submitter := feedback.NewSubmitter(router, cfg.Upstream.FeedbackPath, cfg.Upstream.FeedbackTimeout)
	defer submitter.Wait()

	bus := widget.NewMemoryBus()
	sockets := widgetHandler.New(func() *conversation.Conversation {
		return conversation.New(client, submitter, conversation.Config{
			Version:      cfg.Upstream.APIVersion,
			TopK:         cfg.Upstream.TopK,
			HistoryLimit: cfg.Upstream.HistoryLimit,
		})
	}, bus, originChecker(cfg.Widget.AllowedOrigins))

	log.Printf("widget bridge forwarding %s to %s (secondary %q)", cfg.Upstream.ChatPath, cfg.Upstream.PrimaryURL, cfg.Upstream.SecondaryURL)
	startServer(ctx, cfg.Widget, handler.NewWidgetRouter(sockets, cfg.Widget.AllowedOrigins))
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chat widget bridge listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
