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
	"github.com/book-search-labs/bsl-chat/internal/handler"
	booksHandler "github.com/book-search-labs/bsl-chat/internal/handler/books"
	chatHandler "github.com/book-search-labs/bsl-chat/internal/handler/chat"
	"github.com/book-search-labs/bsl-chat/internal/model/catalog"
	"github.com/book-search-labs/bsl-chat/internal/service/answer"
	"github.com/book-search-labs/bsl-chat/internal/service/chat"
	"github.com/book-search-labs/bsl-chat/internal/store"
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

	books := catalog.NewMemoryStore(catalog.Seed())
	chatService := chat.NewService()

	answerService := answer.NewEchoService()
	if cfg.AI.Enabled() {
		svc, err := answer.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize answer chain: %v", err)
			log.Println("continuing with the echo composer - check the ARK_* environment variables")
		} else {
			answerService = svc
		}
	} else {
		log.Println("ark credentials not configured, answering with the echo composer")
	}
	log.Printf("answer model: %s", answerService.Model())

	feedbackStore, err := store.NewSQLite(cfg.Emulator.FeedbackDBPath)
	if err != nil {
		log.Fatalf("failed to open feedback store: %v", err)
	}
	defer feedbackStore.Close()

	chatRoutes := chatHandler.New(chatService, answerService, books, feedbackStore, chatHandler.Options{
		TokenDelay: cfg.Emulator.TokenDelay,
		RateLimit:  cfg.Emulator.RateLimit,
		RateBurst:  cfg.Emulator.RateBurst,
	})

	router := handler.NewAPIRouter(chatRoutes, booksHandler.New(books), feedbackStore, cfg.Server.AllowedOrigins)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chat API emulator listening on %s", addr)
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
