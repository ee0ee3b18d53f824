package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/book-search-labs/bsl-chat/internal/config"
	"github.com/book-search-labs/bsl-chat/internal/conversation"
	"github.com/book-search-labs/bsl-chat/internal/model/chat"
	"github.com/book-search-labs/bsl-chat/internal/stream"
	"github.com/book-search-labs/bsl-chat/internal/transport"
	"github.com/book-search-labs/bsl-chat/pkg/sse"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] could not load .env, using system environment: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	mode := flag.String("mode", "conversation", "test mode: raw or conversation")
	base := flag.String("base", cfg.Upstream.PrimaryURL, "chat API base url")
	path := flag.String("path", cfg.Upstream.ChatPath, "chat endpoint path")
	message := flag.String("message", "", "question to send")
	session := flag.String("session", "", "custom session id, generated when empty")
	timeout := flag.Duration("timeout", cfg.Upstream.StreamTimeout, "stream timeout")

	flag.Parse()

	if strings.TrimSpace(*message) == "" {
		flag.Usage()
		log.Fatal("provide a question with -message")
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = "manual-" + uuid.NewString()
	}

	router, err := transport.NewRouter(&http.Client{}, *base, cfg.Upstream.SecondaryURL)
	if err != nil {
		log.Fatalf("failed to create router: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+5*time.Second)
	defer cancel()

	switch *mode {
	case "raw":
		runRaw(ctx, router, *path, cfg, sessionID, *message)
	case "conversation":
		runConversation(ctx, router, *path, cfg, sessionID, *message, *timeout)
	default:
		flag.Usage()
		log.Fatal("choose -mode=raw or -mode=conversation")
	}
}

// runRaw prints every frame exactly as the decoder sees it.
func runRaw(ctx context.Context, doer transport.Doer, path string, cfg *config.Config, sessionID, message string) {
	body, err := json.Marshal(chat.Request{
		Version:   cfg.Upstream.APIVersion,
		SessionID: sessionID,
		Message:   chat.Turn{Role: chat.RoleUser, Content: message},
		History:   []chat.Turn{},
		Options:   chat.Options{Stream: true, TopK: cfg.Upstream.TopK},
	})
	if err != nil {
		log.Fatalf("encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := doer.Do(req)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	log.Printf("status=%d request_id=%s", resp.StatusCode, req.Header.Get(transport.HeaderRequestID))

	var pending string
	chunk := make([]byte, 4096)
	count := 0
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			var frames []sse.Frame
			frames, pending = sse.Decode(pending + string(chunk[:n]))
			for _, frame := range frames {
				count++
				fmt.Printf("%3d %-6s %s\n", count, frame.Event, frame.Data)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			log.Fatalf("read stream: %v", readErr)
		}
	}
	if strings.TrimSpace(pending) != "" {
		log.Printf("discarded unterminated tail: %q", pending)
	}
}

func runConversation(ctx context.Context, doer transport.Doer, path string, cfg *config.Config, sessionID, message string, timeout time.Duration) {
	client := stream.NewClient(doer, path, timeout)
	conv := conversation.New(client, nil, conversation.Config{
		SessionID:    sessionID,
		Version:      cfg.Upstream.APIVersion,
		TopK:         cfg.Upstream.TopK,
		HistoryLimit: cfg.Upstream.HistoryLimit,
	})

	unsubscribe := conv.Subscribe(func(s conversation.Snapshot) {
		if n := len(s.Messages); n > 0 && s.InFlight {
			fmt.Fprintf(os.Stderr, "\r%d chars", len(s.Messages[n-1].Content))
		}
	})
	defer unsubscribe()

	log.Printf("sending: session=%s path=%s", sessionID, path)
	if !conv.Send(ctx, message) {
		log.Fatal("conversation refused the message")
	}
	conv.Wait()
	fmt.Fprintln(os.Stderr)

	snap := conv.Snapshot()
	reply := snap.Messages[len(snap.Messages)-1]
	out, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		log.Fatalf("encode reply: %v", err)
	}
	fmt.Println(string(out))

	if snap.Failure != nil {
		log.Fatalf("stream failed: %s (%s)", snap.Failure.Message, snap.Failure.Code)
	}
}
