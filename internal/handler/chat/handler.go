package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/book-search-labs/bsl-chat/internal/analysis/risk"
	"github.com/book-search-labs/bsl-chat/internal/model/catalog"
	"github.com/book-search-labs/bsl-chat/internal/model/chat"
	"github.com/book-search-labs/bsl-chat/internal/service/answer"
	chatService "github.com/book-search-labs/bsl-chat/internal/service/chat"
	"github.com/book-search-labs/bsl-chat/internal/store"
	"github.com/book-search-labs/bsl-chat/internal/transport"
	"github.com/book-search-labs/bsl-chat/pkg/sse"
	"github.com/book-search-labs/bsl-chat/pkg/utils"
)

const (
	defaultTopK   = 6
	maxTopK       = 20
	cacheCapacity = 128

	nextActionRefine   = "refine_query"
	nextActionRephrase = "rephrase"
)

// Options tunes the emulated answer stream.
type Options struct {
	TokenDelay time.Duration
	RateLimit  float64
	RateBurst  int
}

// Handler serves the streaming chat API and its feedback endpoint.
type Handler struct {
	chatSvc  *chatService.Service
	answers  *answer.Service
	books    catalog.Store
	feedback store.FeedbackRepository
	cache    *answer.Cache
	limiters *sessionLimiters
	opts     Options
}

// New creates the chat handler. feedback may be nil, in which case
// feedback is validated and acknowledged but not stored.
func New(chatSvc *chatService.Service, answers *answer.Service, books catalog.Store, feedback store.FeedbackRepository, opts Options) *Handler {
	return &Handler{
		chatSvc:  chatSvc,
		answers:  answers,
		books:    books,
		feedback: feedback,
		cache:    answer.NewCache(cacheCapacity),
		limiters: newSessionLimiters(opts.RateLimit, opts.RateBurst),
		opts:     opts,
	}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Post("/chat/feedback", h.handleFeedback)
}

// streamContext carries the per-answer values every frame repeats.
type streamContext struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	messageID string
	traceID   string
	requestID string
	decision  risk.Decision
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	question := strings.TrimSpace(req.Message.Content)
	if req.SessionID == "" || question == "" {
		utils.RespondError(w, http.StatusBadRequest, "session_id and message.content are required")
		return
	}

	if !h.limiters.Allow(req.SessionID) {
		w.Header().Set("Retry-After", "1")
		utils.RespondError(w, http.StatusTooManyRequests, "too many requests for this session")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	if _, err := h.chatSvc.EnsureSession(ctx, req.SessionID); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.chatSvc.SaveMessage(ctx, chat.Message{SessionID: req.SessionID, Sender: string(chat.RoleUser), Content: question}); err != nil {
		log.Printf("[chat] failed to save user message: %v", err)
	}

	sse.SetupHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := sse.WriteComment(w, flusher, "stream open"); err != nil {
		log.Printf("[chat] session=%s client went away: %v", req.SessionID, err)
		return
	}

	sc := &streamContext{
		w:         w,
		flusher:   flusher,
		messageID: uuid.NewString(),
		traceID:   r.Header.Get(transport.HeaderTraceID),
		requestID: r.Header.Get(transport.HeaderRequestID),
		decision:  risk.Analyze(question),
	}

	content, err := h.respond(ctx, sc, req, question)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("[chat] session=%s answer=%s failed: %v", req.SessionID, sc.messageID, err)
		}
		return
	}

	if content != "" {
		if _, err := h.chatSvc.SaveMessage(ctx, chat.Message{
			ID:        sc.messageID,
			SessionID: req.SessionID,
			Sender:    string(chat.RoleAssistant),
			Content:   content,
		}); err != nil {
			log.Printf("[chat] failed to save assistant message: %v", err)
		}
	}
	log.Printf("[chat] completed answer=%s session=%s risk=%s", sc.messageID, req.SessionID, sc.decision.Band)
}

// respond writes the answer frames and returns the streamed content.
func (h *Handler) respond(ctx context.Context, sc *streamContext, req chat.Request, question string) (string, error) {
	if sc.decision.Blocked {
		meta := sc.meta(chat.StatusStreaming)
		if err := sse.WriteEvent(sc.w, sc.flusher, chat.EventMeta, meta); err != nil {
			return "", err
		}
		done := sc.meta(chat.StatusGuardBlocked)
		done.Recoverable = chat.Some(false)
		done.NextAction = chat.Some(nextActionRephrase)
		return "", sse.WriteEvent(sc.w, sc.flusher, chat.EventDone, done)
	}

	topK := req.Options.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	topK = min(topK, maxTopK)

	hits := h.books.Search(question, topK)
	sources := catalog.Sources(hits)

	meta := sc.meta(chat.StatusStreaming)
	meta.Sources = chat.Some(sources)
	if err := sse.WriteEvent(sc.w, sc.flusher, chat.EventMeta, meta); err != nil {
		return "", err
	}

	if len(hits) == 0 {
		done := sc.meta(chat.StatusInsufficientEvidence)
		done.Citations = chat.Some([]string{})
		done.Recoverable = chat.Some(true)
		done.NextAction = chat.Some(nextActionRefine)
		return "", sse.WriteEvent(sc.w, sc.flusher, chat.EventDone, done)
	}

	if cached, ok := h.cache.Get(question); ok {
		if err := h.writeTokens(ctx, sc, strings.SplitAfter(cached.Content, " ")); err != nil {
			return "", err
		}
		done := sc.meta(chat.StatusCached)
		done.Citations = chat.Some(cached.Citations)
		return cached.Content, sse.WriteEvent(sc.w, sc.flusher, chat.EventDone, done)
	}

	stream, err := h.answers.Stream(ctx, answer.Input{Question: question, History: req.History, Hits: hits})
	if err != nil {
		return "", sc.fail(err)
	}
	defer stream.Close()

	content, err := h.relay(ctx, sc, stream)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", sc.fail(err)
	}

	status := chat.StatusOK
	if strings.EqualFold(strings.TrimSpace(content), string(chat.StatusInsufficientEvidence)) {
		status = chat.StatusInsufficientEvidence
	}

	citations := answer.Citations(content, sources)
	done := sc.meta(status)
	done.Citations = chat.Some(citations)
	if status == chat.StatusOK {
		h.cache.Put(question, answer.Entry{Content: content, Citations: citations})
	}
	return content, sse.WriteEvent(sc.w, sc.flusher, chat.EventDone, done)
}

// relay forwards model chunks as token frames.
func (h *Handler) relay(ctx context.Context, sc *streamContext, stream *schema.StreamReader[*schema.Message]) (string, error) {
	var builder strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return builder.String(), nil
		}
		if err != nil {
			return "", err
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		builder.WriteString(chunk.Content)
		if err := h.writeTokens(ctx, sc, []string{chunk.Content}); err != nil {
			return "", err
		}
	}
}

func (h *Handler) writeTokens(ctx context.Context, sc *streamContext, tokens []string) error {
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if err := sse.WriteEvent(sc.w, sc.flusher, chat.EventToken, chat.Delta{Delta: token}); err != nil {
			return err
		}
		if h.opts.TokenDelay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.opts.TokenDelay):
		}
	}
	return nil
}

func (sc *streamContext) meta(status chat.Status) chat.Meta {
	meta := chat.Meta{
		Status:    chat.Some(status),
		MessageID: chat.Some(sc.messageID),
		RiskBand:  chat.Some(string(sc.decision.Band)),
	}
	if sc.decision.ReasonCode != "" {
		meta.ReasonCode = chat.Some(sc.decision.ReasonCode)
	}
	if sc.traceID != "" {
		meta.TraceID = chat.Some(sc.traceID)
	}
	if sc.requestID != "" {
		meta.RequestID = chat.Some(sc.requestID)
	}
	return meta
}

// fail reports a generation failure as an error frame.
func (sc *streamContext) fail(cause error) error {
	event := chat.ErrorEvent{Code: "generation_failed", Message: "the answer could not be generated, please retry"}
	if err := sse.WriteEvent(sc.w, sc.flusher, chat.EventError, event); err != nil {
		return err
	}
	return cause
}

func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb chat.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := fb.Validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.feedback == nil {
		utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	id, err := h.feedback.SaveFeedback(r.Context(), fb)
	if err != nil {
		log.Printf("[chat] failed to store feedback: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to store feedback")
		return
	}

	log.Printf("[chat] feedback id=%d message=%s rating=%s", id, fb.MessageID, fb.Rating)
	utils.RespondJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "id": id})
}
