package widget

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/book-search-labs/bsl-chat/internal/conversation"
	"github.com/book-search-labs/bsl-chat/internal/model/chat"
	"github.com/book-search-labs/bsl-chat/internal/widget"
	"github.com/book-search-labs/bsl-chat/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 54 * time.Second
)

// Factory creates the conversation backing one widget connection.
type Factory func() *conversation.Conversation

// Handler bridges browser widgets to conversations over websockets and
// publishes launcher open requests on the bus.
type Handler struct {
	newConversation Factory
	bus             widget.Bus
	upgrader        websocket.Upgrader
}

// New creates a widget handler.
func New(factory Factory, bus widget.Bus, checkOrigin func(*http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		newConversation: factory,
		bus:             bus,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes registers the socket and launcher routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
	r.Post("/api/widget/open", h.handleOpen)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// TextMessage carries the text of send and draft messages.
type TextMessage struct {
	Text string `json:"text"`
}

// FeedbackMessage rates a finished answer.
type FeedbackMessage struct {
	MessageID         string      `json:"messageId"`
	Rating            chat.Rating `json:"rating"`
	ReasonCode        string      `json:"reasonCode,omitempty"`
	Comment           string      `json:"comment,omitempty"`
	FlagHallucination *bool       `json:"flagHallucination,omitempty"`
	FlagInsufficient  *bool       `json:"flagInsufficient,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// socket serialises writes; gorilla connections allow one writer at a time.
type socket struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *socket) send(msgType string, data interface{}) {
	msg := outgoingMessage{Type: msgType, Data: data, Timestamp: time.Now().Unix()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		log.Printf("[widget] write %s failed: %v", msgType, err)
	}
}

func (s *socket) sendError(message string) {
	s.send("error", map[string]string{"message": message})
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[widget] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sock := &socket{conn: conn}
	conv := h.newConversation()
	log.Printf("[widget] connected session=%s", conv.SessionID())

	unsubscribeState := conv.Subscribe(func(snap conversation.Snapshot) {
		sock.send("state", snap)
	})
	unsubscribeBus := h.bus.Subscribe(func(sig widget.Signal) {
		sock.send("open", sig)
		if sig.Prefill != "" {
			conv.SetDraft(sig.Prefill)
		}
	})
	defer func() {
		unsubscribeBus()
		unsubscribeState()
		conv.Cancel()
		conv.Wait()
		log.Printf("[widget] closed session=%s", conv.SessionID())
	}()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go pingLoop(ctx, conn)

	sock.send("state", conv.Snapshot())

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[widget] read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		h.handleMessage(ctx, sock, conv, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, sock *socket, conv *conversation.Conversation, msg *inboundMessage) {
	switch msg.Type {
	case "send":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			sock.sendError("invalid send payload")
			return
		}
		if !conv.Send(ctx, text.Text) {
			sock.sendError("message ignored: empty or an answer is still streaming")
		}
	case "draft":
		var text TextMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			sock.sendError("invalid draft payload")
			return
		}
		conv.SetDraft(text.Text)
	case "cancel":
		conv.Cancel()
	case "feedback":
		var fb FeedbackMessage
		if err := json.Unmarshal(msg.Data, &fb); err != nil {
			sock.sendError("invalid feedback payload")
			return
		}
		err := conv.Rate(fb.MessageID, fb.Rating, conversation.RateOptions{
			ReasonCode:    fb.ReasonCode,
			Comment:       fb.Comment,
			Hallucination: fb.FlagHallucination,
			Insufficient:  fb.FlagInsufficient,
		})
		if err != nil {
			sock.sendError(err.Error())
		}
	default:
		sock.sendError("unsupported message type: " + msg.Type)
	}
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Prefill string `json:"prefill"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.bus.Publish(widget.Signal{Open: true, Prefill: payload.Prefill})
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "published"})
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
