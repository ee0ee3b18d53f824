// Package conversation keeps the message list of one chat widget and
// drives answer streams into it.
package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/book-search-labs/bsl-chat/internal/model/chat"
	"github.com/book-search-labs/bsl-chat/internal/stream"
)

const (
	defaultVersion      = "v1"
	defaultTopK         = 6
	defaultHistoryLimit = 8
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotRateable      = errors.New("only finished answers can be rated")
	ErrFeedbackDisabled = errors.New("feedback is not configured")
)

// Streamer runs one answer stream. *stream.Client implements it.
type Streamer interface {
	Run(ctx context.Context, req chat.Request, h stream.Handler) error
}

// FeedbackSender accepts feedback records without blocking.
type FeedbackSender interface {
	Submit(fb chat.Feedback)
}

// Config tunes the requests a Conversation sends.
type Config struct {
	SessionID    string
	Version      string
	TopK         int
	HistoryLimit int
}

// Snapshot is a deep copy of the state handed to subscribers.
type Snapshot struct {
	SessionID string `json:"session_id"`
	State
}

// RateOptions carries the optional parts of a feedback record.
type RateOptions struct {
	ReasonCode    string
	Comment       string
	Hallucination *bool
	Insufficient  *bool
}

// Conversation owns the message list of one widget instance. It is safe
// for concurrent use; at most one answer streams at a time.
type Conversation struct {
	streamer Streamer
	feedback FeedbackSender
	cfg      Config

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	active string
	subs   map[int]func(Snapshot)
	nextID int

	// latest is replaced under mu on every transition; readers never lock.
	latest atomic.Pointer[Snapshot]

	// notifyMu keeps subscriber deliveries in transition order.
	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

// New creates a Conversation. feedback may be nil, which disables Rate.
func New(streamer Streamer, feedback FeedbackSender, cfg Config) *Conversation {
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	c := &Conversation{
		streamer: streamer,
		feedback: feedback,
		cfg:      cfg,
		subs:     make(map[int]func(Snapshot)),
	}
	c.publishLocked()
	return c
}

// SessionID returns the identifier sent with every request.
func (c *Conversation) SessionID() string {
	return c.cfg.SessionID
}

// Send starts answering text. It reports false without changing anything
// when text is blank or another answer is still streaming.
func (c *Conversation) Send(ctx context.Context, text string) bool {
	c.mu.Lock()
	text = strings.TrimSpace(text)
	if text == "" || c.state.InFlight {
		c.mu.Unlock()
		return false
	}

	assistantID := uuid.NewString()
	req := chat.Request{
		Version:   c.cfg.Version,
		SessionID: c.cfg.SessionID,
		Message:   chat.Turn{Role: chat.RoleUser, Content: text},
		History:   history(c.state.Messages, c.cfg.HistoryLimit),
		Options:   chat.Options{Stream: true, TopK: c.cfg.TopK},
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.active = assistantID
	c.wg.Add(1)
	c.transition(Submitted{UserID: uuid.NewString(), AssistantID: assistantID, Text: text})

	go c.run(runCtx, assistantID, req)
	return true
}

func (c *Conversation) run(ctx context.Context, id string, req chat.Request) {
	defer c.wg.Done()

	var err error
	defer func() {
		c.mu.Lock()
		if c.active == id {
			c.cancel()
			c.cancel = nil
			c.active = ""
		}
		c.transition(StreamEnded{MessageID: id, Err: err})
	}()

	err = c.streamer.Run(ctx, req, stream.Callbacks{
		Meta:  func(meta chat.Meta) { c.apply(MetaReceived{MessageID: id, Meta: meta}) },
		Token: func(text string) { c.apply(TokenReceived{MessageID: id, Text: text}) },
		Done:  func(meta chat.Meta) { c.apply(DoneReceived{MessageID: id, Meta: meta}) },
		Error: func(event chat.ErrorEvent) { c.apply(ErrorReceived{MessageID: id, Error: event}) },
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[conversation] session=%s answer=%s failed: %v", c.cfg.SessionID, id, err)
	}
}

// Cancel aborts the streaming answer, marking it as an error. It reports
// whether an answer was in flight.
func (c *Conversation) Cancel() bool {
	c.mu.Lock()
	if !c.state.InFlight {
		c.mu.Unlock()
		return false
	}
	cancel := c.cancel
	id := c.state.StreamingID
	c.cancel = nil
	c.active = ""
	c.transition(Cancelled{MessageID: id})

	if cancel != nil {
		cancel()
	}
	return true
}

// SetDraft replaces the input field text.
func (c *Conversation) SetDraft(text string) {
	c.apply(DraftChanged{Text: text})
}

// Draft returns the input field text.
func (c *Conversation) Draft() string {
	return c.latest.Load().Draft
}

// Messages returns a copy of the message list.
func (c *Conversation) Messages() []Message {
	return c.Snapshot().Messages
}

// Snapshot returns a deep copy of the current state.
func (c *Conversation) Snapshot() Snapshot {
	snap := *c.latest.Load()
	snap.State = snap.State.Clone()
	return snap
}

// Subscribe registers fn for every state change and returns a function
// that removes it. fn may read the Conversation (Snapshot, Draft,
// Messages) but must not call Send, Cancel, SetDraft or Rate
// synchronously.
func (c *Conversation) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Wait blocks until every started stream has ended.
func (c *Conversation) Wait() {
	c.wg.Wait()
}

// Rate records a verdict on a finished answer and submits it upstream.
func (c *Conversation) Rate(messageID string, rating chat.Rating, opts RateOptions) error {
	if c.feedback == nil {
		return ErrFeedbackDisabled
	}

	c.mu.Lock()
	msg, ok := c.state.Find(messageID)
	if !ok {
		c.mu.Unlock()
		return ErrMessageNotFound
	}
	if msg.Role != chat.RoleAssistant || !msg.Settled {
		c.mu.Unlock()
		return ErrNotRateable
	}

	upstreamID := msg.UpstreamID
	if upstreamID == "" {
		upstreamID = msg.ID
	}
	fb := chat.Feedback{
		Version:           c.cfg.Version,
		SessionID:         c.cfg.SessionID,
		MessageID:         upstreamID,
		Rating:            rating,
		ReasonCode:        opts.ReasonCode,
		Comment:           opts.Comment,
		FlagHallucination: opts.Hallucination,
		FlagInsufficient:  opts.Insufficient,
	}
	if err := fb.Validate(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.transition(Rated{MessageID: messageID, Rating: rating})

	c.feedback.Submit(fb)
	return nil
}

func (c *Conversation) apply(e Event) {
	c.mu.Lock()
	c.transition(e)
}

// transition must be called with c.mu held and releases it. Subscribers
// are notified outside c.mu but under notifyMu so deliveries never
// overtake each other.
func (c *Conversation) transition(e Event) {
	c.state = Reduce(c.state, e)
	c.publishLocked()
	snap := c.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for i := 0; i < c.nextID; i++ {
		if fn, ok := c.subs[i]; ok {
			subs = append(subs, fn)
		}
	}

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (c *Conversation) publishLocked() {
	snap := c.snapshotLocked()
	c.latest.Store(&snap)
}

func (c *Conversation) snapshotLocked() Snapshot {
	return Snapshot{SessionID: c.cfg.SessionID, State: c.state.Clone()}
}

// history returns the most recent completed turns, oldest first.
func history(messages []Message, limit int) []chat.Turn {
	turns := make([]chat.Turn, 0, limit)
	for i := len(messages) - 1; i >= 0 && len(turns) < limit; i-- {
		m := messages[i]
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		turns = append(turns, chat.Turn{Role: m.Role, Content: m.Content})
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}
