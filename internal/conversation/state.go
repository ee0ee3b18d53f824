package conversation

import (
	"context"
	"errors"
	"strings"

	"github.com/book-search-labs/bsl-chat/internal/model/chat"
)

const (
	// InsufficientEvidenceMessage replaces an empty answer that ended with
	// the insufficient_evidence status.
	InsufficientEvidenceMessage = "I could not find enough evidence in the catalog to answer that. Try naming a title, an author or a topic."
	// EmptyAnswerMessage replaces an answer that finished without content.
	EmptyAnswerMessage = "Sorry, no answer could be generated right now. Please try again."
)

// Failure codes recorded on the conversation banner by the controller.
const (
	FailureStreamFailed = "stream_failed"
	FailureCancelled    = "cancelled"
)

var insufficientPlaceholders = map[string]struct{}{
	"insufficient_evidence":   {},
	"insufficient evidence":   {},
	"[insufficient_evidence]": {},
}

// StreamState is the mutable answer state of an assistant message.
type StreamState struct {
	Status        *chat.Status  `json:"status,omitempty"`
	Sources       []chat.Source `json:"sources,omitempty"`
	Citations     []string      `json:"citations,omitempty"`
	RiskBand      *string       `json:"risk_band,omitempty"`
	ReasonCode    *string       `json:"reason_code,omitempty"`
	Recoverable   *bool         `json:"recoverable,omitempty"`
	NextAction    *string       `json:"next_action,omitempty"`
	RetryAfterMs  *int64        `json:"retry_after_ms,omitempty"`
	FallbackCount *int          `json:"fallback_count,omitempty"`
	Escalated     *bool         `json:"escalated,omitempty"`
}

// Message is one bubble of the conversation.
type Message struct {
	ID      string       `json:"id"`
	Role    chat.Role    `json:"role"`
	Content string       `json:"content"`
	Stream  *StreamState `json:"stream,omitempty"`
	// UpstreamID is the answer id reported by the chat service.
	UpstreamID string      `json:"upstream_id,omitempty"`
	Rating     chat.Rating `json:"rating,omitempty"`
	// Settled is set once a terminal event was applied; later stream
	// events for the message are ignored.
	Settled bool `json:"settled"`
}

// Failure is the conversation-level error banner.
type Failure struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// State is the whole conversation. Values are treated as immutable:
// Reduce never modifies the state it is given.
type State struct {
	Messages    []Message `json:"messages"`
	InFlight    bool      `json:"in_flight"`
	StreamingID string    `json:"streaming_id,omitempty"`
	Draft       string    `json:"draft"`
	Failure     *Failure  `json:"failure,omitempty"`
}

// Event is a state transition input.
type Event interface {
	isEvent()
}

// Submitted appends a user message and its assistant placeholder.
type Submitted struct {
	UserID      string
	AssistantID string
	Text        string
}

// MetaReceived merges a meta payload into an assistant message.
type MetaReceived struct {
	MessageID string
	Meta      chat.Meta
}

// TokenReceived appends answer text.
type TokenReceived struct {
	MessageID string
	Text      string
}

// DoneReceived is the terminal transition of an answer.
type DoneReceived struct {
	MessageID string
	Meta      chat.Meta
}

// ErrorReceived records an upstream-declared error.
type ErrorReceived struct {
	MessageID string
	Error     chat.ErrorEvent
}

// StreamEnded is applied once per stream when the orchestrator returns.
type StreamEnded struct {
	MessageID string
	Err       error
}

// Cancelled aborts the in-flight answer.
type Cancelled struct {
	MessageID string
}

// DraftChanged updates the input field.
type DraftChanged struct {
	Text string
}

// Rated records the user's verdict on an answer.
type Rated struct {
	MessageID string
	Rating    chat.Rating
}

func (Submitted) isEvent()     {}
func (MetaReceived) isEvent()  {}
func (TokenReceived) isEvent() {}
func (DoneReceived) isEvent()  {}
func (ErrorReceived) isEvent() {}
func (StreamEnded) isEvent()   {}
func (Cancelled) isEvent()     {}
func (DraftChanged) isEvent()  {}
func (Rated) isEvent()         {}

// Reduce returns the state that results from applying e to s.
func Reduce(s State, e Event) State {
	switch e := e.(type) {
	case Submitted:
		text := strings.TrimSpace(e.Text)
		if text == "" || s.InFlight {
			return s
		}
		streaming := chat.StatusStreaming
		messages := make([]Message, len(s.Messages), len(s.Messages)+2)
		copy(messages, s.Messages)
		s.Messages = append(messages,
			Message{ID: e.UserID, Role: chat.RoleUser, Content: text, Settled: true},
			Message{ID: e.AssistantID, Role: chat.RoleAssistant, Stream: &StreamState{Status: &streaming}},
		)
		s.InFlight = true
		s.StreamingID = e.AssistantID
		s.Draft = ""
		s.Failure = nil
		return s

	case MetaReceived:
		return s.updateOpen(e.MessageID, func(m *Message) {
			mergeMeta(m, e.Meta)
		})

	case TokenReceived:
		return s.updateOpen(e.MessageID, func(m *Message) {
			m.Content += e.Text
		})

	case DoneReceived:
		return s.updateOpen(e.MessageID, func(m *Message) {
			mergeMeta(m, e.Meta)
			finishContent(m)
			m.Settled = true
		})

	case ErrorReceived:
		idx := s.indexOf(e.MessageID)
		if idx < 0 || s.Messages[idx].Settled {
			return s
		}
		next := s.update(e.MessageID, func(m *Message) {
			m.Settled = true
		})
		next.Failure = failureFromEvent(e.Error)
		return next

	case StreamEnded:
		next := s.update(e.MessageID, func(m *Message) {
			m.Settled = true
		})
		if next.StreamingID != e.MessageID {
			return next
		}
		next.InFlight = false
		next.StreamingID = ""
		if e.Err != nil && !errors.Is(e.Err, context.Canceled) {
			next.Failure = &Failure{Code: FailureStreamFailed, Message: e.Err.Error()}
		}
		return next

	case Cancelled:
		next := s.updateOpen(e.MessageID, func(m *Message) {
			status := chat.StatusError
			m.Stream.Status = &status
			m.Settled = true
		})
		if next.StreamingID == e.MessageID {
			next.InFlight = false
			next.StreamingID = ""
			next.Failure = &Failure{Code: FailureCancelled, Message: "The answer was cancelled."}
		}
		return next

	case DraftChanged:
		s.Draft = e.Text
		return s

	case Rated:
		return s.update(e.MessageID, func(m *Message) {
			m.Rating = e.Rating
		})
	}
	return s
}

// update copies the message list and applies fn to the message with id.
func (s State) update(id string, fn func(*Message)) State {
	idx := s.indexOf(id)
	if idx < 0 {
		return s
	}
	messages := make([]Message, len(s.Messages))
	copy(messages, s.Messages)
	msg := messages[idx]
	if msg.Stream != nil {
		msg.Stream = msg.Stream.clone()
	}
	fn(&msg)
	messages[idx] = msg
	s.Messages = messages
	return s
}

// updateOpen is update restricted to unsettled assistant messages.
func (s State) updateOpen(id string, fn func(*Message)) State {
	idx := s.indexOf(id)
	if idx < 0 {
		return s
	}
	if m := s.Messages[idx]; m.Settled || m.Stream == nil {
		return s
	}
	return s.update(id, fn)
}

func (s State) indexOf(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Find returns the message with id.
func (s State) Find(id string) (Message, bool) {
	if idx := s.indexOf(id); idx >= 0 {
		return s.Messages[idx], true
	}
	return Message{}, false
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		if m.Stream != nil {
			m.Stream = m.Stream.clone()
		}
		out.Messages[i] = m
	}
	if s.Failure != nil {
		f := *s.Failure
		out.Failure = &f
	}
	return out
}

func (st *StreamState) clone() *StreamState {
	out := *st
	out.Sources = append([]chat.Source(nil), st.Sources...)
	out.Citations = append([]string(nil), st.Citations...)
	return &out
}

// mergeMeta copies every field present in meta onto the message. Absent
// fields leave the previous value in place.
func mergeMeta(m *Message, meta chat.Meta) {
	st := m.Stream
	if meta.Status.Set {
		st.Status = meta.Status.Ptr()
	}
	if meta.Sources.Set {
		st.Sources = append([]chat.Source(nil), meta.Sources.Value...)
	}
	if meta.Citations.Set {
		st.Citations = append([]string(nil), meta.Citations.Value...)
	}
	if meta.RiskBand.Set {
		st.RiskBand = meta.RiskBand.Ptr()
	}
	if meta.ReasonCode.Set {
		st.ReasonCode = meta.ReasonCode.Ptr()
	}
	if meta.Recoverable.Set {
		st.Recoverable = meta.Recoverable.Ptr()
	}
	if meta.NextAction.Set {
		st.NextAction = meta.NextAction.Ptr()
	}
	if meta.RetryAfterMs.Set {
		st.RetryAfterMs = meta.RetryAfterMs.Ptr()
	}
	if meta.FallbackCount.Set {
		st.FallbackCount = meta.FallbackCount.Ptr()
	}
	if meta.Escalated.Set {
		st.Escalated = meta.Escalated.Ptr()
	}
	if meta.MessageID.Valid && meta.MessageID.Value != "" {
		m.UpstreamID = meta.MessageID.Value
	}
}

func finishContent(m *Message) {
	status := m.Stream.Status
	if status != nil && *status == chat.StatusInsufficientEvidence && isInsufficientPlaceholder(m.Content) {
		m.Content = InsufficientEvidenceMessage
		return
	}
	if strings.TrimSpace(m.Content) == "" {
		m.Content = EmptyAnswerMessage
	}
}

func isInsufficientPlaceholder(content string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(content))
	if trimmed == "" {
		return true
	}
	_, ok := insufficientPlaceholders[trimmed]
	return ok
}

func failureFromEvent(event chat.ErrorEvent) *Failure {
	message := event.Message
	if message == "" {
		message = event.Code
	}
	return &Failure{Code: event.Code, Message: message}
}
