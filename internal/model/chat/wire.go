package chat

import (
	"encoding/json"
	"errors"
	"strings"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status is the lifecycle status of an assistant answer.
type Status string

const (
	StatusStreaming            Status = "streaming"
	StatusOK                   Status = "ok"
	StatusCached               Status = "cached"
	StatusInsufficientEvidence Status = "insufficient_evidence"
	StatusGuardBlocked         Status = "guard_blocked"
	StatusError                Status = "error"
)

// Event names carried on the chat stream.
const (
	EventMeta  = "meta"
	EventToken = "token"
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// Turn is a single role/content pair.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tunes a chat request.
type Options struct {
	Stream bool `json:"stream"`
	TopK   int  `json:"top_k"`
}

// Request is the body of a streaming chat call.
type Request struct {
	Version   string  `json:"version"`
	SessionID string  `json:"session_id"`
	Message   Turn    `json:"message"`
	History   []Turn  `json:"history"`
	Options   Options `json:"options"`
}

// Source is a citation record backing an answer.
type Source struct {
	CitationKey string `json:"citation_key"`
	DocID       string `json:"doc_id"`
	ChunkID     string `json:"chunk_id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
}

// Meta is the payload of both meta and done events. Every field is
// optional; absent keys must not disturb state a previous payload set.
type Meta struct {
	Status        Optional[Status]   `json:"status,omitzero"`
	Sources       Optional[[]Source] `json:"sources,omitzero"`
	Citations     Optional[[]string] `json:"citations,omitzero"`
	RiskBand      Optional[string]   `json:"risk_band,omitzero"`
	ReasonCode    Optional[string]   `json:"reason_code,omitzero"`
	Recoverable   Optional[bool]     `json:"recoverable,omitzero"`
	NextAction    Optional[string]   `json:"next_action,omitzero"`
	RetryAfterMs  Optional[int64]    `json:"retry_after_ms,omitzero"`
	FallbackCount Optional[int]      `json:"fallback_count,omitzero"`
	Escalated     Optional[bool]     `json:"escalated,omitzero"`
	MessageID     Optional[string]   `json:"message_id,omitzero"`
	TraceID       Optional[string]   `json:"trace_id,omitzero"`
	RequestID     Optional[string]   `json:"request_id,omitzero"`
}

// UnmarshalJSON decodes every key on its own. A key whose value has an
// unexpected type is skipped; only a payload that is not a JSON object
// fails.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*m = Meta{}
	decodeField(fields, "status", &m.Status)
	decodeField(fields, "sources", &m.Sources)
	decodeField(fields, "citations", &m.Citations)
	decodeField(fields, "risk_band", &m.RiskBand)
	decodeField(fields, "reason_code", &m.ReasonCode)
	decodeField(fields, "recoverable", &m.Recoverable)
	decodeField(fields, "next_action", &m.NextAction)
	decodeCount(fields, "retry_after_ms", &m.RetryAfterMs)
	decodeCount(fields, "fallback_count", &m.FallbackCount)
	decodeField(fields, "escalated", &m.Escalated)
	decodeField(fields, "message_id", &m.MessageID)
	decodeField(fields, "trace_id", &m.TraceID)
	decodeField(fields, "request_id", &m.RequestID)
	return nil
}

func decodeField[T any](fields map[string]json.RawMessage, key string, dst *Optional[T]) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	var v Optional[T]
	if err := v.UnmarshalJSON(raw); err != nil {
		return false
	}
	*dst = v
	return true
}

// decodeCount also accepts fractional numbers, truncated toward zero.
func decodeCount[T int | int64](fields map[string]json.RawMessage, key string, dst *Optional[T]) {
	if decodeField(fields, key, dst) {
		return
	}
	raw, ok := fields[key]
	if !ok {
		return
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return
	}
	*dst = Some(T(f))
}

// Delta is the structured envelope of a token event.
type Delta struct {
	Delta string `json:"delta"`
}

// ErrorEvent is the payload of an error event.
type ErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Rating is a thumbs up/down verdict on an answer.
type Rating string

const (
	RatingUp   Rating = "up"
	RatingDown Rating = "down"
)

var (
	ErrFeedbackSessionRequired = errors.New("session_id is required")
	ErrFeedbackMessageRequired = errors.New("message_id is required")
	ErrFeedbackInvalidRating   = errors.New("rating must be up or down")
)

// Feedback is the body of a feedback call.
type Feedback struct {
	Version           string `json:"version"`
	SessionID         string `json:"session_id"`
	MessageID         string `json:"message_id"`
	Rating            Rating `json:"rating"`
	ReasonCode        string `json:"reason_code,omitempty"`
	Comment           string `json:"comment,omitempty"`
	FlagHallucination *bool  `json:"flag_hallucination,omitempty"`
	FlagInsufficient  *bool  `json:"flag_insufficient,omitempty"`
}

// Validate checks the required fields of a feedback record.
func (f Feedback) Validate() error {
	if strings.TrimSpace(f.SessionID) == "" {
		return ErrFeedbackSessionRequired
	}
	if strings.TrimSpace(f.MessageID) == "" {
		return ErrFeedbackMessageRequired
	}
	if f.Rating != RatingUp && f.Rating != RatingDown {
		return ErrFeedbackInvalidRating
	}
	return nil
}
