package stream

import (
	"encoding/json"
	"strings"

	"github.com/book-search-labs/bsl-chat/internal/model/chat"
	"github.com/book-search-labs/bsl-chat/pkg/sse"
)

// Handler receives the typed events of a chat stream.
type Handler interface {
	OnMeta(meta chat.Meta)
	OnToken(text string)
	OnDone(meta chat.Meta)
	OnError(event chat.ErrorEvent)
}

// Callbacks adapts plain functions to Handler. Nil fields are skipped.
type Callbacks struct {
	Meta  func(chat.Meta)
	Token func(string)
	Done  func(chat.Meta)
	Error func(chat.ErrorEvent)
}

var _ Handler = Callbacks{}

func (c Callbacks) OnMeta(meta chat.Meta) {
	if c.Meta != nil {
		c.Meta(meta)
	}
}

func (c Callbacks) OnToken(text string) {
	if c.Token != nil {
		c.Token(text)
	}
}

func (c Callbacks) OnDone(meta chat.Meta) {
	if c.Done != nil {
		c.Done(meta)
	}
}

func (c Callbacks) OnError(event chat.ErrorEvent) {
	if c.Error != nil {
		c.Error(event)
	}
}

// Parsed is the outcome of a best-effort JSON parse: either a decoded
// Value (OK) or the untouched Raw text.
type Parsed[T any] struct {
	Value T
	Raw   string
	OK    bool
}

// ParseJSON decodes data into T, keeping the raw text when it is not JSON.
func ParseJSON[T any](data string) Parsed[T] {
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return Parsed[T]{Raw: data}
	}
	return Parsed[T]{Value: v, Raw: data, OK: true}
}

// ParseObject is ParseJSON restricted to JSON objects.
func ParseObject[T any](data string) Parsed[T] {
	if !strings.HasPrefix(strings.TrimSpace(data), "{") {
		return Parsed[T]{Raw: data}
	}
	return ParseJSON[T](data)
}

// Dispatch routes one frame to h and reports whether a callback ran.
func Dispatch(frame sse.Frame, h Handler) bool {
	switch frame.Event {
	case chat.EventMeta:
		meta := ParseObject[chat.Meta](frame.Data)
		if !meta.OK {
			return false
		}
		h.OnMeta(meta.Value)
		return true

	case chat.EventToken, chat.EventDelta:
		text, ok := tokenText(frame.Data)
		if !ok {
			return false
		}
		h.OnToken(text)
		return true

	case chat.EventDone:
		// a done is never dropped
		done := ParseObject[chat.Meta](frame.Data)
		h.OnDone(done.Value)
		return true

	case chat.EventError:
		event := ParseObject[chat.ErrorEvent](frame.Data)
		if !event.OK {
			event.Value = chat.ErrorEvent{Message: frame.Data}
		}
		h.OnError(event.Value)
		return true
	}
	return false
}

// tokenText extracts the text of a token frame. Non-JSON payloads are the
// token itself; JSON payloads must be an object with a string delta.
func tokenText(data string) (string, bool) {
	parsed := ParseJSON[any](data)
	if !parsed.OK {
		return parsed.Raw, true
	}

	envelope, ok := parsed.Value.(map[string]any)
	if !ok {
		return "", false
	}
	delta, ok := envelope["delta"].(string)
	return delta, ok
}
