package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-search-labs/bsl-chat/internal/model/chat"
	"github.com/book-search-labs/bsl-chat/pkg/sse"
)

type recorder struct {
	metas  []chat.Meta
	tokens []string
	dones  []chat.Meta
	errors []chat.ErrorEvent
}

func (r *recorder) OnMeta(meta chat.Meta) { r.metas = append(r.metas, meta) }
func (r *recorder) OnToken(text string) { r.tokens = append(r.tokens, text) }
func (r *recorder) OnDone(meta chat.Meta) { r.dones = append(r.dones, meta) }
func (r *recorder) OnError(event chat.ErrorEvent) { r.errors = append(r.errors, event) }

func TestDispatchMeta(t *testing.T) {
	rec := &recorder{}

	assert.True(t, Dispatch(sse.Frame{Event: "meta", Data: `{"status":"streaming","risk_band":"low"}`}, rec))
	require.Len(t, rec.metas, 1)
	assert.Equal(t, chat.StatusStreaming, rec.metas[0].Status.Value)
	assert.Equal(t, "low", rec.metas[0].RiskBand.Value)
}

func TestDispatchDropsMalformedMeta(t *testing.T) {
	rec := &recorder{}

	assert.False(t, Dispatch(sse.Frame{Event: "meta", Data: `{"status":`}, rec))
	assert.False(t, Dispatch(sse.Frame{Event: "meta", Data: `[1,2]`}, rec))
	assert.Empty(t, rec.metas)
}

func TestDispatchKeepsMetaWithMismatchedField(t *testing.T) {
	rec := &recorder{}

	assert.True(t, Dispatch(sse.Frame{Event: "meta", Data: `{"status":"streaming","fallback_count":"1"}`}, rec))
	Dispatch(sse.Frame{Event: "done", Data: `{"status":"ok","retry_after_ms":1500.5}`}, rec)

	require.Len(t, rec.metas, 1)
	assert.Equal(t, chat.StatusStreaming, rec.metas[0].Status.Value)
	assert.False(t, rec.metas[0].FallbackCount.Set)

	require.Len(t, rec.dones, 1)
	require.True(t, rec.dones[0].Status.Set)
	assert.Equal(t, chat.StatusOK, rec.dones[0].Status.Value)
	assert.Equal(t, int64(1500), rec.dones[0].RetryAfterMs.Value)
}

func TestDispatchTokenEnvelopeAndRaw(t *testing.T) {
	rec := &recorder{}

	Dispatch(sse.Frame{Event: "token", Data: `{"delta":"Hel"}`}, rec)
	Dispatch(sse.Frame{Event: "delta", Data: `{"delta":"lo"}`}, rec)
	Dispatch(sse.Frame{Event: "token", Data: "plain-text"}, rec)

	assert.Equal(t, []string{"Hel", "lo", "plain-text"}, rec.tokens)
}

func TestDispatchTokenWithoutDeltaIsIgnored(t *testing.T) {
	rec := &recorder{}

	assert.False(t, Dispatch(sse.Frame{Event: "token", Data: `{"text":"x"}`}, rec))
	assert.False(t, Dispatch(sse.Frame{Event: "token", Data: `{"delta":7}`}, rec))
	assert.Empty(t, rec.tokens)
}

func TestDispatchDoneIsNeverDropped(t *testing.T) {
	rec := &recorder{}

	Dispatch(sse.Frame{Event: "done", Data: "not json"}, rec)
	Dispatch(sse.Frame{Event: "done", Data: `{"status":"ok"}`}, rec)

	require.Len(t, rec.dones, 2)
	assert.False(t, rec.dones[0].Status.Set)
	assert.Equal(t, chat.StatusOK, rec.dones[1].Status.Value)
}

func TestDispatchErrorFallsBackToMessage(t *testing.T) {
	rec := &recorder{}

	Dispatch(sse.Frame{Event: "error", Data: "upstream exploded"}, rec)
	Dispatch(sse.Frame{Event: "error", Data: `{"code":"rate_limited","message":"slow down"}`}, rec)

	require.Len(t, rec.errors, 2)
	assert.Equal(t, chat.ErrorEvent{Message: "upstream exploded"}, rec.errors[0])
	assert.Equal(t, chat.ErrorEvent{Code: "rate_limited", Message: "slow down"}, rec.errors[1])
}

func TestDispatchIgnoresUnknownEvents(t *testing.T) {
	rec := &recorder{}

	assert.False(t, Dispatch(sse.Frame{Event: sse.DefaultEvent, Data: "hello"}, rec))
	assert.False(t, Dispatch(sse.Frame{Event: "heartbeat", Data: "{}"}, rec))
	assert.Empty(t, rec.tokens)
}

func TestCallbacksSkipNilFuncs(t *testing.T) {
	var got string
	cb := Callbacks{Token: func(s string) { got = s }}

	cb.OnMeta(chat.Meta{})
	cb.OnDone(chat.Meta{})
	cb.OnError(chat.ErrorEvent{})
	cb.OnToken("x")

	assert.Equal(t, "x", got)
}
