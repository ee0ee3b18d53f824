package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-search-labs/bsl-chat/internal/model/chat"
	"github.com/book-search-labs/bsl-chat/internal/stream"
	"github.com/book-search-labs/bsl-chat/pkg/sse"
)

const scenarioA = "event: meta\ndata: {\"status\":\"streaming\"}\n\n" +
	"event: token\ndata: {\"delta\":\"Hel\"}\n\n" +
	"event: token\ndata: {\"delta\":\"lo\"}\n\n" +
	"event: done\ndata: {\"status\":\"ok\"}\n\n"

type streamerFunc func(ctx context.Context, req chat.Request, h stream.Handler) error

func (f streamerFunc) Run(ctx context.Context, req chat.Request, h stream.Handler) error {
	return f(ctx, req, h)
}

// replay feeds raw through the decoder in chunks of size.
func replay(raw string, size int) streamerFunc {
	return func(_ context.Context, _ chat.Request, h stream.Handler) error {
		var pending string
		for start := 0; start < len(raw); start += size {
			end := min(start+size, len(raw))
			var frames []sse.Frame
			frames, pending = sse.Decode(pending + raw[start:end])
			for _, frame := range frames {
				stream.Dispatch(frame, h)
			}
		}
		return nil
	}
}

type feedbackRecorder struct {
	mu      sync.Mutex
	records []chat.Feedback
}

func (r *feedbackRecorder) Submit(fb chat.Feedback) {
	r.mu.Lock()
	r.records = append(r.records, fb)
	r.mu.Unlock()
}

func lastAnswer(t *testing.T, c *Conversation) Message {
	t.Helper()
	messages := c.Messages()
	require.NotEmpty(t, messages)
	msg := messages[len(messages)-1]
	require.Equal(t, chat.RoleAssistant, msg.Role)
	return msg
}

func TestScenarioAThreeCharChunks(t *testing.T) {
	c := New(replay(scenarioA, 3), nil, Config{})

	require.True(t, c.Send(context.Background(), "hi"))
	c.Wait()

	msg := lastAnswer(t, c)
	assert.Equal(t, "Hello", msg.Content)
	assert.Equal(t, chat.StatusOK, *msg.Stream.Status)
	assert.False(t, c.Snapshot().InFlight)
}

func TestTokenOrderingAcrossFragmentation(t *testing.T) {
	var raw string
	var want string
	for i := 0; i < 40; i++ {
		token := fmt.Sprintf("t%d ", i)
		raw += fmt.Sprintf("event: token\ndata: {\"delta\":%q}\n\n", token)
		want += token
	}
	raw += "event: done\ndata: {\"status\":\"ok\"}\n\n"

	for _, size := range []int{1, 2, 7, 64, len(raw)} {
		c := New(replay(raw, size), nil, Config{})
		require.True(t, c.Send(context.Background(), "count"))
		c.Wait()
		assert.Equal(t, want, lastAnswer(t, c).Content, "chunk size %d", size)
	}
}

func TestScenarioCInsufficientEvidence(t *testing.T) {
	raw := "event: meta\ndata: {\"status\":\"streaming\"}\n\n" +
		"event: done\ndata: {\"status\":\"insufficient_evidence\"}\n\n"
	c := New(replay(raw, 5), nil, Config{})

	require.True(t, c.Send(context.Background(), "obscure question"))
	c.Wait()

	msg := lastAnswer(t, c)
	assert.Equal(t, InsufficientEvidenceMessage, msg.Content)
	assert.Equal(t, chat.StatusInsufficientEvidence, *msg.Stream.Status)
}

func TestSendIsSingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32
	c := New(streamerFunc(func(ctx context.Context, _ chat.Request, h stream.Handler) error {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		h.OnToken("done")
		return nil
	}), nil, Config{})

	require.True(t, c.Send(context.Background(), "first"))
	<-started

	assert.False(t, c.Send(context.Background(), "second"))
	assert.Len(t, c.Messages(), 2)

	close(release)
	c.Wait()

	assert.False(t, c.Snapshot().InFlight)
	assert.True(t, c.Send(context.Background(), "third"))
	c.Wait()
	assert.Len(t, c.Messages(), 4)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendIgnoresBlankText(t *testing.T) {
	c := New(replay(scenarioA, 3), nil, Config{})
	assert.False(t, c.Send(context.Background(), "   "))
	assert.Empty(t, c.Messages())
}

func TestSendBuildsRequest(t *testing.T) {
	var requests []chat.Request
	c := New(streamerFunc(func(_ context.Context, req chat.Request, h stream.Handler) error {
		requests = append(requests, req)
		h.OnToken("answer " + req.Message.Content)
		return nil
	}), nil, Config{SessionID: "session-1", TopK: 3, HistoryLimit: 3})

	for _, text := range []string{"one", "two", "three"} {
		require.True(t, c.Send(context.Background(), text))
		c.Wait()
	}

	require.Len(t, requests, 3)
	first := requests[0]
	assert.Equal(t, "v1", first.Version)
	assert.Equal(t, "session-1", first.SessionID)
	assert.Equal(t, chat.Turn{Role: chat.RoleUser, Content: "one"}, first.Message)
	assert.Equal(t, chat.Options{Stream: true, TopK: 3}, first.Options)
	assert.Empty(t, first.History)

	assert.Equal(t, []chat.Turn{
		{Role: chat.RoleAssistant, Content: "answer one"},
		{Role: chat.RoleUser, Content: "two"},
		{Role: chat.RoleAssistant, Content: "answer two"},
	}, requests[2].History)
}

func TestSessionIDIsStable(t *testing.T) {
	var sessions []string
	c := New(streamerFunc(func(_ context.Context, req chat.Request, _ stream.Handler) error {
		sessions = append(sessions, req.SessionID)
		return nil
	}), nil, Config{})

	for i := 0; i < 2; i++ {
		require.True(t, c.Send(context.Background(), "hi"))
		c.Wait()
	}

	require.Len(t, sessions, 2)
	assert.NotEmpty(t, sessions[0])
	assert.Equal(t, sessions[0], sessions[1])
	assert.Equal(t, c.SessionID(), sessions[0])
}

func TestStreamFailureReleasesFlight(t *testing.T) {
	c := New(streamerFunc(func(context.Context, chat.Request, stream.Handler) error {
		return &stream.StatusError{StatusCode: 503}
	}), nil, Config{})

	require.True(t, c.Send(context.Background(), "hi"))
	c.Wait()

	snap := c.Snapshot()
	assert.False(t, snap.InFlight)
	require.NotNil(t, snap.Failure)
	assert.Equal(t, FailureStreamFailed, snap.Failure.Code)
	assert.Equal(t, chat.StatusStreaming, *lastAnswer(t, c).Stream.Status)
}

func TestCancelAbortsStream(t *testing.T) {
	started := make(chan struct{})
	c := New(streamerFunc(func(ctx context.Context, _ chat.Request, h stream.Handler) error {
		h.OnToken("partial")
		close(started)
		<-ctx.Done()
		h.OnToken(" late")
		return ctx.Err()
	}), nil, Config{})

	assert.False(t, c.Cancel())
	require.True(t, c.Send(context.Background(), "hi"))
	<-started

	require.True(t, c.Cancel())
	c.Wait()

	snap := c.Snapshot()
	assert.False(t, snap.InFlight)
	require.NotNil(t, snap.Failure)
	assert.Equal(t, FailureCancelled, snap.Failure.Code)

	msg := lastAnswer(t, c)
	assert.Equal(t, "partial", msg.Content)
	assert.Equal(t, chat.StatusError, *msg.Stream.Status)
}

func TestSubscribersSeeOrderedSnapshots(t *testing.T) {
	c := New(replay(scenarioA, 4), nil, Config{})

	var (
		mu       sync.Mutex
		contents []string
	)
	unsubscribe := c.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		if n := len(s.Messages); n > 0 {
			contents = append(contents, s.Messages[n-1].Content)
		}
	})

	require.True(t, c.Send(context.Background(), "hi"))
	c.Wait()
	unsubscribe()

	c.SetDraft("ignored by removed subscriber")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"", "", "Hel", "Hello", "Hello", "Hello"}, contents)
}

func TestSubscriberMayReadWhileOthersMutate(t *testing.T) {
	c := New(replay(scenarioA, 2), nil, Config{})

	var reads atomic.Int32
	unsubscribe := c.Subscribe(func(Snapshot) {
		_ = c.Snapshot()
		_ = c.Draft()
		_ = c.Messages()
		reads.Add(1)
	})
	defer unsubscribe()

	var sent atomic.Bool
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					c.SetDraft(fmt.Sprintf("draft %d-%d", i, j))
				}
			}(i)
		}
		sent.Store(c.Send(context.Background(), "hi"))
		wg.Wait()
		c.Wait()
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber reading the conversation blocked a concurrent transition")
	}
	require.True(t, sent.Load())
	assert.GreaterOrEqual(t, reads.Load(), int32(200))
	assert.Equal(t, "Hello", lastAnswer(t, c).Content)
}

func TestDraft(t *testing.T) {
	c := New(replay(scenarioA, 3), nil, Config{})
	c.SetDraft("half typed")
	assert.Equal(t, "half typed", c.Draft())

	require.True(t, c.Send(context.Background(), c.Draft()))
	c.Wait()
	assert.Empty(t, c.Draft())
}

func TestRateSubmitsUpstreamID(t *testing.T) {
	raw := "event: meta\ndata: {\"status\":\"streaming\",\"message_id\":\"srv-42\"}\n\n" +
		"event: token\ndata: hi\n\n" +
		"event: done\ndata: {\"status\":\"ok\"}\n\n"
	recorder := &feedbackRecorder{}
	c := New(replay(raw, 8), recorder, Config{SessionID: "session-1"})

	require.True(t, c.Send(context.Background(), "hello"))
	c.Wait()

	msg := lastAnswer(t, c)
	flag := true
	require.NoError(t, c.Rate(msg.ID, chat.RatingDown, RateOptions{ReasonCode: "off_topic", Hallucination: &flag}))

	require.Len(t, recorder.records, 1)
	fb := recorder.records[0]
	assert.Equal(t, "srv-42", fb.MessageID)
	assert.Equal(t, "session-1", fb.SessionID)
	assert.Equal(t, chat.RatingDown, fb.Rating)
	assert.Equal(t, "off_topic", fb.ReasonCode)
	assert.Equal(t, chat.RatingDown, lastAnswer(t, c).Rating)
}

func TestRateRejections(t *testing.T) {
	release := make(chan struct{})
	c := New(streamerFunc(func(context.Context, chat.Request, stream.Handler) error {
		<-release
		return nil
	}), &feedbackRecorder{}, Config{})

	assert.ErrorIs(t, c.Rate("missing", chat.RatingUp, RateOptions{}), ErrMessageNotFound)

	require.True(t, c.Send(context.Background(), "hi"))
	messages := c.Messages()
	assert.ErrorIs(t, c.Rate(messages[0].ID, chat.RatingUp, RateOptions{}), ErrNotRateable)
	assert.ErrorIs(t, c.Rate(messages[1].ID, chat.RatingUp, RateOptions{}), ErrNotRateable)

	close(release)
	c.Wait()
	assert.ErrorIs(t, c.Rate(messages[1].ID, "sideways", RateOptions{}), chat.ErrFeedbackInvalidRating)

	disabled := New(replay(scenarioA, 3), nil, Config{})
	assert.True(t, errors.Is(disabled.Rate("x", chat.RatingUp, RateOptions{}), ErrFeedbackDisabled))
}
