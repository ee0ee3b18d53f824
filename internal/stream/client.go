// Package stream runs a streaming chat call and turns its event stream
// into typed callbacks.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/book-search-labs/bsl-chat/internal/model/chat"
	"github.com/book-search-labs/bsl-chat/internal/transport"
	"github.com/book-search-labs/bsl-chat/pkg/sse"
)

const (
	readChunkSize     = 4 * 1024
	defaultMaxPending = 1 << 20
	errorBodyLimit    = 4 * 1024
)

// TimeoutCode is the code of the synthetic error reported when the
// overall stream deadline expires.
const TimeoutCode = "timeout"

var (
	// ErrStreamFailed classifies every transport-level failure.
	ErrStreamFailed = errors.New("stream_failed")
	// ErrFrameTooLarge is returned when an unterminated frame outgrows MaxPending.
	ErrFrameTooLarge = fmt.Errorf("%w: pending frame exceeds limit", ErrStreamFailed)
)

// StatusError reports a non-success response status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("stream_failed: upstream returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("stream_failed: upstream returned status %d", e.StatusCode)
}

// Unwrap lets errors.Is match ErrStreamFailed.
func (e *StatusError) Unwrap() error {
	return ErrStreamFailed
}

// Client opens chat streams against a single endpoint.
type Client struct {
	doer     transport.Doer
	endpoint string

	// Timeout bounds a whole stream; zero disables it.
	Timeout time.Duration
	// MaxPending bounds the carried-over partial frame in bytes.
	MaxPending int
}

// NewClient creates a Client. endpoint may be relative when doer is a
// transport.Router.
func NewClient(doer transport.Doer, endpoint string, timeout time.Duration) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		doer:       doer,
		endpoint:   endpoint,
		Timeout:    timeout,
		MaxPending: defaultMaxPending,
	}
}

// Run sends req and feeds the response stream to h until the server ends
// it. Transport failures return an error wrapping ErrStreamFailed; an
// expired Timeout is reported through h.OnError and Run returns nil.
// Cancelling ctx returns ctx.Err().
func (c *Client) Run(ctx context.Context, req chat.Request, h Handler) error {
	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(runCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		return c.failure(ctx, runCtx, h, err)
	}
	if resp.Body == nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{StatusCode: resp.StatusCode}
		}
		return fmt.Errorf("%w: response has no body", ErrStreamFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if resp.Body == http.NoBody {
		return fmt.Errorf("%w: response has no body", ErrStreamFailed)
	}

	log.Printf("[stream] opened session=%s status=%d", req.SessionID, resp.StatusCode)

	if err := c.readLoop(resp.Body, h); err != nil {
		return c.failure(ctx, runCtx, h, err)
	}
	return nil
}

// readLoop pulls chunks until EOF, carrying incomplete UTF-8 sequences and
// unterminated frames over to the next chunk.
func (c *Client) readLoop(body io.Reader, h Handler) error {
	reader := transform.NewReader(body, unicode.UTF8.NewDecoder())
	chunk := make([]byte, readChunkSize)

	var pending string
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			var frames []sse.Frame
			frames, pending = sse.Decode(pending + string(chunk[:n]))
			for _, frame := range frames {
				Dispatch(frame, h)
			}
			if c.MaxPending > 0 && len(pending) > c.MaxPending {
				return ErrFrameTooLarge
			}
		}

		if errors.Is(err, io.EOF) {
			// an unterminated trailing frame is discarded
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (c *Client) failure(parent, runCtx context.Context, h Handler, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		log.Printf("[stream] deadline of %s exceeded", c.Timeout)
		h.OnError(chat.ErrorEvent{
			Code:    TimeoutCode,
			Message: fmt.Sprintf("no complete answer within %s", c.Timeout),
		})
		return nil
	}
	if errors.Is(err, ErrStreamFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStreamFailed, err)
}
