// Package feedback posts answer ratings to the chat service.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/book-search-labs/bsl-chat/internal/model/chat"
	"github.com/book-search-labs/bsl-chat/internal/transport"
)

// Submitter delivers feedback records. Submit never blocks the caller.
type Submitter struct {
	doer     transport.Doer
	endpoint string
	timeout  time.Duration

	wg sync.WaitGroup
}

// NewSubmitter creates a Submitter posting to endpoint.
func NewSubmitter(doer transport.Doer, endpoint string, timeout time.Duration) *Submitter {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Submitter{doer: doer, endpoint: endpoint, timeout: timeout}
}

// Send validates fb and posts it, waiting for the response status. The
// response body is ignored.
func (s *Submitter) Send(ctx context.Context, fb chat.Feedback) error {
	if err := fb.Validate(); err != nil {
		return fmt.Errorf("invalid feedback: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	body, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("marshal feedback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create feedback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.doer.Do(req)
	if err != nil {
		return fmt.Errorf("send feedback: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send feedback: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Submit sends fb in the background and only logs failures.
func (s *Submitter) Submit(fb chat.Feedback) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Send(context.Background(), fb); err != nil {
			log.Printf("[feedback] message=%s rating=%s: %v", fb.MessageID, fb.Rating, err)
			return
		}
		log.Printf("[feedback] recorded message=%s rating=%s", fb.MessageID, fb.Rating)
	}()
}

// Wait blocks until every background submission has finished.
func (s *Submitter) Wait() {
	s.wg.Wait()
}
