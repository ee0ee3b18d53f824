// Package transport routes outbound API calls to a primary target with a
// secondary fallback and stamps request-correlation headers.
package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Correlation header names.
const (
	HeaderRequestID   = "x-request-id"
	HeaderTraceID     = "x-trace-id"
	HeaderTraceparent = "traceparent"
)

// Doer sends an HTTP request. *http.Client and *Router both satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Router sends requests to the primary base URL and retries once on the
// secondary when the primary is unreachable or answers with a 5xx.
type Router struct {
	client    Doer
	primary   *url.URL
	secondary *url.URL
}

var _ Doer = (*Router)(nil)

// NewRouter builds a Router. secondary may be empty.
func NewRouter(client Doer, primary, secondary string) (*Router, error) {
	if client == nil {
		client = http.DefaultClient
	}

	p, err := parseBase(primary)
	if err != nil {
		return nil, fmt.Errorf("primary target: %w", err)
	}

	r := &Router{client: client, primary: p}
	if strings.TrimSpace(secondary) != "" {
		s, err := parseBase(secondary)
		if err != nil {
			return nil, fmt.Errorf("secondary target: %w", err)
		}
		r.secondary = s
	}
	return r, nil
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", raw)
	}
	return u, nil
}

// Do stamps correlation headers and sends req. A request with a relative
// URL is resolved against the selected target.
func (r *Router) Do(req *http.Request) (*http.Response, error) {
	InjectCorrelation(req.Header)

	if req.Body != nil && req.GetBody == nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer request body: %w", err)
		}
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(string(body))), nil
		}
		req.Body, _ = req.GetBody()
	}

	resp, err := r.send(req, r.primary)
	if r.secondary == nil || !shouldFallback(req.Context(), resp, err) {
		return resp, err
	}

	if resp != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		log.Printf("[transport] primary %s answered %d, falling back to %s", r.primary.Host, resp.StatusCode, r.secondary.Host)
	} else {
		log.Printf("[transport] primary %s failed, falling back to %s: %v", r.primary.Host, r.secondary.Host, err)
	}

	return r.send(req, r.secondary)
}

func (r *Router) send(req *http.Request, target *url.URL) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL = resolve(target, req.URL)
	out.Host = ""

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		out.Body = body
	}

	return r.client.Do(out)
}

// resolve rebases ref onto target, keeping the target's path prefix.
func resolve(target, ref *url.URL) *url.URL {
	u := *ref
	u.Scheme = target.Scheme
	u.Host = target.Host
	u.User = target.User
	u.Path = strings.TrimRight(target.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawPath = ""
	return &u
}

func shouldFallback(ctx context.Context, resp *http.Response, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return resp.StatusCode >= http.StatusInternalServerError
}

// InjectCorrelation sets the request-id, trace-id and traceparent headers
// unless the caller already supplied them.
func InjectCorrelation(h http.Header) {
	if h.Get(HeaderRequestID) == "" {
		h.Set(HeaderRequestID, uuid.NewString())
	}

	traceID := h.Get(HeaderTraceID)
	if traceID == "" {
		traceID = strings.ReplaceAll(uuid.NewString(), "-", "")
		h.Set(HeaderTraceID, traceID)
	}

	if h.Get(HeaderTraceparent) == "" {
		h.Set(HeaderTraceparent, fmt.Sprintf("00-%s-%s-01", traceID, spanID()))
	}
}

func spanID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "0000000000000001"
	}
	return hex.EncodeToString(b[:])
}
