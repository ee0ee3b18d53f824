package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveCORS(origins []string, method, origin string) *httptest.ResponseRecorder {
	handler := CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(method, "/api/chat", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestCORSWildcard(t *testing.T) {
	resp := serveCORS([]string{"*"}, http.MethodPost, "https://shop.example.com")

	if resp.Code != http.StatusTeapot {
		t.Fatalf("expected request to pass through, got %d", resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if resp.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatal("wildcard match must not allow credentials")
	}
}

func TestCORSExplicitOriginAllowsCredentials(t *testing.T) {
	resp := serveCORS([]string{"https://shop.example.com"}, http.MethodOptions, "https://shop.example.com")

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", resp.Code)
	}
	if resp.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentials for explicit origin")
	}
}

func TestCORSUnknownOrigin(t *testing.T) {
	resp := serveCORS([]string{"https://shop.example.com"}, http.MethodPost, "https://evil.example.com")

	if resp.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unknown origin must not be allowed")
	}
}
