package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/attach-dev/attach-gateway/internal/auth"
)

func TestID_Deterministic(t *testing.T) {
	a := ID("google-oauth2|123", "curl/8.5.0")
	b := ID("google-oauth2|123", "curl/8.5.0")
	if a != b {
		t.Fatalf("same inputs produced different ids: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if ID("google-oauth2|123", "Mozilla/5.0") == a {
		t.Error("different user agents must produce different ids")
	}
	if ID("other-user", "curl/8.5.0") == a {
		t.Error("different subjects must produce different ids")
	}
}

func TestMiddleware_SetsTruncatedHeader(t *testing.T) {
	var got string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.Header.Set("User-Agent", "curl/8.5.0")
	req = req.WithContext(auth.WithSubject(req.Context(), "user-1"))
	rec := httptest.NewRecorder()

	Middleware(next).ServeHTTP(rec, req)

	want := ID("user-1", "curl/8.5.0")
	if got != want {
		t.Errorf("context carries %q, want full id %q", got, want)
	}
	if h := rec.Header().Get(Header); h != want[:16] {
		t.Errorf("response header %q, want first 16 hex chars %q", h, want[:16])
	}
}

func TestMiddleware_UnauthenticatedRejected(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a subject")
	})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	rec := httptest.NewRecorder()

	Middleware(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_PublicPathSkipped(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	req := httptest.NewRequest(http.MethodGet, "/auth/config", nil)
	rec := httptest.NewRecorder()

	Middleware(next).ServeHTTP(rec, req)
	if !called {
		t.Fatal("public paths must bypass sessioning")
	}
	if h := rec.Header().Get(Header); h != "" {
		t.Errorf("no session header expected on public paths, got %q", h)
	}
}
