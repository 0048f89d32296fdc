package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"quill/internal/auth"
	"quill/internal/domain"
	"quill/internal/httputil"
)

type fakeVerifier struct{}

func (fakeVerifier) VerifyToken(token string) (*auth.Claims, error) {
	if token != "good" {
		return nil, domain.ErrUnauthorized
	}
	c := &auth.Claims{Role: "authenticated"}
	c.Subject = "user-1"
	return c, nil
}

func (fakeVerifier) Close() error { return nil }

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, httputil.GetUserID(r))
	})
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAuth(t *testing.T) {
	h := Auth(fakeVerifier{}, discard())(echoUser())

	cases := []struct {
		name   string
		target string
		header string
		status int
		body   string
	}{
		{"bearer header", "/api/documents", "Bearer good", http.StatusOK, "user-1"},
		{"query token", "/api/documents/1/ai-status/stream?access_token=good", "", http.StatusOK, "user-1"},
		{"missing", "/api/documents", "", http.StatusUnauthorized, ""},
		{"bad token", "/api/documents", "Bearer bad", http.StatusUnauthorized, ""},
		{"wrong scheme", "/api/documents", "Basic good", http.StatusUnauthorized, ""},
		{"health is public", "/health", "", http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestDevAuth(t *testing.T) {
	h := DevAuth("dev-user")(echoUser())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "dev-user", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "other")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "other", rec.Body.String())
}

func TestRecovery(t *testing.T) {
	h := Recovery(discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
