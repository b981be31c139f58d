package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

func TestGetJSONStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "not found", status: http.StatusNotFound, body: `{}`, want: domain.ErrNotFound},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, want: domain.ErrRateLimited},
		{name: "html instead of json", status: http.StatusOK, body: `<html>maintenance</html>`, want: domain.ErrSchemaChanged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := New(domain.PlatformQiita, srv.URL, time.Second)
			var out map[string]any
			err := c.GetJSON(context.Background(), "items", "/items", nil, &out)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGetJSONUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"forbidden"}`))
	}))
	defer srv.Close()

	c := New(domain.PlatformQiita, srv.URL, time.Second)
	var out map[string]any
	err := c.GetJSON(context.Background(), "items", "/items", nil, &out)
	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusForbidden, upErr.Status)
}

func TestGetJSONUpstreamErrorKeepsValidUTF8(t *testing.T) {
	body := strings.Repeat("記", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := New(domain.PlatformZenn, srv.URL, time.Second)
	var out map[string]any
	err := c.GetJSON(context.Background(), "articles", "/articles", nil, &out)
	var upErr *domain.UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.True(t, utf8.ValidString(upErr.Message))
	assert.Equal(t, strings.Repeat("記", 66), upErr.Message)
	assert.True(t, utf8.ValidString(err.Error()))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", snippet("  short \n"))
	ascii := strings.Repeat("a", 300)
	assert.Len(t, snippet(ascii), snippetBytes)
	mixed := "a" + strings.Repeat("ノート", 100)
	got := snippet(mixed)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), snippetBytes)
	assert.True(t, strings.HasPrefix(mixed, got))
}

type countingLimiter struct{ calls int }

func (l *countingLimiter) Wait(context.Context) error { l.calls++; return nil }

func TestGetJSONHeadersAndLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "PrepFeed/1.0 (Personal Tool)", r.Header.Get("User-Agent"))
		assert.Equal(t, "go", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	c := New(domain.PlatformNote, srv.URL, time.Second,
		WithBearer("secret"), WithUserAgent("PrepFeed/1.0 (Personal Tool)"), WithLimiter(limiter))
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "search", "/search", url.Values{"q": {"go"}}, &out))
	assert.True(t, out.OK)
	assert.Equal(t, 1, limiter.calls)
}

func TestCap(t *testing.T) {
	assert.Equal(t, 100, Cap(200, 100))
	assert.Equal(t, 50, Cap(50, 100))
	assert.Equal(t, 100, Cap(0, 100))
}
