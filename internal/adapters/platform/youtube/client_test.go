package youtube

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "test-key", time.Second)
	c.now = func() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC) }
	return c
}

func videosJSON(ids []string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf(`{"id":%q,"snippet":{"title":"動画 %s","channelId":"UC1","channelTitle":"Gopher Channel",
			"publishedAt":"2024-05-05T12:00:00Z","tags":["go"]},"statistics":{"viewCount":"1000","likeCount":"10","commentCount":"3"},
			"contentDetails":{"duration":"PT5M"}}`, id, id))
	}
	return `{"items":[` + strings.Join(parts, ",") + `]}`
}

func TestSearchByKeywordPagesAndEnriches(t *testing.T) {
	var searchCalls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		switch r.URL.Path {
		case "/search":
			searchCalls++
			if r.URL.Query().Get("pageToken") == "" {
				assert.Equal(t, "50", r.URL.Query().Get("maxResults"))
				_, _ = w.Write([]byte(`{"nextPageToken":"p2","items":[{"id":{"videoId":"a"}},{"id":{"videoId":"b"}}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"items":[{"id":{"videoId":"c"}}]}`))
		case "/videos":
			ids := strings.Split(r.URL.Query().Get("id"), ",")
			_, _ = w.Write([]byte(videosJSON(ids)))
		default:
			t.Fatalf("неожиданный путь %s", r.URL.Path)
		}
	})

	videos, err := c.SearchByKeyword(context.Background(), "golang", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, searchCalls)
	require.Len(t, videos, 3)
	assert.Equal(t, int64(1000), videos[0].ViewCount)
	assert.Equal(t, 5, videos[0].DaysFromPublished)
	assert.Equal(t, 2.0, videos[0].GrowthRate)

	item := Transform(videos[0], "u1", "s1")
	assert.Equal(t, "https://www.youtube.com/watch?v=a", item.URL)
	assert.Equal(t, "UC1", *item.AuthorID)
	assert.Equal(t, "PT5M", *item.Duration)
}

func TestFetchForOwnerUsesUploadsPlaylist(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels":
			assert.Equal(t, "@gopher", r.URL.Query().Get("forHandle"))
			_, _ = w.Write([]byte(`{"items":[{"contentDetails":{"relatedPlaylists":{"uploads":"UU1"}}}]}`))
		case "/playlistItems":
			assert.Equal(t, "UU1", r.URL.Query().Get("playlistId"))
			_, _ = w.Write([]byte(`{"items":[{"contentDetails":{"videoId":"x"}}]}`))
		case "/videos":
			_, _ = w.Write([]byte(videosJSON([]string{"x"})))
		}
	})
	videos, err := c.FetchForOwner(context.Background(), "@gopher", 50)
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "x", videos[0].ID)
}

func TestFetchForOwnerUnknownChannel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	_, err := c.FetchForOwner(context.Background(), "UCmissing", 50)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
