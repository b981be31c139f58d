package note

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

type countingLimiter struct{ calls int }

func (l *countingLimiter) Wait(context.Context) error { l.calls++; return nil }

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *countingLimiter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	limiter := &countingLimiter{}
	c := NewClient(srv.URL, time.Second, limiter)
	c.now = func() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC) }
	return c, limiter
}

func creatorPage(start, n int, last bool) string {
	body := `{"data":{"contents":[`
	for i := 0; i < n; i++ {
		if i > 0 {
			body += ","
		}
		id := start + i
		body += fmt.Sprintf(`{"id":%d,"key":"n%d","name":"記事%d","publishAt":"2024-05-08T12:00:00+00:00","likeCount":%d,"commentCount":1,"user":{"urlname":"writer","nickname":"書き手"}}`, id, id, id, id)
	}
	return body + fmt.Sprintf(`],"isLastPage":%t,"totalCount":100}}`, last)
}

func TestFetchForOwnerPaginates(t *testing.T) {
	var pages []string
	c, limiter := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/creators/writer/contents", r.URL.Path)
		assert.Equal(t, "note", r.URL.Query().Get("kind"))
		assert.Equal(t, "PrepFeed/1.0 (Personal Tool)", r.Header.Get("User-Agent"))
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		switch page {
		case "1":
			_, _ = w.Write([]byte(creatorPage(1, 6, false)))
		default:
			_, _ = w.Write([]byte(creatorPage(7, 6, true)))
		}
	})

	articles, err := c.FetchForOwner(context.Background(), "writer", 10)
	require.NoError(t, err)
	assert.Len(t, articles, 10)
	assert.Equal(t, []string{"1", "2"}, pages)
	assert.Equal(t, 2, limiter.calls)
	assert.Equal(t, "https://note.com/writer/n/n1", articles[0].URL)
	assert.Equal(t, 2, articles[0].DaysFromPublished)
	assert.Equal(t, 0.5, articles[0].GrowthRate)
}

func TestFetchForOwnerStopsOnLastPage(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(creatorPage(1, 3, true)))
	})
	articles, err := c.FetchForOwner(context.Background(), "writer", 200)
	require.NoError(t, err)
	assert.Len(t, articles, 3)
	assert.Equal(t, 1, calls)
}

func TestSearchByKeywordSnakeCase(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/searches", r.URL.Path)
		assert.Equal(t, "note", r.URL.Query().Get("context"))
		assert.Equal(t, "50", r.URL.Query().Get("size"))
		_, _ = w.Write([]byte(`{"data":{"notes":{"contents":[
			{"id":"9","key":"nabc","name":"生成AI","publish_at":"2024-05-10T10:00:00+00:00","like_count":3,"comment_count":2,
			 "note_url":"https://note.com/ai/n/nabc","hashtags":[{"hashtag":{"name":"#AI"}}],"user":{"urlname":"ai","name":"AI太郎"}}
		]}}}`))
	})
	articles, err := c.SearchByKeyword(context.Background(), "生成AI", 100)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	a := articles[0]
	assert.Equal(t, "https://note.com/ai/n/nabc", a.URL)
	assert.Equal(t, int64(3), a.LikeCount)
	assert.Equal(t, 3.0, a.GrowthRate)

	item := Transform(a, "u1", "s1")
	assert.Equal(t, "nabc", item.ContentID)
	assert.Equal(t, "AI太郎", *item.AuthorName)
	assert.Equal(t, int64(2), *item.Comments)
	assert.Equal(t, []string{"#AI"}, item.Tags)
}

func TestSearchSchemaChanged(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"items":[]}}`))
	})
	_, err := c.SearchByKeyword(context.Background(), "go", 10)
	assert.ErrorIs(t, err, domain.ErrSchemaChanged)
}

func TestCreatorNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.FetchForOwner(context.Background(), "nobody", 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
