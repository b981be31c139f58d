package note

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/hohoemi-rabo/prepfeed/internal/adapters/platform/upstream"
	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/ratelimit"
)

const (
	// MinRequestInterval минимальный промежуток между запросами к note.
	MinRequestInterval = 1500 * time.Millisecond
	maxArticles        = 50
	maxPages           = 20
	userAgent          = "PrepFeed/1.0 (Personal Tool)"
	siteURL            = "https://note.com"
)

// Author автор заметки.
type Author struct {
	Urlname  string
	Nickname string
}

// Article заметка note с производными метриками.
type Article struct {
	ID           string
	Key          string
	Title        string
	URL          string
	PublishedAt  time.Time
	LikeCount    int64
	CommentCount int64
	Hashtags     []string
	Author       Author

	DaysFromPublished int
	GrowthRate        float64
}

// rawNote повторяет ответ API: поля приходят то в camelCase, то в snake_case.
type rawNote struct {
	ID                json.Number `json:"id"`
	Key               string      `json:"key"`
	Name              string      `json:"name"`
	PublishAtCamel    string      `json:"publishAt"`
	PublishAtSnake    string      `json:"publish_at"`
	LikeCountCamel    *int64      `json:"likeCount"`
	LikeCountSnake    *int64      `json:"like_count"`
	CommentCountCamel *int64      `json:"commentCount"`
	CommentCountSnake *int64      `json:"comment_count"`
	NoteURLCamel      string      `json:"noteUrl"`
	NoteURLSnake      string      `json:"note_url"`
	Hashtags          []struct {
		Hashtag struct {
			Name string `json:"name"`
		} `json:"hashtag"`
	} `json:"hashtags"`
	User struct {
		Urlname  string `json:"urlname"`
		Nickname string `json:"nickname"`
		Name     string `json:"name"`
	} `json:"user"`
}

func (r rawNote) toArticle() (Article, error) {
	published := firstNonEmpty(r.PublishAtCamel, r.PublishAtSnake)
	ts, err := time.Parse(time.RFC3339, published)
	if err != nil {
		return Article{}, fmt.Errorf("publish_at %q: %w", published, err)
	}
	key := r.Key
	id := r.ID.String()
	if key == "" && id == "" {
		return Article{}, fmt.Errorf("note without id and key")
	}
	nickname := firstNonEmpty(r.User.Nickname, r.User.Name)
	a := Article{
		ID:           id,
		Key:          key,
		Title:        r.Name,
		PublishedAt:  ts,
		LikeCount:    firstInt(r.LikeCountCamel, r.LikeCountSnake),
		CommentCount: firstInt(r.CommentCountCamel, r.CommentCountSnake),
		Author:       Author{Urlname: r.User.Urlname, Nickname: nickname},
	}
	a.URL = firstNonEmpty(r.NoteURLCamel, r.NoteURLSnake)
	if a.URL == "" {
		a.URL = fmt.Sprintf("%s/%s/n/%s", siteURL, r.User.Urlname, key)
	}
	for _, h := range r.Hashtags {
		if h.Hashtag.Name != "" {
			a.Hashtags = append(a.Hashtags, h.Hashtag.Name)
		}
	}
	return a, nil
}

type searchResponse struct {
	Data *struct {
		Notes *struct {
			Contents []rawNote `json:"contents"`
		} `json:"notes"`
	} `json:"data"`
}

type creatorResponse struct {
	Data *struct {
		Contents   []rawNote `json:"contents"`
		IsLastPage bool      `json:"isLastPage"`
		TotalCount int       `json:"totalCount"`
	} `json:"data"`
}

// Client обращается к неофициальному API note. Все запросы идут через ограничитель.
type Client struct {
	api *upstream.Client
	now func() time.Time
}

// NewClient создаёт клиента. limiter общий для процесса или кластера.
func NewClient(baseURL string, timeout time.Duration, limiter ratelimit.Limiter) *Client {
	if limiter == nil {
		limiter = ratelimit.NewInterval(MinRequestInterval)
	}
	return &Client{
		api: upstream.New(domain.PlatformNote, baseURL, timeout,
			upstream.WithUserAgent(userAgent),
			upstream.WithLimiter(limiter)),
		now: time.Now,
	}
}

// SearchByKeyword ищет заметки по ключевому слову.
func (c *Client) SearchByKeyword(ctx context.Context, query string, limit int) ([]Article, error) {
	limit = upstream.Cap(limit, maxArticles)
	q := url.Values{
		"context": {"note"},
		"q":       {query},
		"size":    {strconv.Itoa(limit)},
		"start":   {"0"},
	}
	var resp searchResponse
	if err := c.api.GetJSON(ctx, "search", "/v3/searches", q, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil || resp.Data.Notes == nil {
		return nil, upstream.SchemaError(domain.PlatformNote, "search", fmt.Errorf("data.notes missing"))
	}
	return c.convert("search", resp.Data.Notes.Contents, limit)
}

// FetchForOwner листает заметки автора, пока не наберёт limit или страницы не кончатся.
func (c *Client) FetchForOwner(ctx context.Context, urlname string, limit int) ([]Article, error) {
	limit = upstream.Cap(limit, maxArticles)
	path := "/v2/creators/" + url.PathEscape(urlname) + "/contents"
	var raw []rawNote
	for page := 1; page <= maxPages && len(raw) < limit; page++ {
		q := url.Values{"kind": {"note"}, "page": {strconv.Itoa(page)}}
		var resp creatorResponse
		if err := c.api.GetJSON(ctx, "creator_contents", path, q, &resp); err != nil {
			return nil, err
		}
		if resp.Data == nil {
			return nil, upstream.SchemaError(domain.PlatformNote, "creator_contents", fmt.Errorf("data missing"))
		}
		raw = append(raw, resp.Data.Contents...)
		if resp.Data.IsLastPage || len(resp.Data.Contents) == 0 {
			break
		}
	}
	return c.convert("creator_contents", raw, limit)
}

func (c *Client) convert(op string, raw []rawNote, limit int) ([]Article, error) {
	if len(raw) > limit {
		raw = raw[:limit]
	}
	now := c.now()
	out := make([]Article, 0, len(raw))
	for i, r := range raw {
		a, err := r.toArticle()
		if err != nil {
			return nil, upstream.SchemaError(domain.PlatformNote, op, fmt.Errorf("note %d: %w", i, err))
		}
		a.DaysFromPublished = domain.DaysSince(a.PublishedAt, now)
		a.GrowthRate = domain.GrowthRate(a.LikeCount, a.DaysFromPublished)
		out = append(out, a)
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstInt(values ...*int64) int64 {
	for _, v := range values {
		if v != nil {
			return *v
		}
	}
	return 0
}
