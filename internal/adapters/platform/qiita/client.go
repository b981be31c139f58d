package qiita

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/hohoemi-rabo/prepfeed/internal/adapters/platform/upstream"
	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

const maxPerPage = 100

// Tag тег статьи.
type Tag struct {
	Name string `json:"name"`
}

// User автор статьи.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Item статья Qiita с производными метриками.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
	LikesCount  int64     `json:"likes_count"`
	StocksCount int64     `json:"stocks_count"`
	Tags        []Tag     `json:"tags"`
	User        User      `json:"user"`

	DaysFromPublished int     `json:"-"`
	GrowthRate        float64 `json:"-"`
}

// Client обращается к Qiita API v2.
type Client struct {
	api *upstream.Client
	now func() time.Time
}

// NewClient создаёт клиента. Токен необязателен и поднимает лимит запросов.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		api: upstream.New(domain.PlatformQiita, baseURL, timeout, upstream.WithBearer(token)),
		now: time.Now,
	}
}

// SearchByKeyword ищет свежие статьи по ключевому слову.
func (c *Client) SearchByKeyword(ctx context.Context, query string, limit int) ([]Item, error) {
	q := url.Values{
		"query":    {query},
		"page":     {"1"},
		"per_page": {strconv.Itoa(upstream.Cap(limit, maxPerPage))},
	}
	return c.list(ctx, "items_search", "/items", q)
}

// FetchForOwner возвращает статьи пользователя.
func (c *Client) FetchForOwner(ctx context.Context, userID string, limit int) ([]Item, error) {
	q := url.Values{
		"page":     {"1"},
		"per_page": {strconv.Itoa(upstream.Cap(limit, maxPerPage))},
	}
	return c.list(ctx, "user_items", "/users/"+url.PathEscape(userID)+"/items", q)
}

func (c *Client) list(ctx context.Context, op, path string, q url.Values) ([]Item, error) {
	var items []Item
	if err := c.api.GetJSON(ctx, op, path, q, &items); err != nil {
		return nil, err
	}
	now := c.now()
	for i := range items {
		if items[i].ID == "" || items[i].CreatedAt.IsZero() {
			return nil, upstream.SchemaError(domain.PlatformQiita, op, fmt.Errorf("item %d without id or created_at", i))
		}
		items[i].DaysFromPublished = domain.DaysSince(items[i].CreatedAt, now)
		items[i].GrowthRate = domain.GrowthRate(items[i].LikesCount, items[i].DaysFromPublished)
	}
	return items, nil
}
