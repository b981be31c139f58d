package zenn

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hohoemi-rabo/prepfeed/internal/adapters/platform/upstream"
	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

const (
	maxCount = 100
	siteURL  = "https://zenn.dev"
)

// User автор статьи.
type User struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Article статья Zenn с производными метриками.
type Article struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Path        string    `json:"path"`
	PublishedAt time.Time `json:"published_at"`
	LikedCount  int64     `json:"liked_count"`
	User        User      `json:"user"`

	DaysFromPublished int     `json:"-"`
	GrowthRate        float64 `json:"-"`
}

// URL возвращает абсолютную ссылку на статью.
func (a Article) URL() string {
	if a.Path != "" {
		return siteURL + a.Path
	}
	return fmt.Sprintf("%s/%s/articles/%s", siteURL, a.User.Username, a.Slug)
}

type articlesResponse struct {
	Articles *[]Article `json:"articles"`
}

// Client обращается к неофициальному API Zenn.
type Client struct {
	api *upstream.Client
	now func() time.Time
}

// NewClient создаёт клиента.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{api: upstream.New(domain.PlatformZenn, baseURL, timeout), now: time.Now}
}

// SearchByKeyword ищет статьи по топику.
func (c *Client) SearchByKeyword(ctx context.Context, topic string, limit int) ([]Article, error) {
	q := url.Values{
		"topicname": {strings.ToLower(strings.TrimSpace(topic))},
		"order":     {"latest"},
		"count":     {strconv.Itoa(upstream.Cap(limit, maxCount))},
	}
	return c.list(ctx, "articles_topic", q)
}

// FetchForOwner возвращает статьи пользователя.
func (c *Client) FetchForOwner(ctx context.Context, username string, limit int) ([]Article, error) {
	q := url.Values{
		"username": {strings.TrimSpace(username)},
		"order":    {"latest"},
		"count":    {strconv.Itoa(upstream.Cap(limit, maxCount))},
	}
	return c.list(ctx, "articles_user", q)
}

func (c *Client) list(ctx context.Context, op string, q url.Values) ([]Article, error) {
	var resp articlesResponse
	if err := c.api.GetJSON(ctx, op, "/articles", q, &resp); err != nil {
		return nil, err
	}
	if resp.Articles == nil {
		return nil, upstream.SchemaError(domain.PlatformZenn, op, fmt.Errorf("articles field missing"))
	}
	articles := *resp.Articles
	now := c.now()
	for i := range articles {
		if articles[i].ID == 0 || articles[i].PublishedAt.IsZero() {
			return nil, upstream.SchemaError(domain.PlatformZenn, op, fmt.Errorf("article %d without id or published_at", i))
		}
		articles[i].DaysFromPublished = domain.DaysSince(articles[i].PublishedAt, now)
		articles[i].GrowthRate = domain.GrowthRate(articles[i].LikedCount, articles[i].DaysFromPublished)
	}
	return articles, nil
}
