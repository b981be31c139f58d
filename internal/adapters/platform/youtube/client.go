package youtube

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
	maxPerCall = 50
	maxPages   = 10
)

// Video ролик YouTube с производными метриками.
type Video struct {
	ID           string
	Title        string
	Description  string
	ChannelID    string
	ChannelTitle string
	PublishedAt  time.Time
	ViewCount    int64
	LikeCount    int64
	CommentCount int64
	Duration     string
	Tags         []string
	Thumbnail    string

	DaysFromPublished int
	GrowthRate        float64
}

type idPage struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		ContentDetails struct {
			VideoID string `json:"videoId"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type videosResponse struct {
	Items *[]struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string    `json:"title"`
			Description  string    `json:"description"`
			ChannelID    string    `json:"channelId"`
			ChannelTitle string    `json:"channelTitle"`
			PublishedAt  time.Time `json:"publishedAt"`
			Tags         []string  `json:"tags"`
			Thumbnails   map[string]struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		Statistics struct {
			ViewCount    string `json:"viewCount"`
			LikeCount    string `json:"likeCount"`
			CommentCount string `json:"commentCount"`
		} `json:"statistics"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type channelsResponse struct {
	Items []struct {
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string `json:"uploads"`
			} `json:"relatedPlaylists"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// Client обращается к YouTube Data API v3.
type Client struct {
	api    *upstream.Client
	apiKey string
	now    func() time.Time
}

// NewClient создаёт клиента.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		api:    upstream.New(domain.PlatformYouTube, baseURL, timeout),
		apiKey: apiKey,
		now:    time.Now,
	}
}

// SearchByKeyword ищет свежие ролики по ключевому слову.
func (c *Client) SearchByKeyword(ctx context.Context, query string, limit int) ([]Video, error) {
	ids, err := c.collectIDs(ctx, "search", "/search", url.Values{
		"part":  {"snippet"},
		"type":  {"video"},
		"order": {"date"},
		"q":     {query},
	}, limit)
	if err != nil {
		return nil, err
	}
	return c.videos(ctx, ids)
}

// FetchForOwner возвращает последние ролики канала. Принимает ID канала или @handle.
func (c *Client) FetchForOwner(ctx context.Context, channel string, limit int) ([]Video, error) {
	channel = strings.TrimSpace(channel)
	q := url.Values{"part": {"contentDetails"}, "key": {c.apiKey}}
	if strings.HasPrefix(channel, "@") {
		q.Set("forHandle", channel)
	} else {
		q.Set("id", channel)
	}
	var resp channelsResponse
	if err := c.api.GetJSON(ctx, "channels", "/channels", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 || resp.Items[0].ContentDetails.RelatedPlaylists.Uploads == "" {
		return nil, fmt.Errorf("youtube: channel %s: %w", channel, domain.ErrNotFound)
	}
	ids, err := c.collectIDs(ctx, "playlist_items", "/playlistItems", url.Values{
		"part":       {"contentDetails"},
		"playlistId": {resp.Items[0].ContentDetails.RelatedPlaylists.Uploads},
	}, limit)
	if err != nil {
		return nil, err
	}
	return c.videos(ctx, ids)
}

func (c *Client) collectIDs(ctx context.Context, op, path string, base url.Values, limit int) ([]string, error) {
	if limit <= 0 {
		limit = maxPerCall
	}
	var (
		ids   []string
		token string
	)
	for page := 0; page < maxPages && len(ids) < limit; page++ {
		q := url.Values{}
		for k, v := range base {
			q[k] = v
		}
		q.Set("key", c.apiKey)
		q.Set("maxResults", strconv.Itoa(upstream.Cap(limit-len(ids), maxPerCall)))
		if token != "" {
			q.Set("pageToken", token)
		}
		var resp idPage
		if err := c.api.GetJSON(ctx, op, path, q, &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			id := item.ID.VideoID
			if id == "" {
				id = item.ContentDetails.VideoID
			}
			if id != "" {
				ids = append(ids, id)
			}
		}
		token = resp.NextPageToken
		if token == "" {
			break
		}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (c *Client) videos(ctx context.Context, ids []string) ([]Video, error) {
	now := c.now()
	out := make([]Video, 0, len(ids))
	for start := 0; start < len(ids); start += maxPerCall {
		end := start + maxPerCall
		if end > len(ids) {
			end = len(ids)
		}
		var resp videosResponse
		err := c.api.GetJSON(ctx, "videos", "/videos", url.Values{
			"part": {"snippet,statistics,contentDetails"},
			"id":   {strings.Join(ids[start:end], ",")},
			"key":  {c.apiKey},
		}, &resp)
		if err != nil {
			return nil, err
		}
		if resp.Items == nil {
			return nil, upstream.SchemaError(domain.PlatformYouTube, "videos", fmt.Errorf("items missing"))
		}
		for _, item := range *resp.Items {
			v := Video{
				ID:           item.ID,
				Title:        item.Snippet.Title,
				Description:  item.Snippet.Description,
				ChannelID:    item.Snippet.ChannelID,
				ChannelTitle: item.Snippet.ChannelTitle,
				PublishedAt:  item.Snippet.PublishedAt,
				ViewCount:    parseCount(item.Statistics.ViewCount),
				LikeCount:    parseCount(item.Statistics.LikeCount),
				CommentCount: parseCount(item.Statistics.CommentCount),
				Duration:     item.ContentDetails.Duration,
				Tags:         item.Snippet.Tags,
			}
			for _, size := range []string{"high", "medium", "default"} {
				if th, ok := item.Snippet.Thumbnails[size]; ok && th.URL != "" {
					v.Thumbnail = th.URL
					break
				}
			}
			v.DaysFromPublished = domain.DaysSince(v.PublishedAt, now)
			v.GrowthRate = domain.GrowthRate(v.LikeCount, v.DaysFromPublished)
			out = append(out, v)
		}
	}
	return out, nil
}

// Статистика приходит строками и может быть скрыта владельцем.
func parseCount(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
