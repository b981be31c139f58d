package qiita

import (
	"context"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

// Transform переводит статью Qiita в каноническую запись.
func Transform(item Item, userID, settingID string) domain.CollectedItem {
	tags := make([]string, 0, len(item.Tags))
	for _, t := range item.Tags {
		tags = append(tags, t.Name)
	}
	out := domain.CollectedItem{
		UserID:      userID,
		SettingID:   settingID,
		Platform:    domain.PlatformQiita,
		ContentID:   item.ID,
		Title:       item.Title,
		URL:         item.URL,
		PublishedAt: item.CreatedAt,
		Likes:       ptr(item.LikesCount),
		Stocks:      ptr(item.StocksCount),
		Tags:        tags,
		GrowthRate:  ptr(item.GrowthRate),
	}
	if item.User.ID != "" {
		out.AuthorID = ptr(item.User.ID)
	}
	if item.User.Name != "" {
		out.AuthorName = ptr(item.User.Name)
	} else if item.User.ID != "" {
		out.AuthorName = ptr(item.User.ID)
	}
	return out
}

// Source реализует domain.Source для Qiita.
type Source struct {
	client *Client
}

var _ domain.Source = (*Source)(nil)

// NewSource создаёт источник.
func NewSource(client *Client) *Source {
	return &Source{client: client}
}

// Platform возвращает тег площадки.
func (s *Source) Platform() domain.Platform { return domain.PlatformQiita }

// Fetch собирает статьи по настройке.
func (s *Source) Fetch(ctx context.Context, setting domain.WatchSetting) ([]domain.CollectedItem, error) {
	var (
		items []Item
		err   error
	)
	switch setting.Type {
	case domain.MonitorKeyword:
		items, err = s.client.SearchByKeyword(ctx, setting.Value, setting.FetchCount)
	case domain.MonitorUser:
		items, err = s.client.FetchForOwner(ctx, setting.Value, setting.FetchCount)
	default:
		return nil, domain.ValidatePlatformType(domain.PlatformQiita, setting.Type)
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.CollectedItem, 0, len(items))
	for _, item := range items {
		out = append(out, Transform(item, setting.UserID, setting.ID))
	}
	return out, nil
}

func ptr[T any](v T) *T { return &v }
