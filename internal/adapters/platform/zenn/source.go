package zenn

import (
	"context"
	"strconv"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

// Transform переводит статью Zenn в каноническую запись.
func Transform(a Article, userID, settingID string) domain.CollectedItem {
	likes := a.LikedCount
	growth := a.GrowthRate
	out := domain.CollectedItem{
		UserID:      userID,
		SettingID:   settingID,
		Platform:    domain.PlatformZenn,
		ContentID:   strconv.FormatInt(a.ID, 10),
		Title:       a.Title,
		URL:         a.URL(),
		PublishedAt: a.PublishedAt,
		Likes:       &likes,
		GrowthRate:  &growth,
	}
	if a.User.Username != "" {
		username := a.User.Username
		out.AuthorID = &username
		name := a.User.Name
		if name == "" {
			name = username
		}
		out.AuthorName = &name
	}
	return out
}

// Source реализует domain.Source для Zenn.
type Source struct {
	client *Client
}

var _ domain.Source = (*Source)(nil)

// NewSource создаёт источник.
func NewSource(client *Client) *Source {
	return &Source{client: client}
}

// Platform возвращает тег площадки.
func (s *Source) Platform() domain.Platform { return domain.PlatformZenn }

// Fetch собирает статьи по настройке.
func (s *Source) Fetch(ctx context.Context, setting domain.WatchSetting) ([]domain.CollectedItem, error) {
	var (
		articles []Article
		err      error
	)
	switch setting.Type {
	case domain.MonitorKeyword:
		articles, err = s.client.SearchByKeyword(ctx, setting.Value, setting.FetchCount)
	case domain.MonitorUser:
		articles, err = s.client.FetchForOwner(ctx, setting.Value, setting.FetchCount)
	default:
		return nil, domain.ValidatePlatformType(domain.PlatformZenn, setting.Type)
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.CollectedItem, 0, len(articles))
	for _, a := range articles {
		out = append(out, Transform(a, setting.UserID, setting.ID))
	}
	return out, nil
}
