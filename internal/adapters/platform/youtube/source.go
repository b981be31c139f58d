package youtube

import (
	"context"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

// Transform переводит ролик YouTube в каноническую запись.
func Transform(v Video, userID, settingID string) domain.CollectedItem {
	views, likes, comments, growth := v.ViewCount, v.LikeCount, v.CommentCount, v.GrowthRate
	out := domain.CollectedItem{
		UserID:      userID,
		SettingID:   settingID,
		Platform:    domain.PlatformYouTube,
		ContentID:   v.ID,
		Title:       v.Title,
		URL:         "https://www.youtube.com/watch?v=" + v.ID,
		PublishedAt: v.PublishedAt,
		Views:       &views,
		Likes:       &likes,
		Comments:    &comments,
		Tags:        v.Tags,
		GrowthRate:  &growth,
	}
	if v.ChannelID != "" {
		channelID := v.ChannelID
		out.AuthorID = &channelID
	}
	if v.ChannelTitle != "" {
		title := v.ChannelTitle
		out.AuthorName = &title
	}
	if v.Duration != "" {
		duration := v.Duration
		out.Duration = &duration
	}
	return out
}

// Source реализует domain.Source для YouTube.
type Source struct {
	client *Client
}

var _ domain.Source = (*Source)(nil)

// NewSource создаёт источник.
func NewSource(client *Client) *Source {
	return &Source{client: client}
}

// Platform возвращает тег площадки.
func (s *Source) Platform() domain.Platform { return domain.PlatformYouTube }

// Fetch собирает ролики по настройке.
func (s *Source) Fetch(ctx context.Context, setting domain.WatchSetting) ([]domain.CollectedItem, error) {
	var (
		videos []Video
		err    error
	)
	switch setting.Type {
	case domain.MonitorKeyword:
		videos, err = s.client.SearchByKeyword(ctx, setting.Value, setting.FetchCount)
	case domain.MonitorChannel:
		videos, err = s.client.FetchForOwner(ctx, setting.Value, setting.FetchCount)
	default:
		return nil, domain.ValidatePlatformType(domain.PlatformYouTube, setting.Type)
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.CollectedItem, 0, len(videos))
	for _, v := range videos {
		out = append(out, Transform(v, setting.UserID, setting.ID))
	}
	return out, nil
}
