package note

import (
	"context"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

// Transform переводит заметку note в каноническую запись.
func Transform(a Article, userID, settingID string) domain.CollectedItem {
	contentID := a.Key
	if contentID == "" {
		contentID = a.ID
	}
	likes, comments, growth := a.LikeCount, a.CommentCount, a.GrowthRate
	out := domain.CollectedItem{
		UserID:      userID,
		SettingID:   settingID,
		Platform:    domain.PlatformNote,
		ContentID:   contentID,
		Title:       a.Title,
		URL:         a.URL,
		PublishedAt: a.PublishedAt,
		Likes:       &likes,
		Comments:    &comments,
		Tags:        a.Hashtags,
		GrowthRate:  &growth,
	}
	if a.Author.Urlname != "" {
		urlname := a.Author.Urlname
		out.AuthorID = &urlname
	}
	if a.Author.Nickname != "" {
		nickname := a.Author.Nickname
		out.AuthorName = &nickname
	}
	return out
}

// Source реализует domain.Source для note.
type Source struct {
	client *Client
}

var _ domain.Source = (*Source)(nil)

// NewSource создаёт источник.
func NewSource(client *Client) *Source {
	return &Source{client: client}
}

// Platform возвращает тег площадки.
func (s *Source) Platform() domain.Platform { return domain.PlatformNote }

// Fetch собирает заметки по настройке.
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
		return nil, domain.ValidatePlatformType(domain.PlatformNote, setting.Type)
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
