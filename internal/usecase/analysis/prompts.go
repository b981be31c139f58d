package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

type simpleItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Views       *int64    `json:"views,omitempty"`
	Likes       *int64    `json:"likes,omitempty"`
	Comments    *int64    `json:"comments,omitempty"`
	Stocks      *int64    `json:"stocks,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	GrowthRate  *float64  `json:"growth_rate,omitempty"`
}

func buildSimplePrompt(setting domain.WatchSetting, items []domain.CollectedItem, now time.Time) (string, error) {
	projection := make([]simpleItem, 0, len(items))
	for _, it := range items {
		projection = append(projection, simpleItem{
			ID:          it.ContentID,
			Title:       it.Title,
			URL:         it.URL,
			Views:       it.Views,
			Likes:       it.Likes,
			Comments:    it.Comments,
			Stocks:      it.Stocks,
			Tags:        it.Tags,
			PublishedAt: it.PublishedAt,
			GrowthRate:  it.GrowthRate,
		})
	}
	data, err := json.MarshalIndent(projection, "", "  ")
	if err != nil {
		return "", fmt.Errorf("сериализация данных для промпта: %w", err)
	}

	var b strings.Builder
	b.WriteString("あなたはコンテンツ分析の専門家です。\n以下のデータを分析し、JSON形式で結果を返してください。\n\n")
	b.WriteString("【データ】\n")
	fmt.Fprintf(&b, "プラットフォーム: %s\n", setting.Platform)
	fmt.Fprintf(&b, "監視タイプ: %s\n", setting.Type)
	fmt.Fprintf(&b, "検索値: %s\n", setting.Value)
	fmt.Fprintf(&b, "収集日: %s\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "データ件数: %d件\n\n", len(items))
	b.WriteString("【収集データ】\n")
	b.Write(data)
	b.WriteString(`

【出力形式】
以下のJSON形式で正確に出力してください。他のテキストは含めないでください。
{
  "trend_score": 0から100の整数（トレンドの強さを表す）,
  "summary": "100文字以内の要約テキスト",
  "top_contents": [
    { "id": "コンテンツID", "title": "タイトル", "reason": "注目理由" }
  ],
  "keywords": ["関連キーワード1", "関連キーワード2", "関連キーワード3", "関連キーワード4", "関連キーワード5"]
}

【注意事項】
- top_contentsは上位3件まで
- keywordsは5つ程度
- 具体的なデータに基づいた分析をしてください
- 日本語で出力してください`)
	return b.String(), nil
}

type settingInfo struct {
	Platform    domain.Platform    `json:"platform"`
	Type        domain.MonitorType `json:"type"`
	Value       string             `json:"value"`
	DisplayName *string            `json:"display_name,omitempty"`
}

type detailedItem struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Views       *int64    `json:"views,omitempty"`
	Likes       *int64    `json:"likes,omitempty"`
	Comments    *int64    `json:"comments,omitempty"`
	Stocks      *int64    `json:"stocks,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	GrowthRate  *float64  `json:"growth_rate,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// projectDetailed оставляет только поля, значимые для площадки.
func projectDetailed(it domain.CollectedItem) detailedItem {
	out := detailedItem{
		Title:       it.Title,
		URL:         it.URL,
		Likes:       it.Likes,
		PublishedAt: it.PublishedAt,
		GrowthRate:  it.GrowthRate,
	}
	switch it.Platform {
	case domain.PlatformYouTube:
		out.Views = it.Views
		out.Comments = it.Comments
		out.Tags = it.Tags
	case domain.PlatformQiita:
		out.Stocks = it.Stocks
		out.Tags = it.Tags
	case domain.PlatformNote:
		out.Comments = it.Comments
	}
	return out
}

var detailedSections = []struct {
	platform domain.Platform
	label    string
}{
	{domain.PlatformYouTube, "YouTube"},
	{domain.PlatformQiita, "Qiita"},
	{domain.PlatformZenn, "Zenn"},
	{domain.PlatformNote, "note"},
}

func partitionByPlatform(items []domain.CollectedItem) map[domain.Platform][]detailedItem {
	out := make(map[domain.Platform][]detailedItem, len(detailedSections))
	for _, it := range items {
		out[it.Platform] = append(out[it.Platform], projectDetailed(it))
	}
	return out
}

func buildDetailedPrompt(settings []domain.WatchSetting, items []domain.CollectedItem) (string, error) {
	infos := make([]settingInfo, 0, len(settings))
	for _, s := range settings {
		infos = append(infos, settingInfo{Platform: s.Platform, Type: s.Type, Value: s.Value, DisplayName: s.DisplayName})
	}
	settingsJSON, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return "", fmt.Errorf("сериализация настроек для промпта: %w", err)
	}

	var b strings.Builder
	b.WriteString("あなたはコンテンツマーケティングの専門家です。\n以下の複数プラットフォームのデータを横断分析し、\nクリエイター向けの実用的なレポートを作成してください。\n\n")
	b.WriteString("【ユーザーの監視設定】\n")
	b.Write(settingsJSON)
	b.WriteString("\n")

	parts := partitionByPlatform(items)
	for _, section := range detailedSections {
		data := parts[section.platform]
		fmt.Fprintf(&b, "\n【%s データ】（%d件）\n", section.label, len(data))
		if len(data) == 0 {
			b.WriteString("データなし\n")
			continue
		}
		raw, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("сериализация данных %s: %w", section.platform, err)
		}
		b.Write(raw)
		b.WriteString("\n")
	}

	b.WriteString(`
【出力形式】
以下のJSON形式で正確に出力してください。他のテキストは含めないでください。
{
  "trend_analysis": {
    "summary": "今週のトレンド総括テキスト",
    "rising_topics": [
      { "topic": "トピック名", "growth": "+XX%", "platforms": ["youtube", "qiita"] }
    ],
    "declining_topics": [
      { "topic": "トピック名", "decline": "-XX%" }
    ]
  },
  "content_ideas": [
    {
      "title": "コンテンツタイトル案",
      "reason": "提案理由",
      "platform_recommendation": "youtube",
      "estimated_potential": "高/中/低"
    }
  ],
  "competitor_analysis": {
    "top_performers": [
      { "name": "名前", "platform": "youtube", "stats": "統計情報" }
    ],
    "posting_patterns": "投稿パターンの分析テキスト",
    "common_tags": ["タグ1", "タグ2"]
  },
  "recommendations": ["具体的なアドバイス1", "具体的なアドバイス2"]
}

【注意事項】
- content_ideasは3〜5件
- recommendationsは3〜5件
- platformsの値は "youtube", "qiita", "zenn", "note" のいずれか
- platform_recommendationの値は "youtube", "qiita", "zenn", "note" のいずれか
- 具体的な数値やデータに基づいた分析をしてください
- 実行可能なアクションを提案してください
- 日本語で出力してください`)
	return b.String(), nil
}
