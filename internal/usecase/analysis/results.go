package analysis

import (
	"encoding/json"
	"time"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

const (
	maxTopContents    = 3
	maxTrendScore     = 100
	emptyDataSummary  = "分析対象のデータがありません。"
	maxDetailedItems  = 500
	staleJobMessage   = "処理がタイムアウトしました。再度お試しください。"
	enqueueJobMessage = "分析ジョブの登録に失敗しました。"
)

// TopContent заметная публикация в простом анализе.
type TopContent struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// SimpleResult результат простого анализа одной настройки.
type SimpleResult struct {
	TrendScore  int          `json:"trend_score"`
	Summary     string       `json:"summary"`
	TopContents []TopContent `json:"top_contents"`
	Keywords    []string     `json:"keywords"`
	GeneratedAt time.Time    `json:"generated_at"`
}

func (r *SimpleResult) normalize() {
	if r.TrendScore < 0 {
		r.TrendScore = 0
	}
	if r.TrendScore > maxTrendScore {
		r.TrendScore = maxTrendScore
	}
	if len(r.TopContents) > maxTopContents {
		r.TopContents = r.TopContents[:maxTopContents]
	}
	if r.TopContents == nil {
		r.TopContents = []TopContent{}
	}
	if r.Keywords == nil {
		r.Keywords = []string{}
	}
}

// RisingTopic растущая тема.
type RisingTopic struct {
	Topic     string            `json:"topic"`
	Growth    string            `json:"growth"`
	Platforms []domain.Platform `json:"platforms"`
}

// DecliningTopic угасающая тема.
type DecliningTopic struct {
	Topic   string `json:"topic"`
	Decline string `json:"decline"`
}

// TrendAnalysis сводка трендов.
type TrendAnalysis struct {
	Summary         string           `json:"summary"`
	RisingTopics    []RisingTopic    `json:"rising_topics"`
	DecliningTopics []DecliningTopic `json:"declining_topics"`
}

// ContentIdea предложение материала.
type ContentIdea struct {
	Title                  string          `json:"title"`
	Reason                 string          `json:"reason"`
	PlatformRecommendation domain.Platform `json:"platform_recommendation"`
	EstimatedPotential     string          `json:"estimated_potential"`
}

// TopPerformer заметный автор.
type TopPerformer struct {
	Name     string          `json:"name"`
	Platform domain.Platform `json:"platform"`
	Stats    string          `json:"stats"`
}

// CompetitorAnalysis разбор конкурентов.
type CompetitorAnalysis struct {
	TopPerformers   []TopPerformer `json:"top_performers"`
	PostingPatterns string         `json:"posting_patterns"`
	CommonTags      []string       `json:"common_tags"`
}

// DetailedResult результат кросс-платформенного анализа.
type DetailedResult struct {
	TrendAnalysis      TrendAnalysis      `json:"trend_analysis"`
	ContentIdeas       []ContentIdea      `json:"content_ideas"`
	CompetitorAnalysis CompetitorAnalysis `json:"competitor_analysis"`
	Recommendations    []string           `json:"recommendations"`
	GeneratedAt        time.Time          `json:"generated_at"`
}

// StatusView то, что видит клиент при опросе статуса анализа.
// result и error_message заполняются только в терминальном статусе.
type StatusView struct {
	ID           string                `json:"id"`
	Type         domain.AnalysisType   `json:"analysis_type"`
	SettingID    *string               `json:"setting_id,omitempty"`
	Status       domain.AnalysisStatus `json:"status"`
	Result       json.RawMessage       `json:"result,omitempty"`
	ErrorMessage *string               `json:"error_message,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
}

// NewStatusView строит представление результата.
func NewStatusView(r domain.AnalysisResult) StatusView {
	v := StatusView{
		ID:        r.ID,
		Type:      r.Type,
		SettingID: r.SettingID,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
	}
	switch r.Status {
	case domain.AnalysisCompleted:
		if len(r.Result) > 0 {
			v.Result = r.Result
		}
		v.CompletedAt = r.CompletedAt
	case domain.AnalysisFailed:
		v.ErrorMessage = r.ErrorMessage
		v.CompletedAt = r.CompletedAt
	}
	return v
}
