package domain

import (
	"encoding/json"
	"time"
)

// Platform обозначает площадку, с которой собирается контент.
type Platform string

const (
	PlatformYouTube Platform = "youtube"
	PlatformQiita   Platform = "qiita"
	PlatformZenn    Platform = "zenn"
	PlatformNote    Platform = "note"
)

// MonitorType задаёт вид цели мониторинга.
type MonitorType string

const (
	MonitorKeyword MonitorType = "keyword"
	MonitorChannel MonitorType = "channel"
	MonitorUser    MonitorType = "user"
)

// WatchSetting описывает цель мониторинга пользователя.
type WatchSetting struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	Platform      Platform    `json:"platform"`
	Type          MonitorType `json:"type"`
	Value         string      `json:"value"`
	DisplayName   *string     `json:"display_name"`
	FetchCount    int         `json:"fetch_count"`
	IsActive      bool        `json:"is_active"`
	LastFetchedAt *time.Time  `json:"last_fetched_at"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Label возвращает отображаемое имя настройки.
func (s WatchSetting) Label() string {
	if s.DisplayName != nil && *s.DisplayName != "" {
		return *s.DisplayName
	}
	return s.Value
}

// SettingPatch содержит изменяемые пользователем поля настройки.
type SettingPatch struct {
	DisplayName *string
	FetchCount  *int
	IsActive    *bool
}

// Empty сообщает, что в патче нет ни одного поля.
func (p SettingPatch) Empty() bool {
	return p.DisplayName == nil && p.FetchCount == nil && p.IsActive == nil
}

// SettingFilter ограничивает выборку настроек пользователя.
type SettingFilter struct {
	Active *bool
}

// CollectedItem это единица контента, собранная по настройке.
type CollectedItem struct {
	UserID      string    `json:"user_id"`
	SettingID   string    `json:"setting_id"`
	Platform    Platform  `json:"platform"`
	ContentID   string    `json:"content_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	AuthorID    *string   `json:"author_id,omitempty"`
	AuthorName  *string   `json:"author_name,omitempty"`
	Views       *int64    `json:"views,omitempty"`
	Likes       *int64    `json:"likes,omitempty"`
	Comments    *int64    `json:"comments,omitempty"`
	Stocks      *int64    `json:"stocks,omitempty"`
	Duration    *string   `json:"duration,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	GrowthRate  *float64  `json:"growth_rate,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// FetchStatus итог одной попытки сбора.
type FetchStatus string

const (
	FetchSuccess FetchStatus = "success"
	FetchError   FetchStatus = "error"
)

// FetchLog неизменяемая запись о попытке сбора.
type FetchLog struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	SettingID    string      `json:"setting_id"`
	Platform     Platform    `json:"platform"`
	Status       FetchStatus `json:"status"`
	RecordsCount *int        `json:"records_count"`
	ErrorMessage *string     `json:"error_message"`
	ExecutedAt   time.Time   `json:"executed_at"`
}

// FetchLogQuery задаёт пагинацию и фильтры истории сбора.
type FetchLogQuery struct {
	Page     int
	Limit    int
	Platform Platform
	Status   FetchStatus
}

const (
	DefaultFetchLogLimit = 20
	MaxFetchLogLimit     = 50
)

// Normalize приводит параметры пагинации к допустимым значениям.
func (q FetchLogQuery) Normalize() FetchLogQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = DefaultFetchLogLimit
	}
	if q.Limit > MaxFetchLogLimit {
		q.Limit = MaxFetchLogLimit
	}
	return q
}

// FetchLogPage страница истории сбора.
type FetchLogPage struct {
	Logs       []FetchLog `json:"logs"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	Total      int        `json:"total"`
	TotalPages int        `json:"total_pages"`
}

// AnalysisType вид анализа.
type AnalysisType string

const (
	AnalysisSimple   AnalysisType = "simple"
	AnalysisDetailed AnalysisType = "detailed"
)

// AnalysisStatus состояние результата анализа.
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisQueued     AnalysisStatus = "queued"
	AnalysisProcessing AnalysisStatus = "processing"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
)

// Active сообщает, что анализ ещё не завершён.
func (s AnalysisStatus) Active() bool {
	switch s {
	case AnalysisPending, AnalysisQueued, AnalysisProcessing:
		return true
	}
	return false
}

// AnalysisResult хранит результат простого или подробного анализа.
type AnalysisResult struct {
	ID           string
	UserID       string
	SettingID    *string
	Type         AnalysisType
	Status       AnalysisStatus
	Result       json.RawMessage
	ErrorMessage *string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// AnalysisJob отслеживает асинхронное выполнение подробного анализа.
type AnalysisJob struct {
	ID           string
	UserID       string
	AnalysisID   string
	JobType      AnalysisType
	Status       JobStatus
	Priority     int
	Payload      json.RawMessage
	Attempts     int
	ErrorMessage *string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}
