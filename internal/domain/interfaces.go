package domain

import (
	"context"
	"time"
)

// SettingRepo хранит настройки мониторинга.
type SettingRepo interface {
	CreateSetting(ctx context.Context, s WatchSetting) (WatchSetting, error)
	GetSetting(ctx context.Context, userID, id string) (WatchSetting, error)
	ListSettings(ctx context.Context, userID string, filter SettingFilter) ([]WatchSetting, error)
	// ListActiveSettings возвращает активные настройки всех пользователей
	// в порядке user_id, created_at. Используется плановым проходом.
	ListActiveSettings(ctx context.Context) ([]WatchSetting, error)
	ListActiveSettingsByUser(ctx context.Context, userID string) ([]WatchSetting, error)
	UpdateSetting(ctx context.Context, userID, id string, patch SettingPatch) (WatchSetting, error)
	// DeleteSetting удаляет настройку вместе с собранными данными.
	DeleteSetting(ctx context.Context, userID, id string) error
	TouchSettingFetched(ctx context.Context, id string, at time.Time) error
}

// CollectedItemRepo хранит собранный контент.
type CollectedItemRepo interface {
	// UpsertItems перезаписывает строки по ключу (user_id, setting_id, content_id).
	UpsertItems(ctx context.Context, items []CollectedItem) error
	ListItemsBySetting(ctx context.Context, userID, settingID string) ([]CollectedItem, error)
	ListRecentItems(ctx context.Context, userID string, limit int) ([]CollectedItem, error)
}

// FetchLogRepo хранит журнал попыток сбора.
type FetchLogRepo interface {
	AppendFetchLog(ctx context.Context, l FetchLog) error
	ListFetchLogs(ctx context.Context, userID string, q FetchLogQuery) (FetchLogPage, error)
}

// AnalysisRepo хранит результаты анализа и задачи.
type AnalysisRepo interface {
	// SaveSimpleResult обновляет единственный простой результат настройки или создаёт его.
	SaveSimpleResult(ctx context.Context, r AnalysisResult) (AnalysisResult, error)
	FindActiveDetailed(ctx context.Context, userID string) (AnalysisResult, bool, error)
	// CreateDetailedAnalysis атомарно создаёт результат (pending) и задачу (queued).
	// Если активный анализ уже есть, возвращает *AnalysisInProgressError.
	CreateDetailedAnalysis(ctx context.Context, userID string, now time.Time) (AnalysisResult, AnalysisJob, error)
	GetAnalysis(ctx context.Context, userID, id string) (AnalysisResult, error)
	ListAnalyses(ctx context.Context, userID string, typ AnalysisType, limit int) ([]AnalysisResult, error)
	GetJob(ctx context.Context, jobID string) (AnalysisJob, error)
	// RegisterJobDelivery увеличивает счётчик доставок и возвращает задачу.
	RegisterJobDelivery(ctx context.Context, jobID string) (AnalysisJob, error)
	// TransitionJob меняет статус задачи и результата одной транзакцией.
	TransitionJob(ctx context.Context, jobID string, t JobTransition) (AnalysisJob, error)
	// FailStaleJobs переводит зависшие задачи в failed.
	FailStaleJobs(ctx context.Context, olderThan time.Time, message string) (int, error)
}

// Source собирает контент площадки по настройке.
type Source interface {
	Platform() Platform
	Fetch(ctx context.Context, setting WatchSetting) ([]CollectedItem, error)
}

// SourceResolver находит Source по площадке.
type SourceResolver interface {
	Resolve(p Platform) (Source, error)
}

// Generator вызывает генеративную модель и раскладывает JSON-ответ в out.
type Generator interface {
	GenerateJSON(ctx context.Context, prompt string, out any) error
}

// SimpleAnalyzer запускает простой анализ по настройке.
type SimpleAnalyzer interface {
	Analyze(ctx context.Context, setting WatchSetting) error
}

// Cache описывает простой кэш с TTL.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get возвращает ErrCacheMiss, если ключа нет.
	Get(ctx context.Context, key string) ([]byte, error)
}
