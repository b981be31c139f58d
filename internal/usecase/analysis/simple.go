package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/metrics"
)

// Simple выполняет простой анализ одной настройки и хранит единственный результат на настройку.
type Simple struct {
	items     domain.CollectedItemRepo
	analyses  domain.AnalysisRepo
	generator domain.Generator
	log       zerolog.Logger
	now       func() time.Time
}

var _ domain.SimpleAnalyzer = (*Simple)(nil)

// NewSimple создаёт анализатор.
func NewSimple(items domain.CollectedItemRepo, analyses domain.AnalysisRepo, generator domain.Generator, logger zerolog.Logger) *Simple {
	return &Simple{
		items:     items,
		analyses:  analyses,
		generator: generator,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Analyze строит результат по всем собранным записям настройки и сохраняет его.
func (s *Simple) Analyze(ctx context.Context, setting domain.WatchSetting) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveAnalysis(string(domain.AnalysisSimple), start, err) }()

	items, err := s.items.ListItemsBySetting(ctx, setting.UserID, setting.ID)
	if err != nil {
		return fmt.Errorf("загрузка записей настройки: %w", err)
	}
	result, err := s.Run(ctx, setting, items)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("сериализация результата: %w", err)
	}
	completedAt := s.now()
	settingID := setting.ID
	if _, err := s.analyses.SaveSimpleResult(ctx, domain.AnalysisResult{
		UserID:      setting.UserID,
		SettingID:   &settingID,
		Type:        domain.AnalysisSimple,
		Status:      domain.AnalysisCompleted,
		Result:      raw,
		CompletedAt: &completedAt,
	}); err != nil {
		return fmt.Errorf("сохранение простого анализа: %w", err)
	}
	s.log.Debug().Str("setting_id", setting.ID).Int("score", result.TrendScore).Msg("analysis: простой анализ сохранён")
	return nil
}

// Run считает результат без сохранения. Пустой набор не доходит до модели.
func (s *Simple) Run(ctx context.Context, setting domain.WatchSetting, items []domain.CollectedItem) (SimpleResult, error) {
	now := s.now()
	if len(items) == 0 {
		return SimpleResult{
			TrendScore:  0,
			Summary:     emptyDataSummary,
			TopContents: []TopContent{},
			Keywords:    []string{},
			GeneratedAt: now,
		}, nil
	}
	prompt, err := buildSimplePrompt(setting, items, now)
	if err != nil {
		return SimpleResult{}, err
	}
	var result SimpleResult
	if err := s.generator.GenerateJSON(ctx, prompt, &result); err != nil {
		return SimpleResult{}, fmt.Errorf("простой анализ %s: %w", setting.ID, err)
	}
	result.normalize()
	result.GeneratedAt = now
	return result, nil
}
