package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает продуктовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	UserID     *string
	SettingID  *string
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventSettingCreated фиксирует создание настройки мониторинга.
	BusinessMetricEventSettingCreated = "setting_created"
	// BusinessMetricEventBatchCompleted фиксирует завершение прохода сбора.
	BusinessMetricEventBatchCompleted = "batch_completed"
	// BusinessMetricEventDetailedRequested фиксирует постановку подробного анализа.
	BusinessMetricEventDetailedRequested = "detailed_analysis_requested"
	// BusinessMetricEventDetailedFinished фиксирует завершение подробного анализа.
	BusinessMetricEventDetailedFinished = "detailed_analysis_finished"
)

// BusinessMetricRepo сохраняет продуктовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
