package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound цель не существует на площадке.
	ErrNotFound = errors.New("upstream: not found")
	// ErrRateLimited площадка ответила 429.
	ErrRateLimited = errors.New("upstream: rate limited")
	// ErrSchemaChanged ответ площадки не совпал с ожидаемой схемой.
	ErrSchemaChanged = errors.New("upstream: unexpected response schema")
	// ErrModel ошибка генеративной модели.
	ErrModel = errors.New("model: generation failed")
	// ErrModelRateLimited модель ограничила частоту запросов.
	ErrModelRateLimited = errors.New("model: rate limited")
	// ErrValidation некорректная конфигурация настройки.
	ErrValidation = errors.New("validation failed")
	// ErrStore ошибка хранилища.
	ErrStore = errors.New("store failure")

	// ErrSettingNotFound настройка не найдена у пользователя.
	ErrSettingNotFound = errors.New("setting not found")
	// ErrAnalysisNotFound анализ не найден у пользователя.
	ErrAnalysisNotFound = errors.New("analysis not found")
	// ErrJobNotFound задача анализа не найдена.
	ErrJobNotFound = errors.New("analysis job not found")
	// ErrInvalidTransition переход статуса задачи нарушает порядок.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrNoActiveSettings у пользователя нет активных настроек.
	ErrNoActiveSettings = errors.New("no active settings")
	// ErrNoCollectedData у пользователя нет собранных данных.
	ErrNoCollectedData = errors.New("no collected data")
	// ErrUnsupportedPlatform площадка не зарегистрирована.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

// ValidationError описывает отклонённое поле настройки.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is позволяет сравнивать с ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// UpstreamError неожиданный HTTP статус площадки.
type UpstreamError struct {
	Platform Platform
	Status   int
	Message  string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Platform, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Platform, e.Status)
}

// AnalysisInProgressError возвращается, если у пользователя уже идёт подробный анализ.
type AnalysisInProgressError struct {
	AnalysisID string
}

func (e *AnalysisInProgressError) Error() string {
	return "detailed analysis already in progress: " + e.AnalysisID
}

// ErrCacheMiss ключ отсутствует в кэше.
var ErrCacheMiss = errors.New("cache miss")
