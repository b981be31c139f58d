package domain

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// AllowedTypes перечисляет допустимые виды мониторинга для каждой площадки.
var AllowedTypes = map[Platform][]MonitorType{
	PlatformYouTube: {MonitorKeyword, MonitorChannel},
	PlatformQiita:   {MonitorKeyword, MonitorUser},
	PlatformZenn:    {MonitorKeyword, MonitorUser},
	PlatformNote:    {MonitorKeyword, MonitorUser},
}

// ValidFetchCounts допустимые значения fetch_count.
var ValidFetchCounts = []int{50, 100, 200}

const (
	// DefaultFetchCount используется, если пользователь не указал количество.
	DefaultFetchCount = 50
	// MaxSettingValueLength ограничение длины значения настройки в символах.
	MaxSettingValueLength = 200
)

// ValidatePlatformType проверяет сочетание площадки и вида мониторинга.
func ValidatePlatformType(p Platform, t MonitorType) error {
	types, ok := AllowedTypes[p]
	if !ok {
		return &ValidationError{Field: "platform", Reason: "unknown platform " + string(p)}
	}
	for _, allowed := range types {
		if allowed == t {
			return nil
		}
	}
	return &ValidationError{Field: "type", Reason: string(t) + " is not allowed for " + string(p)}
}

// ValidateFetchCount проверяет значение fetch_count.
func ValidateFetchCount(n int) error {
	for _, v := range ValidFetchCounts {
		if v == n {
			return nil
		}
	}
	return &ValidationError{Field: "fetch_count", Reason: "must be one of 50, 100, 200"}
}

// NormalizeSettingValue обрезает пробелы и проверяет длину значения.
func NormalizeSettingValue(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", &ValidationError{Field: "value", Reason: "required"}
	}
	if utf8.RuneCountInString(v) > MaxSettingValueLength {
		return "", &ValidationError{Field: "value", Reason: "too long"}
	}
	return v, nil
}

// DaysSince возвращает число полных суток между публикацией и now.
func DaysSince(published, now time.Time) int {
	if published.IsZero() || now.Before(published) {
		return 0
	}
	return int(now.Sub(published) / (24 * time.Hour))
}

// GrowthRate считает лайки в сутки с округлением до сотых.
// В день публикации возвращается сырое число лайков.
func GrowthRate(likes int64, days int) float64 {
	if days <= 0 {
		return float64(likes)
	}
	return math.Round(float64(likes)/float64(days)*100) / 100
}
