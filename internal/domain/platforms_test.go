package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestGrowthRate(t *testing.T) {
	tests := []struct {
		name  string
		likes int64
		days  int
		want  float64
	}{
		{name: "ten likes over five days", likes: 10, days: 5, want: 2.0},
		{name: "same day keeps raw likes", likes: 7, days: 0, want: 7},
		{name: "rounded to two decimals", likes: 10, days: 3, want: 3.33},
		{name: "no likes", likes: 0, days: 4, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GrowthRate(tt.likes, tt.days); got != tt.want {
				t.Fatalf("GrowthRate(%d, %d) = %v, want %v", tt.likes, tt.days, got, tt.want)
			}
		})
	}
}

func TestDaysSince(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	if got := DaysSince(now.Add(-5*24*time.Hour-time.Hour), now); got != 5 {
		t.Fatalf("ожидали 5 дней, получили %d", got)
	}
	if got := DaysSince(now.Add(-23*time.Hour), now); got != 0 {
		t.Fatalf("ожидали 0 дней, получили %d", got)
	}
	if got := DaysSince(now.Add(time.Hour), now); got != 0 {
		t.Fatalf("публикация в будущем должна давать 0, получили %d", got)
	}
}

func TestValidatePlatformType(t *testing.T) {
	tests := []struct {
		platform Platform
		typ      MonitorType
		ok       bool
	}{
		{PlatformYouTube, MonitorKeyword, true},
		{PlatformYouTube, MonitorChannel, true},
		{PlatformYouTube, MonitorUser, false},
		{PlatformQiita, MonitorUser, true},
		{PlatformQiita, MonitorChannel, false},
		{PlatformZenn, MonitorKeyword, true},
		{PlatformNote, MonitorUser, true},
		{Platform("x"), MonitorKeyword, false},
	}
	for _, tt := range tests {
		err := ValidatePlatformType(tt.platform, tt.typ)
		if tt.ok && err != nil {
			t.Fatalf("%s/%s: не ожидали ошибку: %v", tt.platform, tt.typ, err)
		}
		if !tt.ok && !errors.Is(err, ErrValidation) {
			t.Fatalf("%s/%s: ожидали ошибку валидации, получили %v", tt.platform, tt.typ, err)
		}
	}
}

func TestValidateFetchCount(t *testing.T) {
	for _, n := range []int{50, 100, 200} {
		if err := ValidateFetchCount(n); err != nil {
			t.Fatalf("%d должно быть допустимо: %v", n, err)
		}
	}
	for _, n := range []int{0, 10, 150, 500} {
		if err := ValidateFetchCount(n); !errors.Is(err, ErrValidation) {
			t.Fatalf("%d должно быть отклонено", n)
		}
	}
}

func TestNormalizeSettingValue(t *testing.T) {
	v, err := NormalizeSettingValue("  golang  ")
	if err != nil || v != "golang" {
		t.Fatalf("ожидали обрезанное значение, получили %q, %v", v, err)
	}
	if _, err := NormalizeSettingValue("   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("пустое значение должно быть отклонено")
	}
	if _, err := NormalizeSettingValue(strings.Repeat("あ", 201)); !errors.Is(err, ErrValidation) {
		t.Fatalf("слишком длинное значение должно быть отклонено")
	}
	if _, err := NormalizeSettingValue(strings.Repeat("あ", 200)); err != nil {
		t.Fatalf("200 символов допустимо: %v", err)
	}
}
