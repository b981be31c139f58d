package settings

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

// CreateInput тело запроса на создание настройки.
type CreateInput struct {
	Platform    string  `json:"platform" validate:"required,oneof=youtube qiita zenn note"`
	Type        string  `json:"type" validate:"required,oneof=keyword channel user"`
	Value       string  `json:"value" validate:"required"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=100"`
	FetchCount  *int    `json:"fetch_count" validate:"omitempty,oneof=50 100 200"`
}

// UpdateInput тело запроса на изменение настройки.
type UpdateInput struct {
	DisplayName *string `json:"display_name" validate:"omitempty,max=100"`
	FetchCount  *int    `json:"fetch_count" validate:"omitempty,oneof=50 100 200"`
	IsActive    *bool   `json:"is_active"`
}

// InitialFetch итог первого сбора после создания настройки.
type InitialFetch struct {
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// CreateResult ответ на создание настройки.
type CreateResult struct {
	Setting      domain.WatchSetting `json:"setting"`
	InitialFetch InitialFetch        `json:"initial_fetch"`
}

type collector interface {
	ProcessSetting(ctx context.Context, setting domain.WatchSetting) (int, error)
}

// Service управляет настройками мониторинга пользователя.
type Service struct {
	repo      domain.SettingRepo
	collector collector
	analytics domain.BusinessMetricRepo
	validate  *validator.Validate
	log       zerolog.Logger
}

// NewService создаёт сервис настроек. collector и analytics могут быть nil.
func NewService(repo domain.SettingRepo, collector collector, analytics domain.BusinessMetricRepo, logger zerolog.Logger) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{repo: repo, collector: collector, analytics: analytics, validate: v, log: logger}
}

// Create проверяет и сохраняет настройку, затем сразу собирает по ней данные.
// Ошибка первого сбора не отменяет создание и возвращается в InitialFetch.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (CreateResult, error) {
	if err := s.check(in); err != nil {
		return CreateResult{}, err
	}
	value, err := domain.NormalizeSettingValue(in.Value)
	if err != nil {
		return CreateResult{}, err
	}
	platform := domain.Platform(in.Platform)
	typ := domain.MonitorType(in.Type)
	if err := domain.ValidatePlatformType(platform, typ); err != nil {
		return CreateResult{}, err
	}
	fetchCount := domain.DefaultFetchCount
	if in.FetchCount != nil {
		fetchCount = *in.FetchCount
	}
	if err := domain.ValidateFetchCount(fetchCount); err != nil {
		return CreateResult{}, err
	}

	setting, err := s.repo.CreateSetting(ctx, domain.WatchSetting{
		UserID:      userID,
		Platform:    platform,
		Type:        typ,
		Value:       value,
		DisplayName: trimmed(in.DisplayName),
		FetchCount:  fetchCount,
		IsActive:    true,
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("создание настройки: %w", err)
	}
	s.record(ctx, setting)

	result := CreateResult{Setting: setting}
	if s.collector == nil {
		return result, nil
	}
	count, err := s.collector.ProcessSetting(ctx, setting)
	if err != nil {
		s.log.Warn().Err(err).Str("setting_id", setting.ID).Msg("settings: первый сбор не удался")
		result.InitialFetch.Error = err.Error()
		return result, nil
	}
	result.InitialFetch.Count = count
	if fresh, err := s.repo.GetSetting(ctx, userID, setting.ID); err == nil {
		result.Setting = fresh
	}
	return result, nil
}

// Get возвращает настройку пользователя.
func (s *Service) Get(ctx context.Context, userID, id string) (domain.WatchSetting, error) {
	return s.repo.GetSetting(ctx, userID, id)
}

// List возвращает настройки пользователя.
func (s *Service) List(ctx context.Context, userID string, filter domain.SettingFilter) ([]domain.WatchSetting, error) {
	list, err := s.repo.ListSettings(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []domain.WatchSetting{}
	}
	return list, nil
}

// Update меняет отображаемое имя, fetch_count или активность. Нужно хотя бы одно поле.
func (s *Service) Update(ctx context.Context, userID, id string, in UpdateInput) (domain.WatchSetting, error) {
	if err := s.check(in); err != nil {
		return domain.WatchSetting{}, err
	}
	patch := domain.SettingPatch{
		DisplayName: in.DisplayName,
		FetchCount:  in.FetchCount,
		IsActive:    in.IsActive,
	}
	if patch.Empty() {
		return domain.WatchSetting{}, &domain.ValidationError{Field: "body", Reason: "no fields to update"}
	}
	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		patch.DisplayName = &name
	}
	if patch.FetchCount != nil {
		if err := domain.ValidateFetchCount(*patch.FetchCount); err != nil {
			return domain.WatchSetting{}, err
		}
	}
	return s.repo.UpdateSetting(ctx, userID, id, patch)
}

// Delete удаляет настройку вместе с собранными данными.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	return s.repo.DeleteSetting(ctx, userID, id)
}

func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) && len(vErrs) > 0 {
		first := vErrs[0]
		reason := first.Tag()
		if first.Param() != "" {
			reason += "=" + first.Param()
		}
		return &domain.ValidationError{Field: first.Field(), Reason: reason}
	}
	return &domain.ValidationError{Field: "body", Reason: err.Error()}
}

func (s *Service) record(ctx context.Context, setting domain.WatchSetting) {
	if s.analytics == nil {
		return
	}
	userID, settingID := setting.UserID, setting.ID
	err := s.analytics.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:     domain.BusinessMetricEventSettingCreated,
		UserID:    &userID,
		SettingID: &settingID,
		Metadata:  map[string]any{"platform": string(setting.Platform), "type": string(setting.Type)},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("settings: не удалось записать бизнес-метрику")
	}
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
