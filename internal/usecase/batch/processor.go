package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/metrics"
)

const (
	// DefaultDelay пауза между настройками внутри прохода.
	DefaultDelay = time.Second
	// DefaultMargin запас до конца бюджета, после которого новые настройки не начинаются.
	DefaultMargin = 10 * time.Second

	modeScheduled = "scheduled"
	modeManual    = "manual"

	fetchLogTimeout = 5 * time.Second
)

// SettingError описывает сбой одной настройки в сводке.
type SettingError struct {
	SettingID string `json:"setting_id"`
	Error     string `json:"error"`
}

// Summary итог прохода сбора.
type Summary struct {
	TotalSettings int            `json:"total_settings"`
	Processed     int            `json:"processed"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	Skipped       int            `json:"skipped"`
	Errors        []SettingError `json:"errors"`
}

// Processor последовательно собирает данные по настройкам мониторинга.
type Processor struct {
	settings  domain.SettingRepo
	items     domain.CollectedItemRepo
	logs      domain.FetchLogRepo
	sources   domain.SourceResolver
	analyzer  domain.SimpleAnalyzer
	analytics domain.BusinessMetricRepo
	log       zerolog.Logger

	delay  time.Duration
	margin time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option настраивает Processor.
type Option func(*Processor)

// WithDelay задаёт паузу между настройками.
func WithDelay(d time.Duration) Option {
	return func(p *Processor) { p.delay = d }
}

// WithMargin задаёт запас до конца бюджета.
func WithMargin(d time.Duration) Option {
	return func(p *Processor) { p.margin = d }
}

// WithClock подменяет часы и паузу, используется в тестах.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// WithAnalytics включает запись продуктовых событий.
func WithAnalytics(repo domain.BusinessMetricRepo) Option {
	return func(p *Processor) { p.analytics = repo }
}

// NewProcessor создаёт оркестратор. analyzer может быть nil, тогда простой анализ не запускается.
func NewProcessor(settings domain.SettingRepo, items domain.CollectedItemRepo, logs domain.FetchLogRepo, sources domain.SourceResolver, analyzer domain.SimpleAnalyzer, logger zerolog.Logger, opts ...Option) *Processor {
	p := &Processor{
		settings: settings,
		items:    items,
		logs:     logs,
		sources:  sources,
		analyzer: analyzer,
		log:      logger,
		delay:    DefaultDelay,
		margin:   DefaultMargin,
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunScheduled обходит активные настройки всех пользователей в пределах бюджета времени.
// Бюджет проверяется перед каждой настройкой, начатая настройка не прерывается.
func (p *Processor) RunScheduled(ctx context.Context, budget time.Duration) (Summary, error) {
	settings, err := p.settings.ListActiveSettings(ctx)
	if err != nil {
		return newSummary(), fmt.Errorf("загрузка активных настроек: %w", err)
	}
	summary := p.run(ctx, modeScheduled, settings, budget)
	p.record(ctx, modeScheduled, nil, summary)
	return summary, nil
}

// RunForUser обходит активные настройки одного пользователя без ограничения по времени.
func (p *Processor) RunForUser(ctx context.Context, userID string) (Summary, error) {
	settings, err := p.settings.ListActiveSettingsByUser(ctx, userID)
	if err != nil {
		return newSummary(), fmt.Errorf("загрузка настроек пользователя: %w", err)
	}
	summary := p.run(ctx, modeManual, settings, 0)
	p.record(ctx, modeManual, &userID, summary)
	return summary, nil
}

func (p *Processor) run(ctx context.Context, mode string, settings []domain.WatchSetting, budget time.Duration) Summary {
	start := p.now()
	summary := newSummary()
	summary.TotalSettings = len(settings)
	if len(settings) == 0 {
		p.log.Info().Str("mode", mode).Msg("batch: нет активных настроек")
		return summary
	}

	margin := p.margin
	if margin >= budget {
		margin = 0
	}

	p.log.Info().Str("mode", mode).Int("settings", len(settings)).Dur("budget", budget).Msg("batch: начинаем проход")
	for i, setting := range settings {
		elapsed := p.now().Sub(start)
		if budget > 0 && elapsed >= budget-margin {
			summary.Skipped = len(settings) - summary.Processed
			p.log.Warn().Str("mode", mode).Int("skipped", summary.Skipped).Dur("elapsed", elapsed).Msg("batch: бюджет времени исчерпан")
			break
		}
		if ctx.Err() != nil {
			summary.Skipped = len(settings) - summary.Processed
			p.log.Warn().Str("mode", mode).Int("skipped", summary.Skipped).Msg("batch: проход отменён")
			break
		}

		if _, err := p.ProcessSetting(ctx, setting); err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, SettingError{SettingID: setting.ID, Error: err.Error()})
		} else {
			summary.Succeeded++
		}
		summary.Processed++

		if i < len(settings)-1 && p.delay > 0 {
			if err := p.sleep(ctx, p.delay); err != nil {
				summary.Skipped = len(settings) - summary.Processed
				p.log.Warn().Str("mode", mode).Int("skipped", summary.Skipped).Msg("batch: проход отменён во время паузы")
				break
			}
		}
	}

	metrics.ObserveBatch(mode, start, summary.Succeeded, summary.Failed, summary.Skipped)
	p.log.Info().
		Str("mode", mode).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("took", p.now().Sub(start)).
		Msg("batch: проход завершён")
	return summary
}

// ProcessSetting собирает данные одной настройки и возвращает число сохранённых записей.
// Ошибка сбора фиксируется в журнале и возвращается, ошибка простого анализа только логируется.
func (p *Processor) ProcessSetting(ctx context.Context, setting domain.WatchSetting) (int, error) {
	logger := p.log.With().
		Str("setting_id", setting.ID).
		Str("user_id", setting.UserID).
		Str("platform", string(setting.Platform)).
		Str("value", setting.Value).
		Logger()

	count, err := p.collect(ctx, setting)
	metrics.ObserveFetch(string(setting.Platform), count, err)
	if err != nil {
		logger.Error().Err(err).Msg("batch: ошибка сбора")
		msg := err.Error()
		// запись журнала переживает отмену прохода
		logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchLogTimeout)
		defer cancel()
		if logErr := p.logs.AppendFetchLog(logCtx, domain.FetchLog{
			UserID:       setting.UserID,
			SettingID:    setting.ID,
			Platform:     setting.Platform,
			Status:       domain.FetchError,
			ErrorMessage: &msg,
			ExecutedAt:   p.now(),
		}); logErr != nil {
			logger.Error().Err(logErr).Msg("batch: не удалось записать журнал ошибки")
		}
		return 0, err
	}
	if count == 0 {
		logger.Info().Msg("batch: площадка вернула пустой результат")
		return 0, nil
	}

	if p.analyzer != nil {
		if err := p.analyzer.Analyze(ctx, setting); err != nil {
			logger.Warn().Err(err).Msg("batch: простой анализ не удался, данные сохранены")
		}
	}
	logger.Info().Int("items", count).Msg("batch: настройка обработана")
	return count, nil
}

func (p *Processor) collect(ctx context.Context, setting domain.WatchSetting) (int, error) {
	source, err := p.sources.Resolve(setting.Platform)
	if err != nil {
		return 0, err
	}
	items, err := source.Fetch(ctx, setting)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, p.appendSuccess(ctx, setting, 0)
	}

	now := p.now()
	for i := range items {
		items[i].UserID = setting.UserID
		items[i].SettingID = setting.ID
		items[i].CollectedAt = now
	}
	if err := p.items.UpsertItems(ctx, items); err != nil {
		return 0, fmt.Errorf("сохранение записей: %w", err)
	}
	if err := p.settings.TouchSettingFetched(ctx, setting.ID, now); err != nil {
		return 0, fmt.Errorf("обновление last_fetched_at: %w", err)
	}
	if err := p.appendSuccess(ctx, setting, len(items)); err != nil {
		return 0, err
	}
	return len(items), nil
}

func (p *Processor) appendSuccess(ctx context.Context, setting domain.WatchSetting, count int) error {
	err := p.logs.AppendFetchLog(ctx, domain.FetchLog{
		UserID:       setting.UserID,
		SettingID:    setting.ID,
		Platform:     setting.Platform,
		Status:       domain.FetchSuccess,
		RecordsCount: &count,
		ExecutedAt:   p.now(),
	})
	if err != nil {
		return fmt.Errorf("запись журнала: %w", err)
	}
	return nil
}

func (p *Processor) record(ctx context.Context, mode string, userID *string, summary Summary) {
	if p.analytics == nil {
		return
	}
	err := p.analytics.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventBatchCompleted,
		UserID: userID,
		Metadata: map[string]any{
			"mode":      mode,
			"total":     summary.TotalSettings,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"skipped":   summary.Skipped,
		},
	})
	if err != nil {
		p.log.Warn().Err(err).Msg("batch: не удалось записать бизнес-метрику")
	}
}

func newSummary() Summary {
	return Summary{Errors: []SettingError{}}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
