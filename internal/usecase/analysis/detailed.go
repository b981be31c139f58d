package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/metrics"
)

// Service управляет подробным кросс-платформенным анализом.
type Service struct {
	settings  domain.SettingRepo
	items     domain.CollectedItemRepo
	analyses  domain.AnalysisRepo
	queue     domain.AnalysisQueue
	generator domain.Generator
	analytics domain.BusinessMetricRepo
	log       zerolog.Logger
	now       func() time.Time
}

// NewService создаёт сервис подробного анализа. analytics может быть nil.
func NewService(settings domain.SettingRepo, items domain.CollectedItemRepo, analyses domain.AnalysisRepo, queue domain.AnalysisQueue, generator domain.Generator, analytics domain.BusinessMetricRepo, logger zerolog.Logger) *Service {
	return &Service{
		settings:  settings,
		items:     items,
		analyses:  analyses,
		queue:     queue,
		generator: generator,
		analytics: analytics,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RequestDetailed ставит подробный анализ в очередь и сразу возвращает идентификаторы.
// Если у пользователя уже есть активный анализ, возвращается *domain.AnalysisInProgressError.
func (s *Service) RequestDetailed(ctx context.Context, userID string) (domain.DetailedTicket, error) {
	active, found, err := s.analyses.FindActiveDetailed(ctx, userID)
	if err != nil {
		return domain.DetailedTicket{}, fmt.Errorf("проверка активного анализа: %w", err)
	}
	if found {
		return domain.DetailedTicket{}, &domain.AnalysisInProgressError{AnalysisID: active.ID}
	}

	now := s.now()
	result, job, err := s.analyses.CreateDetailedAnalysis(ctx, userID, now)
	if err != nil {
		return domain.DetailedTicket{}, err
	}

	msg := domain.AnalysisJobMessage{JobID: job.ID, AnalysisID: result.ID, UserID: userID, RequestedAt: now}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		s.log.Error().Err(err).Str("job_id", job.ID).Msg("analysis: не удалось поставить задачу в очередь")
		if _, failErr := s.analyses.TransitionJob(ctx, job.ID, domain.JobTransition{To: domain.JobFailed, Error: enqueueJobMessage, At: s.now()}); failErr != nil {
			s.log.Error().Err(failErr).Str("job_id", job.ID).Msg("analysis: не удалось пометить задачу failed")
		}
		return domain.DetailedTicket{}, fmt.Errorf("постановка задачи в очередь: %w", err)
	}
	metrics.AnalysisJobsTotal.WithLabelValues(string(domain.JobQueued)).Inc()
	s.record(ctx, domain.BusinessMetricEventDetailedRequested, userID, map[string]any{"analysis_id": result.ID, "job_id": job.ID})
	s.log.Info().Str("user_id", userID).Str("analysis_id", result.ID).Str("job_id", job.ID).Msg("analysis: подробный анализ поставлен в очередь")

	return domain.DetailedTicket{AnalysisID: result.ID, JobID: job.ID, Status: domain.JobQueued}, nil
}

// RunDetailed выполняет задачу подробного анализа. Любая ошибка самого анализа переводит
// задачу и результат в failed. Возвращаемая ошибка означает сбой хранилища, при котором
// доставку стоит повторить.
func (s *Service) RunDetailed(ctx context.Context, msg domain.AnalysisJobMessage) error {
	job, err := s.analyses.GetJob(ctx, msg.JobID)
	if err != nil {
		return err
	}
	logger := s.log.With().Str("job_id", job.ID).Str("analysis_id", job.AnalysisID).Str("user_id", job.UserID).Logger()

	if job.Status.Terminal() {
		logger.Info().Str("status", string(job.Status)).Msg("analysis: задача уже завершена")
		return nil
	}
	if job.Status == domain.JobQueued {
		job, err = s.analyses.TransitionJob(ctx, job.ID, domain.JobTransition{To: domain.JobProcessing, At: s.now()})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) && job.Status.Terminal() {
				return nil
			}
			return fmt.Errorf("перевод задачи в processing: %w", err)
		}
		metrics.AnalysisJobsTotal.WithLabelValues(string(domain.JobProcessing)).Inc()
	} else {
		logger.Warn().Msg("analysis: повторная доставка, продолжаем обработку")
	}

	start := time.Now()
	raw, runErr := s.generate(ctx, job.UserID)
	metrics.ObserveAnalysis(string(domain.AnalysisDetailed), start, runErr)

	if runErr != nil {
		logger.Error().Err(runErr).Msg("analysis: подробный анализ не удался")
		if _, err := s.analyses.TransitionJob(ctx, job.ID, domain.JobTransition{To: domain.JobFailed, Error: runErr.Error(), At: s.now()}); err != nil {
			return fmt.Errorf("перевод задачи в failed: %w", err)
		}
		metrics.AnalysisJobsTotal.WithLabelValues(string(domain.JobFailed)).Inc()
		s.record(ctx, domain.BusinessMetricEventDetailedFinished, job.UserID, map[string]any{"analysis_id": job.AnalysisID, "status": string(domain.JobFailed)})
		return nil
	}

	if _, err := s.analyses.TransitionJob(ctx, job.ID, domain.JobTransition{To: domain.JobCompleted, Result: raw, At: s.now()}); err != nil {
		return fmt.Errorf("перевод задачи в completed: %w", err)
	}
	metrics.AnalysisJobsTotal.WithLabelValues(string(domain.JobCompleted)).Inc()
	s.record(ctx, domain.BusinessMetricEventDetailedFinished, job.UserID, map[string]any{"analysis_id": job.AnalysisID, "status": string(domain.JobCompleted)})
	logger.Info().Dur("took", time.Since(start)).Msg("analysis: подробный анализ готов")
	return nil
}

// MarkFailed переводит задачу в failed, если она ещё не завершена.
func (s *Service) MarkFailed(ctx context.Context, jobID, message string) error {
	_, err := s.analyses.TransitionJob(ctx, jobID, domain.JobTransition{To: domain.JobFailed, Error: message, At: s.now()})
	if errors.Is(err, domain.ErrInvalidTransition) {
		return nil
	}
	if err == nil {
		metrics.AnalysisJobsTotal.WithLabelValues(string(domain.JobFailed)).Inc()
	}
	return err
}

func (s *Service) generate(ctx context.Context, userID string) (json.RawMessage, error) {
	settings, err := s.settings.ListActiveSettingsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("загрузка настроек: %w", err)
	}
	if len(settings) == 0 {
		return nil, domain.ErrNoActiveSettings
	}
	items, err := s.items.ListRecentItems(ctx, userID, maxDetailedItems)
	if err != nil {
		return nil, fmt.Errorf("загрузка собранных данных: %w", err)
	}
	if len(items) == 0 {
		return nil, domain.ErrNoCollectedData
	}

	prompt, err := buildDetailedPrompt(settings, items)
	if err != nil {
		return nil, err
	}
	var result DetailedResult
	if err := s.generator.GenerateJSON(ctx, prompt, &result); err != nil {
		return nil, err
	}
	result.GeneratedAt = s.now()
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("сериализация результата: %w", err)
	}
	return raw, nil
}

// Status возвращает состояние анализа пользователя.
func (s *Service) Status(ctx context.Context, userID, analysisID string) (StatusView, error) {
	r, err := s.analyses.GetAnalysis(ctx, userID, analysisID)
	if err != nil {
		return StatusView{}, err
	}
	return NewStatusView(r), nil
}

// List возвращает анализы пользователя, новые первыми.
func (s *Service) List(ctx context.Context, userID string, typ domain.AnalysisType, limit int) ([]StatusView, error) {
	results, err := s.analyses.ListAnalyses(ctx, userID, typ, limit)
	if err != nil {
		return nil, err
	}
	out := make([]StatusView, 0, len(results))
	for _, r := range results {
		out = append(out, NewStatusView(r))
	}
	return out, nil
}

// FailStale завершает задачи, которые висят в queued/processing дольше olderThan.
func (s *Service) FailStale(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.analyses.FailStaleJobs(ctx, s.now().Add(-olderThan), staleJobMessage)
	if err != nil {
		return 0, fmt.Errorf("завершение зависших задач: %w", err)
	}
	if n > 0 {
		metrics.AnalysisJobsTotal.WithLabelValues(string(domain.JobFailed)).Add(float64(n))
		s.log.Warn().Int("jobs", n).Msg("analysis: зависшие задачи переведены в failed")
	}
	return n, nil
}

func (s *Service) record(ctx context.Context, event, userID string, meta map[string]any) {
	if s.analytics == nil {
		return
	}
	uid := userID
	if err := s.analytics.RecordBusinessMetric(ctx, domain.BusinessMetric{Event: event, UserID: &uid, Metadata: meta}); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("analysis: не удалось записать бизнес-метрику")
	}
}
