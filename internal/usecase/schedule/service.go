package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	"github.com/hohoemi-rabo/prepfeed/internal/usecase/batch"
)

// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
var ErrInvalidTimezone = errors.New("invalid timezone")

const (
	slotTTL    = 10 * time.Minute
	slotLayout = "2006-01-02T15:04"
)

type batchRunner interface {
	RunScheduled(ctx context.Context, budget time.Duration) (batch.Summary, error)
}

type staleReaper interface {
	FailStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Config параметры планового прохода.
type Config struct {
	Spec       string
	Timezone   string
	Budget     time.Duration
	StaleAfter time.Duration
}

// Service запускает плановый сбор по расписанию cron.
// Один слот выполняется один раз даже при нескольких репликах планировщика.
type Service struct {
	runner batchRunner
	stale  staleReaper
	slots  domain.Cache
	cfg    Config
	loc    *time.Location
	log    zerolog.Logger
	now    func() time.Time

	engine *cron.Cron
}

// NewService создаёт планировщик. stale может быть nil.
func NewService(runner batchRunner, stale staleReaper, slots domain.Cache, cfg Config, logger zerolog.Logger) (*Service, error) {
	tz, err := normalizeTimezone(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, cfg.Timezone)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("загрузка часового пояса: %w", err)
	}
	cfg.Timezone = tz
	s := &Service{
		runner: runner,
		stale:  stale,
		slots:  slots,
		cfg:    cfg,
		loc:    loc,
		log:    logger,
		now:    time.Now,
		engine: cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
	}
	if _, err := s.engine.AddJob(cfg.Spec, s); err != nil {
		return nil, fmt.Errorf("расписание %q: %w", cfg.Spec, err)
	}
	return s, nil
}

// Start запускает cron и блокируется до отмены ctx.
func (s *Service) Start(ctx context.Context) {
	s.log.Info().Str("spec", s.cfg.Spec).Str("tz", s.cfg.Timezone).Msg("schedule: планировщик запущен")
	s.engine.Start()
	<-ctx.Done()
	stopped := s.engine.Stop()
	<-stopped.Done()
	s.log.Info().Msg("schedule: планировщик остановлен")
}

// Run реализует cron.Job.
func (s *Service) Run() {
	if err := s.RunSlot(context.Background(), s.now()); err != nil {
		s.log.Error().Err(err).Msg("schedule: плановый проход не удался")
	}
}

// RunSlot выполняет проход для слота, к которому относится at.
func (s *Service) RunSlot(ctx context.Context, at time.Time) error {
	key := SlotKey(at.In(s.loc))
	run := func() error {
		if s.stale != nil && s.cfg.StaleAfter > 0 {
			if _, err := s.stale.FailStale(ctx, s.cfg.StaleAfter); err != nil {
				s.log.Warn().Err(err).Msg("schedule: не удалось завершить зависшие задачи")
			}
		}
		ctx, cancel := context.WithTimeout(ctx, s.cfg.Budget+time.Minute)
		defer cancel()
		summary, err := s.runner.RunScheduled(ctx, s.cfg.Budget)
		if err != nil {
			return err
		}
		s.log.Info().
			Str("slot", key).
			Int("total", summary.TotalSettings).
			Int("succeeded", summary.Succeeded).
			Int("failed", summary.Failed).
			Int("skipped", summary.Skipped).
			Msg("schedule: плановый проход завершён")
		return nil
	}
	if s.slots == nil {
		return run()
	}
	return s.slots.Once(ctx, key, slotTTL, run)
}

// SlotKey ключ дедупликации слота с точностью до минуты.
func SlotKey(at time.Time) string {
	return "prepfeed:batch:slot:" + at.Format(slotLayout)
}

func normalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "UTC", nil
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			if segment == "" {
				continue
			}
			segments[j] = strings.ToUpper(segment[:1]) + segment[1:]
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}
