package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

const maxDeliveryAttempts = 5

const exhaustedJobMessage = "分析ジョブの再試行回数の上限に達しました。"

type jobRunner interface {
	RunDetailed(ctx context.Context, msg domain.AnalysisJobMessage) error
	MarkFailed(ctx context.Context, jobID, message string) error
}

type jobOutcome int

const (
	jobOutcomeCompleted jobOutcome = iota
	jobOutcomeRetry
)

// Worker читает очередь подробного анализа и выполняет задачи.
type Worker struct {
	log    zerolog.Logger
	queue  domain.AnalysisQueue
	jobs   domain.AnalysisRepo
	runner jobRunner
	pause  func(ctx context.Context)
}

// NewWorker создаёт обработчик очереди.
func NewWorker(queue domain.AnalysisQueue, jobs domain.AnalysisRepo, runner jobRunner, logger zerolog.Logger) *Worker {
	return &Worker{
		log:    logger,
		queue:  queue,
		jobs:   jobs,
		runner: runner,
		pause: func(ctx context.Context) {
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		},
	}
}

// Run обрабатывает задачи, пока не отменён контекст.
func (w *Worker) Run(ctx context.Context) {
	for {
		msg, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			w.pause(ctx)
			continue
		}
		w.handle(ctx, msg, ack)
	}
}

func (w *Worker) handle(ctx context.Context, msg domain.AnalysisJobMessage, ack domain.AckFunc) {
	jobLog := w.log.With().
		Str("job_id", msg.JobID).
		Str("analysis_id", msg.AnalysisID).
		Str("user_id", msg.UserID).
		Logger()

	if msg.JobID == "" {
		jobLog.Error().Msg("worker: получена задача без идентификатора, подтверждаем и пропускаем")
		w.ack(jobLog, ack, true)
		return
	}

	job, err := w.jobs.RegisterJobDelivery(ctx, msg.JobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		jobLog.Error().Msg("worker: задача не найдена в БД, подтверждаем")
		w.ack(jobLog, ack, true)
		return
	}
	if err != nil {
		jobLog.Error().Err(err).Msg("worker: не удалось зарегистрировать доставку")
		w.ack(jobLog, ack, false)
		w.pause(ctx)
		return
	}

	jobLog = jobLog.With().Int("attempt", job.Attempts).Logger()

	if job.Status.Terminal() {
		jobLog.Info().Str("status", string(job.Status)).Msg("worker: задача уже завершена, подтверждаем")
		w.ack(jobLog, ack, true)
		return
	}

	outcome := jobOutcomeCompleted
	if err := w.runner.RunDetailed(ctx, msg); err != nil {
		jobLog.Error().Err(err).Msg("worker: ошибка выполнения задачи")
		outcome = jobOutcomeRetry
	}

	if outcome == jobOutcomeRetry && job.Attempts < maxDeliveryAttempts {
		jobLog.Warn().Msg("worker: задача завершилась ошибкой, повторим позже")
		w.ack(jobLog, ack, false)
		return
	}

	if outcome == jobOutcomeRetry {
		jobLog.Error().Msg("worker: достигнут предел попыток, помечаем задачу как failed")
		if err := w.runner.MarkFailed(ctx, msg.JobID, exhaustedJobMessage); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось пометить задачу failed")
		}
	}
	w.ack(jobLog, ack, true)
}

func (w *Worker) ack(log zerolog.Logger, ack domain.AckFunc, success bool) {
	if err := ack(success); err != nil {
		log.Error().Err(err).Bool("success", success).Msg("worker: не удалось подтвердить задачу")
	}
}
