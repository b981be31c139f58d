package domain

import (
	"context"
	"encoding/json"
	"time"
)

// JobStatus состояние задачи подробного анализа.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal сообщает, что задача завершена и больше не меняется.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo проверяет, что переход не нарушает порядок
// queued → processing → completed|failed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, from := range AllowedPredecessors(next) {
		if from == s {
			return true
		}
	}
	return false
}

// AllowedPredecessors возвращает статусы, из которых допустим переход в next.
func AllowedPredecessors(next JobStatus) []JobStatus {
	switch next {
	case JobProcessing:
		return []JobStatus{JobQueued}
	case JobCompleted:
		return []JobStatus{JobProcessing}
	case JobFailed:
		return []JobStatus{JobQueued, JobProcessing}
	}
	return nil
}

// ResultStatus возвращает статус результата, который зеркалит статус задачи.
func (s JobStatus) ResultStatus() AnalysisStatus {
	switch s {
	case JobQueued:
		return AnalysisPending
	case JobProcessing:
		return AnalysisProcessing
	case JobCompleted:
		return AnalysisCompleted
	default:
		return AnalysisFailed
	}
}

// JobTransition описывает смену статуса задачи вместе с её результатом.
type JobTransition struct {
	To     JobStatus
	Result json.RawMessage
	Error  string
	At     time.Time
}

// AnalysisJobMessage сообщение очереди подробного анализа.
type AnalysisJobMessage struct {
	JobID       string    `json:"job_id"`
	AnalysisID  string    `json:"analysis_id"`
	UserID      string    `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// AnalysisQueue описывает очередь задач подробного анализа.
type AnalysisQueue interface {
	Enqueue(ctx context.Context, msg AnalysisJobMessage) error
	Receive(ctx context.Context) (AnalysisJobMessage, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error

// DetailedTicket ответ на постановку подробного анализа.
type DetailedTicket struct {
	AnalysisID string    `json:"analysis_id"`
	JobID      string    `json:"job_id"`
	Status     JobStatus `json:"status"`
}
