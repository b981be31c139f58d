package queue

import (
	"context"
	"errors"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

// ErrQueueFull буфер очереди заполнен, повторная постановка невозможна.
var ErrQueueFull = errors.New("analysis queue is full")

// MemoryAnalysisQueue очередь в памяти процесса для запуска без брокера.
// Задачи теряются при перезапуске, их подбирает очистка зависших задач.
type MemoryAnalysisQueue struct {
	ch chan domain.AnalysisJobMessage
}

var _ domain.AnalysisQueue = (*MemoryAnalysisQueue)(nil)

// NewMemoryAnalysisQueue создаёт очередь с буфером size.
func NewMemoryAnalysisQueue(size int) *MemoryAnalysisQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryAnalysisQueue{ch: make(chan domain.AnalysisJobMessage, size)}
}

// Enqueue кладёт задачу в буфер.
func (q *MemoryAnalysisQueue) Enqueue(ctx context.Context, msg domain.AnalysisJobMessage) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive ждёт следующую задачу.
func (q *MemoryAnalysisQueue) Receive(ctx context.Context) (domain.AnalysisJobMessage, domain.AckFunc, error) {
	select {
	case <-ctx.Done():
		return domain.AnalysisJobMessage{}, nil, ctx.Err()
	case msg := <-q.ch:
		// возврат в заполненный буфер не ждёт, задачу подберёт очистка зависших
		ack := func(success bool) error {
			if success {
				return nil
			}
			select {
			case q.ch <- msg:
				return nil
			default:
				return ErrQueueFull
			}
		}
		return msg, ack, nil
	}
}
