package analysis

import (
	"context"
	"time"
)

// DefaultPollInterval интервал опроса статуса.
const DefaultPollInterval = 2 * time.Second

// StatusFunc читает текущее состояние анализа.
type StatusFunc func(ctx context.Context) (StatusView, error)

// WaitForStatus опрашивает статус, пока анализ активен. При отмене контекста
// возвращает последнее прочитанное состояние вместе с ошибкой контекста.
func WaitForStatus(ctx context.Context, get StatusFunc, interval time.Duration) (StatusView, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		view, err := get(ctx)
		if err != nil {
			return view, err
		}
		if !view.Status.Active() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}
