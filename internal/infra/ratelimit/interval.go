package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter выдаёт разрешение на очередной исходящий запрос.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Interval пропускает не чаще одного запроса за gap в пределах процесса.
type Interval struct {
	gap   time.Duration
	mu    sync.Mutex
	next  time.Time
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Limiter = (*Interval)(nil)

// NewInterval создаёт ограничитель с минимальным промежутком gap.
func NewInterval(gap time.Duration) *Interval {
	return &Interval{gap: gap, now: time.Now, sleep: sleepCtx}
}

// Wait блокирует до освобождения слота. Слот бронируется под мьютексом,
// ожидание идёт без блокировки, так что очередь формируется по порядку вызовов.
func (l *Interval) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := l.now()
	slot := l.next
	if slot.Before(now) {
		slot = now
	}
	l.next = slot.Add(l.gap)
	l.mu.Unlock()

	if d := slot.Sub(now); d > 0 {
		if err := l.sleep(ctx, d); err != nil {
			l.release(slot)
			return err
		}
	}
	return nil
}

// release возвращает неиспользованный слот, если после него никто не встал в очередь.
func (l *Interval) release(slot time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.next.Equal(slot.Add(l.gap)) {
		l.next = slot
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
