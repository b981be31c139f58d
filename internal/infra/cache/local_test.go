package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

func TestLocalCacheExpires(t *testing.T) {
	c, err := NewLocal(10)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("ожидали v, получили %q, %v", got, err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, domain.ErrCacheMiss) {
		t.Fatalf("ожидали промах после истечения TTL, получили %v", err)
	}
}

func TestLocalCacheOnce(t *testing.T) {
	c, _ := NewLocal(10)
	ctx := context.Background()
	calls := 0
	fn := func() error { calls++; return nil }
	_ = c.Once(ctx, "slot", time.Minute, fn)
	_ = c.Once(ctx, "slot", time.Minute, fn)
	if calls != 1 {
		t.Fatalf("ожидали один вызов, получили %d", calls)
	}

	failing := func() error { return errors.New("boom") }
	if err := c.Once(ctx, "retry", time.Minute, failing); err == nil {
		t.Fatalf("ожидали ошибку")
	}
	if err := c.Once(ctx, "retry", time.Minute, fn); err != nil || calls != 2 {
		t.Fatalf("после ошибки ключ должен освобождаться, calls=%d err=%v", calls, err)
	}
}

func TestKey(t *testing.T) {
	if got := Key("qiita", "keyword:go"); got != "prepfeed:qiita:keyword:go" {
		t.Fatalf("неожиданный ключ %s", got)
	}
}
