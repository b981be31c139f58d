package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

type localItem struct {
	data      []byte
	expiresAt time.Time
}

// LocalCache реализует domain.Cache в памяти процесса, когда Redis не настроен.
type LocalCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, localItem]
	now func() time.Time
}

var _ domain.Cache = (*LocalCache)(nil)

// NewLocal создаёт LRU-кэш на size записей.
func NewLocal(size int) (*LocalCache, error) {
	if size <= 0 {
		size = 500
	}
	l, err := lru.New[string, localItem](size)
	if err != nil {
		return nil, err
	}
	return &LocalCache{lru: l, now: time.Now}, nil
}

// Once выполняет функцию, если ключ ещё не задан или истёк.
func (c *LocalCache) Once(_ context.Context, key string, ttl time.Duration, fn func() error) error {
	c.mu.Lock()
	if _, ok := c.lookup(key); ok {
		c.mu.Unlock()
		return nil
	}
	c.lru.Add(key, localItem{data: []byte("1"), expiresAt: c.now().Add(ttl)})
	c.mu.Unlock()

	if err := fn(); err != nil {
		c.lru.Remove(key)
		return err
	}
	return nil
}

// Set задаёт значение.
func (c *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.lru.Add(key, localItem{data: value, expiresAt: c.now().Add(ttl)})
	return nil
}

// Get возвращает значение или domain.ErrCacheMiss.
func (c *LocalCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.lookup(key)
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return item.data, nil
}

func (c *LocalCache) lookup(key string) (localItem, bool) {
	item, ok := c.lru.Get(key)
	if !ok {
		return localItem{}, false
	}
	if c.now().After(item.expiresAt) {
		c.lru.Remove(key)
		return localItem{}, false
	}
	return item, true
}

// Key строит ключ кэша в пространстве имён сервиса.
func Key(prefix, id string) string {
	return "prepfeed:" + prefix + ":" + id
}
