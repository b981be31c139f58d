// Package app собирает адаптеры по конфигурации. Используется всеми cmd.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hohoemi-rabo/prepfeed/internal/adapters/generator"
	"github.com/hohoemi-rabo/prepfeed/internal/adapters/platform"
	"github.com/hohoemi-rabo/prepfeed/internal/adapters/platform/note"
	"github.com/hohoemi-rabo/prepfeed/internal/adapters/platform/qiita"
	"github.com/hohoemi-rabo/prepfeed/internal/adapters/platform/youtube"
	"github.com/hohoemi-rabo/prepfeed/internal/adapters/platform/zenn"
	"github.com/hohoemi-rabo/prepfeed/internal/adapters/repo"
	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/cache"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/config"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/db"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/openai"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/queue"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/ratelimit"
)

const (
	// QueueMemory очередь внутри процесса, воркер должен жить в том же процессе.
	QueueMemory   = "memory"
	QueueRedis    = "redis"
	QueueRabbitMQ = "rabbitmq"

	noteLimiterKey = "prepfeed:ratelimit:note"
)

// Store подключается к Postgres и при DB_MIGRATE применяет миграции.
// В dev без PG_DSN возвращает хранилище в памяти.
func Store(ctx context.Context, cfg config.AppConfig, migrate bool, logger zerolog.Logger) (repo.Store, func(), error) {
	if cfg.PGDSN == "" && cfg.AppEnv == "dev" {
		logger.Warn().Msg("app: PG_DSN не задан, данные хранятся в памяти процесса")
		return repo.NewMemory(), func() {}, nil
	}
	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		return nil, func() {}, err
	}
	if migrate && cfg.DBMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, func() {}, fmt.Errorf("миграции: %w", err)
		}
	}
	return repo.NewPostgres(pool), pool.Close, nil
}

// Redis подключается к Redis. Без REDIS_ADDR возвращает nil.
func Redis(ctx context.Context, cfg config.AppConfig) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Queue выбирает очередь задач анализа по QUEUE_BACKEND. Возвращаемый close всегда не nil.
func Queue(cfg config.AppConfig, rdb *redis.Client) (domain.AnalysisQueue, func() error, string, error) {
	noop := func() error { return nil }
	backend := strings.ToLower(strings.TrimSpace(cfg.Queues.Backend))
	switch backend {
	case QueueRedis:
		if rdb == nil {
			return nil, noop, backend, fmt.Errorf("очередь redis требует REDIS_ADDR")
		}
		return queue.NewRedisAnalysisQueue(rdb, cfg.Queues.Analysis), noop, backend, nil
	case QueueRabbitMQ:
		if cfg.RabbitURL == "" {
			return nil, noop, backend, fmt.Errorf("очередь rabbitmq требует RABBITMQ_URL")
		}
		q, err := queue.NewRabbitAnalysisQueue(cfg.RabbitURL, cfg.Queues.Analysis)
		if err != nil {
			return nil, noop, backend, err
		}
		return q, q.Close, backend, nil
	case "", QueueMemory:
		return queue.NewMemoryAnalysisQueue(64), noop, QueueMemory, nil
	default:
		return nil, noop, backend, fmt.Errorf("неизвестный QUEUE_BACKEND %q", backend)
	}
}

// Cache возвращает Redis кэш, а без Redis локальный LRU.
func Cache(cfg config.AppConfig, rdb *redis.Client) (domain.Cache, error) {
	if rdb != nil {
		return cache.NewRedis(rdb), nil
	}
	return cache.NewLocal(cfg.Cache.Size)
}

// Sources регистрирует клиентов всех площадок.
func Sources(cfg config.AppConfig, rdb *redis.Client, logger zerolog.Logger) *platform.Registry {
	var limiter ratelimit.Limiter = ratelimit.NewInterval(cfg.Note.MinInterval)
	if strings.EqualFold(cfg.Note.Limiter, "redis") {
		if rdb != nil {
			limiter = ratelimit.NewRedisInterval(rdb, noteLimiterKey, cfg.Note.MinInterval)
		} else {
			logger.Warn().Msg("app: NOTE_LIMITER=redis без REDIS_ADDR, используем локальный интервал")
		}
	}
	if cfg.YouTube.APIKey == "" {
		logger.Warn().Msg("app: YOUTUBE_API_KEY не задан, сбор YouTube будет падать")
	}
	return platform.NewRegistry(
		youtube.NewSource(youtube.NewClient(cfg.YouTube.BaseURL, cfg.YouTube.APIKey, cfg.YouTube.Timeout)),
		qiita.NewSource(qiita.NewClient(cfg.Qiita.BaseURL, cfg.Qiita.AccessToken, cfg.Qiita.Timeout)),
		zenn.NewSource(zenn.NewClient(cfg.Zenn.BaseURL, cfg.Zenn.Timeout)),
		note.NewSource(note.NewClient(cfg.Note.BaseURL, cfg.Note.Timeout, limiter)),
	)
}

// Generator создаёт клиента генеративной модели.
func Generator(cfg config.AppConfig, logger zerolog.Logger) domain.Generator {
	if cfg.Model.APIKey == "" {
		logger.Warn().Msg("app: GEMINI_API_KEY не задан, анализ будет падать")
	}
	client := openai.NewClient(cfg.Model.APIKey, cfg.Model.BaseURL, cfg.Model.Timeout)
	return generator.New(client, cfg.Model.Name, cfg.Model.Timeout, logger.With().Str("component", "generator").Logger())
}
