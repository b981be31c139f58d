package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hohoemi-rabo/prepfeed/internal/app"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/config"
	applog "github.com/hohoemi-rabo/prepfeed/internal/infra/log"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/metrics"
	"github.com/hohoemi-rabo/prepfeed/internal/usecase/analysis"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	store, closeStore, err := app.Store(ctx, cfg, false, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("analyzer: нет подключения к БД")
	}
	defer closeStore()

	rdb, err := app.Redis(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("analyzer: нет подключения к Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	jobs, closeQueue, backend, err := app.Queue(cfg, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("analyzer: не удалось инициализировать очередь анализа")
	}
	defer closeQueue()
	if backend == app.QueueMemory {
		logger.Fatal().Msg("analyzer: очередь в памяти не видна отдельному процессу, укажите QUEUE_BACKEND=redis или rabbitmq")
	}

	service := analysis.NewService(store, store, store, jobs, app.Generator(cfg, logger), store, logger.With().Str("component", "analysis").Logger())
	worker := analysis.NewWorker(jobs, store, service, logger.With().Str("component", "analysis_worker").Logger())

	logger.Info().Str("queue", backend).Msg("analyzer: воркер запущен")
	worker.Run(ctx)
	logger.Info().Msg("analyzer: остановлен")
}
