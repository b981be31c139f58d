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
	"github.com/hohoemi-rabo/prepfeed/internal/usecase/batch"
	"github.com/hohoemi-rabo/prepfeed/internal/usecase/schedule"
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
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer closeStore()

	rdb, err := app.Redis(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}
	slots, err := app.Cache(cfg, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось создать кэш слотов")
	}

	// Плановый проход не ставит задачи подробного анализа, очередь ему не нужна.
	gen := app.Generator(cfg, logger)
	simple := analysis.NewSimple(store, store, gen, logger.With().Str("component", "simple_analysis").Logger())
	processor := batch.NewProcessor(store, store, store, app.Sources(cfg, rdb, logger), simple,
		logger.With().Str("component", "batch").Logger(),
		batch.WithDelay(cfg.Batch.Delay),
		batch.WithMargin(cfg.Batch.Margin),
		batch.WithAnalytics(store),
	)
	reaper := analysis.NewService(store, store, store, nil, gen, store, logger.With().Str("component", "analysis").Logger())

	scheduler, err := schedule.NewService(processor, reaper, slots, schedule.Config{
		Spec:       cfg.Batch.CronSpec,
		Timezone:   cfg.TZ,
		Budget:     cfg.Batch.TimeBudget,
		StaleAfter: cfg.Batch.StaleJobAfter,
	}, logger.With().Str("component", "schedule").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректное расписание")
	}
	scheduler.Start(ctx)
}
