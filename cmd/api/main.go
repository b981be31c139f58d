package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/hohoemi-rabo/prepfeed/internal/adapters/httpapi"
	"github.com/hohoemi-rabo/prepfeed/internal/app"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/config"
	httpinfra "github.com/hohoemi-rabo/prepfeed/internal/infra/http"
	applog "github.com/hohoemi-rabo/prepfeed/internal/infra/log"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/metrics"
	"github.com/hohoemi-rabo/prepfeed/internal/usecase/analysis"
	"github.com/hohoemi-rabo/prepfeed/internal/usecase/batch"
	"github.com/hohoemi-rabo/prepfeed/internal/usecase/settings"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.Store(ctx, cfg, true, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer closeStore()

	rdb, err := app.Redis(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	jobs, closeQueue, backend, err := app.Queue(cfg, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь анализа")
	}
	defer closeQueue()

	previewCache, err := app.Cache(cfg, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось создать кэш")
	}

	sources := app.Sources(cfg, rdb, logger)
	gen := app.Generator(cfg, logger)

	simple := analysis.NewSimple(store, store, gen, logger.With().Str("component", "simple_analysis").Logger())
	processor := batch.NewProcessor(store, store, store, sources, simple,
		logger.With().Str("component", "batch").Logger(),
		batch.WithDelay(cfg.Batch.Delay),
		batch.WithMargin(cfg.Batch.Margin),
		batch.WithAnalytics(store),
	)
	analysisService := analysis.NewService(store, store, store, jobs, gen, store, logger.With().Str("component", "analysis").Logger())
	settingsService := settings.NewService(store, processor, store, logger.With().Str("component", "settings").Logger())

	handler := httpapi.New(httpapi.Deps{
		Settings: settingsService,
		Batch:    processor,
		Analysis: analysisService,
		Logs:     store,
		Sources:  sources,
		Cache:    previewCache,
	}, httpapi.Config{
		CronSecret:      cfg.CronSecret,
		ScheduledBudget: cfg.Batch.TimeBudget,
		PreviewTTL:      cfg.Cache.TTL,
	}, logger.With().Str("component", "http").Logger())

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	handler.Mount(server.Router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(fmt.Sprintf(":%d", cfg.Port))
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if backend == app.QueueMemory {
		worker := analysis.NewWorker(jobs, store, analysisService, logger.With().Str("component", "analysis_worker").Logger())
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
		logger.Info().Msg("api: очередь в памяти, воркер анализа запущен в процессе API")
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: остановлен с ошибкой")
		return
	}
	logger.Info().Msg("api: остановлен")
}
