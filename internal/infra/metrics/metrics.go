package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	BatchRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_runs_total",
		Help: "Количество проходов сбора",
	}, []string{"mode"})
	BatchSettingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_settings_total",
		Help: "Настройки по итогу прохода сбора",
	}, []string{"mode", "outcome"})
	BatchDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batch_duration_seconds",
		Help:    "Длительность прохода сбора",
		Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 120, 300},
	}, []string{"mode"})

	FetchResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_results_total",
		Help: "Результаты сбора по площадкам",
	}, []string{"platform", "status"})
	FetchedItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fetched_items_total",
		Help: "Количество собранных записей",
	}, []string{"platform"})

	AnalysisDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "analysis_duration_seconds",
		Help:    "Длительность анализа",
		Buckets: prometheus.DefBuckets,
	}, []string{"type", "status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	LLMRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_retries_total",
		Help: "Повторные вызовы модели",
	}, []string{"reason"})

	AnalysisJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "analysis_jobs_total",
		Help: "Задачи подробного анализа по статусам",
	}, []string{"status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		BatchRunsTotal,
		BatchSettingsTotal,
		BatchDurationSeconds,
		FetchResultsTotal,
		FetchedItemsTotal,
		AnalysisDurationSeconds,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		LLMRetriesTotal,
		AnalysisJobsTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveBatch записывает итог прохода сбора.
func ObserveBatch(mode string, start time.Time, succeeded, failed, skipped int) {
	BatchRunsTotal.WithLabelValues(mode).Inc()
	BatchDurationSeconds.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	BatchSettingsTotal.WithLabelValues(mode, "succeeded").Add(float64(succeeded))
	BatchSettingsTotal.WithLabelValues(mode, "failed").Add(float64(failed))
	BatchSettingsTotal.WithLabelValues(mode, "skipped").Add(float64(skipped))
}

// ObserveFetch записывает итог сбора по площадке.
func ObserveFetch(platform string, items int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	FetchResultsTotal.WithLabelValues(platform, status).Inc()
	if items > 0 {
		FetchedItemsTotal.WithLabelValues(platform).Add(float64(items))
	}
}

// ObserveAnalysis записывает длительность анализа.
func ObserveAnalysis(kind string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	AnalysisDurationSeconds.WithLabelValues(kind, status).Observe(time.Since(start).Seconds())
}
