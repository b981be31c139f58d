package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	apphttp "github.com/hohoemi-rabo/prepfeed/internal/infra/http"
	"github.com/hohoemi-rabo/prepfeed/internal/usecase/analysis"
	"github.com/hohoemi-rabo/prepfeed/internal/usecase/batch"
	"github.com/hohoemi-rabo/prepfeed/internal/usecase/settings"
)

const (
	// MaxWait верхняя граница long-poll ожидания статуса.
	MaxWait = 30 * time.Second

	defaultPreviewLimit = 10
	maxPreviewLimit     = 50
	maxBodyBytes        = 1 << 16
)

type settingsService interface {
	Create(ctx context.Context, userID string, in settings.CreateInput) (settings.CreateResult, error)
	Get(ctx context.Context, userID, id string) (domain.WatchSetting, error)
	List(ctx context.Context, userID string, filter domain.SettingFilter) ([]domain.WatchSetting, error)
	Update(ctx context.Context, userID, id string, in settings.UpdateInput) (domain.WatchSetting, error)
	Delete(ctx context.Context, userID, id string) error
}

type batchRunner interface {
	RunScheduled(ctx context.Context, budget time.Duration) (batch.Summary, error)
	RunForUser(ctx context.Context, userID string) (batch.Summary, error)
}

type analysisService interface {
	RequestDetailed(ctx context.Context, userID string) (domain.DetailedTicket, error)
	Status(ctx context.Context, userID, analysisID string) (analysis.StatusView, error)
	List(ctx context.Context, userID string, typ domain.AnalysisType, limit int) ([]analysis.StatusView, error)
}

// Config параметры обработчиков.
type Config struct {
	CronSecret      string
	ScheduledBudget time.Duration
	PreviewTTL      time.Duration
	PollInterval    time.Duration
}

// Deps зависимости обработчиков. Cache может быть nil, тогда предпросмотр не кэшируется.
type Deps struct {
	Settings settingsService
	Batch    batchRunner
	Analysis analysisService
	Logs     domain.FetchLogRepo
	Sources  domain.SourceResolver
	Cache    domain.Cache
}

// Handler JSON API сервиса.
type Handler struct {
	settings settingsService
	batch    batchRunner
	analysis analysisService
	logs     domain.FetchLogRepo
	sources  domain.SourceResolver
	cache    domain.Cache
	cfg      Config
	log      zerolog.Logger
}

// New создаёт обработчики.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Handler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = analysis.DefaultPollInterval
	}
	return &Handler{
		settings: deps.Settings,
		batch:    deps.Batch,
		analysis: deps.Analysis,
		logs:     deps.Logs,
		sources:  deps.Sources,
		cache:    deps.Cache,
		cfg:      cfg,
		log:      logger,
	}
}

// Mount регистрирует маршруты /api/v1.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.With(apphttp.CronAuthMiddleware(h.cfg.CronSecret), middleware.Timeout(apphttp.RequestTimeout)).
			Post("/batch/scheduled", h.runScheduled)

		r.Group(func(r chi.Router) {
			r.Use(apphttp.UserMiddleware)

			// первый сбор и ручной проход идут без ограничения времени
			r.Post("/settings", h.createSetting)
			r.Post("/batch/manual", h.runManual)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(apphttp.RequestTimeout))

				r.Get("/settings", h.listSettings)
				r.Get("/settings/{id}", h.getSetting)
				r.Put("/settings/{id}", h.updateSetting)
				r.Delete("/settings/{id}", h.deleteSetting)

				r.Get("/logs", h.listLogs)

				r.Get("/analysis", h.listAnalyses)
				r.Post("/analysis/detailed", h.requestDetailed)
				r.Get("/analysis/{id}/status", h.analysisStatus)

				r.Get("/platforms/{platform}/preview", h.preview)
			})
		})
	})
}

func (h *Handler) listSettings(w http.ResponseWriter, r *http.Request) {
	var filter domain.SettingFilter
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			apphttp.WriteError(w, http.StatusBadRequest, "active: must be true or false")
			return
		}
		filter.Active = &active
	}
	list, err := h.settings.List(r.Context(), apphttp.UserID(r.Context()), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apphttp.WriteJSON(w, http.StatusOK, map[string]any{"settings": list})
}

func (h *Handler) createSetting(w http.ResponseWriter, r *http.Request) {
	var in settings.CreateInput
	if !decode(w, r, &in) {
		return
	}
	// обрыв соединения клиента не прерывает первый сбор
	res, err := h.settings.Create(context.WithoutCancel(r.Context()), apphttp.UserID(r.Context()), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apphttp.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) getSetting(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, domain.ErrSettingNotFound)
	if !ok {
		return
	}
	s, err := h.settings.Get(r.Context(), apphttp.UserID(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apphttp.WriteJSON(w, http.StatusOK, map[string]any{"setting": s})
}

func (h *Handler) updateSetting(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, domain.ErrSettingNotFound)
	if !ok {
		return
	}
	var in settings.UpdateInput
	if !decode(w, r, &in) {
		return
	}
	s, err := h.settings.Update(r.Context(), apphttp.UserID(r.Context()), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apphttp.WriteJSON(w, http.StatusOK, map[string]any{"setting": s})
}

func (h *Handler) deleteSetting(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, domain.ErrSettingNotFound)
	if !ok {
		return
	}
	if err := h.settings.Delete(r.Context(), apphttp.UserID(r.Context()), id); err != nil {
		h.fail(w, r, err)
		return
	}
	apphttp.WriteJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) runManual(w http.ResponseWriter, r *http.Request) {
	summary, err := h.batch.RunForUser(context.WithoutCancel(r.Context()), apphttp.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apphttp.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) runScheduled(w http.ResponseWriter, r *http.Request) {
	summary, err := h.batch.RunScheduled(r.Context(), h.cfg.ScheduledBudget)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apphttp.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) listLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := domain.FetchLogQuery{
		Page:     atoiOr(q.Get("page"), 1),
		Limit:    atoiOr(q.Get("limit"), domain.DefaultFetchLogLimit),
		Platform: domain.Platform(q.Get("platform")),
		Status:   domain.FetchStatus(q.Get("status")),
	}
	if query.Platform != "" && !knownPlatform(query.Platform) {
		apphttp.WriteError(w, http.StatusBadRequest, "platform: unknown platform "+string(query.Platform))
		return
	}
	if query.Status != "" && query.Status != domain.FetchSuccess && query.Status != domain.FetchError {
		apphttp.WriteError(w, http.StatusBadRequest, "status: must be success or error")
		return
	}
	page, err := h.logs.ListFetchLogs(r.Context(), apphttp.UserID(r.Context()), query.Normalize())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if page.Logs == nil {
		page.Logs = []domain.FetchLog{}
	}
	apphttp.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) listAnalyses(w http.ResponseWriter, r *http.Request) {
	typ := domain.AnalysisType(r.URL.Query().Get("type"))
	if typ != "" && typ != domain.AnalysisSimple && typ != domain.AnalysisDetailed {
		apphttp.WriteError(w, http.StatusBadRequest, "type: must be simple or detailed")
		return
	}
	limit := atoiOr(r.URL.Query().Get("limit"), 20)
	views, err := h.analysis.List(r.Context(), apphttp.UserID(r.Context()), typ, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apphttp.WriteJSON(w, http.StatusOK, map[string]any{"analyses": views})
}

func (h *Handler) requestDetailed(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.analysis.RequestDetailed(r.Context(), apphttp.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	apphttp.WriteJSON(w, http.StatusAccepted, ticket)
}

func (h *Handler) analysisStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, domain.ErrAnalysisNotFound)
	if !ok {
		return
	}
	wait, err := parseWait(r.URL.Query().Get("wait"))
	if err != nil {
		apphttp.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := apphttp.UserID(r.Context())
	get := func(ctx context.Context) (analysis.StatusView, error) {
		return h.analysis.Status(ctx, userID, id)
	}

	var view analysis.StatusView
	if wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		view, err = analysis.WaitForStatus(ctx, get, h.cfg.PollInterval)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil {
			view, err = get(r.Context())
		}
	} else {
		view, err = get(r.Context())
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	apphttp.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	platform := domain.Platform(chi.URLParam(r, "platform"))
	typ := domain.MonitorType(q.Get("type"))
	if err := domain.ValidatePlatformType(platform, typ); err != nil {
		h.fail(w, r, err)
		return
	}
	value, err := domain.NormalizeSettingValue(q.Get("value"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit := atoiOr(q.Get("limit"), defaultPreviewLimit)
	if limit <= 0 || limit > maxPreviewLimit {
		apphttp.WriteError(w, http.StatusBadRequest, fmt.Sprintf("limit: must be between 1 and %d", maxPreviewLimit))
		return
	}

	key := PreviewKey(platform, typ, value, limit)
	if h.cache != nil {
		if raw, err := h.cache.Get(r.Context(), key); err == nil {
			w.Header().Set("X-Cache", "HIT")
			writeRaw(w, raw)
			return
		} else if !errors.Is(err, domain.ErrCacheMiss) {
			h.log.Warn().Err(err).Str("key", key).Msg("http: кэш предпросмотра недоступен")
		}
	}

	source, err := h.sources.Resolve(platform)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := source.Fetch(r.Context(), domain.WatchSetting{Platform: platform, Type: typ, Value: value, FetchCount: limit})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.CollectedItem{}
	}
	raw, err := json.Marshal(map[string]any{"platform": platform, "type": typ, "value": value, "items": items})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Set(r.Context(), key, raw, h.cfg.PreviewTTL); err != nil {
			h.log.Warn().Err(err).Str("key", key).Msg("http: не удалось сохранить предпросмотр в кэш")
		}
	}
	w.Header().Set("X-Cache", "MISS")
	writeRaw(w, raw)
}

// PreviewKey ключ кэша предпросмотра.
func PreviewKey(platform domain.Platform, typ domain.MonitorType, value string, limit int) string {
	return fmt.Sprintf("prepfeed:%s:%s:%s:%d", platform, typ, value, limit)
}

// fail переводит ошибку в HTTP статус.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr     *domain.ValidationError
		progress *domain.AnalysisInProgressError
		upstream *domain.UpstreamError
	)
	switch {
	case errors.As(err, &vErr):
		apphttp.WriteError(w, http.StatusBadRequest, vErr.Error())
	case errors.As(err, &progress):
		apphttp.WriteJSON(w, http.StatusConflict, apphttp.ErrorResponse{
			Error:      "詳細分析は既に実行中です",
			AnalysisID: progress.AnalysisID,
		})
	case errors.Is(err, domain.ErrSettingNotFound),
		errors.Is(err, domain.ErrAnalysisNotFound),
		errors.Is(err, domain.ErrNotFound):
		apphttp.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnsupportedPlatform):
		apphttp.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrModelRateLimited):
		apphttp.WriteError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrSchemaChanged), errors.As(err, &upstream):
		apphttp.WriteError(w, http.StatusBadGateway, err.Error())
	default:
		h.log.Error().Err(err).Str("request_id", apphttp.RequestID(r)).Str("path", r.URL.Path).Msg("http: внутренняя ошибка")
		apphttp.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		apphttp.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// pathID возвращает {id} из пути. Идентификатор не в формате UUID не может существовать.
func pathID(w http.ResponseWriter, r *http.Request, notFound error) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		apphttp.WriteError(w, http.StatusNotFound, notFound.Error())
		return "", false
	}
	return id, true
}

func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, errors.New("wait: must be a duration like 30s")
		}
		d = time.Duration(secs) * time.Second
	}
	if d < 0 {
		return 0, errors.New("wait: must not be negative")
	}
	if d > MaxWait {
		d = MaxWait
	}
	return d, nil
}

func atoiOr(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}

func knownPlatform(p domain.Platform) bool {
	_, ok := domain.AllowedTypes[p]
	return ok
}

func writeRaw(w http.ResponseWriter, raw []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
