package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hohoemi-rabo/prepfeed/internal/adapters/platform"
	"github.com/hohoemi-rabo/prepfeed/internal/adapters/repo"
	"github.com/hohoemi-rabo/prepfeed/internal/domain"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/cache"
	apphttp "github.com/hohoemi-rabo/prepfeed/internal/infra/http"
	"github.com/hohoemi-rabo/prepfeed/internal/infra/queue"
	"github.com/hohoemi-rabo/prepfeed/internal/usecase/analysis"
	"github.com/hohoemi-rabo/prepfeed/internal/usecase/batch"
	"github.com/hohoemi-rabo/prepfeed/internal/usecase/settings"
)

type stubBatch struct {
	budget    time.Duration
	users     []string
	manualCtx context.Context
}

func (b *stubBatch) RunScheduled(_ context.Context, budget time.Duration) (batch.Summary, error) {
	b.budget = budget
	return batch.Summary{TotalSettings: 2, Processed: 2, Succeeded: 2, Errors: []batch.SettingError{}}, nil
}

func (b *stubBatch) RunForUser(ctx context.Context, userID string) (batch.Summary, error) {
	b.manualCtx = ctx
	b.users = append(b.users, userID)
	return batch.Summary{Errors: []batch.SettingError{}}, nil
}

type stubSource struct {
	calls int
	err   error
}

func (s *stubSource) Platform() domain.Platform { return domain.PlatformQiita }

func (s *stubSource) Fetch(_ context.Context, setting domain.WatchSetting) ([]domain.CollectedItem, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	items := make([]domain.CollectedItem, 0, setting.FetchCount)
	for i := 0; i < setting.FetchCount; i++ {
		items = append(items, domain.CollectedItem{Platform: domain.PlatformQiita, ContentID: uuid.NewString(), Title: "記事"})
	}
	return items, nil
}

type noopGenerator struct{}

func (noopGenerator) GenerateJSON(context.Context, string, any) error { return nil }

type env struct {
	router chi.Router
	store  *repo.Memory
	batch  *stubBatch
	source *stubSource
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := repo.NewMemory()
	local, err := cache.NewLocal(16)
	require.NoError(t, err)

	e := &env{store: store, batch: &stubBatch{}, source: &stubSource{}}
	h := New(Deps{
		Settings: settings.NewService(store, nil, nil, zerolog.Nop()),
		Batch:    e.batch,
		Analysis: analysis.NewService(store, store, store, queue.NewMemoryAnalysisQueue(4), noopGenerator{}, nil, zerolog.Nop()),
		Logs:     store,
		Sources:  platform.NewRegistry(e.source),
		Cache:    local,
	}, Config{CronSecret: "s3cret", ScheduledBudget: 50 * time.Second, PreviewTTL: time.Minute, PollInterval: 5 * time.Millisecond}, zerolog.Nop())

	srv := apphttp.NewServer(zerolog.Nop())
	h.Mount(srv.Router)
	e.router = srv.Router
	return e
}

func (e *env) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(apphttp.UserIDHeader, user)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestSettingsLifecycle(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/settings", "u1", `{"platform":"zenn","type":"keyword","value":" go "}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created settings.CreateResult
	decodeBody(t, rec, &created)
	assert.Equal(t, "go", created.Setting.Value)
	assert.Equal(t, domain.DefaultFetchCount, created.Setting.FetchCount)

	rec = e.do(t, http.MethodGet, "/api/v1/settings/"+created.Setting.ID, "u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/settings/"+created.Setting.ID, "u2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "чужая настройка не видна")

	rec = e.do(t, http.MethodPut, "/api/v1/settings/"+created.Setting.ID, "u1", `{"is_active":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/v1/settings?active=true", "u1", "")
	var list struct {
		Settings []domain.WatchSetting `json:"settings"`
	}
	decodeBody(t, rec, &list)
	assert.Empty(t, list.Settings)

	rec = e.do(t, http.MethodDelete, "/api/v1/settings/"+created.Setting.ID, "u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodDelete, "/api/v1/settings/"+created.Setting.ID, "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsRejectsBadInput(t *testing.T) {
	e := newEnv(t)

	cases := map[string]string{
		"platform": `{"platform":"x","type":"keyword","value":"go"}`,
		"pair":     `{"platform":"zenn","type":"channel","value":"go"}`,
		"count":    `{"platform":"qiita","type":"keyword","value":"go","fetch_count":10}`,
		"json":     `{"platform":`,
		"unknown":  `{"platform":"qiita","type":"keyword","value":"go","extra":1}`,
	}
	for name, body := range cases {
		rec := e.do(t, http.MethodPost, "/api/v1/settings", "u1", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/v1/settings", "", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/settings/not-a-uuid", "u1", "").Code)
}

func TestDetailedAnalysisConflict(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/analysis/detailed", "u1", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var ticket domain.DetailedTicket
	decodeBody(t, rec, &ticket)
	assert.Equal(t, domain.JobQueued, ticket.Status)

	rec = e.do(t, http.MethodPost, "/api/v1/analysis/detailed", "u1", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	var conflict apphttp.ErrorResponse
	decodeBody(t, rec, &conflict)
	assert.Equal(t, ticket.AnalysisID, conflict.AnalysisID)

	rec = e.do(t, http.MethodPost, "/api/v1/analysis/detailed", "u2", "")
	assert.Equal(t, http.StatusAccepted, rec.Code, "у другого пользователя свой лимит")
}

func TestAnalysisStatus(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/analysis/detailed", "u1", "")
	var ticket domain.DetailedTicket
	decodeBody(t, rec, &ticket)

	rec = e.do(t, http.MethodGet, "/api/v1/analysis/"+ticket.AnalysisID+"/status", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	var view analysis.StatusView
	decodeBody(t, rec, &view)
	assert.Equal(t, domain.AnalysisPending, view.Status)
	assert.Nil(t, view.Result)

	rec = e.do(t, http.MethodGet, "/api/v1/analysis/"+ticket.AnalysisID+"/status?wait=30ms", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code, "истёкшее ожидание отдаёт текущее состояние")
	decodeBody(t, rec, &view)
	assert.Equal(t, domain.AnalysisPending, view.Status)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/analysis/"+ticket.AnalysisID+"/status", "u2", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/analysis/"+uuid.NewString()+"/status", "u1", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/analysis/"+ticket.AnalysisID+"/status?wait=soon", "u1", "").Code)

	rec = e.do(t, http.MethodGet, "/api/v1/analysis?type=detailed", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Analyses []analysis.StatusView `json:"analyses"`
	}
	decodeBody(t, rec, &list)
	assert.Len(t, list.Analyses, 1)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/analysis?type=weekly", "u1", "").Code)
}

func TestScheduledBatchRequiresSecret(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodPost, "/api/v1/batch/scheduled", "", "").Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch/scheduled", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/batch/scheduled", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50*time.Second, e.batch.budget)

	var summary batch.Summary
	decodeBody(t, rec, &summary)
	assert.Equal(t, 2, summary.Succeeded)
}

func TestManualBatchRunsForCaller(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/batch/manual", "u7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"u7"}, e.batch.users)
}

func TestManualBatchIgnoresRequestDeadline(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/v1/batch/manual", "u7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, e.batch.manualCtx)

	_, hasDeadline := e.batch.manualCtx.Deadline()
	assert.False(t, hasDeadline, "ручной проход не должен ограничиваться таймаутом запроса")
	assert.Nil(t, e.batch.manualCtx.Done(), "ручной проход не должен отменяться вместе с запросом")
}

func TestLogsValidatesFilters(t *testing.T) {
	e := newEnv(t)
	seed := domain.WatchSetting{UserID: "u1", Platform: domain.PlatformNote, Type: domain.MonitorKeyword, Value: "ai", FetchCount: 50, IsActive: true}
	s, err := e.store.CreateSetting(context.Background(), seed)
	require.NoError(t, err)
	msg := "boom"
	require.NoError(t, e.store.AppendFetchLog(context.Background(), domain.FetchLog{UserID: "u1", SettingID: s.ID, Platform: domain.PlatformNote, Status: domain.FetchError, ErrorMessage: &msg, ExecutedAt: time.Now()}))

	rec := e.do(t, http.MethodGet, "/api/v1/logs?status=error&platform=note", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page domain.FetchLogPage
	decodeBody(t, rec, &page)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, domain.DefaultFetchLogLimit, page.Limit)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/logs?status=maybe", "u1", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/logs?platform=twitter", "u1", "").Code)
}

func TestPreviewIsCached(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/platforms/qiita/preview?type=keyword&value=go&limit=3", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	var body struct {
		Items []domain.CollectedItem `json:"items"`
	}
	decodeBody(t, rec, &body)
	assert.Len(t, body.Items, 3)

	rec = e.do(t, http.MethodGet, "/api/v1/platforms/qiita/preview?type=keyword&value=go&limit=3", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, 1, e.source.calls)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/platforms/qiita/preview?type=channel&value=go", "u1", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/platforms/qiita/preview?type=keyword&value=go&limit=500", "u1", "").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/v1/platforms/youtube/preview?type=keyword&value=go", "u1", "").Code, "площадка без источника")
}

func TestPreviewMapsUpstreamErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrSchemaChanged, http.StatusBadGateway},
		{&domain.UpstreamError{Platform: domain.PlatformQiita, Status: 503}, http.StatusBadGateway},
		{domain.ErrStore, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		e := newEnv(t)
		e.source.err = tc.err
		rec := e.do(t, http.MethodGet, "/api/v1/platforms/qiita/preview?type=user&value=someone", "u1", "")
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestPreviewKey(t *testing.T) {
	assert.Equal(t, "prepfeed:zenn:user:alice:10", PreviewKey(domain.PlatformZenn, domain.MonitorUser, "alice", 10))
}
