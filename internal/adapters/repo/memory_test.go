package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hohoemi-rabo/prepfeed/internal/domain"
)

func newSetting(t *testing.T, m *Memory, userID string) domain.WatchSetting {
	t.Helper()
	s, err := m.CreateSetting(context.Background(), domain.WatchSetting{
		UserID:     userID,
		Platform:   domain.PlatformQiita,
		Type:       domain.MonitorKeyword,
		Value:      "golang",
		FetchCount: 50,
		IsActive:   true,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	return s
}

func TestMemoryUpsertItemsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := newSetting(t, m, "u1")

	likes := int64(3)
	item := domain.CollectedItem{UserID: "u1", SettingID: s.ID, Platform: domain.PlatformQiita, ContentID: "c1", Title: "old", Likes: &likes}
	if err := m.UpsertItems(ctx, []domain.CollectedItem{item}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	item.Title = "new"
	if err := m.UpsertItems(ctx, []domain.CollectedItem{item}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	items, _ := m.ListItemsBySetting(ctx, "u1", s.ID)
	if len(items) != 1 {
		t.Fatalf("ожидали одну запись, получили %d", len(items))
	}
	if items[0].Title != "new" {
		t.Fatalf("ожидали перезапись заголовка, получили %s", items[0].Title)
	}
}

func TestMemoryUpsertRejectsUnknownSetting(t *testing.T) {
	m := NewMemory()
	err := m.UpsertItems(context.Background(), []domain.CollectedItem{{UserID: "u1", SettingID: "missing", ContentID: "c"}})
	if !errors.Is(err, domain.ErrStore) {
		t.Fatalf("ожидали ErrStore, получили %v", err)
	}
}

func TestMemorySimpleResultSinglePerSetting(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := newSetting(t, m, "u1")

	first, err := m.SaveSimpleResult(ctx, domain.AnalysisResult{UserID: "u1", SettingID: &s.ID, Status: domain.AnalysisCompleted, Result: []byte(`{"a":1}`)})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := m.SaveSimpleResult(ctx, domain.AnalysisResult{UserID: "u1", SettingID: &s.ID, Status: domain.AnalysisCompleted, Result: []byte(`{"a":2}`)})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ожидали обновление той же строки")
	}
	list, _ := m.ListAnalyses(ctx, "u1", domain.AnalysisSimple, 10)
	if len(list) != 1 || string(list[0].Result) != `{"a":2}` {
		t.Fatalf("ожидали один свежий результат, получили %+v", list)
	}
}

func TestMemorySingleActiveDetailed(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	result, job, err := m.CreateDetailedAnalysis(ctx, "u1", now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Status != domain.AnalysisPending || job.Status != domain.JobQueued {
		t.Fatalf("неожиданные статусы %s/%s", result.Status, job.Status)
	}

	_, _, err = m.CreateDetailedAnalysis(ctx, "u1", now)
	var inProgress *domain.AnalysisInProgressError
	if !errors.As(err, &inProgress) || inProgress.AnalysisID != result.ID {
		t.Fatalf("ожидали AnalysisInProgressError с %s, получили %v", result.ID, err)
	}

	if _, _, err := m.CreateDetailedAnalysis(ctx, "u2", now); err != nil {
		t.Fatalf("другой пользователь не должен блокироваться: %v", err)
	}

	if _, err := m.TransitionJob(ctx, job.ID, domain.JobTransition{To: domain.JobFailed, Error: "boom"}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, _, err := m.CreateDetailedAnalysis(ctx, "u1", now); err != nil {
		t.Fatalf("после завершения ожидали новый анализ: %v", err)
	}
}

func TestMemoryTransitionsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	result, job, _ := m.CreateDetailedAnalysis(ctx, "u1", time.Now())

	if _, err := m.TransitionJob(ctx, job.ID, domain.JobTransition{To: domain.JobCompleted}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("queued → completed должен быть запрещён, получили %v", err)
	}
	if _, err := m.TransitionJob(ctx, job.ID, domain.JobTransition{To: domain.JobProcessing}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got, _ := m.GetAnalysis(ctx, "u1", result.ID)
	if got.Status != domain.AnalysisProcessing {
		t.Fatalf("результат должен зеркалить задачу, получили %s", got.Status)
	}
	if _, err := m.TransitionJob(ctx, job.ID, domain.JobTransition{To: domain.JobCompleted, Result: []byte(`{"ok":true}`)}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := m.TransitionJob(ctx, job.ID, domain.JobTransition{To: domain.JobFailed}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("completed → failed должен быть запрещён, получили %v", err)
	}
	got, _ = m.GetAnalysis(ctx, "u1", result.ID)
	if got.Status != domain.AnalysisCompleted || string(got.Result) != `{"ok":true}` || got.CompletedAt == nil {
		t.Fatalf("неожиданный результат %+v", got)
	}
}

func TestMemoryFailStaleJobs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	staleResult, _, _ := m.CreateDetailedAnalysis(ctx, "u1", old)
	_, fresh, _ := m.CreateDetailedAnalysis(ctx, "u2", old.Add(time.Hour))

	n, err := m.FailStaleJobs(ctx, old.Add(30*time.Minute), "timeout")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if n != 1 {
		t.Fatalf("ожидали одну задачу, получили %d", n)
	}
	got, _ := m.GetAnalysis(ctx, "u1", staleResult.ID)
	if got.Status != domain.AnalysisFailed || got.ErrorMessage == nil || *got.ErrorMessage != "timeout" {
		t.Fatalf("ожидали failed с сообщением, получили %+v", got)
	}
	job, _ := m.GetJob(ctx, fresh.ID)
	if job.Status != domain.JobQueued {
		t.Fatalf("свежая задача не должна меняться, получили %s", job.Status)
	}
}

func TestMemoryDeleteSettingCascades(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s := newSetting(t, m, "u1")
	_ = m.UpsertItems(ctx, []domain.CollectedItem{{UserID: "u1", SettingID: s.ID, ContentID: "c1"}})
	_ = m.AppendFetchLog(ctx, domain.FetchLog{UserID: "u1", SettingID: s.ID, Status: domain.FetchSuccess})

	if err := m.DeleteSetting(ctx, "u2", s.ID); !errors.Is(err, domain.ErrSettingNotFound) {
		t.Fatalf("чужую настройку удалить нельзя, получили %v", err)
	}
	if err := m.DeleteSetting(ctx, "u1", s.ID); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	items, _ := m.ListRecentItems(ctx, "u1", 10)
	page, _ := m.ListFetchLogs(ctx, "u1", domain.FetchLogQuery{})
	if len(items) != 0 || page.Total != 0 {
		t.Fatalf("ожидали каскадное удаление, осталось %d записей и %d логов", len(items), page.Total)
	}
}

func TestMemoryFetchLogPagination(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	s := newSetting(t, m, "u1")
	for i := 0; i < 25; i++ {
		status := domain.FetchSuccess
		if i%5 == 0 {
			status = domain.FetchError
		}
		_ = m.AppendFetchLog(ctx, domain.FetchLog{UserID: "u1", SettingID: s.ID, Platform: domain.PlatformQiita, Status: status, ExecutedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	page, _ := m.ListFetchLogs(ctx, "u1", domain.FetchLogQuery{Page: 2})
	if page.Total != 25 || page.TotalPages != 2 || len(page.Logs) != 5 {
		t.Fatalf("неожиданная страница %+v", page)
	}
	first, _ := m.ListFetchLogs(ctx, "u1", domain.FetchLogQuery{Limit: 1})
	if !first.Logs[0].ExecutedAt.Equal(base.Add(24 * time.Minute)) {
		t.Fatalf("ожидали сортировку от новых к старым")
	}
	errs, _ := m.ListFetchLogs(ctx, "u1", domain.FetchLogQuery{Status: domain.FetchError})
	if errs.Total != 5 {
		t.Fatalf("ожидали 5 ошибок, получили %d", errs.Total)
	}
}
